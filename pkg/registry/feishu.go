package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	watchtracker "github.com/httprunner/WatchTracker"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	"github.com/pkg/errors"
)

var feishuHosts = []string{"feishu.cn", "feishuapp.com", "larksuite.com", "larkoffice.com"}

// BitableRef locates one table inside a Feishu Bitable app.
type BitableRef struct {
	RawURL   string
	AppToken string
	TableID  string
}

// ParseBitableURL extracts app token and table id from links like
// https://xxx.feishu.cn/base/<app_token>?table=<table_id>.
func ParseBitableURL(raw string) (ref BitableRef, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "parse bitable url failed")
		}
	}()

	ref = BitableRef{RawURL: strings.TrimSpace(raw)}
	if ref.RawURL == "" {
		return ref, errors.New("empty url")
	}
	u, err := url.Parse(ref.RawURL)
	if err != nil {
		return ref, errors.Wrap(err, "invalid url")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ref, errors.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if !isFeishuHost(u.Hostname()) {
		return ref, errors.Errorf("host %q is not recognized as Feishu", u.Host)
	}

	segments := strings.FieldsFunc(strings.Trim(u.Path, "/"), func(r rune) bool { return r == '/' })
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] == "base" {
			ref.AppToken = segments[i+1]
			break
		}
	}
	if ref.AppToken == "" {
		return ref, errors.New("missing app token in url")
	}

	q := u.Query()
	for _, key := range []string{"table", "tableId", "table_id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			ref.TableID = v
			break
		}
	}
	if ref.TableID == "" {
		return ref, errors.New("missing table id in url query")
	}
	return ref, nil
}

func isFeishuHost(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range feishuHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// SightingFields names the bitable columns a sighting is written into.
type SightingFields struct {
	DeviceID     string
	Latitude     string
	Longitude    string
	Accuracy     string
	Battery      string
	Speed        string
	PositionType string
	Updated      string
	SeenAt       string
	ProviderUUID string
}

var DefaultSightingFields = SightingFields{
	DeviceID:     "DeviceID",
	Latitude:     "Latitude",
	Longitude:    "Longitude",
	Accuracy:     "Accuracy",
	Battery:      "Battery",
	Speed:        "Speed",
	PositionType: "PositionType",
	Updated:      "Updated",
	SeenAt:       "SeenAt",
	ProviderUUID: "ProviderUUID",
}

// BuildSightingRecord maps a sighting to bitable record fields. Unset
// optional values are omitted; SeenAt is written as unix milliseconds.
func BuildSightingRecord(s watchtracker.Sighting, fields SightingFields) map[string]any {
	record := map[string]any{
		fields.DeviceID:  s.DeviceID,
		fields.Latitude:  s.Position.Latitude,
		fields.Longitude: s.Position.Longitude,
		fields.SeenAt:    s.SeenAt.UnixMilli(),
	}
	addOptionalNumber(record, fields.Accuracy, s.Position.Accuracy)
	addOptionalNumber(record, fields.Battery, s.Position.Battery)
	addOptionalNumber(record, fields.Speed, s.Position.Speed)
	addOptionalField(record, fields.PositionType, s.Position.PositionType)
	addOptionalField(record, fields.Updated, s.Position.Updated)
	addOptionalField(record, fields.ProviderUUID, s.ProviderUUID)
	return record
}

func addOptionalField(dst map[string]any, column, value string) {
	if column == "" || strings.TrimSpace(value) == "" {
		return
	}
	dst[column] = value
}

func addOptionalNumber(dst map[string]any, column string, value *float64) {
	if column == "" || value == nil {
		return
	}
	dst[column] = *value
}

type bitableRecordCreator interface {
	Create(ctx context.Context, ref BitableRef, record *larkbitable.AppTableRecord) (*larkbitable.CreateAppTableRecordResp, error)
}

type larkRecordService interface {
	Create(ctx context.Context, req *larkbitable.CreateAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error)
}

// sdkRecordCreator adapts the SDK's request-builder API to bitableRecordCreator.
type sdkRecordCreator struct {
	svc larkRecordService
}

func (c sdkRecordCreator) Create(ctx context.Context, ref BitableRef, record *larkbitable.AppTableRecord) (*larkbitable.CreateAppTableRecordResp, error) {
	req := larkbitable.NewCreateAppTableRecordReqBuilder().
		AppToken(ref.AppToken).
		TableId(ref.TableID).
		AppTableRecord(record).
		Build()
	return c.svc.Create(ctx, req)
}

// FeishuSink creates one bitable record per sighting.
type FeishuSink struct {
	records bitableRecordCreator
	ref     BitableRef
	fields  SightingFields
}

func NewFeishuSink(appID, appSecret, baseURL, bitableURL string) (*FeishuSink, error) {
	if strings.TrimSpace(appID) == "" || strings.TrimSpace(appSecret) == "" {
		return nil, errors.New("feishu: app id and app secret must be set")
	}
	ref, err := ParseBitableURL(bitableURL)
	if err != nil {
		return nil, err
	}
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelError),
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != "" && baseURL != lark.FeishuBaseUrl {
		opts = append(opts, lark.WithOpenBaseUrl(baseURL))
	}
	client := lark.NewClient(appID, appSecret, opts...)
	return &FeishuSink{
		records: sdkRecordCreator{svc: client.Bitable.V1.AppTableRecord},
		ref:     ref,
		fields:  DefaultSightingFields,
	}, nil
}

func (s *FeishuSink) See(ctx context.Context, sighting watchtracker.Sighting) error {
	record := larkbitable.NewAppTableRecordBuilder().
		Fields(BuildSightingRecord(sighting, s.fields)).
		Build()
	resp, err := s.records.Create(ctx, s.ref, record)
	if err != nil {
		return errors.Wrap(err, "feishu: create record request failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return errors.New("feishu: empty response when creating record")
	}
	if !resp.Success() {
		return fmt.Errorf("feishu: create record failed code=%d msg=%s log_id=%s", resp.Code, resp.Msg, resp.RequestId())
	}
	return nil
}

func (s *FeishuSink) Close() error { return nil }

func (s *FeishuSink) Name() string { return "feishu:" + s.ref.TableID }
