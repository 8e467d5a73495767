package registry

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	watchtracker "github.com/httprunner/WatchTracker"
	pkgerrors "github.com/pkg/errors"
)

type dynamoPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoItem is the table row for one sighting; DeviceID is the partition
// key and SeenAt (unix millis) the sort key.
type DynamoItem struct {
	DeviceID     string   `dynamodbav:"device_id"`
	SeenAt       int64    `dynamodbav:"seen_at"`
	Latitude     float64  `dynamodbav:"latitude"`
	Longitude    float64  `dynamodbav:"longitude"`
	Accuracy     *float64 `dynamodbav:"accuracy,omitempty"`
	Battery      *float64 `dynamodbav:"battery,omitempty"`
	Speed        *float64 `dynamodbav:"speed,omitempty"`
	PositionType string   `dynamodbav:"position_type,omitempty"`
	Updated      string   `dynamodbav:"updated,omitempty"`
	ProviderUUID string   `dynamodbav:"provider_uuid,omitempty"`
}

func NewDynamoItem(s watchtracker.Sighting) DynamoItem {
	return DynamoItem{
		DeviceID:     s.DeviceID,
		SeenAt:       s.SeenAt.UnixMilli(),
		Latitude:     s.Position.Latitude,
		Longitude:    s.Position.Longitude,
		Accuracy:     s.Position.Accuracy,
		Battery:      s.Position.Battery,
		Speed:        s.Position.Speed,
		PositionType: s.Position.PositionType,
		Updated:      s.Position.Updated,
		ProviderUUID: s.ProviderUUID,
	}
}

// DynamoSink puts every sighting into a DynamoDB table.
type DynamoSink struct {
	client dynamoPutter
	table  string
}

// NewDynamoSink uses the default AWS credential chain.
func NewDynamoSink(ctx context.Context, table string) (*DynamoSink, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, pkgerrors.New("registry: dynamodb table is empty")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "registry: load aws config failed")
	}
	return &DynamoSink{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

func dynamoPutInput(table string, s watchtracker.Sighting) (*dynamodb.PutItemInput, error) {
	item, err := attributevalue.MarshalMap(NewDynamoItem(s))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "registry: marshal dynamodb item failed")
	}
	return &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}, nil
}

func (s *DynamoSink) See(ctx context.Context, sighting watchtracker.Sighting) error {
	input, err := dynamoPutInput(s.table, sighting)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		return pkgerrors.Wrap(err, "registry: dynamodb put item failed")
	}
	return nil
}

func (s *DynamoSink) Close() error { return nil }

func (s *DynamoSink) Name() string { return "dynamodb:" + s.table }
