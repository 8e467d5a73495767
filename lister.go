package watchtracker

import (
	"context"

	"github.com/httprunner/WatchTracker/pkg/myki"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DeviceAPI lists the watches bound to the account.
type DeviceAPI interface {
	ListDevices(ctx context.Context) ([]myki.Device, error)
}

// PositionAPI fetches the latest app data for one watch.
type PositionAPI interface {
	CurrentData(ctx context.Context, deviceID string) (*myki.Current, error)
}

// API is the full remote surface used by the scanner.
type API interface {
	DeviceAPI
	PositionAPI
}

// ListDevices fetches the device list once. Every failure is logged and
// yields an empty, non-nil slice so callers treat it as "no devices".
func ListDevices(ctx context.Context, api DeviceAPI) []myki.Device {
	if api == nil {
		log.Error().Msg("myki: device api is nil")
		return []myki.Device{}
	}
	devices, err := api.ListDevices(ctx)
	if err != nil {
		logListError(err)
		return []myki.Device{}
	}
	if devices == nil {
		return []myki.Device{}
	}
	return devices
}

func logListError(err error) {
	var svcErr *myki.ServiceError
	switch {
	case myki.IsTransport(err):
		log.Error().Err(err).Msg("myki: connection error")
	case errors.As(err, &svcErr) && svcErr.StatusCode != 200:
		log.Error().Int("http_status", svcErr.StatusCode).Msg("myki: no response from service")
	case errors.As(err, &svcErr):
		log.Error().Str("err", svcErr.Message).Msg("myki: device list rejected")
	case myki.IsData(err):
		log.Error().Err(err).Msg("myki: decode device list failed")
	default:
		log.Error().Err(err).Msg("myki: list devices failed")
	}
}
