package registry

import (
	"context"

	"github.com/httprunner/WatchTracker/internal/config"
	"github.com/rs/zerolog/log"
)

// Set is the outcome of NewFromConfig: the fan-out manager plus the
// readable sinks the status API serves from.
type Set struct {
	Manager *Manager
	Memory  *MemoryRegistry
	SQLite  *SQLiteSink
}

// NewFromConfig opens every sink cfg enables. The memory registry is
// always present. An optional sink that fails to open is logged and
// skipped; the tracker keeps running with the rest.
func NewFromConfig(ctx context.Context, cfg config.Sinks, providerUUID string) (*Set, error) {
	set := &Set{Memory: NewMemoryRegistry()}
	sinks := []Sink{set.Memory}

	add := func(kind string, sink Sink, err error) {
		if err != nil {
			log.Warn().Err(err).Str("sink", kind).Msg("registry: sink disabled")
			return
		}
		log.Info().Str("sink", sink.Name()).Msg("registry: sink enabled")
		sinks = append(sinks, sink)
	}

	if !cfg.DisableSQLite {
		sqlite, err := NewSQLiteSink(cfg.SQLitePath)
		if err == nil {
			set.SQLite = sqlite
		}
		add("sqlite", sinkOrNil(sqlite, err), err)
	}
	if cfg.JSONLPath != "" {
		sink, err := NewJSONLSink(cfg.JSONLPath)
		add("jsonl", sinkOrNil(sink, err), err)
	}
	if cfg.InfluxEnabled() {
		sink, err := NewInfluxSink(ctx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		add("influx", sinkOrNil(sink, err), err)
	}
	if cfg.RedisAddr != "" {
		sink, err := NewRedisSink(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		add("redis", sinkOrNil(sink, err), err)
	}
	if cfg.DynamoTable != "" {
		sink, err := NewDynamoSink(ctx, cfg.DynamoTable)
		add("dynamodb", sinkOrNil(sink, err), err)
	}
	if cfg.FeishuEnabled() {
		sink, err := NewFeishuSink(cfg.FeishuAppID, cfg.FeishuAppSecret, cfg.FeishuBaseURL, cfg.BitableURL)
		add("feishu", sinkOrNil(sink, err), err)
	}

	manager, err := NewManager(providerUUID, sinks...)
	if err != nil {
		return nil, err
	}
	set.Manager = manager
	return set, nil
}

// sinkOrNil avoids wrapping a typed nil pointer in a non-nil interface.
func sinkOrNil[T Sink](sink T, err error) Sink {
	if err != nil {
		return nil
	}
	return sink
}

func (s *Set) Close() error {
	if s == nil || s.Manager == nil {
		return nil
	}
	return s.Manager.Close()
}
