package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/kv"
	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/progress"
	"github.com/leasebee/leasebee-cli/internal/resilience"
	"github.com/leasebee/leasebee-cli/internal/schema"
	"github.com/leasebee/leasebee-cli/pkg/leasebee"
)

func initClient() leasebee.Client {
	retry := resilience.DefaultRetryConfig().WithAttempts(cfg.API.RetryAttempts)
	retry.OnRetry = resilience.RetryLogger("leasebee api")

	opts := []leasebee.Option{
		leasebee.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout()}),
		leasebee.WithRetry(retry),
	}
	if cfg.API.Token != "" {
		opts = append(opts, leasebee.WithToken(cfg.API.Token))
	}
	if cfg.API.RateLimit > 0 {
		opts = append(opts, leasebee.WithRateLimit(cfg.API.RateLimit, cfg.API.Burst))
	}
	return leasebee.NewClient(cfg.API.BaseURL, opts...)
}

func initKV(ctx context.Context) (kv.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return kv.NewSQLite(ctx, cfg.Storage.Path)
	case "redis":
		return kv.NewRedis(ctx, cfg.Storage.RedisURL)
	case "memory":
		zap.L().Warn("review progress will not survive this process (storage.driver=memory)")
		return kv.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

func initProgressStore(backend kv.Store) *progress.Store {
	return progress.NewStore(backend,
		progress.WithMaxAge(cfg.Review.MaxAge()),
		progress.WithKeyPrefix(cfg.Storage.KeyPrefix),
	)
}

// loadFields returns the field catalog. A configured schema file wins, then
// the server's catalog, then the embedded default.
func loadFields(ctx context.Context, client leasebee.Client) ([]model.FieldDefinition, error) {
	if cfg.Review.SchemaPath != "" {
		s, err := schema.LoadFile(cfg.Review.SchemaPath)
		if err != nil {
			return nil, err
		}
		return s.Fields, nil
	}
	if client != nil {
		fs, err := client.GetFieldSchema(ctx)
		if err == nil && len(fs.Fields) > 0 {
			return fs.Fields, nil
		}
		zap.L().Warn("using embedded field schema", zap.Error(err))
	}
	return schema.Default().Fields, nil
}

func localSchema() (*schema.Schema, error) {
	if cfg.Review.SchemaPath != "" {
		return schema.LoadFile(cfg.Review.SchemaPath)
	}
	return schema.Default(), nil
}
