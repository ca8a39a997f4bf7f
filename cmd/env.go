package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/notify"
	"github.com/geosight/geosight/internal/poi"
	"github.com/geosight/geosight/internal/resilience"
	"github.com/geosight/geosight/internal/scoring"
	"github.com/geosight/geosight/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "geosight.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPOISource opens the OSM reference database. The returned pool must be
// closed by the caller.
func initPOISource(ctx context.Context) (*poi.PostgresSource, *pgxpool.Pool, error) {
	pool, err := store.NewPool(ctx, cfg.POI.DatabaseURL, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "open poi database")
	}
	src, err := poi.NewPostgresSource(pool,
		poi.WithSchema(cfg.POI.Schema),
		poi.WithGeomColumn(cfg.POI.GeomColumn),
		poi.WithRetry(resilience.FromRetryConfig(cfg.POI.RetryAttempts, cfg.POI.RetryBackoffMs, cfg.POI.RetryMaxBackoffMs)),
	)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return src, pool, nil
}

// initNotifier publishes to Redis when an address is configured and logs
// events otherwise.
func initNotifier(ctx context.Context) (notify.Notifier, func(), error) {
	if cfg.Redis.Addr == "" {
		zap.L().Info("redis not configured, layer updates are logged only")
		return notify.LogNotifier{}, func() {}, nil
	}
	n, err := notify.NewRedisNotifier(ctx, cfg.Redis.Addr, cfg.Redis.Channel)
	if err != nil {
		return nil, nil, err
	}
	return n, func() { _ = n.Close() }, nil
}

func gridOptions() (geo.GridOptions, error) {
	srid, err := geo.ParseSRID(cfg.Grid.SourceCRS)
	if err != nil {
		return geo.GridOptions{}, err
	}
	return geo.GridOptions{RegionField: cfg.Grid.RegionField, SourceSRID: srid}, nil
}

func newEngine() *scoring.Engine {
	return &scoring.Engine{
		Workers:      cfg.Scoring.CategoryWorkers,
		Materializer: scoring.Materializer{BatchSize: cfg.Scoring.BatchSize},
	}
}
