package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/johnnyang0612/commission-system-sub001/commission"
	"github.com/johnnyang0612/commission-system-sub001/config"
	"github.com/johnnyang0612/commission-system-sub001/factory"
	"github.com/johnnyang0612/commission-system-sub001/ledger"
	ledgerstore "github.com/johnnyang0612/commission-system-sub001/ledger/store"
	"github.com/johnnyang0612/commission-system-sub001/lock"
	"github.com/johnnyang0612/commission-system-sub001/logging"
	"github.com/johnnyang0612/commission-system-sub001/metrics"
	"github.com/johnnyang0612/commission-system-sub001/store/sqlite"
)

// app is everything serve and reconcile share.
type app struct {
	Logger   *zap.Logger
	Service  *commission.Service
	Registry *prometheus.Registry

	ping    func(ctx context.Context) error
	closers []func() error
}

func buildApp(cfg config.Config) (*app, error) {
	logger, err := logging.New(logging.Config{
		ServiceName: cfg.Metrics.ServiceName,
		Environment: cfg.Metrics.Environment,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})
	if err != nil {
		return nil, err
	}

	a := &app{Logger: logger, Registry: prometheus.NewRegistry()}
	a.closers = append(a.closers, func() error { _ = logger.Sync(); return nil })

	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	// Store
	var st ledger.TxStore
	switch cfg.Database.Driver {
	case "memory":
		st = ledgerstore.NewMemory()
		logger.Warn("using in-memory store, data is lost on exit")
	default:
		db, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.ping = db.Ping
		st = db
	}

	// Rates
	rates := commission.DefaultRateBook()
	if cfg.Rates.File != "" {
		rates, err = factory.NewRateTableFactory().LoadRateBook(cfg.Rates.File)
		if err != nil {
			return nil, err
		}
	}
	for _, t := range rates.Tables() {
		logger.Info("rate table loaded", zap.String("version", t.Version), zap.String("effective_from", t.EffectiveFrom.String()))
	}

	ids, err := ledger.NewSnowflakeIDs(cfg.IDs.Node)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}

	// Entitlement lock: Redis when several instances share a database
	var locks lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		locks = lock.NewRedisLocker(client, lock.WithTTL(cfg.Lock.TTL), lock.WithLogger(logger.Named("lock")))
		logger.Info("using redis entitlement lock", zap.String("addr", cfg.Redis.Addr))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(a.Registry, metrics.Config{
			ServiceName: cfg.Metrics.ServiceName,
			Environment: cfg.Metrics.Environment,
		})
	}

	a.Service = commission.NewService(st, commission.Options{
		Rates:   rates,
		IDs:     ids,
		Locks:   locks,
		Logger:  logger,
		Metrics: m,
		Workers: cfg.Reconciler.Workers,
	})

	built = true
	return a, nil
}

// Ping reports database health. The in-memory store is always healthy.
func (a *app) Ping(ctx context.Context) error {
	if a.ping == nil {
		return nil
	}
	return a.ping(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
