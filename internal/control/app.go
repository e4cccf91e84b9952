// Package control wires the configured components into a running indexer.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/indexer-base/internal/core/checkpoint"
	"github.com/vietddude/indexer-base/internal/core/config"
	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/genesis"
	"github.com/vietddude/indexer-base/internal/indexing/health"
	"github.com/vietddude/indexer-base/internal/indexing/indexer"
	"github.com/vietddude/indexer-base/internal/indexing/prefetch"
	"github.com/vietddude/indexer-base/internal/indexing/recovery"
	"github.com/vietddude/indexer-base/internal/indexing/throttle"
	"github.com/vietddude/indexer-base/internal/indexing/writer"
	"github.com/vietddude/indexer-base/internal/infra/chain"
	"github.com/vietddude/indexer-base/internal/infra/chain/lake"
	"github.com/vietddude/indexer-base/internal/infra/chain/node"
	"github.com/vietddude/indexer-base/internal/infra/objstore"
	redisclient "github.com/vietddude/indexer-base/internal/infra/redis"
	"github.com/vietddude/indexer-base/internal/infra/reporting"
	"github.com/vietddude/indexer-base/internal/infra/rpc/provider"
	"github.com/vietddude/indexer-base/internal/infra/rpc/routing"
	"github.com/vietddude/indexer-base/internal/infra/storage"
	"github.com/vietddude/indexer-base/internal/infra/storage/memory"
	"github.com/vietddude/indexer-base/internal/infra/storage/postgres"
)

// MemoryURL as the database url selects the in-process store.
const MemoryURL = "memory"

const (
	leaseTTL  = 30 * time.Second
	tipTTL    = 5 * time.Second
	tipKey    = "tip"
	leaseKey  = "lease"
	flushWait = 5 * time.Second
	poolCheck = 30 * time.Second
	dbMetrics = 15 * time.Second
)

// metricsCollector is a store that samples its own pool metrics.
type metricsCollector interface {
	CollectMetrics(ctx context.Context, interval time.Duration)
}

// Options adjust a run without touching the configuration.
type Options struct {
	EndHeight   uint64 // 0 = follow the chain
	SkipGenesis bool
	DisableHTTP bool

	// Overrides for embedding and tests. Nil means build from config.
	Store   storage.Store
	Objects objstore.Store
	Source  chain.Source
}

// App owns every long-lived component of one indexer process.
type App struct {
	cfg   *config.AppConfig
	opts  Options
	runID string

	store    storage.Store
	cache    *redisclient.Cache // nil when redis is disabled
	lease    *redisclient.Lease
	reporter *reporting.Reporter
	objects  objstore.Store
	source   chain.Source
	tip      *throttle.TipCache
	pool     *provider.Pool // set when several rpc urls are configured

	checkpoint *checkpoint.Manager
	genesis    *genesis.Bootstrapper
	pipeline   *indexer.Pipeline
	monitor    *health.Monitor
	server     *health.Server

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	launched atomic.Bool
	doneOnce sync.Once
	done     chan struct{}
	err      error
	log      *slog.Logger
}

// New builds the application from configuration. Connections to the store
// and the cache are opened here; nothing is indexed until Start.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*App, error) {
	a := &App{
		cfg:   cfg,
		opts:  opts,
		runID: uuid.NewString(),
		done:  make(chan struct{}),
	}
	a.log = slog.Default().With(
		"component", "app",
		"network", cfg.Network,
		"source", cfg.Source.DataSource,
		"run", a.runID,
	)

	params, err := domain.ParamsFor(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", recovery.ErrConfiguration, err)
	}
	if !opts.SkipGenesis {
		if err := cfg.ValidateGenesis(); err != nil {
			return nil, fmt.Errorf("%w: %w", recovery.ErrConfiguration, err)
		}
	}

	a.reporter, err = reporting.New(cfg.Reporting, map[string]string{
		"network":     string(cfg.Network),
		"data_source": string(cfg.Source.DataSource),
		"indexer":     cfg.Indexer.Name,
		"run_id":      a.runID,
	})
	if err != nil {
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		a.closeConnections()
		return nil, err
	}
	if err := a.buildSource(ctx); err != nil {
		a.closeConnections()
		return nil, err
	}

	a.checkpoint = checkpoint.NewManager(a.store, checkpoint.Config{
		Name:          cfg.Indexer.Name,
		GenesisHeight: params.GenesisHeight,
		Delta:         cfg.Indexer.Delta,
		StartOverride: cfg.Source.StartBlock,
	})

	if !opts.SkipGenesis {
		objects, err := a.objectStore(ctx)
		if err != nil {
			a.closeConnections()
			return nil, err
		}
		a.genesis = genesis.New(objects, a.store, a.checkpoint, genesis.Config{
			Bucket:      cfg.Genesis.Bucket,
			Key:         cfg.Genesis.Key,
			Height:      params.GenesisHeight,
			InsertLimit: cfg.Indexer.InsertLimit,
		})
	}

	pf := prefetch.DefaultConfig(0)
	pf.End = opts.EndHeight
	pf.Window = cfg.Indexer.PreloadSize
	pf.Workers = cfg.Indexer.FetchWorkers

	a.pipeline = indexer.NewPipeline(indexer.Config{
		Network:         string(cfg.Network),
		Source:          a.source,
		Store:           a.store,
		Checkpoint:      a.checkpoint,
		Cache:           a.hintCache(),
		Tip:             a.tip,
		Prefetch:        pf,
		InsertLimit:     cfg.Indexer.InsertLimit,
		CacheTTL:        cfg.Cache.Expiry,
		ShutdownTimeout: cfg.Indexer.ShutdownTimeout,
	})

	var cachePinger health.Pinger
	if a.cache != nil {
		cachePinger = a.cache
	}
	a.monitor = health.NewMonitor(a.pipeline, a.tip, a.store, cachePinger, health.Thresholds{})
	if !opts.DisableHTTP {
		a.server = health.NewServer(a.monitor, cfg.Server.Port)
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.opts.Store != nil {
		a.store = a.opts.Store
		return nil
	}
	if a.cfg.Database.URL == MemoryURL {
		a.log.Warn("Using in-memory store; nothing survives a restart")
		a.store = memory.NewMemoryStorage()
		return nil
	}

	db, err := postgres.NewDB(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return err
	}
	a.store = db
	return nil
}

// openCache connects to redis and takes the writer lease. An unreachable
// cache only degrades the run; a lease held by another writer stops it.
func (a *App) openCache(ctx context.Context) error {
	if !a.cfg.Redis.Enabled() {
		a.log.Info("Redis disabled; cache hints are off")
		return nil
	}

	prefix := fmt.Sprintf("%s:%s", a.cfg.Indexer.Name, a.cfg.Network)
	cache, err := redisclient.NewCache(ctx, a.cfg.Redis, prefix)
	if err != nil {
		a.log.Warn("Redis unavailable, continuing without cache", "error", err)
		return nil
	}
	a.cache = cache

	lease := cache.NewLease(leaseKey, leaseTTL)
	if err := lease.Acquire(ctx); err != nil {
		if errors.Is(err, redisclient.ErrLeaseHeld) {
			return fmt.Errorf("%w: %v", recovery.ErrConfiguration, err)
		}
		a.log.Warn("Could not take writer lease", "error", err)
		return nil
	}
	a.lease = lease
	return nil
}

func (a *App) objectStore(ctx context.Context) (objstore.Store, error) {
	if a.objects != nil {
		return a.objects, nil
	}
	if a.opts.Objects != nil {
		a.objects = a.opts.Objects
		return a.objects, nil
	}
	s3, err := objstore.NewS3Store(ctx, a.cfg.S3)
	if err != nil {
		return nil, err
	}
	a.objects = s3
	return s3, nil
}

func (a *App) buildSource(ctx context.Context) error {
	shared := a.sharedCache()

	if a.opts.Source != nil {
		a.source = a.opts.Source
		var tipSource chain.TipSource
		if ts, ok := a.source.(chain.TipSource); ok {
			tipSource = ts
		}
		a.tip = throttle.NewTipCache(tipSource, shared, tipKey, tipTTL)
		return nil
	}

	switch a.cfg.Source.DataSource {
	case domain.DataSourceLake:
		objects, err := a.objectStore(ctx)
		if err != nil {
			return err
		}
		a.tip = throttle.NewTipCache(nil, shared, tipKey, tipTTL)
		a.source = lake.NewSource(objects, a.cfg.Lake.Bucket, a.tip)
	case domain.DataSourceFastNear:
		var p provider.Provider
		if strings.Contains(a.cfg.Source.RPCURL, ",") {
			pool, err := provider.NewHTTPPool("fastnear", a.cfg.Source.RPCURL, a.cfg.Source.RPCTimeout)
			if err != nil {
				return fmt.Errorf("%w: %v", recovery.ErrConfiguration, err)
			}
			a.pool = pool
			p = pool
		} else {
			p = provider.NewHTTPProvider("fastnear", a.cfg.Source.RPCURL, a.cfg.Source.RPCTimeout)
		}
		// The source only observes heights; the pipeline's tip asks the node.
		src := node.NewSource(p, routing.DefaultRetryConfig, throttle.NewTipCache(nil, shared, tipKey, tipTTL))
		a.tip = throttle.NewTipCache(src, shared, tipKey, tipTTL)
		a.source = src
	default:
		return fmt.Errorf("%w: unknown data source %q", recovery.ErrConfiguration, a.cfg.Source.DataSource)
	}
	return nil
}

// sharedCache and hintCache avoid handing a typed nil to optional interfaces.
func (a *App) sharedCache() throttle.SharedCache {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

func (a *App) hintCache() writer.HintCache {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

// Start bootstraps genesis if needed, then runs the pipeline in the
// background. Done is closed when the pipeline returns.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.lease != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.lease.Keep(ctx)
		}()
	}

	if a.pool != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.pool.Watch(ctx, poolCheck)
		}()
	}

	if mc, ok := a.store.(metricsCollector); ok {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			mc.CollectMetrics(ctx, dbMetrics)
		}()
	}

	if a.genesis != nil {
		loaded, err := a.genesis.Run(ctx)
		if err != nil {
			a.report(err, 0)
			err = fmt.Errorf("genesis: %w", err)
			a.finish(err)
			return err
		}
		if loaded {
			a.log.Info("Genesis snapshot loaded")
		}
	}

	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
	}

	a.launched.Store(true)
	go func() {
		err := a.pipeline.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			status := a.pipeline.GetStatus()
			a.report(err, status.ProcessedBlock)
			a.log.Error("Indexer stopped with error",
				"error", err,
				"category", recovery.Classify(err),
				"committed", status.CommittedBlock,
			)
			a.finish(err)
			return
		}
		a.finish(nil)
	}()

	a.log.Info("Indexer started",
		"port", a.cfg.Server.Port,
		"insert_limit", a.cfg.Indexer.InsertLimit,
		"preload", a.cfg.Indexer.PreloadSize,
	)
	return nil
}

func (a *App) report(err error, height uint64) {
	a.reporter.Capture(err, map[string]any{
		"height":   height,
		"category": recovery.Classify(err).String(),
	})
}

// finish records the run outcome and closes Done. Only the first call counts.
func (a *App) finish(err error) {
	a.doneOnce.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Done is closed once the pipeline has returned or Start has failed.
func (a *App) Done() <-chan struct{} { return a.done }

// Err returns the run error after Done is closed.
func (a *App) Err() error { return a.err }

// Status exposes the pipeline status.
func (a *App) Status() indexer.Status { return a.pipeline.GetStatus() }

// Health runs a health check.
func (a *App) Health(ctx context.Context) health.HealthReport { return a.monitor.CheckHealth(ctx) }

// Stop drains the pipeline, stops the health server and releases the lease.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping indexer...")

	_ = a.pipeline.Stop()
	if !a.launched.Load() {
		a.finish(nil)
	}
	select {
	case <-a.done:
	case <-ctx.Done():
		a.log.Warn("Pipeline did not drain before deadline")
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var err error
	if a.server != nil {
		err = a.server.Stop(ctx)
	}
	a.reporter.Flush(flushWait)
	a.closeConnections()
	return err
}

func (a *App) closeConnections() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.store != nil && a.opts.Store == nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close store", "error", err)
		}
	}
}
