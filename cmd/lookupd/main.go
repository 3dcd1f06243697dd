package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"lookup-gateway/lookup"
	"lookup-gateway/lookup/application"
	"lookup-gateway/lookup/domain"
	"lookup-gateway/lookup/infra"
)

func main() {
	cfg, err := readConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	zl, err := newZap(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	log := zapr.NewLogger(zl)

	if err := run(cfg, log); err != nil {
		log.Error(err, "lookupd stopped with error")
		os.Exit(1)
	}
}

func newZap(cfg config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.logDev {
		zc = zap.NewDevelopmentConfig()
	}
	// zapr mapeia V(n) para o nível -n
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-cfg.logLevel))
	return zc.Build()
}

func run(cfg config, log logr.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb redis.UniversalClient
	if cfg.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.redisAddr, err)
		}
		log.Info("redis connected", "addr", cfg.redisAddr, "db", cfg.redisDB, "prefix", cfg.redisPrefix)
	}

	deps, err := buildDeps(cfg, rdb, log)
	if err != nil {
		return err
	}

	if j, ok := deps.Journal.(*infra.RedisJournal); ok {
		j.StartHeartbeat(ctx)
		log.Info("batch journal shared through redis", "owner", j.Owner(), "lease", cfg.journalLease)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	obs, err := infra.NewPromObserver(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	normalizer := domain.CUINormalizer
	if cfg.keyFormat == "generic" {
		normalizer = domain.DefaultNormalizer
	}

	svc, err := application.New(cfg.engine, deps,
		application.WithLogger(log),
		application.WithObserver(obs),
		application.WithNormalizer(normalizer),
	)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		_ = svc.Close(context.Background())
		return err
	}

	var middlewares []func(http.Handler) http.Handler
	if cfg.rateEnabled {
		limiters := infra.NewClientLimiters(cfg.rateRPS, cfg.rateBurst)
		limiters.StartJanitor(ctx)
		middlewares = append(middlewares, lookup.ThrottleMiddleware(lookup.ThrottleOptions{
			Store:               limiters,
			Stats:               deps.Stats,
			KeyHeader:           cfg.rateKeyHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			RetryAfter:          cfg.retryAfter,
			AddRateLimitHeaders: cfg.addHeaders,
		}))
		log.Info("client rate limit enabled",
			"rps", cfg.rateRPS, "burst", cfg.rateBurst,
			"key_header", cfg.rateKeyHeader, "trust_xff", cfg.trustXFF)
	}
	middlewares = append(middlewares, lookup.ConcurrencyMiddleware(lookup.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
	}))

	srv := &http.Server{
		Addr: cfg.listenAddr,
		Handler: lookup.NewHandler(svc, lookup.HandlerOptions{
			Logger:      log.WithName("http"),
			MaxBulkKeys: cfg.maxBulkKeys,
			Middlewares: middlewares,
			Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// uma consulta pode esperar janela + rate limit + retries
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("lookupd listening", "addr", cfg.listenAddr, "upstream", cfg.upstreamURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srvErr := srv.Shutdown(shutdownCtx)

		closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.engine.CloseTimeout)
		defer cancelClose()
		return errors.Join(srvErr, svc.Close(closeCtx))
	})
	return g.Wait()
}

func buildDeps(cfg config, rdb redis.UniversalClient, log logr.Logger) (application.Deps, error) {
	var deps application.Deps

	local := infra.NewOtterCache(cfg.cacheMaxEntries, cfg.engine.CacheTTL)
	if rdb != nil {
		shared := infra.NewRedisCache(rdb, infra.WithCachePrefix(cfg.redisPrefix+":cache"))
		deps.Cache = infra.NewTieredCache(local, shared, cfg.cacheLocalTTL)
		deps.Journal = infra.NewRedisJournal(rdb,
			infra.WithJournalPrefix(cfg.redisPrefix+":journal"),
			infra.WithJournalOwner(cfg.instanceID),
			infra.WithJournalLease(cfg.journalLease),
		)
	} else {
		deps.Cache = local
		deps.Journal = infra.NewMemoryJournal()
	}

	switch cfg.storeBackend {
	case "memory":
		deps.Store = infra.NewMemoryStore()
	default:
		st, err := infra.OpenBadgerStore(cfg.badgerDir)
		if err != nil {
			return deps, fmt.Errorf("open badger store: %w", err)
		}
		deps.Store = st
	}

	if cfg.statsEnabled {
		if rdb != nil {
			deps.Stats = infra.NewRedisStatsStore(rdb,
				infra.WithStatsPrefix(cfg.redisPrefix+":stats"),
				infra.WithStatsTTL(cfg.statsTTL),
				infra.WithStatsBucket(cfg.statsBucket),
				infra.WithStatsTrackKeys(cfg.statsTrackKeys),
			)
		} else {
			deps.Stats = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.statsTrackKeys))
		}
	}

	deps.Upstream = infra.NewANAFClient(cfg.upstreamURL,
		infra.WithMaxBatch(cfg.engine.MaxBatchSize),
		infra.WithHTTPClient(&http.Client{Timeout: cfg.engine.APITimeout}),
		infra.WithClientLogger(log.WithName("anaf")),
	)
	deps.Gate = infra.NewGate(cfg.engine.RateLimitInterval)

	log.Info("collaborators ready",
		"store", cfg.storeBackend, "badger_dir", cfg.badgerDir,
		"shared_cache", rdb != nil, "stats", cfg.statsEnabled)
	return deps, nil
}
