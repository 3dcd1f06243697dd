package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"lookup-gateway/lookup/application"
	"lookup-gateway/lookup/domain"
	"lookup-gateway/lookup/infra"
)

// Exemplo: motor embutido no processo, sem servidor HTTP.
//
//	lookup --upstream-url http://localhost:8081/api/v8/ws/tva 14399840 RO18547290 14399840
type line struct {
	Key   string          `json:"key"`
	Found bool            `json:"found"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

func main() {
	engine := application.DefaultConfig()
	engine.BatchWindow = 200 * time.Millisecond

	fs := pflag.NewFlagSet("lookup", pflag.ExitOnError)
	upstreamURL := fs.String("upstream-url", os.Getenv("UPSTREAM_URL"), "registry endpoint")
	badgerDir := fs.String("badger-dir", "", "badger directory for the durable store (empty = in memory)")
	verbose := fs.BoolP("verbose", "v", false, "log batches to stderr")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall deadline")
	fs.DurationVar(&engine.BatchWindow, "batch-window", engine.BatchWindow, "max age of an open batch")
	fs.DurationVar(&engine.RateLimitInterval, "rate-interval", engine.RateLimitInterval, "min interval between upstream calls")
	fs.IntVar(&engine.MaxRetries, "max-retries", engine.MaxRetries, "retries after the first attempt")
	_ = fs.Parse(os.Args[1:])

	if *upstreamURL == "" || fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: lookup --upstream-url URL KEY [KEY...]")
		os.Exit(2)
	}

	zc := zap.NewDevelopmentConfig()
	if !*verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	zl, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	log := zapr.NewLogger(zl)

	store, err := infra.OpenBadgerStore(*badgerDir)
	if err != nil {
		log.Error(err, "open store")
		os.Exit(1)
	}

	svc, err := application.New(engine, application.Deps{
		Cache:    infra.NewOtterCache(10_000, engine.CacheTTL),
		Store:    store,
		Upstream: infra.NewANAFClient(*upstreamURL, infra.WithClientLogger(log.WithName("anaf"))),
		Gate:     infra.NewGate(engine.RateLimitInterval),
	}, application.WithLogger(log), application.WithNormalizer(domain.CUINormalizer))
	if err != nil {
		log.Error(err, "build lookup service")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if err := svc.Start(ctx); err != nil {
		log.Error(err, "start lookup service")
		os.Exit(1)
	}

	keys := fs.Args()
	results := svc.ResolveMany(ctx, keys)
	_ = svc.Close(context.Background())

	enc := json.NewEncoder(os.Stdout)
	failed := false
	for i, res := range results {
		out := line{Key: keys[i]}
		v, found, err := res.Unpack()
		switch {
		case err != nil:
			out.Error = err.Error()
			failed = true
		case found:
			out.Found = true
			if json.Valid(v) {
				out.Value = json.RawMessage(v)
			} else {
				out.Value, _ = json.Marshal(string(v))
			}
		}
		_ = enc.Encode(out)
	}
	if failed {
		os.Exit(1)
	}
}
