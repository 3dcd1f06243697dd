package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"lookup-gateway/lookup/application"
)

type config struct {
	listenAddr  string
	upstreamURL string
	keyFormat   string
	logDev      bool
	logLevel    int

	engine application.Config

	cacheMaxEntries int
	cacheLocalTTL   time.Duration
	storeBackend    string
	badgerDir       string

	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	instanceID    string
	journalLease  time.Duration

	statsEnabled   bool
	statsTTL       time.Duration
	statsBucket    string
	statsTrackKeys bool

	rateEnabled        bool
	rateRPS            float64
	rateBurst          int
	rateKeyHeader      string
	trustXFF           bool
	retryAfter         time.Duration
	addHeaders         bool
	concurrencyMax     int
	concurrencyTimeout time.Duration
	maxBulkKeys        int
}

// readConfig lê as variáveis de ambiente e depois aplica as flags da linha de
// comando por cima (flag vence env).
func readConfig(args []string) (config, error) {
	def := application.DefaultConfig()

	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = getenvDefault("UPSTREAM_URL", "https://webservicesp.anaf.ro/PlatitorTvaRest/api/v8/ws/tva")
	cfg.keyFormat = getenvDefault("LOOKUP_KEY_FORMAT", "cui")
	cfg.logDev = getenvBoolDefault("LOG_DEV", false)
	cfg.logLevel = getenvIntDefault("LOG_LEVEL", 0)

	cfg.engine = application.Config{
		MaxBatchSize:      getenvIntDefault("LOOKUP_MAX_BATCH_SIZE", def.MaxBatchSize),
		BatchWindow:       getenvDurationDefault("LOOKUP_BATCH_WINDOW", def.BatchWindow),
		RateLimitInterval: getenvDurationDefault("LOOKUP_RATE_INTERVAL", def.RateLimitInterval),
		MaxRetries:        getenvIntDefault("LOOKUP_MAX_RETRIES", def.MaxRetries),
		RetryBackoff:      getenvDurationDefault("LOOKUP_RETRY_BACKOFF", def.RetryBackoff),
		CacheTTL:          getenvDurationDefault("LOOKUP_CACHE_TTL", def.CacheTTL),
		APITimeout:        getenvDurationDefault("LOOKUP_API_TIMEOUT", def.APITimeout),
		CloseTimeout:      getenvDurationDefault("LOOKUP_CLOSE_TIMEOUT", def.CloseTimeout),
	}

	cfg.cacheMaxEntries = getenvIntDefault("CACHE_MAX_ENTRIES", 100_000)
	cfg.cacheLocalTTL = getenvDurationDefault("CACHE_LOCAL_TTL", 10*time.Minute)
	cfg.storeBackend = getenvDefault("STORE_BACKEND", "badger")
	cfg.badgerDir = os.Getenv("BADGER_DIR")

	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "lookup")
	// identifica os lotes desta instância no journal compartilhado
	host, _ := os.Hostname()
	cfg.instanceID = getenvDefault("INSTANCE_ID", host)
	cfg.journalLease = getenvDurationDefault("JOURNAL_LEASE", time.Minute)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", true)
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", false)

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateRPS = getenvFloatDefault("RATE_RPS", 10)
	// burst alto com RPS baixo parece que o limiter não funciona
	if burst, ok := getenvInt("RATE_BURST"); ok {
		cfg.rateBurst = burst
	} else {
		cfg.rateBurst = 20
		if getenvIsSet("RATE_RPS") && cfg.rateRPS > 0 && cfg.rateRPS < 1 {
			cfg.rateBurst = 1
		}
	}
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)
	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)
	cfg.maxBulkKeys = getenvIntDefault("MAX_BULK_KEYS", 1000)

	fs := pflag.NewFlagSet("lookupd", pflag.ContinueOnError)
	fs.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "HTTP listen address")
	fs.StringVar(&cfg.upstreamURL, "upstream-url", cfg.upstreamURL, "registry endpoint")
	fs.StringVar(&cfg.keyFormat, "key-format", cfg.keyFormat, `key normalization: "cui" or "generic"`)
	fs.BoolVar(&cfg.logDev, "log-dev", cfg.logDev, "human friendly logs")
	fs.IntVarP(&cfg.logLevel, "verbosity", "v", cfg.logLevel, "log verbosity (1 = per batch)")
	fs.IntVar(&cfg.engine.MaxBatchSize, "max-batch-size", cfg.engine.MaxBatchSize, "keys per upstream call")
	fs.DurationVar(&cfg.engine.BatchWindow, "batch-window", cfg.engine.BatchWindow, "max age of an open batch")
	fs.DurationVar(&cfg.engine.RateLimitInterval, "rate-interval", cfg.engine.RateLimitInterval, "min interval between upstream calls")
	fs.IntVar(&cfg.engine.MaxRetries, "max-retries", cfg.engine.MaxRetries, "retries after the first attempt")
	fs.DurationVar(&cfg.engine.RetryBackoff, "retry-backoff", cfg.engine.RetryBackoff, "base of the exponential backoff")
	fs.DurationVar(&cfg.engine.CacheTTL, "cache-ttl", cfg.engine.CacheTTL, "cache entry lifetime")
	fs.DurationVar(&cfg.engine.APITimeout, "api-timeout", cfg.engine.APITimeout, "timeout of one upstream attempt")
	fs.StringVar(&cfg.storeBackend, "store", cfg.storeBackend, `durable store: "badger" or "memory"`)
	fs.StringVar(&cfg.badgerDir, "badger-dir", cfg.badgerDir, "badger directory (empty = in memory)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", cfg.redisAddr, "redis for shared cache, journal and stats")
	fs.StringVar(&cfg.instanceID, "instance-id", cfg.instanceID, "unique id of this instance in the shared journal")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if err := cfg.engine.Validate(); err != nil {
		return config{}, err
	}
	// o registro ANAF recusa mais de 100 CUIs por chamada
	if cfg.engine.MaxBatchSize > 100 {
		return config{}, fmt.Errorf("LOOKUP_MAX_BATCH_SIZE must be <= 100, got %d", cfg.engine.MaxBatchSize)
	}
	if strings.TrimSpace(cfg.upstreamURL) == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	switch cfg.keyFormat {
	case "cui", "generic":
	default:
		return config{}, fmt.Errorf("LOOKUP_KEY_FORMAT must be cui or generic, got %q", cfg.keyFormat)
	}
	switch cfg.storeBackend {
	case "badger", "memory":
	default:
		return config{}, fmt.Errorf("STORE_BACKEND must be badger or memory, got %q", cfg.storeBackend)
	}
	if cfg.journalLease <= 0 {
		return config{}, errors.New("JOURNAL_LEASE must be > 0")
	}
	if cfg.rateRPS <= 0 {
		return config{}, errors.New("RATE_RPS must be > 0")
	}
	if cfg.rateBurst <= 0 {
		return config{}, errors.New("RATE_BURST must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt(k string) (int, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func getenvIsSet(k string) bool {
	v, ok := os.LookupEnv(k)
	return ok && v != ""
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
