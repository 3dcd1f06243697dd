package application

import (
	"errors"
	"time"
)

// Config reúne os parâmetros do motor. Use DefaultConfig e sobrescreva.
type Config struct {
	// MaxBatchSize limita o número de chaves por chamada ao registro externo.
	MaxBatchSize int
	// BatchWindow é a idade máxima de um lote aberto antes do despacho.
	BatchWindow time.Duration
	// RateLimitInterval é o intervalo mínimo entre duas chamadas ao registro.
	RateLimitInterval time.Duration
	// MaxRetries conta só as novas tentativas (total = 1 + MaxRetries).
	MaxRetries int
	// RetryBackoff é a base do backoff exponencial: antes da tentativa n+1
	// espera RetryBackoff * 2^(n-1).
	RetryBackoff time.Duration
	CacheTTL     time.Duration
	// APITimeout limita uma única tentativa.
	APITimeout time.Duration
	// CloseTimeout limita a drenagem em Close quando o ctx não tem deadline.
	CloseTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize:      100,
		BatchWindow:       5 * time.Second,
		RateLimitInterval: 1 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      5 * time.Second,
		CacheTTL:          24 * time.Hour,
		APITimeout:        30 * time.Second,
		CloseTimeout:      30 * time.Second,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("MaxBatchSize must be > 0"))
	}
	if c.BatchWindow <= 0 {
		errs = append(errs, errors.New("BatchWindow must be > 0"))
	}
	if c.RateLimitInterval < 0 {
		errs = append(errs, errors.New("RateLimitInterval must be >= 0"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MaxRetries must be >= 0"))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, errors.New("RetryBackoff must be >= 0"))
	}
	if c.CloseTimeout < 0 {
		errs = append(errs, errors.New("CloseTimeout must be >= 0"))
	}
	if c.APITimeout <= 0 {
		errs = append(errs, errors.New("APITimeout must be > 0"))
	}
	return errors.Join(errs...)
}

// backoff devolve a espera antes da nova tentativa número retry (1, 2, ...).
func (c Config) backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return c.RetryBackoff << (retry - 1)
}
