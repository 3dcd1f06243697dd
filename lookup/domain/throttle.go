package domain

// Throttle de clientes na borda HTTP.
//
// Regras e contratos sem dependência de net/http.

import "time"

type ClientKey string

// Limiter decide se um cliente pode fazer mais uma consulta agora.
// A camada de infra usa golang.org/x/time/rate.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por cliente (IP, API key, usuário).
type LimiterStore interface {
	Get(ClientKey) Limiter
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	RetryAfter time.Duration
}
