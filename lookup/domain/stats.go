package domain

import (
	"context"
	"time"
)

// Source indica de onde veio a resposta de uma resolução.
type Source string

const (
	SourceCache     Source = "cache"
	SourceStore     Source = "store"
	SourceUpstream  Source = "upstream"
	SourceNotFound  Source = "not_found"
	SourceFailed    Source = "failed"
	SourceInvalid   Source = "invalid"
	SourceThrottled Source = "throttled"
)

// StatsEvent representa o desfecho de uma resolução (ou de um bloqueio na borda).
//
// Observação: cuidado com cardinalidade ao guardar Key por evento.
type StatsEvent struct {
	Key    Key
	Source Source
	At     time.Time
}

// StatsStore é a estratégia de persistência das estatísticas.
// Quem chama trata erro como best-effort (nunca derruba a consulta).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
