package domain

import (
	"context"
	"time"
)

// Cache é o nível rápido com TTL. Falhas de leitura são tratadas como miss.
type Cache interface {
	Get(ctx context.Context, key Key) (Value, bool, error)
	Set(ctx context.Context, key Key, value Value, ttl time.Duration) error
}

// StoreRecord é o registro durável, sem TTL.
type StoreRecord struct {
	Key         Key       `msgpack:"key"`
	Value       Value     `msgpack:"value"`
	LastUpdated time.Time `msgpack:"last_updated"`
}

// Store é o armazenamento durável chave/valor.
type Store interface {
	Get(ctx context.Context, key Key) (StoreRecord, bool, error)
	Set(ctx context.Context, key Key, value Value) error
}

// Upstream é o cliente do registro externo: recebe uma lista limitada de
// chaves e devolve a partição found/notFound. Falhas de transporte devem vir
// como *TransportError para serem retentadas.
type Upstream interface {
	Query(ctx context.Context, keys []Key) (QueryResult, error)
}

// BatchJournal guarda lotes READY para sobreviverem a um crash. Lotes OPEN
// podem ser perdidos: os chamadores reenviam.
type BatchJournal interface {
	Append(ctx context.Context, rec BatchRecord) error
	Ack(ctx context.Context, id BatchID) error
	Pending(ctx context.Context) ([]BatchRecord, error)
}

// Gate controla o acesso ao registro externo (concorrência 1 + intervalo
// mínimo entre chamadas). Acquire bloqueia até liberar ou até o ctx encerrar;
// a função devolvida deve ser chamada exatamente uma vez.
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// SlotPool representa um recurso com capacidade finita (ex: conexões concorrentes).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// Pinger é implementado por colaboradores que precisam de conexão (Redis etc.).
type Pinger interface {
	Ping(ctx context.Context) error
}
