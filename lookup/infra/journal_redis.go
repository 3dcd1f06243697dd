package infra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"lookup-gateway/lookup/domain"
)

const defaultJournalLease = time.Minute

// RedisJournal guarda os lotes READY de uma instância (owner) num hash
// `<prefix>:pending:<owner>` (campo = id do lote, valor = BatchRecord em
// msgpack). A instância viva mantém `<prefix>:lease:<owner>` com TTL; o
// conjunto `<prefix>:owners` lista quem já escreveu no journal.
//
// Pending só devolve os lotes do próprio owner e os de owners cujo lease
// expirou. Um hash órfão é tomado com RENAME, então só uma instância o
// recupera, e lotes em voo de uma instância viva nunca são reenviados.
type RedisJournal struct {
	rdb    redis.UniversalClient
	prefix string
	owner  string
	lease  time.Duration
	clock  clockwork.Clock
}

type RedisJournalOption func(*RedisJournal)

func WithJournalPrefix(prefix string) RedisJournalOption {
	return func(j *RedisJournal) { j.prefix = strings.Trim(prefix, ":") }
}

// WithJournalOwner fixa a identidade da instância. Um id estável entre
// restarts (hostname de um StatefulSet, por exemplo) recupera os próprios
// lotes sem esperar o lease expirar. Deve ser único entre instâncias vivas.
func WithJournalOwner(owner string) RedisJournalOption {
	return func(j *RedisJournal) {
		if owner = strings.TrimSpace(owner); owner != "" {
			j.owner = owner
		}
	}
}

func WithJournalLease(d time.Duration) RedisJournalOption {
	return func(j *RedisJournal) {
		if d > 0 {
			j.lease = d
		}
	}
}

func WithJournalClock(c clockwork.Clock) RedisJournalOption {
	return func(j *RedisJournal) { j.clock = c }
}

func NewRedisJournal(rdb redis.UniversalClient, opts ...RedisJournalOption) *RedisJournal {
	j := &RedisJournal{
		rdb:    rdb,
		prefix: "lookup:journal",
		owner:  uuid.NewString(),
		lease:  defaultJournalLease,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *RedisJournal) Owner() string { return j.owner }

func (j *RedisJournal) pendingKey(owner string) string { return j.prefix + ":pending:" + owner }
func (j *RedisJournal) leaseKey(owner string) string   { return j.prefix + ":lease:" + owner }
func (j *RedisJournal) ownersKey() string              { return j.prefix + ":owners" }

func (j *RedisJournal) Append(ctx context.Context, rec domain.BatchRecord) error {
	raw, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, j.pendingKey(j.owner), string(rec.ID), raw)
		j.touch(ctx, p)
		return nil
	})
	return err
}

func (j *RedisJournal) Ack(ctx context.Context, id domain.BatchID) error {
	return j.rdb.HDel(ctx, j.pendingKey(j.owner), string(id)).Err()
}

// Heartbeat renova o lease desta instância.
func (j *RedisJournal) Heartbeat(ctx context.Context) error {
	_, err := j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		j.touch(ctx, p)
		return nil
	})
	return err
}

func (j *RedisJournal) touch(ctx context.Context, p redis.Pipeliner) {
	p.SAdd(ctx, j.ownersKey(), j.owner)
	p.Set(ctx, j.leaseKey(j.owner), j.clock.Now().UTC().Format(time.RFC3339), j.lease)
}

// StartHeartbeat renova o lease a cada um terço do TTL até ctx encerrar.
func (j *RedisJournal) StartHeartbeat(ctx context.Context) {
	t := j.clock.NewTicker(j.lease / 3)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.Chan():
				_ = j.Heartbeat(ctx)
			}
		}
	}()
}

// Pending devolve os lotes pendentes do mais antigo para o mais novo: os
// próprios e os tomados de owners sem lease. Registros ilegíveis são
// removidos para não travarem toda recuperação.
func (j *RedisJournal) Pending(ctx context.Context) ([]domain.BatchRecord, error) {
	if err := j.Heartbeat(ctx); err != nil {
		return nil, err
	}
	if err := j.claimOrphans(ctx); err != nil {
		return nil, err
	}

	all, err := j.rdb.HGetAll(ctx, j.pendingKey(j.owner)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.BatchRecord, 0, len(all))
	var broken []string
	for id, raw := range all {
		var rec domain.BatchRecord
		if err := msgpack.Unmarshal([]byte(raw), &rec); err != nil {
			broken = append(broken, id)
			continue
		}
		out = append(out, rec)
	}
	if len(broken) > 0 {
		if err := j.rdb.HDel(ctx, j.pendingKey(j.owner), broken...).Err(); err != nil {
			return out, fmt.Errorf("drop unreadable journal records: %w", err)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// claimOrphans move para o hash deste owner os lotes de owners cujo lease
// expirou. O RENAME é atômico: se outra instância tomou o hash antes, o
// RENAME falha e o owner é ignorado.
func (j *RedisJournal) claimOrphans(ctx context.Context) error {
	owners, err := j.rdb.SMembers(ctx, j.ownersKey()).Result()
	if err != nil {
		return err
	}
	for _, other := range owners {
		if other == j.owner {
			continue
		}
		alive, err := j.rdb.Exists(ctx, j.leaseKey(other)).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}

		claim := j.prefix + ":claim:" + j.owner + ":" + other
		if err := j.rdb.Rename(ctx, j.pendingKey(other), claim).Err(); err != nil {
			// hash vazio ou já tomado por outra instância
			if !isNoSuchKey(err) {
				return err
			}
			j.rdb.SRem(ctx, j.ownersKey(), other)
			continue
		}

		recs, err := j.rdb.HGetAll(ctx, claim).Result()
		if err != nil {
			return err
		}
		_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for id, raw := range recs {
				p.HSet(ctx, j.pendingKey(j.owner), id, raw)
			}
			p.Del(ctx, claim)
			p.SRem(ctx, j.ownersKey(), other)
			return nil
		})
		if err != nil {
			return fmt.Errorf("claim journal of %s: %w", other, err)
		}
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such key")
}

func (j *RedisJournal) Ping(ctx context.Context) error {
	return j.rdb.Ping(ctx).Err()
}
