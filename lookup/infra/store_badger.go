package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/jonboulle/clockwork"
	"github.com/vmihailenco/msgpack/v5"

	"lookup-gateway/lookup/domain"
)

const badgerKeyPrefix = "lookup/"

// BadgerStore é o armazenamento durável: um registro msgpack por chave, sem
// TTL, com a data da última atualização.
type BadgerStore struct {
	db    *badger.DB
	clock clockwork.Clock
}

type BadgerOption func(*BadgerStore)

func WithStoreClock(c clockwork.Clock) BadgerOption {
	return func(s *BadgerStore) { s.clock = c }
}

// OpenBadgerStore abre (ou cria) o banco em dir. dir vazio abre em memória.
func OpenBadgerStore(dir string, opts ...BadgerOption) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	s := &BadgerStore{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *BadgerStore) Get(_ context.Context, key domain.Key) (domain.StoreRecord, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + string(key)))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.StoreRecord{}, false, nil
	}
	if err != nil {
		return domain.StoreRecord{}, false, err
	}

	var rec domain.StoreRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return domain.StoreRecord{}, false, fmt.Errorf("decode store record %s: %w", key, err)
	}
	return rec, true, nil
}

// Set é um upsert: a última escrita vence.
func (s *BadgerStore) Set(_ context.Context, key domain.Key, value domain.Value) error {
	raw, err := msgpack.Marshal(domain.StoreRecord{Key: key, Value: value, LastUpdated: s.clock.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+string(key)), raw)
	})
}

func (s *BadgerStore) Close() error { return s.db.Close() }
