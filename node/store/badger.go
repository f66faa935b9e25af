package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// badgerBackend keeps every bucket in one keyspace, prefixing keys with the
// bucket name and a '/' separator.
type badgerBackend struct {
	db *badger.DB
}

func openBadger(dir string) (*badgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerBackend{db: db}, nil
}

func prefixedKey(bucket, key []byte) []byte {
	out := make([]byte, 0, len(bucket)+1+len(key))
	out = append(out, bucket...)
	out = append(out, '/')
	return append(out, key...)
}

func (b *badgerBackend) get(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixedKey(bucket, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return out, err
}

func (b *badgerBackend) update(fn func(tx kvTx) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(badgerTx{txn: txn})
	})
}

func (b *badgerBackend) close() error {
	return b.db.Close()
}

type badgerTx struct {
	txn *badger.Txn
}

func (t badgerTx) put(bucket, key, value []byte) error {
	return t.txn.Set(prefixedKey(bucket, key), value)
}

func (t badgerTx) delete(bucket, key []byte) error {
	return t.txn.Delete(prefixedKey(bucket, key))
}
