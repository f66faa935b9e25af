package store

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

type boltBackend struct {
	db *bolt.DB
}

func openBolt(dir string) (*boltBackend, error) {
	path := filepath.Join(dir, "relay.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &boltBackend{db: bdb}, nil
}

func (b *boltBackend) get(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *boltBackend) update(fn func(tx kvTx) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
}

func (b *boltBackend) close() error {
	return b.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t boltTx) put(bucket, key, value []byte) error {
	return t.tx.Bucket(bucket).Put(key, value)
}

func (t boltTx) delete(bucket, key []byte) error {
	return t.tx.Bucket(bucket).Delete(key)
}
