package store

import "fmt"

var (
	bucketHeaders   = []byte("headers")
	bucketForks     = []byte("forks")
	bucketCanonical = []byte("canonical")
	bucketState     = []byte("state")

	allBuckets = [][]byte{bucketHeaders, bucketForks, bucketCanonical, bucketState}

	keyState = []byte("relay")
)

// Backend names a key-value engine.
type Backend string

const (
	BackendBolt   Backend = "bolt"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendBolt, BackendBadger, BackendMemory:
		return b, nil
	case "":
		return BackendBolt, nil
	default:
		return "", fmt.Errorf("unknown db backend %q", s)
	}
}

// kvBackend is the bucketed key-value surface the store needs. get returns
// nil for a missing key. update runs fn in a single write transaction; an
// error from fn discards every write it made.
type kvBackend interface {
	get(bucket, key []byte) ([]byte, error)
	update(fn func(tx kvTx) error) error
	close() error
}

type kvTx interface {
	put(bucket, key, value []byte) error
	delete(bucket, key []byte) error
}
