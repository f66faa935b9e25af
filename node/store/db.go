package store

import (
	"fmt"
	"path/filepath"

	"github.com/180945/btcrelay/relay"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultHeaderCacheSize is the number of header records kept in memory when
// Options.HeaderCacheSize is zero.
const DefaultHeaderCacheSize = 4096

// Options selects where and how a Store is opened.
type Options struct {
	DataDir         string
	Network         string
	Backend         Backend
	HeaderCacheSize int
}

// DB is the persistent relay.Repository. It is safe for concurrent readers;
// the relay engine serializes commits.
type DB struct {
	chainDir string
	kv       kvBackend
	cache    *lru.Cache[chainhash.Hash, relay.HeaderRecord]
	manifest *Manifest
}

var _ relay.Repository = (*DB)(nil)

// Open opens (creating if needed) the store for opts.Network under
// opts.DataDir. An existing MANIFEST.json must agree with the requested
// network and backend.
func Open(opts Options) (*DB, error) {
	if opts.Backend == BackendMemory {
		return OpenMemory(opts.HeaderCacheSize)
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if opts.Network == "" {
		return nil, fmt.Errorf("network required")
	}
	backend, err := ParseBackend(string(opts.Backend))
	if err != nil {
		return nil, err
	}

	chainDir := ChainDir(opts.DataDir, opts.Network)
	if err := ensureDir(chainDir); err != nil {
		return nil, err
	}

	m, err := loadManifest(chainDir, opts.Network, backend)
	if err != nil {
		return nil, err
	}

	dbDir := filepath.Join(chainDir, "db")
	if err := ensureDir(dbDir); err != nil {
		return nil, err
	}

	var kv kvBackend
	switch backend {
	case BackendBadger:
		kv, err = openBadger(dbDir)
	default:
		kv, err = openBolt(dbDir)
	}
	if err != nil {
		return nil, err
	}

	d, err := newDB(kv, opts.HeaderCacheSize)
	if err != nil {
		_ = kv.close()
		return nil, err
	}
	d.chainDir = chainDir
	d.manifest = m
	log.Infof("Opened %s store at %s", backend, dbDir)
	return d, nil
}

// OpenMemory returns a store that keeps everything in process memory.
func OpenMemory(cacheSize int) (*DB, error) {
	return newDB(newMemoryBackend(), cacheSize)
}

func newDB(kv kvBackend, cacheSize int) (*DB, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultHeaderCacheSize
	}
	cache, err := lru.New[chainhash.Hash, relay.HeaderRecord](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("header cache: %w", err)
	}
	return &DB{kv: kv, cache: cache}, nil
}

func (d *DB) Close() error {
	if d == nil || d.kv == nil {
		return nil
	}
	return d.kv.close()
}

func (d *DB) ChainDir() string { return d.chainDir }

func (d *DB) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

func (d *DB) Header(hash chainhash.Hash) (*relay.HeaderRecord, bool, error) {
	if rec, ok := d.cache.Get(hash); ok {
		return &rec, true, nil
	}
	v, err := d.kv.get(bucketHeaders, hash[:])
	if err != nil {
		return nil, false, fmt.Errorf("get header %s: %w", hash, err)
	}
	if v == nil {
		return nil, false, nil
	}
	rec, err := decodeHeaderRecord(v)
	if err != nil {
		return nil, false, err
	}
	d.cache.Add(hash, *rec)
	return rec, true, nil
}

func (d *DB) Fork(chainID uint32) (*relay.Fork, bool, error) {
	v, err := d.kv.get(bucketForks, chainIDKey(chainID))
	if err != nil {
		return nil, false, fmt.Errorf("get fork %d: %w", chainID, err)
	}
	if v == nil {
		return nil, false, nil
	}
	f, err := decodeFork(v)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func (d *DB) CanonicalHash(height uint32) (chainhash.Hash, bool, error) {
	v, err := d.kv.get(bucketCanonical, heightKey(height))
	if err != nil {
		return chainhash.Hash{}, false, fmt.Errorf("get canonical %d: %w", height, err)
	}
	if v == nil {
		return chainhash.Hash{}, false, nil
	}
	h, err := chainhash.NewHash(v)
	if err != nil {
		return chainhash.Hash{}, false, fmt.Errorf("canonical %d: %w", height, err)
	}
	return *h, true, nil
}

func (d *DB) State() (*relay.State, bool, error) {
	v, err := d.kv.get(bucketState, keyState)
	if err != nil {
		return nil, false, fmt.Errorf("get state: %w", err)
	}
	if v == nil {
		return nil, false, nil
	}
	s, err := decodeState(v)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Commit writes cs in one backend transaction. The header cache is only
// refreshed once the transaction has succeeded.
func (d *DB) Commit(cs *relay.ChangeSet) error {
	if cs.Empty() {
		return nil
	}

	var stateBytes []byte
	if cs.State != nil {
		b, err := encodeState(cs.State)
		if err != nil {
			return err
		}
		stateBytes = b
	}

	err := d.kv.update(func(tx kvTx) error {
		for hash, rec := range cs.Headers {
			hash := hash
			if err := tx.put(bucketHeaders, hash[:], encodeHeaderRecord(rec)); err != nil {
				return fmt.Errorf("put header %s: %w", hash, err)
			}
		}
		for _, id := range cs.SortedForkIDs() {
			f := cs.Forks[id]
			if f == nil {
				if err := tx.delete(bucketForks, chainIDKey(id)); err != nil {
					return fmt.Errorf("delete fork %d: %w", id, err)
				}
				continue
			}
			if err := tx.put(bucketForks, chainIDKey(id), encodeFork(f)); err != nil {
				return fmt.Errorf("put fork %d: %w", id, err)
			}
		}
		for height, hash := range cs.Canonical {
			hash := hash
			if err := tx.put(bucketCanonical, heightKey(height), hash[:]); err != nil {
				return fmt.Errorf("put canonical %d: %w", height, err)
			}
		}
		if stateBytes != nil {
			if err := tx.put(bucketState, keyState, stateBytes); err != nil {
				return fmt.Errorf("put state: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for hash, rec := range cs.Headers {
		d.cache.Add(hash, *rec)
	}
	log.Tracef("Committed %d headers, %d forks, %d canonical entries",
		len(cs.Headers), len(cs.Forks), len(cs.Canonical))
	return nil
}
