package store

import "sync"

// memoryBackend holds everything in maps. Writes are buffered per
// transaction and applied only when the transaction function succeeds.
type memoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	m := &memoryBackend{buckets: make(map[string]map[string][]byte)}
	for _, b := range allBuckets {
		m.buckets[string(b)] = make(map[string][]byte)
	}
	return m
}

func (m *memoryBackend) get(bucket, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.buckets[string(bucket)][string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

type memOp struct {
	bucket, key string
	value       []byte // nil deletes
}

type memoryTx struct {
	ops []memOp
}

func (t *memoryTx) put(bucket, key, value []byte) error {
	t.ops = append(t.ops, memOp{string(bucket), string(key), append([]byte{}, value...)})
	return nil
}

func (t *memoryTx) delete(bucket, key []byte) error {
	t.ops = append(t.ops, memOp{bucket: string(bucket), key: string(key)})
	return nil
}

func (m *memoryBackend) update(fn func(tx kvTx) error) error {
	tx := &memoryTx{}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range tx.ops {
		if op.value == nil {
			delete(m.buckets[op.bucket], op.key)
			continue
		}
		m.buckets[op.bucket][op.key] = op.value
	}
	return nil
}

func (m *memoryBackend) close() error {
	return nil
}
