package relay

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Reader provides point lookups over committed relay data. Returned values
// are owned by the caller.
type Reader interface {
	Header(hash chainhash.Hash) (*HeaderRecord, bool, error)
	Fork(chainID uint32) (*Fork, bool, error)
	CanonicalHash(height uint32) (chainhash.Hash, bool, error)
	State() (*State, bool, error)
}

// Repository is the durable store behind the engine. Commit must apply a
// change set atomically: either every write lands or none does.
type Repository interface {
	Reader
	Commit(cs *ChangeSet) error
}

// ChangeSet is the full write set of one mutating engine call.
type ChangeSet struct {
	Headers   map[chainhash.Hash]*HeaderRecord
	Forks     map[uint32]*Fork // nil value deletes the fork
	Canonical map[uint32]chainhash.Hash
	State     *State
}

// Empty reports whether the change set carries no writes.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.Headers) == 0 && len(cs.Forks) == 0 && len(cs.Canonical) == 0 && cs.State == nil)
}

// SortedForkIDs returns the fork ids touched by the change set in ascending
// order, so backends write deterministically.
func (cs *ChangeSet) SortedForkIDs() []uint32 {
	ids := make([]uint32, 0, len(cs.Forks))
	for id := range cs.Forks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// stage overlays uncommitted writes on top of a Reader. Every engine call
// runs against a fresh stage and commits it at most once, which is what
// makes single submissions and whole batches all-or-nothing.
type stage struct {
	base      Reader
	headers   map[chainhash.Hash]*HeaderRecord
	forks     map[uint32]*Fork
	canonical map[uint32]chainhash.Hash
	state     *State
}

func newStage(base Reader) *stage {
	return &stage{
		base:      base,
		headers:   make(map[chainhash.Hash]*HeaderRecord),
		forks:     make(map[uint32]*Fork),
		canonical: make(map[uint32]chainhash.Hash),
	}
}

func (s *stage) header(hash chainhash.Hash) (*HeaderRecord, bool, error) {
	if rec, ok := s.headers[hash]; ok {
		cp := *rec
		return &cp, true, nil
	}
	return s.base.Header(hash)
}

func (s *stage) putHeader(hash chainhash.Hash, rec HeaderRecord) {
	s.headers[hash] = &rec
}

func (s *stage) fork(id uint32) (*Fork, bool, error) {
	if f, ok := s.forks[id]; ok {
		if f == nil {
			return nil, false, nil
		}
		return f.clone(), true, nil
	}
	return s.base.Fork(id)
}

func (s *stage) putFork(f *Fork) {
	s.forks[f.ChainID] = f.clone()
}

func (s *stage) deleteFork(id uint32) {
	s.forks[id] = nil
}

func (s *stage) canonicalHash(height uint32) (chainhash.Hash, bool, error) {
	if h, ok := s.canonical[height]; ok {
		return h, true, nil
	}
	return s.base.CanonicalHash(height)
}

func (s *stage) putCanonical(height uint32, hash chainhash.Hash) {
	s.canonical[height] = hash
}

func (s *stage) relayState() (*State, bool, error) {
	if s.state != nil {
		return s.state.Copy(), true, nil
	}
	return s.base.State()
}

func (s *stage) putState(st *State) {
	s.state = st.Copy()
}

// changeSet freezes the staged writes for commit.
func (s *stage) changeSet() *ChangeSet {
	cs := &ChangeSet{
		Headers:   make(map[chainhash.Hash]*HeaderRecord, len(s.headers)),
		Forks:     make(map[uint32]*Fork, len(s.forks)),
		Canonical: make(map[uint32]chainhash.Hash, len(s.canonical)),
		State:     s.state.Copy(),
	}
	for k, v := range s.headers {
		cp := *v
		cs.Headers[k] = &cp
	}
	for k, v := range s.forks {
		cs.Forks[k] = v.clone()
	}
	for k, v := range s.canonical {
		cs.Canonical[k] = v
	}
	return cs
}
