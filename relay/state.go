package relay

import (
	"fmt"
	"math/big"

	"github.com/180945/btcrelay/consensus"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// NoChainID marks a header record that has not been claimed by any
	// chain.
	NoChainID uint32 = 0

	// MainChainID identifies the canonical chain.
	MainChainID uint32 = 1

	// DefaultConfirmations is how far a fork must lead the best chain
	// before it is promoted.
	DefaultConfirmations uint32 = 6
)

// HeaderRecord is the stored metadata of a validated header, keyed by its
// recomputed hash.
type HeaderRecord struct {
	Height  uint32
	ChainID uint32
	Raw     consensus.RawHeader
}

// Fork is a contiguous branch of headers sharing a chain id. Ancestor is the
// header the branch diverged from; it always belongs to a different chain.
//
// Descendants end at Height for every chain except the main one. The main
// chain's branch lives in the canonical height index, so its record only
// carries the genesis hash and firstHeight is undefined for it.
type Fork struct {
	ChainID     uint32
	Height      uint32
	Ancestor    chainhash.Hash
	Descendants []chainhash.Hash
}

func (f *Fork) clone() *Fork {
	if f == nil {
		return nil
	}
	out := *f
	out.Descendants = append([]chainhash.Hash(nil), f.Descendants...)
	return &out
}

// firstHeight is the height of the fork's first descendant. It must not be
// called on the main chain record.
func (f *Fork) firstHeight() uint32 {
	return f.Height - uint32(len(f.Descendants)) + 1 // #nosec G115 -- descendants are bounded by height.
}

// State is the relay-wide ledger summary.
type State struct {
	BestBlock  chainhash.Hash
	BestHeight uint32

	// The two samples bracketing the current difficulty period. A cleared
	// end sample has a zero target and time.
	EpochStartTarget *big.Int
	EpochStartTime   uint32
	EpochEndTarget   *big.Int
	EpochEndTime     uint32

	// ChainCounter is the last allocated chain id.
	ChainCounter uint32
}

// Copy returns a deep copy of s.
func (s *State) Copy() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.EpochStartTarget = copyBig(s.EpochStartTarget)
	out.EpochEndTarget = copyBig(s.EpochEndTarget)
	return &out
}

func (s *State) String() string {
	return fmt.Sprintf("best=%s height=%d counter=%d", s.BestBlock, s.BestHeight, s.ChainCounter)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// ChainReorg is emitted once per successful fork promotion.
type ChainReorg struct {
	// From is the best block before the reorg, To the new best block.
	From chainhash.Hash
	To   chainhash.Hash

	// ChainID is the id of the promoted fork, now retired.
	ChainID uint32

	// Demoted is the fork id assigned to the displaced main-chain segment.
	Demoted uint32

	// Depth is the number of canonical heights that changed hands.
	Depth uint32
}

func (r ChainReorg) String() string {
	return fmt.Sprintf("reorg %s -> %s (fork %d promoted, old main now fork %d, depth %d)",
		r.From, r.To, r.ChainID, r.Demoted, r.Depth)
}
