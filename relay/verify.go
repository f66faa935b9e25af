package relay

import (
	"fmt"

	"github.com/180945/btcrelay/consensus"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// VerifyTxRequest asks whether TxID is included in the main-chain block at
// Height with at least Confirmations blocks on top (the block itself counts
// as one).
type VerifyTxRequest struct {
	Height        uint32
	Index         uint64
	TxID          chainhash.Hash
	Header        []byte
	Proof         []byte
	Confirmations uint64

	// Insecure skips the confirmation check when the engine allows it.
	Insecure bool
}

// VerifyTx checks a merkle inclusion proof against the canonical header at
// req.Height. It returns true or a rule error explaining the failure.
func (e *Engine) VerifyTx(req VerifyTxRequest) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok, err := e.repo.State()
	if err != nil {
		return false, fmt.Errorf("read state: %w", err)
	}
	if !ok {
		return false, ErrNotInitialized
	}

	canon, ok, err := e.repo.CanonicalHash(req.Height)
	if err != nil {
		return false, fmt.Errorf("read canonical %d: %w", req.Height, err)
	}
	if !ok {
		return false, consensus.RuleErrorf(consensus.ErrBlockNotFound, "no main-chain block at height %d", req.Height)
	}

	raw, err := consensus.NewRawHeader(req.Header)
	if err != nil {
		return false, err
	}
	if got := raw.Hash(); got != canon {
		return false, consensus.RuleErrorf(consensus.ErrInvalidBlockHash,
			"header %s is not the main-chain block %s at height %d", got, canon, req.Height)
	}

	if req.TxID == (chainhash.Hash{}) {
		return false, consensus.RuleErrorf(consensus.ErrInvalidTxID, "zero txid")
	}
	if err := consensus.VerifyMerkleProof(req.TxID, req.Index, req.Proof, raw.MerkleRoot()); err != nil {
		return false, err
	}

	if req.Insecure && !e.cfg.AllowInsecure {
		log.Warnf("Ignoring insecure verification request for %s: not allowed", req.TxID)
	}
	if !req.Insecure || !e.cfg.AllowInsecure {
		have := uint64(state.BestHeight) - uint64(req.Height) + 1
		if have < req.Confirmations {
			return false, consensus.RuleErrorf(consensus.ErrInsufficientConfirmations,
				"block at height %d has %d confirmations, need %d", req.Height, have, req.Confirmations)
		}
	}
	return true, nil
}
