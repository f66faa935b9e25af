package relay

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/180945/btcrelay/consensus"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrNotInitialized is returned by every operation that needs relay state
// before Initialize has been committed.
var ErrNotInitialized = errors.New("relay: not initialized")

// Config tunes an Engine.
type Config struct {
	// Confirmations is how many blocks a fork must lead the best chain by
	// before it is promoted. Zero selects DefaultConfirmations.
	Confirmations uint32

	// ChainParams supplies PowLimit and the min-difficulty switches. Nil
	// disables the PowLimit check and enforces constant in-period targets.
	ChainParams *chaincfg.Params

	// AllowInsecure lets VerifyTx callers skip the confirmation check.
	AllowInsecure bool

	// OnReorg, if set, is called after each committed promotion. It runs
	// outside the engine lock.
	OnReorg func(ChainReorg)
}

// Engine validates and stores Bitcoin headers. It is safe for concurrent use:
// mutations are serialized and readers only see committed data.
type Engine struct {
	mu   sync.RWMutex
	repo Repository
	cfg  Config
}

// New returns an engine over repo.
func New(repo Repository, cfg Config) *Engine {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	return &Engine{repo: repo, cfg: cfg}
}

// Confirmations returns the effective promotion threshold.
func (e *Engine) Confirmations() uint32 {
	return e.cfg.Confirmations
}

// SubmitRequest is a single header submission. The caller declares where the
// header attaches; every declaration is checked.
type SubmitRequest struct {
	Header        []byte
	Hash          chainhash.Hash
	ParentHash    chainhash.Hash
	ParentChainID uint32
	Height        uint32

	// NextCounter must equal the current ChainCounter + 1. It guards against
	// submissions prepared against stale state.
	NextCounter uint32
}

// SubmitResult describes an accepted header.
type SubmitResult struct {
	Hash    chainhash.Hash
	Height  uint32
	ChainID uint32
	State   *State
	Reorg   *ChainReorg
}

// BatchResult describes an accepted batch.
type BatchResult struct {
	Hashes []chainhash.Hash
	State  *State
	Reorgs []ChainReorg
}

// Initialize seeds an empty relay with a trusted starting header. Both epoch
// samples are taken from it, so the first boundary check after genesis
// retargets from a zero-length period.
func (e *Engine) Initialize(header []byte, height uint32, hash chainhash.Hash) (*State, error) {
	raw, err := consensus.NewRawHeader(header)
	if err != nil {
		return nil, err
	}
	if height == 0 {
		return nil, consensus.RuleErrorf(consensus.ErrInvalidGenesisHeight, "genesis height must be positive")
	}
	if got := raw.Hash(); got != hash {
		return nil, consensus.RuleErrorf(consensus.ErrInvalidBlockHash, "header hashes to %s, declared %s", got, hash)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok, err := e.repo.State()
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if ok {
		return nil, consensus.RuleErrorf(consensus.ErrAlreadyInitialized, "relay already has a genesis header")
	}

	target := raw.Target()
	state := &State{
		BestBlock:        hash,
		BestHeight:       height,
		EpochStartTarget: target,
		EpochStartTime:   raw.Timestamp(),
		EpochEndTarget:   new(big.Int).Set(target),
		EpochEndTime:     raw.Timestamp(),
		ChainCounter:     MainChainID,
	}

	st := newStage(e.repo)
	st.putHeader(hash, HeaderRecord{Height: height, ChainID: MainChainID, Raw: raw})
	st.putFork(&Fork{ChainID: MainChainID, Height: height, Descendants: []chainhash.Hash{hash}})
	st.putCanonical(height, hash)
	st.putState(state)

	if err := e.repo.Commit(st.changeSet()); err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	log.Infof("Initialized relay at height %d with %s", height, hash)
	return state.Copy(), nil
}

// SubmitHeader validates one header and stores it on the main chain or a
// fork. Nothing is written unless every check passes.
func (e *Engine) SubmitHeader(req SubmitRequest) (*SubmitResult, error) {
	e.mu.Lock()
	st := newStage(e.repo)
	res, err := e.applyHeader(st, req)
	if err == nil {
		if cerr := e.repo.Commit(st.changeSet()); cerr != nil {
			err = fmt.Errorf("commit header %s: %w", req.Hash, cerr)
		}
	}
	e.mu.Unlock()

	if err != nil {
		log.Debugf("Rejected header %s: %v", req.Hash, err)
		return nil, err
	}
	if res.Reorg != nil {
		e.notifyReorg(*res.Reorg)
	}
	return res, nil
}

// SubmitHeaderBatch applies headers in order, deriving each parent from the
// header's own prev-hash field. The batch is committed as a whole or not at
// all.
func (e *Engine) SubmitHeaderBatch(headers [][]byte) (*BatchResult, error) {
	if len(headers) == 0 {
		return nil, consensus.RuleErrorf(consensus.ErrInvalidHeaderBatch, "empty batch")
	}

	e.mu.Lock()
	res, err := e.applyBatch(headers)
	e.mu.Unlock()

	if err != nil {
		log.Debugf("Rejected batch of %d headers: %v", len(headers), err)
		return nil, err
	}
	for _, r := range res.Reorgs {
		e.notifyReorg(r)
	}
	return res, nil
}

func (e *Engine) applyBatch(headers [][]byte) (*BatchResult, error) {
	st := newStage(e.repo)
	res := &BatchResult{Hashes: make([]chainhash.Hash, 0, len(headers))}

	for i, b := range headers {
		raw, err := consensus.NewRawHeader(b)
		if err != nil {
			return nil, fmt.Errorf("header %d: %w", i, err)
		}
		state, ok, err := st.relayState()
		if err != nil {
			return nil, fmt.Errorf("read state: %w", err)
		}
		if !ok {
			return nil, ErrNotInitialized
		}
		parentHash := raw.PrevHash()
		parent, ok, err := st.header(parentHash)
		if err != nil {
			return nil, fmt.Errorf("read header %s: %w", parentHash, err)
		}
		if !ok {
			return nil, fmt.Errorf("header %d: %w", i, consensus.RuleErrorf(
				consensus.ErrPreviousBlockNotFound, "parent %s unknown", parentHash))
		}

		sub, err := e.applyHeader(st, SubmitRequest{
			Header:        b,
			Hash:          raw.Hash(),
			ParentHash:    parentHash,
			ParentChainID: parent.ChainID,
			Height:        parent.Height + 1,
			NextCounter:   state.ChainCounter + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("header %d: %w", i, err)
		}
		res.Hashes = append(res.Hashes, sub.Hash)
		if sub.Reorg != nil {
			res.Reorgs = append(res.Reorgs, *sub.Reorg)
		}
		res.State = sub.State
	}

	if err := e.repo.Commit(st.changeSet()); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return res, nil
}

// applyHeader runs the full validation pipeline for one header against st.
func (e *Engine) applyHeader(st *stage, req SubmitRequest) (*SubmitResult, error) {
	raw, err := consensus.NewRawHeader(req.Header)
	if err != nil {
		return nil, err
	}

	state, ok, err := st.relayState()
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	if uint64(req.NextCounter) != uint64(state.ChainCounter)+1 {
		return nil, consensus.RuleErrorf(consensus.ErrInvalidCounter,
			"next counter %d, expected %d", req.NextCounter, uint64(state.ChainCounter)+1)
	}

	hash := raw.Hash()
	if hash != req.Hash {
		return nil, consensus.RuleErrorf(consensus.ErrInvalidBlockHash, "header hashes to %s, declared %s", hash, req.Hash)
	}
	if prev := raw.PrevHash(); prev != req.ParentHash {
		return nil, consensus.RuleErrorf(consensus.ErrInvalidBlockHash,
			"header commits to parent %s, declared %s", prev, req.ParentHash)
	}

	existing, ok, err := st.header(hash)
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", hash, err)
	}
	if ok && existing.ChainID != NoChainID {
		return nil, consensus.RuleErrorf(consensus.ErrDuplicateBlock, "%s already stored on chain %d", hash, existing.ChainID)
	}

	parent, ok, err := st.header(req.ParentHash)
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", req.ParentHash, err)
	}
	if !ok || req.Height == 0 || parent.Height != req.Height-1 {
		return nil, consensus.RuleErrorf(consensus.ErrPreviousBlockNotFound,
			"no parent %s at height %d", req.ParentHash, int64(req.Height)-1)
	}
	if parent.ChainID != req.ParentChainID {
		return nil, consensus.RuleErrorf(consensus.ErrInvalidChainID,
			"parent is on chain %d, declared %d", parent.ChainID, req.ParentChainID)
	}

	target := raw.Target()
	if err := consensus.CheckProofOfWork(hash, target); err != nil {
		return nil, err
	}
	if err := e.checkDifficulty(state, req.Height, raw, target); err != nil {
		return nil, err
	}

	reorg, err := e.attachHeader(st, state, hash, raw, req.Height, req.ParentHash, parent)
	if err != nil {
		return nil, err
	}
	st.putState(state)

	rec, _, err := st.header(hash)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{
		Hash:    hash,
		Height:  req.Height,
		ChainID: rec.ChainID,
		State:   state.Copy(),
		Reorg:   reorg,
	}, nil
}

// checkDifficulty enforces the difficulty rules for a header at height and
// advances the epoch samples in state.
func (e *Engine) checkDifficulty(state *State, height uint32, raw consensus.RawHeader, target *big.Int) error {
	params := e.cfg.ChainParams

	var powLimit *big.Int
	if params != nil {
		powLimit = params.PowLimit
	}
	if powLimit != nil && target.Cmp(powLimit) > 0 {
		return consensus.RuleErrorf(consensus.ErrIncorrectDifficultyTarget,
			"target %064x above network limit", target)
	}

	if consensus.IsPeriodStart(height) {
		if params == nil || !params.PoWNoRetargeting {
			err := consensus.IsCorrectDifficultyTarget(
				state.EpochStartTarget, state.EpochStartTime,
				state.EpochEndTarget, state.EpochEndTime,
				target, powLimit,
			)
			if err != nil {
				return err
			}
		}
		state.EpochStartTarget = new(big.Int).Set(target)
		state.EpochStartTime = raw.Timestamp()
		state.EpochEndTarget = new(big.Int)
		state.EpochEndTime = 0
		return nil
	}

	if (params == nil || !params.ReduceMinDifficulty) && target.Cmp(state.EpochStartTarget) != 0 {
		return consensus.RuleErrorf(consensus.ErrIncorrectDifficultyTarget,
			"bits %08x change target mid-period", raw.Bits())
	}
	if consensus.IsPeriodEnd(height) {
		state.EpochEndTarget = new(big.Int).Set(target)
		state.EpochEndTime = raw.Timestamp()
	}
	return nil
}

func (e *Engine) notifyReorg(r ChainReorg) {
	log.Infof("Chain reorganized: %v", r)
	if e.cfg.OnReorg != nil {
		e.cfg.OnReorg(r)
	}
}

// State returns a copy of the committed relay state.
func (e *Engine) State() (*State, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok, err := e.repo.State()
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return s, nil
}

// Header looks up a stored header by hash.
func (e *Engine) Header(hash chainhash.Hash) (*HeaderRecord, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.Header(hash)
}

// CanonicalHash returns the main-chain header at height.
func (e *Engine) CanonicalHash(height uint32) (chainhash.Hash, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.CanonicalHash(height)
}

// Fork returns the record for chainID.
func (e *Engine) Fork(chainID uint32) (*Fork, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.Fork(chainID)
}
