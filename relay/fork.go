package relay

import (
	"math"

	"github.com/180945/btcrelay/consensus"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// attachHeader files a fully validated header under the right chain: it
// either extends the branch its parent tops, or opens a new fork when the
// parent already has a descendant. Extending a non-main fork far enough past
// the best height promotes it.
func (e *Engine) attachHeader(
	st *stage,
	state *State,
	hash chainhash.Hash,
	raw consensus.RawHeader,
	height uint32,
	parentHash chainhash.Hash,
	parent *HeaderRecord,
) (*ChainReorg, error) {
	parentFork, ok, err := st.fork(parent.ChainID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, consensus.RuleErrorf(consensus.ErrForkNotFound, "parent chain %d has no fork record", parent.ChainID)
	}

	if parentFork.Height != parent.Height {
		id, err := allocChainID(state)
		if err != nil {
			return nil, err
		}
		st.putFork(&Fork{
			ChainID:     id,
			Height:      height,
			Ancestor:    parentHash,
			Descendants: []chainhash.Hash{hash},
		})
		st.putHeader(hash, HeaderRecord{Height: height, ChainID: id, Raw: raw})
		log.Debugf("Header %s at height %d opens fork %d off %s", hash, height, id, parentHash)
		return nil, nil
	}

	st.putHeader(hash, HeaderRecord{Height: height, ChainID: parent.ChainID, Raw: raw})
	parentFork.Height = height

	if parent.ChainID == MainChainID {
		st.putFork(parentFork)
		st.putCanonical(height, hash)
		state.BestBlock = hash
		state.BestHeight = height
		return nil, nil
	}

	parentFork.Descendants = append(parentFork.Descendants, hash)
	st.putFork(parentFork)
	log.Debugf("Header %s extends fork %d to height %d", hash, parentFork.ChainID, height)

	if uint64(height) >= uint64(state.BestHeight)+uint64(e.cfg.Confirmations) {
		return e.promoteFork(st, state, parentFork)
	}
	return nil, nil
}

// forkSegment is the part of a fork that lies on the branch being promoted:
// every descendant up to and including height upTo.
type forkSegment struct {
	fork *Fork
	upTo uint32
}

// promoteFork makes the branch ending at tip canonical. It walks the fork
// records back to the main chain, rewrites every header on the branch to the
// main chain id, moves the displaced canonical headers to a freshly allocated
// fork id, and swaps the height index. All writes go to st; any inconsistency
// aborts with ErrForkNotFound before the caller commits.
func (e *Engine) promoteFork(st *stage, state *State, tip *Fork) (*ChainReorg, error) {
	segments, branchPoint, bpHeight, err := walkToMain(st, state, tip)
	if err != nil {
		return nil, err
	}

	// Collect the branch from the branch point forward.
	var branch []chainhash.Hash
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		n := seg.upTo - seg.fork.firstHeight() + 1
		branch = append(branch, seg.fork.Descendants[:n]...)
	}
	if uint64(len(branch)) != uint64(tip.Height-bpHeight) {
		return nil, consensus.RuleErrorf(consensus.ErrForkNotFound,
			"branch of fork %d is not contiguous from height %d", tip.ChainID, bpHeight)
	}

	oldBest := state.BestBlock
	oldBestHeight := state.BestHeight

	// Headers displaced from the main chain.
	var displaced []chainhash.Hash
	for h := bpHeight + 1; h <= oldBestHeight; h++ {
		old, ok, err := st.canonicalHash(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, consensus.RuleErrorf(consensus.ErrForkNotFound, "no canonical header at height %d", h)
		}
		displaced = append(displaced, old)
	}

	var demotedID uint32
	if len(displaced) > 0 {
		demotedID, err = allocChainID(state)
		if err != nil {
			return nil, err
		}
		for _, old := range displaced {
			if err := setChainID(st, old, demotedID); err != nil {
				return nil, err
			}
		}
		st.putFork(&Fork{
			ChainID:     demotedID,
			Height:      oldBestHeight,
			Ancestor:    branchPoint,
			Descendants: displaced,
		})
	}

	for i, h := range branch {
		if err := setChainID(st, h, MainChainID); err != nil {
			return nil, err
		}
		st.putCanonical(bpHeight+1+uint32(i), h) // #nosec G115 -- branch length is bounded by tip height.
	}

	// The promoted tip fork is retired. Intermediate forks keep the part of
	// their branch that was not promoted, re-anchored on the main chain.
	st.deleteFork(tip.ChainID)
	for _, seg := range segments[1:] {
		f := seg.fork
		n := seg.upTo - f.firstHeight() + 1
		if int(n) >= len(f.Descendants) {
			st.deleteFork(f.ChainID)
			continue
		}
		f.Ancestor = f.Descendants[n-1]
		f.Descendants = append([]chainhash.Hash(nil), f.Descendants[n:]...)
		st.putFork(f)
	}

	mainFork, ok, err := st.fork(MainChainID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, consensus.RuleErrorf(consensus.ErrForkNotFound, "main chain has no fork record")
	}
	mainFork.Height = tip.Height
	st.putFork(mainFork)

	state.BestBlock = tip.Descendants[len(tip.Descendants)-1]
	state.BestHeight = tip.Height

	return &ChainReorg{
		From:    oldBest,
		To:      state.BestBlock,
		ChainID: tip.ChainID,
		Demoted: demotedID,
		Depth:   oldBestHeight - bpHeight,
	}, nil
}

// walkToMain follows Ancestor pointers from tip until it reaches a header on
// the main chain. Each step moves to a different fork, so the walk visits at
// most ChainCounter forks; anything longer means the records are malformed.
func walkToMain(st *stage, state *State, tip *Fork) ([]forkSegment, chainhash.Hash, uint32, error) {
	segments := []forkSegment{{fork: tip, upTo: tip.Height}}
	visited := map[uint32]struct{}{tip.ChainID: {}}
	cur := tip

	for steps := uint32(0); ; steps++ {
		if steps > state.ChainCounter {
			return nil, chainhash.Hash{}, 0, consensus.RuleErrorf(consensus.ErrForkNotFound,
				"ancestor walk from fork %d exceeded %d steps", tip.ChainID, state.ChainCounter)
		}
		anc, ok, err := st.header(cur.Ancestor)
		if err != nil {
			return nil, chainhash.Hash{}, 0, err
		}
		if !ok {
			return nil, chainhash.Hash{}, 0, consensus.RuleErrorf(consensus.ErrForkNotFound,
				"ancestor %s of fork %d not found", cur.Ancestor, cur.ChainID)
		}
		if anc.Height+1 != cur.firstHeight() {
			return nil, chainhash.Hash{}, 0, consensus.RuleErrorf(consensus.ErrForkNotFound,
				"fork %d does not start above its ancestor", cur.ChainID)
		}

		if anc.ChainID == MainChainID {
			canon, ok, err := st.canonicalHash(anc.Height)
			if err != nil {
				return nil, chainhash.Hash{}, 0, err
			}
			if !ok || canon != cur.Ancestor {
				return nil, chainhash.Hash{}, 0, consensus.RuleErrorf(consensus.ErrForkNotFound,
					"branch point %s is not canonical", cur.Ancestor)
			}
			return segments, cur.Ancestor, anc.Height, nil
		}

		if _, seen := visited[anc.ChainID]; seen {
			return nil, chainhash.Hash{}, 0, consensus.RuleErrorf(consensus.ErrForkNotFound,
				"fork %d revisited during ancestor walk", anc.ChainID)
		}
		next, ok, err := st.fork(anc.ChainID)
		if err != nil {
			return nil, chainhash.Hash{}, 0, err
		}
		if !ok || len(next.Descendants) == 0 {
			return nil, chainhash.Hash{}, 0, consensus.RuleErrorf(consensus.ErrForkNotFound,
				"fork %d not found", anc.ChainID)
		}
		if anc.Height < next.firstHeight() || anc.Height > next.Height ||
			next.Descendants[anc.Height-next.firstHeight()] != cur.Ancestor {
			return nil, chainhash.Hash{}, 0, consensus.RuleErrorf(consensus.ErrForkNotFound,
				"ancestor %s is not on fork %d", cur.Ancestor, anc.ChainID)
		}

		visited[anc.ChainID] = struct{}{}
		segments = append(segments, forkSegment{fork: next, upTo: anc.Height})
		cur = next
	}
}

func setChainID(st *stage, hash chainhash.Hash, chainID uint32) error {
	rec, ok, err := st.header(hash)
	if err != nil {
		return err
	}
	if !ok {
		return consensus.RuleErrorf(consensus.ErrForkNotFound, "header %s missing during reorg", hash)
	}
	rec.ChainID = chainID
	st.putHeader(hash, *rec)
	return nil
}

func allocChainID(state *State) (uint32, error) {
	if state.ChainCounter == math.MaxUint32 {
		return 0, consensus.RuleErrorf(consensus.ErrArithmetic, "chain counter exhausted")
	}
	state.ChainCounter++
	return state.ChainCounter, nil
}
