package store

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/180945/btcrelay/consensus"
	"github.com/180945/btcrelay/relay"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	headerRecordSize = 4 + 4 + consensus.HeaderSize
	forkFixedSize    = 4 + 4 + chainhash.HashSize + 4
	stateRecordSize  = chainhash.HashSize + 4*5 + 32 + 32
)

// heightKey encodes a height big-endian so bucket iteration follows chain
// order.
func heightKey(h uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], h)
	return k[:]
}

func chainIDKey(id uint32) []byte {
	return heightKey(id)
}

func encodeHeaderRecord(r *relay.HeaderRecord) []byte {
	// Layout:
	// height u32le | chain_id u32le | raw header 80
	out := make([]byte, headerRecordSize)
	binary.LittleEndian.PutUint32(out[0:4], r.Height)
	binary.LittleEndian.PutUint32(out[4:8], r.ChainID)
	copy(out[8:], r.Raw[:])
	return out
}

func decodeHeaderRecord(b []byte) (*relay.HeaderRecord, error) {
	if len(b) != headerRecordSize {
		return nil, fmt.Errorf("header record: bad length %d", len(b))
	}
	r := &relay.HeaderRecord{
		Height:  binary.LittleEndian.Uint32(b[0:4]),
		ChainID: binary.LittleEndian.Uint32(b[4:8]),
	}
	copy(r.Raw[:], b[8:])
	return r, nil
}

func encodeFork(f *relay.Fork) []byte {
	// Layout:
	// chain_id u32le | height u32le | ancestor 32 | count u32le | descendants 32*count
	out := make([]byte, forkFixedSize+chainhash.HashSize*len(f.Descendants))
	binary.LittleEndian.PutUint32(out[0:4], f.ChainID)
	binary.LittleEndian.PutUint32(out[4:8], f.Height)
	copy(out[8:40], f.Ancestor[:])
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(f.Descendants))) // #nosec G115 -- descendants are bounded by chain height.
	off := forkFixedSize
	for _, h := range f.Descendants {
		copy(out[off:off+chainhash.HashSize], h[:])
		off += chainhash.HashSize
	}
	return out
}

func decodeFork(b []byte) (*relay.Fork, error) {
	if len(b) < forkFixedSize {
		return nil, fmt.Errorf("fork: truncated")
	}
	f := &relay.Fork{
		ChainID: binary.LittleEndian.Uint32(b[0:4]),
		Height:  binary.LittleEndian.Uint32(b[4:8]),
	}
	copy(f.Ancestor[:], b[8:40])
	n := int(binary.LittleEndian.Uint32(b[40:44]))
	if len(b) != forkFixedSize+n*chainhash.HashSize {
		return nil, fmt.Errorf("fork: bad descendant count %d", n)
	}
	f.Descendants = make([]chainhash.Hash, n)
	off := forkFixedSize
	for i := range f.Descendants {
		copy(f.Descendants[i][:], b[off:off+chainhash.HashSize])
		off += chainhash.HashSize
	}
	return f, nil
}

func encodeState(s *relay.State) ([]byte, error) {
	// Layout:
	// best 32 | best_height u32le | start_time u32le | end_time u32le |
	// counter u32le | reserved u32le | start_target 32be | end_target 32be
	out := make([]byte, stateRecordSize)
	copy(out[0:32], s.BestBlock[:])
	binary.LittleEndian.PutUint32(out[32:36], s.BestHeight)
	binary.LittleEndian.PutUint32(out[36:40], s.EpochStartTime)
	binary.LittleEndian.PutUint32(out[40:44], s.EpochEndTime)
	binary.LittleEndian.PutUint32(out[44:48], s.ChainCounter)
	if err := putTarget(out[52:84], s.EpochStartTarget); err != nil {
		return nil, fmt.Errorf("state: start target: %w", err)
	}
	if err := putTarget(out[84:116], s.EpochEndTarget); err != nil {
		return nil, fmt.Errorf("state: end target: %w", err)
	}
	return out, nil
}

func decodeState(b []byte) (*relay.State, error) {
	if len(b) != stateRecordSize {
		return nil, fmt.Errorf("state: bad length %d", len(b))
	}
	s := &relay.State{
		BestHeight:       binary.LittleEndian.Uint32(b[32:36]),
		EpochStartTime:   binary.LittleEndian.Uint32(b[36:40]),
		EpochEndTime:     binary.LittleEndian.Uint32(b[40:44]),
		ChainCounter:     binary.LittleEndian.Uint32(b[44:48]),
		EpochStartTarget: new(big.Int).SetBytes(b[52:84]),
		EpochEndTarget:   new(big.Int).SetBytes(b[84:116]),
	}
	copy(s.BestBlock[:], b[0:32])
	return s, nil
}

// putTarget writes a 256-bit target into dst big-endian. A nil target is
// stored as zero.
func putTarget(dst []byte, t *big.Int) error {
	if t == nil {
		return nil
	}
	if t.Sign() < 0 || t.BitLen() > 256 {
		return fmt.Errorf("target out of range")
	}
	t.FillBytes(dst)
	return nil
}
