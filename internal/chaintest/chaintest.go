// Package chaintest mines throwaway Bitcoin headers for tests.
package chaintest

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"time"

	"github.com/180945/btcrelay/consensus"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// RegtestBits is the regtest proof-of-work limit; roughly every other
	// nonce satisfies it.
	RegtestBits uint32 = 0x207fffff

	// EasyBits decodes to 0xffff << 240, a target nearly every hash meets.
	// It is only valid under params whose PowLimit allows it.
	EasyBits uint32 = 0x2100ffff

	// BlockSpacing is the timestamp step between consecutive mined headers.
	BlockSpacing uint32 = 600
)

// Block is a mined header.
type Block struct {
	Header wire.BlockHeader
	Raw    []byte
	Hash   chainhash.Hash
}

// Timestamp returns the header time as unix seconds.
func (b Block) Timestamp() uint32 {
	return uint32(b.Header.Timestamp.Unix()) // #nosec G115 -- test timestamps fit in 32 bits.
}

// Mine grinds the nonce of a header over prev until its hash meets bits.
// tag is folded into the merkle root so sibling headers differ.
func Mine(prev chainhash.Hash, timestamp, bits uint32, tag uint64) Block {
	var root chainhash.Hash
	binary.LittleEndian.PutUint64(root[:8], tag)
	return MineWithRoot(prev, root, timestamp, bits)
}

// MineWithRoot is Mine with an explicit merkle root.
func MineWithRoot(prev, root chainhash.Hash, timestamp, bits uint32) Block {
	target := consensus.CompactToTarget(bits)
	hdr := wire.BlockHeader{
		Version:    4,
		PrevBlock:  prev,
		MerkleRoot: root,
		Timestamp:  time.Unix(int64(timestamp), 0),
		Bits:       bits,
	}
	for nonce := uint32(0); ; nonce++ {
		hdr.Nonce = nonce
		hash := hdr.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			var buf bytes.Buffer
			if err := hdr.Serialize(&buf); err != nil {
				panic(err)
			}
			return Block{Header: hdr, Raw: buf.Bytes(), Hash: hash}
		}
		if nonce == ^uint32(0) {
			panic("chaintest: nonce space exhausted")
		}
	}
}

// Chain mines n headers on top of parent, spaced BlockSpacing apart.
func Chain(parent Block, n int, bits uint32, tag uint64) []Block {
	out := make([]Block, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		b := Mine(prev.Hash, prev.Timestamp()+BlockSpacing, bits, tag<<32|uint64(i))
		out = append(out, b)
		prev = b
	}
	return out
}

// Raws returns the serialized headers of blocks.
func Raws(blocks []Block) [][]byte {
	out := make([][]byte, len(blocks))
	for i, b := range blocks {
		out[i] = b.Raw
	}
	return out
}

// Genesis mines a starting header with the given bits and time.
func Genesis(timestamp, bits uint32) Block {
	return Mine(chainhash.Hash{}, timestamp, bits, 0xfeed)
}

// EasyParams returns mainnet rules with the proof-of-work limit raised to
// 2^256-1, so retarget boundaries can be exercised with trivially mined
// headers.
func EasyParams() *chaincfg.Params {
	p := chaincfg.MainNetParams
	p.PowLimit = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	p.PowLimitBits = EasyBits
	return &p
}
