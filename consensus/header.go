package consensus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderSize is the length of a serialized Bitcoin block header.
const HeaderSize = 80

// Field offsets inside the 80-byte header. All integers are little-endian.
const (
	offsetVersion    = 0
	offsetPrevBlock  = 4
	offsetMerkleRoot = 36
	offsetTimestamp  = 68
	offsetBits       = 72
	offsetNonce      = 76
)

// RawHeader is a size-checked serialized block header. Field accessors read
// straight from the bytes; the hash is always recomputed, never trusted.
type RawHeader [HeaderSize]byte

// NewRawHeader copies b into a RawHeader, rejecting anything that is not
// exactly HeaderSize bytes.
func NewRawHeader(b []byte) (RawHeader, error) {
	var out RawHeader
	if len(b) != HeaderSize {
		return out, ruleErr(ErrInvalidHeaderSize, fmt.Sprintf("got %d bytes", len(b)))
	}
	copy(out[:], b)
	return out, nil
}

// Hash returns the double-SHA-256 identity of the header.
func (h RawHeader) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(h[:])
}

func (h RawHeader) Version() int32 {
	return int32(binary.LittleEndian.Uint32(h[offsetVersion:])) // #nosec G115 -- version is a signed field on the wire.
}

// PrevHash returns the parent hash embedded at offset 4.
func (h RawHeader) PrevHash() chainhash.Hash {
	var out chainhash.Hash
	copy(out[:], h[offsetPrevBlock:offsetMerkleRoot])
	return out
}

func (h RawHeader) MerkleRoot() chainhash.Hash {
	var out chainhash.Hash
	copy(out[:], h[offsetMerkleRoot:offsetTimestamp])
	return out
}

// Timestamp returns the block time at offset 68.
func (h RawHeader) Timestamp() uint32 {
	return binary.LittleEndian.Uint32(h[offsetTimestamp:])
}

// Bits returns the compact difficulty field at offset 72.
func (h RawHeader) Bits() uint32 {
	return binary.LittleEndian.Uint32(h[offsetBits:])
}

func (h RawHeader) Nonce() uint32 {
	return binary.LittleEndian.Uint32(h[offsetNonce:])
}

// Target decodes the header's compact bits.
func (h RawHeader) Target() *big.Int {
	return CompactToTarget(h.Bits())
}

// ParseHeader decodes an 80-byte header into its wire representation.
func ParseHeader(b []byte) (*wire.BlockHeader, error) {
	if len(b) != HeaderSize {
		return nil, ruleErr(ErrInvalidHeaderSize, fmt.Sprintf("got %d bytes", len(b)))
	}
	var hdr wire.BlockHeader
	if err := hdr.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return &hdr, nil
}

// SerializeHeader is the inverse of ParseHeader.
func SerializeHeader(hdr *wire.BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := hdr.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	return buf.Bytes(), nil
}

// HashHeader computes the double-SHA-256 of a raw header.
func HashHeader(b []byte) (chainhash.Hash, error) {
	raw, err := NewRawHeader(b)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return raw.Hash(), nil
}

// ExtractTimestamp returns the timestamp field of a raw header.
func ExtractTimestamp(b []byte) (uint32, error) {
	raw, err := NewRawHeader(b)
	if err != nil {
		return 0, err
	}
	return raw.Timestamp(), nil
}

// ExtractPrevHash returns the parent hash field of a raw header.
func ExtractPrevHash(b []byte) (chainhash.Hash, error) {
	raw, err := NewRawHeader(b)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return raw.PrevHash(), nil
}

// HashToNumber interprets a block hash as a little-endian 256-bit integer, the
// form compared against the target for proof-of-work.
func HashToNumber(h chainhash.Hash) *big.Int {
	return blockchain.HashToBig(&h)
}

// CheckProofOfWork fails with ErrLowDifficulty unless the header hash, read
// as a number, does not exceed target.
func CheckProofOfWork(hash chainhash.Hash, target *big.Int) error {
	if target == nil || target.Sign() <= 0 {
		return ruleErr(ErrLowDifficulty, "target is zero")
	}
	if HashToNumber(hash).Cmp(target) > 0 {
		return ruleErr(ErrLowDifficulty, fmt.Sprintf("hash %s above target", hash))
	}
	return nil
}
