package consensus

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// hashMerkleBranches returns dSHA256(left || right).
func hashMerkleBranches(left, right *chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// nextMerkleLevel hashes adjacent pairs of level. An odd trailing node is
// paired with itself.
func nextMerkleLevel(level []chainhash.Hash) []chainhash.Hash {
	next := make([]chainhash.Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := &level[i]
		if i+1 < len(level) {
			right = &level[i+1]
		}
		next = append(next, hashMerkleBranches(&level[i], right))
	}
	return next
}

// MerkleRoot builds the Bitcoin transaction merkle root over txids. An odd
// node at any level is paired with itself.
func MerkleRoot(txids []chainhash.Hash) (chainhash.Hash, error) {
	if len(txids) == 0 {
		return chainhash.Hash{}, ruleErr(ErrInvalidTxID, "merkle: empty tx list")
	}
	level := append([]chainhash.Hash(nil), txids...)
	for len(level) > 1 {
		level = nextMerkleLevel(level)
	}
	return level[0], nil
}

// MerkleProof returns the concatenated sibling hashes proving inclusion of
// txids[index], ordered from the leaf level upwards.
func MerkleProof(txids []chainhash.Hash, index int) ([]byte, error) {
	if index < 0 || index >= len(txids) {
		return nil, ruleErr(ErrInvalidTxID, fmt.Sprintf("merkle: index %d out of range", index))
	}
	var proof []byte
	level := append([]chainhash.Hash(nil), txids...)
	pos := index
	for len(level) > 1 {
		sibling := pos ^ 1
		if sibling >= len(level) {
			sibling = pos
		}
		proof = append(proof, level[sibling][:]...)

		level = nextMerkleLevel(level)
		pos >>= 1
	}
	return proof, nil
}

// ComputeMerkleRoot folds an inclusion proof for txid at position index into
// the root it commits to. proof is a sequence of 32-byte sibling hashes from
// the leaf level upwards; bit i of index selects whether the running hash is
// the right (1) or left (0) child at depth i.
func ComputeMerkleRoot(txid chainhash.Hash, index uint64, proof []byte) (chainhash.Hash, error) {
	if len(proof)%chainhash.HashSize != 0 {
		return chainhash.Hash{}, ruleErr(ErrIncorrectMerkleProof, fmt.Sprintf("proof length %d not a multiple of 32", len(proof)))
	}
	depth := len(proof) / chainhash.HashSize
	if depth < 64 && index>>uint(depth) != 0 {
		return chainhash.Hash{}, ruleErr(ErrIncorrectMerkleProof, fmt.Sprintf("index %d too large for proof depth %d", index, depth))
	}

	current := txid
	for i := 0; i < depth; i++ {
		var sibling chainhash.Hash
		copy(sibling[:], proof[i*chainhash.HashSize:(i+1)*chainhash.HashSize])
		if (index>>uint(i))&1 == 1 {
			current = hashMerkleBranches(&sibling, &current)
		} else {
			current = hashMerkleBranches(&current, &sibling)
		}
	}
	return current, nil
}

// VerifyMerkleProof checks that proof links txid at index to root.
func VerifyMerkleProof(txid chainhash.Hash, index uint64, proof []byte, root chainhash.Hash) error {
	got, err := ComputeMerkleRoot(txid, index, proof)
	if err != nil {
		return err
	}
	if got != root {
		return ruleErr(ErrIncorrectMerkleProof, fmt.Sprintf("computed root %s, header commits to %s", got, root))
	}
	return nil
}
