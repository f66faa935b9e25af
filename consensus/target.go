package consensus

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

var (
	// maxUint256 is 2^256 - 1, the largest value any target or retarget
	// intermediate may take.
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// CompactToTarget expands the compact difficulty encoding into a 256-bit
// target: mantissa * 256^(exponent-3).
//
// An exponent below 3 is treated as 3 (the power term collapses to 1) and a
// result that does not fit in 256 bits saturates to zero, which no hash can
// satisfy. The mantissa sign bit is not interpreted.
func CompactToTarget(bits uint32) *big.Int {
	mantissa := int64(bits & 0x00ffffff)
	exponent := uint(bits >> 24)

	shift := uint(0)
	if exponent > 3 {
		shift = 8 * (exponent - 3)
	}
	target := new(big.Int).Lsh(big.NewInt(mantissa), shift)
	if target.Cmp(maxUint256) > 0 {
		return new(big.Int)
	}
	return target
}

// TargetToCompact encodes target back into compact form, truncating the
// mantissa to its three most significant bytes.
func TargetToCompact(target *big.Int) uint32 {
	if target == nil || target.Sign() <= 0 {
		return 0
	}
	return blockchain.BigToCompact(target)
}

// fitsUint256 reports whether v is a non-negative value below 2^256.
func fitsUint256(v *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(maxUint256) <= 0
}
