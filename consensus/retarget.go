package consensus

import (
	"fmt"
	"math/big"
)

const (
	// DifficultyPeriod is the number of blocks between difficulty
	// adjustments.
	DifficultyPeriod = 2016

	// TargetTimespan is the expected duration of one difficulty period in
	// seconds (two weeks).
	TargetTimespan = 14 * 24 * 60 * 60

	minTimespan = TargetTimespan / 4
	maxTimespan = TargetTimespan * 4

	// retargetScale keeps intermediate products within 256 bits: the target
	// is scaled down before multiplying by the timespan and back up after.
	retargetScale = 1 << 16
)

var (
	bigTargetTimespan = big.NewInt(TargetTimespan)
	bigRetargetScale  = big.NewInt(retargetScale)
)

// IsPeriodStart reports whether height opens a difficulty period.
func IsPeriodStart(height uint32) bool {
	return height%DifficultyPeriod == 0
}

// IsPeriodEnd reports whether height closes a difficulty period.
func IsPeriodEnd(height uint32) bool {
	return height%DifficultyPeriod == DifficultyPeriod-1
}

// ClampTimespan bounds an observed period duration to [T/4, 4T].
func ClampTimespan(elapsed uint64) uint64 {
	if elapsed < minTimespan {
		return minTimespan
	}
	if elapsed > maxTimespan {
		return maxTimespan
	}
	return elapsed
}

// Retarget computes the expected target for the period following one that
// started at startTime with prevTarget and ended at endTime.
func Retarget(prevTarget *big.Int, startTime, endTime uint32) (*big.Int, error) {
	if prevTarget == nil || !fitsUint256(prevTarget) {
		return nil, ruleErr(ErrArithmetic, "retarget: previous target out of range")
	}
	if endTime < startTime {
		return nil, ruleErr(ErrArithmetic, fmt.Sprintf("retarget: end time %d before start time %d", endTime, startTime))
	}
	elapsed := ClampTimespan(uint64(endTime - startTime))

	scaled, err := checkedDiv(prevTarget, bigRetargetScale)
	if err != nil {
		return nil, err
	}
	product, err := checkedMul(scaled, new(big.Int).SetUint64(elapsed))
	if err != nil {
		return nil, err
	}
	quotient, err := checkedDiv(product, bigTargetTimespan)
	if err != nil {
		return nil, err
	}
	return checkedMul(quotient, bigRetargetScale)
}

// IsCorrectDifficultyTarget validates the target of the first header in a new
// difficulty period against the two samples bracketing the previous period.
//
// The previous period must have a usable end sample whose target equals the
// start sample; differing samples fail with ErrInvalidDifficultyPeriod. newTarget is accepted when it is a truncation of the
// expected target, i.e. every bit set in newTarget is also set in the expected
// value. A non-nil powLimit caps the expected target.
func IsCorrectDifficultyTarget(
	startTarget *big.Int,
	startTime uint32,
	endTarget *big.Int,
	endTime uint32,
	newTarget *big.Int,
	powLimit *big.Int,
) error {
	if startTarget == nil || endTarget == nil || endTarget.Sign() == 0 {
		return ruleErr(ErrInvalidDifficultyPeriod, "previous period has no end sample")
	}
	if startTarget.Cmp(endTarget) != 0 {
		return ruleErr(ErrInvalidDifficultyPeriod, "previous period samples disagree")
	}

	expected, err := Retarget(startTarget, startTime, endTime)
	if err != nil {
		return err
	}
	if powLimit != nil && expected.Cmp(powLimit) > 0 {
		expected = new(big.Int).Set(powLimit)
	}
	if newTarget == nil || newTarget.Sign() == 0 {
		return ruleErr(ErrIncorrectDifficultyTarget, "zero target")
	}
	masked := new(big.Int).And(newTarget, expected)
	if masked.Cmp(newTarget) != 0 {
		return ruleErr(ErrIncorrectDifficultyTarget, fmt.Sprintf("target %064x not derived from expected %064x", newTarget, expected))
	}
	return nil
}

func checkedMul(a, b *big.Int) (*big.Int, error) {
	out := new(big.Int).Mul(a, b)
	if !fitsUint256(out) {
		return nil, ruleErr(ErrArithmetic, "retarget: multiplication overflow")
	}
	return out, nil
}

func checkedDiv(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ruleErr(ErrDivisionByZero, "retarget")
	}
	return new(big.Int).Quo(a, b), nil
}
