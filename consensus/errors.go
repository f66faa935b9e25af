package consensus

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the rule a header, batch or proof violated. Codes are
// comparable with errors.Is against any error returned by this module.
type ErrorCode string

const (
	// Format.
	ErrInvalidHeaderSize  ErrorCode = "INVALID_HEADER_SIZE"
	ErrInvalidBlockHash   ErrorCode = "INVALID_BLOCK_HASH"
	ErrInvalidTxID        ErrorCode = "INVALID_TX_ID"
	ErrInvalidHeaderBatch ErrorCode = "INVALID_HEADER_BATCH"

	// Genesis/setup.
	ErrInvalidGenesisHeight ErrorCode = "INVALID_GENESIS_HEIGHT"
	ErrAlreadyInitialized   ErrorCode = "ALREADY_INITIALIZED"

	// Linkage/state.
	ErrDuplicateBlock        ErrorCode = "DUPLICATE_BLOCK"
	ErrPreviousBlockNotFound ErrorCode = "PREVIOUS_BLOCK_NOT_FOUND"
	ErrInvalidChainID        ErrorCode = "INVALID_CHAIN_ID"
	ErrInvalidCounter        ErrorCode = "INVALID_COUNTER"
	ErrForkNotFound          ErrorCode = "FORK_NOT_FOUND"

	// ErrNotChainExtension is reserved; a header that does not extend a
	// tip opens a new fork instead.
	ErrNotChainExtension ErrorCode = "NOT_CHAIN_EXTENSION"

	// Consensus.
	ErrLowDifficulty             ErrorCode = "LOW_DIFFICULTY"
	ErrIncorrectDifficultyTarget ErrorCode = "INCORRECT_DIFFICULTY_TARGET"
	ErrInvalidDifficultyPeriod   ErrorCode = "INVALID_DIFFICULTY_PERIOD"

	// Proof/confirmation.
	ErrIncorrectMerkleProof      ErrorCode = "INCORRECT_MERKLE_PROOF"
	ErrInsufficientConfirmations ErrorCode = "INSUFFICIENT_CONFIRMATIONS"
	ErrBlockNotFound             ErrorCode = "BLOCK_NOT_FOUND"

	// Arithmetic.
	ErrDivisionByZero ErrorCode = "DIVISION_BY_ZERO"
	ErrArithmetic     ErrorCode = "ARITHMETIC_ERROR"
)

// Error implements the error interface so a bare code can be used as an
// errors.Is target.
func (c ErrorCode) Error() string {
	return string(c)
}

// RuleError is returned whenever a submitted header, batch or proof breaks a
// relay rule. Msg carries optional detail for operators.
type RuleError struct {
	Code ErrorCode
	Msg  string
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is reports whether target is the same rule code.
func (e *RuleError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch t := target.(type) {
	case ErrorCode:
		return e.Code == t
	case *RuleError:
		return t != nil && e.Code == t.Code
	}
	return false
}

func ruleErr(code ErrorCode, msg string) error {
	return &RuleError{Code: code, Msg: msg}
}

// RuleErrorf builds a RuleError for callers outside this package.
func RuleErrorf(code ErrorCode, format string, args ...any) error {
	return &RuleError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the rule code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code, true
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code, true
	}
	return "", false
}

// IsCode reports whether err carries the given rule code.
func IsCode(err error, code ErrorCode) bool {
	return errors.Is(err, code)
}
