package chain

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected block.
type Kind uint8

const (
	KindInvalidHeight Kind = iota + 1
	KindValueMismatch
	KindDanglingReference
	KindInvalidBlockID
)

func (k Kind) String() string {
	switch k {
	case KindInvalidHeight:
		return "invalid_height"
	case KindValueMismatch:
		return "value_mismatch"
	case KindDanglingReference:
		return "dangling_reference"
	case KindInvalidBlockID:
		return "invalid_block_id"
	default:
		return "unknown"
	}
}

// ValidationError is returned when a submitted block is rejected.
// A rejected block leaves the stores and the ledger untouched.
type ValidationError struct {
	Kind   Kind
	Height uint64
	// TxID is the offending transaction, if the failure is specific to one.
	TxID   string
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: block %d", e.Kind, e.Height)
	if e.TxID != "" {
		msg += fmt.Sprintf(": transaction %s", e.TxID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any ValidationError of the same kind, so errors.Is(err, ErrValueMismatch) works.
func (e *ValidationError) Is(target error) bool {
	var t *ValidationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidHeight     = &ValidationError{Kind: KindInvalidHeight}
	ErrValueMismatch     = &ValidationError{Kind: KindValueMismatch}
	ErrDanglingReference = &ValidationError{Kind: KindDanglingReference}
	ErrInvalidBlockID    = &ValidationError{Kind: KindInvalidBlockID}
)

func invalidHeight(height uint64, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: KindInvalidHeight, Height: height, Detail: fmt.Sprintf(format, args...)}
}

func valueMismatch(height uint64, txID, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: KindValueMismatch, Height: height, TxID: txID, Detail: fmt.Sprintf(format, args...)}
}

func danglingReference(height uint64, txID, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: KindDanglingReference, Height: height, TxID: txID, Detail: fmt.Sprintf(format, args...)}
}

// InternalError reports a consistency violation found while operating on
// state that was only ever written through the accept path.
type InternalError struct {
	Height uint64
	TxID   string
	Err    error
}

func (e *InternalError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("internal error at block %d, transaction %s: %v", e.Height, e.TxID, e.Err)
	}
	return fmt.Sprintf("internal error at block %d: %v", e.Height, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotReady is returned when the ledger has not been rebuilt yet.
	ErrNotReady = errors.New("ledger is not ready")

	// ErrInconsistent is returned when the stores were written but the
	// ledger could not follow. Writes are refused until restart.
	ErrInconsistent = errors.New("ledger is inconsistent with the store")
)
