package orchestrator

import (
	"context"
	"errors"

	"shieldpool/internal/coinledger"
	"shieldpool/internal/merkle"
)

var (
	ErrInsufficientBalance    = coinledger.ErrInsufficientBalance
	ErrOutOfRange             = merkle.ErrOutOfRange
	ErrTreeFull               = merkle.ErrTreeFull
	ErrStateCorruption        = coinledger.ErrStateCorruption
	ErrNullifierReused        = coinledger.ErrNullifierReused
	ErrMultiInputUnsupported  = errors.New("orchestrator: withdrawal needs more than one input commitment")
	ErrProofGenerationFailed  = errors.New("orchestrator: proof generation failed")
	ErrLedgerSubmissionFailed = errors.New("orchestrator: ledger submission failed")
	ErrInvalidAmount          = errors.New("orchestrator: amount must be positive")
	ErrInvalidRecipient       = errors.New("orchestrator: recipient must be non-zero")
)

// Category groups errors by what the caller may do next.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryValidation errors are raised before any side effect.
	CategoryValidation
	// CategoryExternalService errors come from the prover or ledger and
	// are safe to retry.
	CategoryExternalService
	// CategoryConsistency errors mean local state disagrees with itself or
	// the chain; abort.
	CategoryConsistency
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryExternalService:
		return "external_service"
	case CategoryConsistency:
		return "consistency"
	}
	return "unknown"
}

var categories = []struct {
	err      error
	category Category
}{
	{ErrStateCorruption, CategoryConsistency},
	{ErrNullifierReused, CategoryConsistency},
	{coinledger.ErrLeafMismatch, CategoryConsistency},
	{coinledger.ErrDuplicateCommitment, CategoryConsistency},
	{coinledger.ErrAlreadySpent, CategoryConsistency},
	{coinledger.ErrCommitmentMismatch, CategoryConsistency},
	{coinledger.ErrUnknownCommitment, CategoryConsistency},
	{ErrProofGenerationFailed, CategoryExternalService},
	{ErrLedgerSubmissionFailed, CategoryExternalService},
	{context.Canceled, CategoryExternalService},
	{context.DeadlineExceeded, CategoryExternalService},
	{ErrInsufficientBalance, CategoryValidation},
	{ErrOutOfRange, CategoryValidation},
	{ErrTreeFull, CategoryValidation},
	{ErrMultiInputUnsupported, CategoryValidation},
	{ErrInvalidAmount, CategoryValidation},
	{ErrInvalidRecipient, CategoryValidation},
	{coinledger.ErrInvalidAmount, CategoryValidation},
}

// CategoryOf classifies err. Consistency wins over the other categories when
// an error chain carries several sentinels.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.category
		}
	}
	return CategoryUnknown
}
