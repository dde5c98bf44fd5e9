package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrUnknownAnalysisType    = errors.New("unknown analysis type")
	ErrInvalidReferralCode    = errors.New("invalid referral code")
	ErrSelfReferralNotAllowed = errors.New("self referral not allowed")
	ErrReferralAlreadyUsed    = errors.New("referral already used")
	ErrReferralCodeExists     = errors.New("referral code already exists")
	ErrDuplicatePayment       = errors.New("duplicate payment id")
	ErrStorageFailure         = errors.New("storage failure")
	ErrInvalidUserID          = errors.New("invalid user id")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTransactionKind = errors.New("invalid transaction kind")
	ErrInvalidPurpose         = errors.New("invalid transaction purpose")
	ErrInvalidHistoryFilter   = errors.New("invalid history filter")
	ErrInvalidMetadataJSON    = errors.New("invalid metadata json")
	ErrMissingProjectID       = errors.New("missing project id")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// InsufficientCreditsError reports how far a debit overshot the balance.
// errors.Is(err, ErrInsufficientCredits) matches it.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

// Error returns the formatted error message.
func (insufficient InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", insufficient.Required, insufficient.Available)
}

// Is matches the ErrInsufficientCredits sentinel.
func (insufficient InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsDomainError reports whether err maps to a caller-recoverable kind.
func IsDomainError(err error) bool {
	for _, sentinel := range []error{
		ErrAccountNotFound,
		ErrInsufficientCredits,
		ErrUnknownAnalysisType,
		ErrInvalidReferralCode,
		ErrSelfReferralNotAllowed,
		ErrReferralAlreadyUsed,
		ErrReferralCodeExists,
		ErrDuplicatePayment,
		ErrInvalidUserID,
		ErrInvalidAmount,
		ErrInvalidTransactionKind,
		ErrInvalidPurpose,
		ErrInvalidHistoryFilter,
		ErrInvalidMetadataJSON,
		ErrMissingProjectID,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
