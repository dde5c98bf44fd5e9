package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation     string
	UserID        UserID
	Kind          TransactionKind
	Purpose       TransactionPurpose
	Amount        int64
	TransactionID string
	ReferralCode  string
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithIDGenerator overrides transaction id minting (tests pin deterministic ids).
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.idFn = generate
		}
	}
}

// WithCodeDigits overrides the random digit source for referral codes.
func WithCodeDigits(digits func() (string, error)) ServiceOption {
	return func(service *Service) {
		if digits != nil {
			service.codeDigitsFn = digits
		}
	}
}
