package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store. It is the sole balance
// mutator: every read-then-write runs inside a store transaction holding the
// account row, so operations on one account serialize while different
// accounts proceed independently.
type Service struct {
	store        Store
	nowFn        func() int64
	idFn         func() string
	codeDigitsFn func() (string, error)
	logger       OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:        store,
		nowFn:        now,
		idFn:         uuid.NewString,
		codeDigitsFn: randomCodeDigits,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateAccount provisions the account for a user at signup. Calling it again
// for an existing user returns the stored account unchanged.
func (service *Service) CreateAccount(ctx context.Context, userID UserID) (Account, error) {
	account, operationError := service.store.CreateAccount(ctx, userID)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateAccount,
		UserID:    userID,
		Error:     operationError,
	})
	return account, operationError
}

// Balance returns the materialized balance projection for a user.
func (service *Service) Balance(ctx context.Context, userID UserID) (BalanceSummary, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return BalanceSummary{}, err
	}
	return BalanceSummary{
		Balance:           account.Balance,
		LifetimePurchased: account.LifetimePurchased,
		LifetimeUsed:      account.LifetimeUsed,
	}, nil
}

// Apply validates and applies one credit or debit transaction atomically.
func (service *Service) Apply(ctx context.Context, userID UserID, kind TransactionKind, amount CreditAmount, purpose TransactionPurpose, details TransactionDetails) (ApplyResult, error) {
	var result ApplyResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		applied, err := service.applyToAccount(ctx, transactionStore, account, kind, amount, purpose, details)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationName(kind, purpose),
		UserID:        userID,
		Kind:          kind,
		Purpose:       purpose,
		Amount:        amount.Int64(),
		TransactionID: result.Transaction.TransactionID,
		Error:         operationError,
	})
	return result, operationError
}

// Purchase credits a confirmed purchase. The payment is an already-verified
// fact; paymentID, when present, acts as a natural idempotency key and a
// redelivered confirmation fails with ErrDuplicatePayment.
func (service *Service) Purchase(ctx context.Context, userID UserID, amount CreditAmount, paymentMethod string, paymentID string) (ApplyResult, error) {
	return service.Apply(ctx, userID, KindCredit, amount, PurposePurchase, TransactionDetails{
		PaymentMethod: paymentMethod,
		PaymentID:     paymentID,
	})
}

// Use debits credits for the given purpose. Purposes that require a project
// must supply one.
func (service *Service) Use(ctx context.Context, userID UserID, amount CreditAmount, purpose TransactionPurpose, details TransactionDetails) (ApplyResult, error) {
	return service.Apply(ctx, userID, KindDebit, amount, purpose, details)
}

// Refund credits back a previously debited amount. The caller decides when a
// refund is due (for example after a provider failure behind the cost gate).
func (service *Service) Refund(ctx context.Context, userID UserID, amount CreditAmount, projectID string, notes string) (ApplyResult, error) {
	return service.Apply(ctx, userID, KindCredit, amount, PurposeRefund, TransactionDetails{
		ProjectID: projectID,
		Notes:     notes,
	})
}

// AdminAdjust applies a manual correction in either direction.
func (service *Service) AdminAdjust(ctx context.Context, userID UserID, kind TransactionKind, amount CreditAmount, notes string) (ApplyResult, error) {
	return service.Apply(ctx, userID, kind, amount, PurposeAdminAdjustment, TransactionDetails{
		Notes: notes,
	})
}

// History returns one page of transactions, newest first.
func (service *Service) History(ctx context.Context, userID UserID, filter HistoryFilter, limit, offset int) (HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	if filter == "" {
		filter = FilterAll
	}
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return HistoryPage{}, err
	}
	total, err := service.store.CountTransactions(ctx, account.AccountID, filter)
	if err != nil {
		return HistoryPage{}, err
	}
	transactions, err := service.store.ListTransactions(ctx, account.AccountID, filter, limit, offset)
	if err != nil {
		return HistoryPage{}, err
	}
	return HistoryPage{
		Transactions: transactions,
		Pagination: Pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: int64(offset+len(transactions)) < total,
		},
	}, nil
}

// applyToAccount appends one transaction against an account row the caller
// already holds locked, updating the balance projection in the same store
// transaction so log and balance never disagree.
func (service *Service) applyToAccount(ctx context.Context, transactionStore Store, account Account, kind TransactionKind, amount CreditAmount, purpose TransactionPurpose, details TransactionDetails) (ApplyResult, error) {
	if amount <= 0 {
		return ApplyResult{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if purpose.RequiresProject() && details.ProjectID == "" {
		return ApplyResult{}, fmt.Errorf("%w: purpose %s", ErrMissingProjectID, purpose)
	}
	newBalance := account.Balance
	lifetimePurchased := account.LifetimePurchased
	lifetimeUsed := account.LifetimeUsed
	switch kind {
	case KindCredit:
		newBalance += amount.Int64()
		if purpose == PurposePurchase {
			lifetimePurchased += amount.Int64()
		}
	case KindDebit:
		if amount.Int64() > account.Balance {
			return ApplyResult{}, InsufficientCreditsError{
				Required:  amount.Int64(),
				Available: account.Balance,
			}
		}
		newBalance -= amount.Int64()
		lifetimeUsed += amount.Int64()
	default:
		return ApplyResult{}, fmt.Errorf("%w: %q", ErrInvalidTransactionKind, kind)
	}
	transaction := Transaction{
		TransactionID:  service.idFn(),
		AccountID:      account.AccountID,
		Kind:           kind,
		Amount:         amount,
		Purpose:        purpose,
		ProjectID:      details.ProjectID,
		ProjectName:    details.ProjectName,
		PaymentMethod:  details.PaymentMethod,
		PaymentID:      details.PaymentID,
		Notes:          details.Notes,
		MetadataJSON:   details.Metadata.String(),
		CreatedUnixUTC: service.nowFn(),
	}
	if err := transactionStore.InsertTransaction(ctx, transaction); err != nil {
		return ApplyResult{}, err
	}
	if err := transactionStore.UpdateAccountTotals(ctx, account.AccountID, newBalance, lifetimePurchased, lifetimeUsed); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{NewBalance: newBalance, Transaction: transaction}, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func operationName(kind TransactionKind, purpose TransactionPurpose) string {
	switch purpose {
	case PurposePurchase:
		return operationPurchase
	case PurposeRefund:
		return operationRefund
	case PurposeAdminAdjustment:
		return operationAdminAdjust
	}
	if kind == KindDebit {
		return operationUse
	}
	return string(purpose)
}

func randomCodeDigits() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < referralCodeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	value, err := rand.Int(rand.Reader, limit)
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		return "", fmt.Errorf("referral code digits: %w", err)
	}
	return fmt.Sprintf("%0*d", referralCodeDigits, value), nil
}
