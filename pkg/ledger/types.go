package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// CreditAmount is a strictly positive whole number of TEX credits.
type CreditAmount int64

// NewCreditAmount validates an amount and ensures it is strictly positive.
func NewCreditAmount(raw int64) (CreditAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return CreditAmount(raw), nil
}

// Int64 returns the raw credit amount.
func (amount CreditAmount) Int64() int64 {
	return int64(amount)
}

// TransactionKind distinguishes credits from debits.
type TransactionKind string

const (
	KindCredit TransactionKind = "credit"
	KindDebit  TransactionKind = "debit"
)

// ParseTransactionKind validates a transaction kind literal.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case KindCredit, KindDebit:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// String returns the kind literal.
func (kind TransactionKind) String() string {
	return string(kind)
}

// TransactionPurpose records why a transaction was issued.
type TransactionPurpose string

const (
	PurposePurchase        TransactionPurpose = "purchase"
	PurposeReferralBonus   TransactionPurpose = "referral_bonus"
	PurposeSignupBonus     TransactionPurpose = "signup_bonus"
	PurposeAnalyzeProject  TransactionPurpose = "analyze_project"
	PurposeRefund          TransactionPurpose = "refund"
	PurposeAdminAdjustment TransactionPurpose = "admin_adjustment"
)

// ParseTransactionPurpose validates a purpose literal.
func ParseTransactionPurpose(raw string) (TransactionPurpose, error) {
	switch TransactionPurpose(raw) {
	case PurposePurchase, PurposeReferralBonus, PurposeSignupBonus,
		PurposeAnalyzeProject, PurposeRefund, PurposeAdminAdjustment:
		return TransactionPurpose(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPurpose, raw)
}

// String returns the purpose literal.
func (purpose TransactionPurpose) String() string {
	return string(purpose)
}

// RequiresProject reports whether the purpose must carry a project id.
func (purpose TransactionPurpose) RequiresProject() bool {
	return purpose == PurposeAnalyzeProject
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// ReferralCode is a shareable code of the form SCRX followed by four digits.
type ReferralCode struct {
	value string
}

// NewReferralCode validates the SCRX#### format.
func NewReferralCode(raw string) (ReferralCode, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if len(trimmed) != referralCodeLength || !strings.HasPrefix(trimmed, referralCodePrefix) {
		return ReferralCode{}, fmt.Errorf("%w: %q", ErrInvalidReferralCode, raw)
	}
	for _, digit := range trimmed[len(referralCodePrefix):] {
		if digit < '0' || digit > '9' {
			return ReferralCode{}, fmt.Errorf("%w: %q", ErrInvalidReferralCode, raw)
		}
	}
	return ReferralCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code ReferralCode) String() string {
	return code.value
}

// TransactionDetails carries the optional context attached to a transaction.
type TransactionDetails struct {
	ProjectID     string
	ProjectName   string
	PaymentMethod string
	PaymentID     string
	Notes         string
	Metadata      MetadataJSON
}

// A single immutable line in the credit ledger.
type Transaction struct {
	TransactionID  string
	AccountID      string
	Kind           TransactionKind
	Amount         CreditAmount
	Purpose        TransactionPurpose
	ProjectID      string
	ProjectName    string
	PaymentMethod  string
	PaymentID      string
	Notes          string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// SignedAmount returns the amount with a debit rendered negative.
func (transaction Transaction) SignedAmount() int64 {
	if transaction.Kind == KindDebit {
		return -transaction.Amount.Int64()
	}
	return transaction.Amount.Int64()
}

// Account is the stored per-user balance projection.
type Account struct {
	AccountID         string
	UserID            string
	Balance           int64
	LifetimePurchased int64
	LifetimeUsed      int64
	RedeemedCode      *string
	CreatedUnixUTC    int64
}

// BalanceSummary is the external balance view.
type BalanceSummary struct {
	Balance           int64
	LifetimePurchased int64
	LifetimeUsed      int64
}

// ApplyResult reports the outcome of a ledger mutation.
type ApplyResult struct {
	NewBalance  int64
	Transaction Transaction
}

// HistoryFilter narrows transaction history by kind.
type HistoryFilter string

const (
	FilterAll    HistoryFilter = "all"
	FilterCredit HistoryFilter = "credit"
	FilterDebit  HistoryFilter = "debit"
)

// ParseHistoryFilter validates a filter literal ("" defaults to all).
func ParseHistoryFilter(raw string) (HistoryFilter, error) {
	if strings.TrimSpace(raw) == "" {
		return FilterAll, nil
	}
	switch HistoryFilter(raw) {
	case FilterAll, FilterCredit, FilterDebit:
		return HistoryFilter(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidHistoryFilter, raw)
}

// Pagination describes the window a history page covers.
type Pagination struct {
	Total   int64
	Limit   int
	Offset  int
	HasMore bool
}

// HistoryPage is one page of reverse-chronological transactions.
type HistoryPage struct {
	Transactions []Transaction
	Pagination   Pagination
}

// ReferralCodeRecord is a stored code with its owner.
type ReferralCodeRecord struct {
	Code           string
	OwnerAccountID string
	CreatedUnixUTC int64
}

// Redemption is one successful referral redemption.
type Redemption struct {
	RedemptionID      string
	RedeemerAccountID string
	RedeemerUserID    string
	ReferrerAccountID string
	Code              string
	ReferrerBonus     int64
	RedeemerBonus     int64
	CreatedUnixUTC    int64
}

// RedemptionResult reports the bonuses paid out by a redemption.
type RedemptionResult struct {
	ReferrerBonus int64
	RedeemerBonus int64
}

// ReferredUser is one redeemer listed in the referral info view.
type ReferredUser struct {
	UserID         string
	Bonus          int64
	CreatedUnixUTC int64
}

// ReferralInfo aggregates an account's referral standing.
type ReferralInfo struct {
	ReferralCode   string
	ReferralCount  int
	ReferralPoints int64
	ReferredUsers  []ReferredUser
}

// Store is the persistence contract used by Service. Implementations must
// make WithTx transactional: changes made through txStore commit or roll back
// as one unit.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, userID UserID) (Account, error)
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	GetAccountForUpdate(ctx context.Context, userID UserID) (Account, error)
	GetAccountByIDForUpdate(ctx context.Context, accountID string) (Account, error)
	UpdateAccountTotals(ctx context.Context, accountID string, balance, lifetimePurchased, lifetimeUsed int64) error
	MarkCodeRedeemed(ctx context.Context, accountID string, code string) error
	InsertTransaction(ctx context.Context, transaction Transaction) error
	SumSigned(ctx context.Context, accountID string) (int64, error)
	CountTransactions(ctx context.Context, accountID string, filter HistoryFilter) (int64, error)
	ListTransactions(ctx context.Context, accountID string, filter HistoryFilter, limit, offset int) ([]Transaction, error)
	CreateReferralCode(ctx context.Context, record ReferralCodeRecord) error
	GetReferralCodeByOwner(ctx context.Context, ownerAccountID string) (ReferralCodeRecord, error)
	GetReferralCodeByCode(ctx context.Context, code ReferralCode) (ReferralCodeRecord, error)
	InsertRedemption(ctx context.Context, redemption Redemption) error
	ListRedemptionsByReferrer(ctx context.Context, referrerAccountID string) ([]Redemption, error)
}
