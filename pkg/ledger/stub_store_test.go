package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore is an in-memory Store with injectable failures. WithTx runs the
// closure against the same state; rollback fidelity is covered by the
// gormstore integration tests.
type stubStore struct {
	mu           sync.Mutex
	accounts     map[string]*Account
	transactions []Transaction
	codes        map[string]ReferralCodeRecord
	ownerCodes   map[string]string
	redemptions  map[string]Redemption
	paymentIDs   map[string]bool
	nextAccount  int

	codeConflicts int

	withTxError            error
	createAccountError     error
	getAccountError        error
	updateTotalsError      error
	markRedeemedError      error
	insertTransactionError error
	sumSignedError         error
	countError             error
	listError              error
	createCodeError        error
	getCodeError           error
	insertRedemptionError  error
	listRedemptionsError   error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts:    map[string]*Account{},
		codes:       map[string]ReferralCodeRecord{},
		ownerCodes:  map[string]string{},
		redemptions: map[string]Redemption{},
		paymentIDs:  map[string]bool{},
	}
}

func (store *stubStore) addAccount(test *testing.T, userID string, balance int64) Account {
	if test != nil {
		test.Helper()
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextAccount++
	account := &Account{
		AccountID: fmt.Sprintf("acct-%04d", store.nextAccount),
		UserID:    userID,
		Balance:   balance,
	}
	store.accounts[userID] = account
	return *account
}

func (store *stubStore) mustAccount(test *testing.T, userID string) Account {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[userID]
	if !ok {
		test.Fatalf("no account for %s", userID)
	}
	return *account
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.withTxError != nil {
		return store.withTxError
	}
	return fn(ctx, store)
}

func (store *stubStore) CreateAccount(_ context.Context, userID UserID) (Account, error) {
	if store.createAccountError != nil {
		return Account{}, store.createAccountError
	}
	store.mu.Lock()
	if account, ok := store.accounts[userID.String()]; ok {
		defer store.mu.Unlock()
		return *account, nil
	}
	store.mu.Unlock()
	return store.addAccount(nil, userID.String(), 0), nil
}

func (store *stubStore) GetAccount(_ context.Context, userID UserID) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[userID.String()]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, userID UserID) (Account, error) {
	return store.GetAccount(ctx, userID)
}

func (store *stubStore) GetAccountByIDForUpdate(_ context.Context, accountID string) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, account := range store.accounts {
		if account.AccountID == accountID {
			return *account, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (store *stubStore) UpdateAccountTotals(_ context.Context, accountID string, balance, lifetimePurchased, lifetimeUsed int64) error {
	if store.updateTotalsError != nil {
		return store.updateTotalsError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, account := range store.accounts {
		if account.AccountID == accountID {
			account.Balance = balance
			account.LifetimePurchased = lifetimePurchased
			account.LifetimeUsed = lifetimeUsed
			return nil
		}
	}
	return ErrAccountNotFound
}

func (store *stubStore) MarkCodeRedeemed(_ context.Context, accountID string, code string) error {
	if store.markRedeemedError != nil {
		return store.markRedeemedError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, account := range store.accounts {
		if account.AccountID == accountID {
			if account.RedeemedCode != nil {
				return ErrReferralAlreadyUsed
			}
			marked := code
			account.RedeemedCode = &marked
			return nil
		}
	}
	return ErrAccountNotFound
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) error {
	if store.insertTransactionError != nil {
		return store.insertTransactionError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if transaction.PaymentID != "" {
		if store.paymentIDs[transaction.PaymentID] {
			return ErrDuplicatePayment
		}
		store.paymentIDs[transaction.PaymentID] = true
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) SumSigned(_ context.Context, accountID string) (int64, error) {
	if store.sumSignedError != nil {
		return 0, store.sumSignedError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	var total int64
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID {
			total += transaction.SignedAmount()
		}
	}
	return total, nil
}

func (store *stubStore) CountTransactions(_ context.Context, accountID string, filter HistoryFilter) (int64, error) {
	if store.countError != nil {
		return 0, store.countError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	var total int64
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID && filterMatches(filter, transaction.Kind) {
			total++
		}
	}
	return total, nil
}

func (store *stubStore) ListTransactions(_ context.Context, accountID string, filter HistoryFilter, limit, offset int) ([]Transaction, error) {
	if store.listError != nil {
		return nil, store.listError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	var matched []Transaction
	for i := len(store.transactions) - 1; i >= 0; i-- {
		transaction := store.transactions[i]
		if transaction.AccountID == accountID && filterMatches(filter, transaction.Kind) {
			matched = append(matched, transaction)
		}
	}
	if offset >= len(matched) {
		return []Transaction{}, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *stubStore) CreateReferralCode(_ context.Context, record ReferralCodeRecord) error {
	if store.createCodeError != nil {
		return store.createCodeError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.codeConflicts > 0 {
		store.codeConflicts--
		return ErrReferralCodeExists
	}
	if _, exists := store.codes[record.Code]; exists {
		return ErrReferralCodeExists
	}
	if _, exists := store.ownerCodes[record.OwnerAccountID]; exists {
		return ErrReferralCodeExists
	}
	store.codes[record.Code] = record
	store.ownerCodes[record.OwnerAccountID] = record.Code
	return nil
}

func (store *stubStore) GetReferralCodeByOwner(_ context.Context, ownerAccountID string) (ReferralCodeRecord, error) {
	if store.getCodeError != nil {
		return ReferralCodeRecord{}, store.getCodeError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	code, ok := store.ownerCodes[ownerAccountID]
	if !ok {
		return ReferralCodeRecord{}, ErrInvalidReferralCode
	}
	return store.codes[code], nil
}

func (store *stubStore) GetReferralCodeByCode(_ context.Context, code ReferralCode) (ReferralCodeRecord, error) {
	if store.getCodeError != nil {
		return ReferralCodeRecord{}, store.getCodeError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.codes[code.String()]
	if !ok {
		return ReferralCodeRecord{}, ErrInvalidReferralCode
	}
	return record, nil
}

func (store *stubStore) InsertRedemption(_ context.Context, redemption Redemption) error {
	if store.insertRedemptionError != nil {
		return store.insertRedemptionError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.redemptions[redemption.RedeemerAccountID]; exists {
		return ErrReferralAlreadyUsed
	}
	store.redemptions[redemption.RedeemerAccountID] = redemption
	return nil
}

func (store *stubStore) ListRedemptionsByReferrer(_ context.Context, referrerAccountID string) ([]Redemption, error) {
	if store.listRedemptionsError != nil {
		return nil, store.listRedemptionsError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	var matched []Redemption
	for _, redemption := range store.redemptions {
		if redemption.ReferrerAccountID == referrerAccountID {
			matched = append(matched, redemption)
		}
	}
	return matched, nil
}

func filterMatches(filter HistoryFilter, kind TransactionKind) bool {
	switch filter {
	case FilterCredit:
		return kind == KindCredit
	case FilterDebit:
		return kind == KindDebit
	}
	return true
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	sequence := 0
	defaults := []ServiceOption{
		WithIDGenerator(func() string {
			sequence++
			return fmt.Sprintf("tx-%04d", sequence)
		}),
	}
	service, err := NewService(store, func() int64 { return 1700000000 }, append(defaults, options...)...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustAmount(test *testing.T, raw int64) CreditAmount {
	test.Helper()
	amount, err := NewCreditAmount(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustCode(test *testing.T, raw string) ReferralCode {
	test.Helper()
	code, err := NewReferralCode(raw)
	if err != nil {
		test.Fatalf("code %q: %v", raw, err)
	}
	return code
}
