package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/scryptex-labs/texledger/pkg/ledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionPaymentID = "uniq_tx_payment_id"
	constraintRedemptionRedeemer   = "uniq_redemption_redeemer"
	defaultMetadataJSON            = "{}"
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19
	errorOperationStore            = "store"
	errorSubjectAccount            = "account"
	errorSubjectTransaction        = "transaction"
	errorSubjectReferralCode       = "referral_code"
	errorSubjectRedemption         = "redemption"
	errorCodeCreate                = "create"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeCount                 = "count"
	errorCodeLookup                = "lookup"
	errorCodeSumSigned             = "sum_signed"
	errorCodeUpdateTotals          = "update_totals"
	errorCodeMarkRedeemed          = "mark_redeemed"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema for drivers without external migrations (sqlite).
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &CreditTransaction{}, &ReferralCode{}, &ReferralRedemption{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// CreateAccount provisions the row for a user, returning the existing one on
// repeated signup deliveries.
func (store *Store) CreateAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	var account Account
	err := store.db.WithContext(ctx).
		FirstOrCreate(&account, Account{UserID: userID.String()}).Error
	if isUniqueViolation(err, "") {
		// Another writer provisioned the row between lookup and insert.
		return store.GetAccount(ctx, userID)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return mapAccount(account), nil
}

func (store *Store) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.getAccount(ctx, store.db.WithContext(ctx), "user_id = ?", userID.String())
}

func (store *Store) GetAccountForUpdate(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.getAccount(ctx, store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "user_id = ?", userID.String())
}

func (store *Store) GetAccountByIDForUpdate(ctx context.Context, accountID string) (ledger.Account, error) {
	return store.getAccount(ctx, store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "account_id = ?", accountID)
}

func (store *Store) getAccount(_ context.Context, query *gorm.DB, condition string, value string) (ledger.Account, error) {
	var account Account
	err := query.Where(condition, value).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(account), nil
}

// UpdateAccountTotals persists the balance projection. Callers hold the row
// lock and have inserted the matching transaction in the same database
// transaction, so log and balance commit together.
func (store *Store) UpdateAccountTotals(ctx context.Context, accountID string, balance, lifetimePurchased, lifetimeUsed int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"balance":            balance,
			"lifetime_purchased": lifetimePurchased,
			"lifetime_used":      lifetimeUsed,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateTotals, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateTotals, ledger.ErrAccountNotFound)
	}
	return nil
}

// MarkCodeRedeemed sets redeemed_code_id exactly once; a second attempt for
// the same account affects zero rows and fails.
func (store *Store) MarkCodeRedeemed(ctx context.Context, accountID string, code string) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND redeemed_code_id IS NULL", accountID).
		Update("redeemed_code_id", code)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeMarkRedeemed, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeMarkRedeemed, ledger.ErrReferralAlreadyUsed)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	row := CreditTransaction{
		TransactionID: transaction.TransactionID,
		AccountID:     transaction.AccountID,
		Kind:          transaction.Kind.String(),
		Amount:        transaction.Amount.Int64(),
		Purpose:       transaction.Purpose.String(),
		ProjectID:     optionalString(transaction.ProjectID),
		ProjectName:   optionalString(transaction.ProjectName),
		PaymentMethod: optionalString(transaction.PaymentMethod),
		PaymentID:     optionalString(transaction.PaymentID),
		Notes:         optionalString(transaction.Notes),
		Metadata:      datatypesJSON(transaction.MetadataJSON),
		CreatedAt:     rowCreatedAt(transaction.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintTransactionPaymentID) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicatePayment)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

// SumSigned recomputes the balance from the log (credits minus debits).
func (store *Store) SumSigned(ctx context.Context, accountID string) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Select("coalesce(sum(case when kind = 'credit' then amount else -amount end),0) as total").
		Where("account_id = ?", accountID).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeSumSigned, err)
	}
	return sum.Total, nil
}

func (store *Store) CountTransactions(ctx context.Context, accountID string, filter ledger.HistoryFilter) (int64, error) {
	var total int64
	query := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Where("account_id = ?", accountID)
	query = applyFilter(query, filter)
	if err := query.Count(&total).Error; err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	return total, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID string, filter ledger.HistoryFilter, limit, offset int) ([]ledger.Transaction, error) {
	var rows []CreditTransaction
	query := store.db.WithContext(ctx).
		Where("account_id = ?", accountID)
	query = applyFilter(query, filter)
	err := query.
		Order("created_at DESC, transaction_id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) CreateReferralCode(ctx context.Context, record ledger.ReferralCodeRecord) error {
	row := ReferralCode{
		Code:           record.Code,
		OwnerAccountID: record.OwnerAccountID,
		CreatedAt:      rowCreatedAt(record.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectReferralCode, errorCodeDuplicate, ledger.ErrReferralCodeExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReferralCode, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetReferralCodeByOwner(ctx context.Context, ownerAccountID string) (ledger.ReferralCodeRecord, error) {
	return store.getReferralCode(ctx, "owner_account_id = ?", ownerAccountID)
}

func (store *Store) GetReferralCodeByCode(ctx context.Context, code ledger.ReferralCode) (ledger.ReferralCodeRecord, error) {
	return store.getReferralCode(ctx, "code = ?", code.String())
}

func (store *Store) getReferralCode(ctx context.Context, condition string, value string) (ledger.ReferralCodeRecord, error) {
	var row ReferralCode
	err := store.db.WithContext(ctx).Where(condition, value).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.ReferralCodeRecord{}, wrapStoreError(errorSubjectReferralCode, errorCodeLookup, ledger.ErrInvalidReferralCode)
		}
		return ledger.ReferralCodeRecord{}, wrapStoreError(errorSubjectReferralCode, errorCodeLookup, err)
	}
	return ledger.ReferralCodeRecord{
		Code:           row.Code,
		OwnerAccountID: row.OwnerAccountID,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func (store *Store) InsertRedemption(ctx context.Context, redemption ledger.Redemption) error {
	row := ReferralRedemption{
		RedemptionID:      redemption.RedemptionID,
		RedeemerAccountID: redemption.RedeemerAccountID,
		ReferrerAccountID: redemption.ReferrerAccountID,
		Code:              redemption.Code,
		ReferrerBonus:     redemption.ReferrerBonus,
		RedeemerBonus:     redemption.RedeemerBonus,
		CreatedAt:         rowCreatedAt(redemption.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintRedemptionRedeemer) {
		return wrapStoreError(errorSubjectRedemption, errorCodeDuplicate, ledger.ErrReferralAlreadyUsed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRedemption, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListRedemptionsByReferrer(ctx context.Context, referrerAccountID string) ([]ledger.Redemption, error) {
	type redemptionRow struct {
		ReferralRedemption
		RedeemerUserID string
	}
	var rows []redemptionRow
	err := store.db.WithContext(ctx).
		Model(&ReferralRedemption{}).
		Select("referral_redemptions.*, accounts.user_id as redeemer_user_id").
		Joins("JOIN accounts ON accounts.account_id = referral_redemptions.redeemer_account_id").
		Where("referral_redemptions.referrer_account_id = ?", referrerAccountID).
		Order("referral_redemptions.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRedemption, errorCodeList, err)
	}
	redemptions := make([]ledger.Redemption, 0, len(rows))
	for _, row := range rows {
		redemptions = append(redemptions, ledger.Redemption{
			RedemptionID:      row.RedemptionID,
			RedeemerAccountID: row.RedeemerAccountID,
			RedeemerUserID:    row.RedeemerUserID,
			ReferrerAccountID: row.ReferrerAccountID,
			Code:              row.Code,
			ReferrerBonus:     row.ReferrerBonus,
			RedeemerBonus:     row.RedeemerBonus,
			CreatedUnixUTC:    row.CreatedAt.Unix(),
		})
	}
	return redemptions, nil
}

func applyFilter(query *gorm.DB, filter ledger.HistoryFilter) *gorm.DB {
	switch filter {
	case ledger.FilterCredit:
		return query.Where("kind = ?", ledger.KindCredit.String())
	case ledger.FilterDebit:
		return query.Where("kind = ?", ledger.KindDebit.String())
	}
	return query
}

func wrapStoreError(subject string, code string, err error) error {
	if !ledger.IsDomainError(err) {
		err = fmt.Errorf("%w: %v", ledger.ErrStorageFailure, err)
	}
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapAccount(row Account) ledger.Account {
	return ledger.Account{
		AccountID:         row.AccountID,
		UserID:            row.UserID,
		Balance:           row.Balance,
		LifetimePurchased: row.LifetimePurchased,
		LifetimeUsed:      row.LifetimeUsed,
		RedeemedCode:      row.RedeemedCodeID,
		CreatedUnixUTC:    row.CreatedAt.Unix(),
	}
}

func mapTransaction(row CreditTransaction) (ledger.Transaction, error) {
	kind, err := ledger.ParseTransactionKind(row.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	purpose, err := ledger.ParseTransactionPurpose(row.Purpose)
	if err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := ledger.NewCreditAmount(row.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		TransactionID:  row.TransactionID,
		AccountID:      row.AccountID,
		Kind:           kind,
		Amount:         amount,
		Purpose:        purpose,
		ProjectID:      stringOrEmpty(row.ProjectID),
		ProjectName:    stringOrEmpty(row.ProjectName),
		PaymentMethod:  stringOrEmpty(row.PaymentMethod),
		PaymentID:      stringOrEmpty(row.PaymentID),
		Notes:          stringOrEmpty(row.Notes),
		MetadataJSON:   string(row.Metadata),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// rowCreatedAt converts a unix timestamp to the stored column value, falling
// back to the current time when the caller left it unset.
func rowCreatedAt(unixSeconds int64) time.Time {
	if unixSeconds == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixSeconds, 0).UTC()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation reports whether err is a unique-constraint failure,
// optionally narrowed to one named postgres constraint. sqlite reports a
// bare constraint code, so the name is only checked on postgres.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
