package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Balance is the materialized
// projection of the transaction log and is only written together with a log
// insert in the same database transaction.
type Account struct {
	AccountID         string    `gorm:"type:uuid;primaryKey"`
	UserID            string    `gorm:"not null;index:uniq_accounts_user_id,unique"`
	Balance           int64     `gorm:"not null;default:0"`
	LifetimePurchased int64     `gorm:"not null;default:0"`
	LifetimeUsed      int64     `gorm:"not null;default:0"`
	RedeemedCodeID    *string   `gorm:""`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// CreditTransaction mirrors the credit_transactions table.
type CreditTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	AccountID     string         `gorm:"type:uuid;not null;index:idx_tx_account_created,priority:1"`
	Kind          string         `gorm:"not null"`
	Amount        int64          `gorm:"not null"`
	Purpose       string         `gorm:"not null"`
	ProjectID     *string        `gorm:""`
	ProjectName   *string        `gorm:""`
	PaymentMethod *string        `gorm:""`
	PaymentID     *string        `gorm:"index:uniq_tx_payment_id,unique"`
	Notes         *string        `gorm:""`
	Metadata      datatypes.JSON `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_tx_account_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// ReferralCode mirrors the referral_codes table. One active code per owner.
type ReferralCode struct {
	Code           string    `gorm:"primaryKey"`
	OwnerAccountID string    `gorm:"type:uuid;not null;index:uniq_referral_owner,unique"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (ReferralCode) TableName() string { return "referral_codes" }

// ReferralRedemption mirrors the referral_redemptions table. The unique
// redeemer index enforces at-most-one redemption per account, ever.
type ReferralRedemption struct {
	RedemptionID      string    `gorm:"type:uuid;primaryKey"`
	RedeemerAccountID string    `gorm:"type:uuid;not null;index:uniq_redemption_redeemer,unique"`
	ReferrerAccountID string    `gorm:"type:uuid;not null;index:idx_redemption_referrer"`
	Code              string    `gorm:"not null"`
	ReferrerBonus     int64     `gorm:"not null"`
	RedeemerBonus     int64     `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (ReferralRedemption) TableName() string { return "referral_redemptions" }

func (redemption *ReferralRedemption) BeforeCreate(tx *gorm.DB) error {
	if redemption.RedemptionID == "" {
		redemption.RedemptionID = uuid.NewString()
	}
	return nil
}
