package ledger

const (
	operationCreateAccount = "create_account"
	operationPurchase      = "purchase"
	operationUse           = "use"
	operationRefund        = "refund"
	operationAdminAdjust   = "admin_adjust"
	operationGenerateCode  = "generate_code"
	operationRedeem        = "redeem"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	referralCodePrefix = "SCRX"
	referralCodeDigits = 4
	referralCodeLength = len(referralCodePrefix) + referralCodeDigits

	// Bonus payouts per successful redemption, in TEX credits.
	ReferrerBonusCredits CreditAmount = 10
	RedeemerBonusCredits CreditAmount = 5

	referralMintAttempts = 25

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)
