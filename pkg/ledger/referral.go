package ledger

import (
	"context"
	"errors"
	"fmt"
)

// GenerateReferralCode returns the account's active code, minting one of the
// form SCRX#### on first call. Repeated calls return the same code.
func (service *Service) GenerateReferralCode(ctx context.Context, userID UserID) (ReferralCode, error) {
	var code ReferralCode
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		existing, err := transactionStore.GetReferralCodeByOwner(ctx, account.AccountID)
		if err == nil {
			code, err = NewReferralCode(existing.Code)
			return err
		}
		if !errors.Is(err, ErrInvalidReferralCode) {
			return err
		}
		minted, err := service.mintCode(ctx, transactionStore, account.AccountID)
		if err != nil {
			return err
		}
		code = minted
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationGenerateCode,
		UserID:       userID,
		ReferralCode: code.String(),
		Error:        operationError,
	})
	return code, operationError
}

// RedeemReferralCode pays the dual-sided bonus for a first-time redemption.
// The redemption record, the redeemer's redeemed-code mark, and both bonus
// credits commit as one unit: either everything lands or nothing does.
func (service *Service) RedeemReferralCode(ctx context.Context, userID UserID, code ReferralCode) (RedemptionResult, error) {
	var result RedemptionResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		codeRecord, err := transactionStore.GetReferralCodeByCode(ctx, code)
		if err != nil {
			return err
		}
		redeemer, referrer, err := lockRedemptionAccounts(ctx, transactionStore, userID, codeRecord.OwnerAccountID)
		if err != nil {
			return err
		}
		if redeemer.AccountID == referrer.AccountID {
			return fmt.Errorf("%w: code %s", ErrSelfReferralNotAllowed, code)
		}
		if redeemer.RedeemedCode != nil {
			return fmt.Errorf("%w: already redeemed %s", ErrReferralAlreadyUsed, *redeemer.RedeemedCode)
		}
		redemption := Redemption{
			RedemptionID:      service.idFn(),
			RedeemerAccountID: redeemer.AccountID,
			RedeemerUserID:    redeemer.UserID,
			ReferrerAccountID: referrer.AccountID,
			Code:              code.String(),
			ReferrerBonus:     ReferrerBonusCredits.Int64(),
			RedeemerBonus:     RedeemerBonusCredits.Int64(),
			CreatedUnixUTC:    service.nowFn(),
		}
		if err := transactionStore.InsertRedemption(ctx, redemption); err != nil {
			return err
		}
		if err := transactionStore.MarkCodeRedeemed(ctx, redeemer.AccountID, code.String()); err != nil {
			return err
		}
		if _, err := service.applyToAccount(ctx, transactionStore, referrer, KindCredit, ReferrerBonusCredits, PurposeReferralBonus, TransactionDetails{
			Notes: fmt.Sprintf("referral of %s via %s", redeemer.UserID, code),
		}); err != nil {
			return err
		}
		if _, err := service.applyToAccount(ctx, transactionStore, redeemer, KindCredit, RedeemerBonusCredits, PurposeSignupBonus, TransactionDetails{
			Notes: fmt.Sprintf("signup bonus via %s", code),
		}); err != nil {
			return err
		}
		result = RedemptionResult{
			ReferrerBonus: ReferrerBonusCredits.Int64(),
			RedeemerBonus: RedeemerBonusCredits.Int64(),
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationRedeem,
		UserID:       userID,
		ReferralCode: code.String(),
		Amount:       RedeemerBonusCredits.Int64(),
		Error:        operationError,
	})
	return result, operationError
}

// ReferralInfo summarizes the account's code and everyone it brought in.
func (service *Service) ReferralInfo(ctx context.Context, userID UserID) (ReferralInfo, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return ReferralInfo{}, err
	}
	info := ReferralInfo{ReferredUsers: []ReferredUser{}}
	codeRecord, err := service.store.GetReferralCodeByOwner(ctx, account.AccountID)
	switch {
	case err == nil:
		info.ReferralCode = codeRecord.Code
	case errors.Is(err, ErrInvalidReferralCode):
		// No code generated yet; the rest of the view is still meaningful.
	default:
		return ReferralInfo{}, err
	}
	redemptions, err := service.store.ListRedemptionsByReferrer(ctx, account.AccountID)
	if err != nil {
		return ReferralInfo{}, err
	}
	for _, redemption := range redemptions {
		info.ReferralCount++
		info.ReferralPoints += redemption.ReferrerBonus
		info.ReferredUsers = append(info.ReferredUsers, ReferredUser{
			UserID:         redemption.RedeemerUserID,
			Bonus:          redemption.ReferrerBonus,
			CreatedUnixUTC: redemption.CreatedUnixUTC,
		})
	}
	return info, nil
}

func (service *Service) mintCode(ctx context.Context, transactionStore Store, ownerAccountID string) (ReferralCode, error) {
	for attempt := 0; attempt < referralMintAttempts; attempt++ {
		digits, err := service.codeDigitsFn()
		if err != nil {
			return ReferralCode{}, err
		}
		candidate, err := NewReferralCode(referralCodePrefix + digits)
		if err != nil {
			return ReferralCode{}, err
		}
		err = transactionStore.CreateReferralCode(ctx, ReferralCodeRecord{
			Code:           candidate.String(),
			OwnerAccountID: ownerAccountID,
			CreatedUnixUTC: service.nowFn(),
		})
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, ErrReferralCodeExists) {
			continue
		}
		return ReferralCode{}, err
	}
	return ReferralCode{}, fmt.Errorf("%w: code space exhausted after %d attempts", ErrReferralCodeExists, referralMintAttempts)
}

// lockRedemptionAccounts takes both account row locks in a deterministic
// order so concurrent cross-redemptions cannot deadlock.
func lockRedemptionAccounts(ctx context.Context, transactionStore Store, redeemerUserID UserID, referrerAccountID string) (Account, Account, error) {
	redeemerProbe, err := transactionStore.GetAccount(ctx, redeemerUserID)
	if err != nil {
		return Account{}, Account{}, err
	}
	if redeemerProbe.AccountID == referrerAccountID {
		locked, err := transactionStore.GetAccountByIDForUpdate(ctx, referrerAccountID)
		if err != nil {
			return Account{}, Account{}, err
		}
		return locked, locked, nil
	}
	first, second := redeemerProbe.AccountID, referrerAccountID
	if second < first {
		first, second = second, first
	}
	firstLocked, err := transactionStore.GetAccountByIDForUpdate(ctx, first)
	if err != nil {
		return Account{}, Account{}, err
	}
	secondLocked, err := transactionStore.GetAccountByIDForUpdate(ctx, second)
	if err != nil {
		return Account{}, Account{}, err
	}
	redeemer, referrer := firstLocked, secondLocked
	if redeemer.AccountID != redeemerProbe.AccountID {
		redeemer, referrer = secondLocked, firstLocked
	}
	return redeemer, referrer, nil
}
