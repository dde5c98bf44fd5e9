package ledger

import (
	"context"
	"errors"
	"testing"
)

func seedCode(test *testing.T, store *stubStore, ownerAccountID string, code string) {
	test.Helper()
	err := store.CreateReferralCode(context.Background(), ReferralCodeRecord{
		Code:           code,
		OwnerAccountID: ownerAccountID,
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("seed code %s: %v", code, err)
	}
}

func TestGenerateReferralCodeMintsOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addAccount(test, "user-1", 0)
	service := mustNewService(test, store, WithCodeDigits(func() (string, error) { return "4242", nil }))
	userID := mustUserID(test, "user-1")

	first, err := service.GenerateReferralCode(context.Background(), userID)
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if first.String() != "SCRX4242" {
		test.Fatalf("unexpected code %s", first)
	}
	second, err := service.GenerateReferralCode(context.Background(), userID)
	if err != nil {
		test.Fatalf("regenerate: %v", err)
	}
	if second.String() != first.String() {
		test.Fatalf("expected stable code, got %s then %s", first, second)
	}
}

func TestGenerateReferralCodeRetriesOnCollision(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addAccount(test, "user-1", 0)
	store.codeConflicts = 3
	digits := []string{"1111", "2222", "3333", "7777"}
	index := 0
	service := mustNewService(test, store, WithCodeDigits(func() (string, error) {
		value := digits[index%len(digits)]
		index++
		return value, nil
	}))

	code, err := service.GenerateReferralCode(context.Background(), mustUserID(test, "user-1"))
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if code.String() != "SCRX7777" {
		test.Fatalf("expected the post-collision mint, got %s", code)
	}
}

func TestGenerateReferralCodeSurfacesDigitsError(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addAccount(test, "user-1", 0)
	entropyFailure := errors.New("entropy source unavailable")
	service := mustNewService(test, store, WithCodeDigits(func() (string, error) {
		return "", entropyFailure
	}))

	_, err := service.GenerateReferralCode(context.Background(), mustUserID(test, "user-1"))
	if !errors.Is(err, entropyFailure) {
		test.Fatalf("expected digit source failure, got %v", err)
	}
}

func TestGenerateReferralCodeUnknownAccount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	_, err := service.GenerateReferralCode(context.Background(), mustUserID(test, "ghost"))
	if !errors.Is(err, ErrAccountNotFound) {
		test.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRedeemPaysBothSides(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	referrer := store.addAccount(test, "referrer", 0)
	store.addAccount(test, "redeemer", 0)
	seedCode(test, store, referrer.AccountID, "SCRX1234")
	service := mustNewService(test, store)

	result, err := service.RedeemReferralCode(context.Background(), mustUserID(test, "redeemer"), mustCode(test, "SCRX1234"))
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if result.ReferrerBonus != 10 || result.RedeemerBonus != 5 {
		test.Fatalf("unexpected bonuses: %+v", result)
	}
	if balance := store.mustAccount(test, "referrer").Balance; balance != 10 {
		test.Fatalf("expected referrer balance 10, got %d", balance)
	}
	redeemer := store.mustAccount(test, "redeemer")
	if redeemer.Balance != 5 {
		test.Fatalf("expected redeemer balance 5, got %d", redeemer.Balance)
	}
	if redeemer.RedeemedCode == nil || *redeemer.RedeemedCode != "SCRX1234" {
		test.Fatalf("redeemed code not marked: %+v", redeemer)
	}

	var purposes []TransactionPurpose
	for _, transaction := range store.transactions {
		purposes = append(purposes, transaction.Purpose)
	}
	if len(purposes) != 2 || purposes[0] != PurposeReferralBonus || purposes[1] != PurposeSignupBonus {
		test.Fatalf("unexpected bonus transactions: %v", purposes)
	}
}

func TestRedeemUnknownCode(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addAccount(test, "redeemer", 0)
	service := mustNewService(test, store)

	_, err := service.RedeemReferralCode(context.Background(), mustUserID(test, "redeemer"), mustCode(test, "SCRX9999"))
	if !errors.Is(err, ErrInvalidReferralCode) {
		test.Fatalf("expected ErrInvalidReferralCode, got %v", err)
	}
}

func TestRedeemOwnCodeRejected(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	owner := store.addAccount(test, "owner", 0)
	seedCode(test, store, owner.AccountID, "SCRX1234")
	service := mustNewService(test, store)

	_, err := service.RedeemReferralCode(context.Background(), mustUserID(test, "owner"), mustCode(test, "SCRX1234"))
	if !errors.Is(err, ErrSelfReferralNotAllowed) {
		test.Fatalf("expected ErrSelfReferralNotAllowed, got %v", err)
	}
	if balance := store.mustAccount(test, "owner").Balance; balance != 0 {
		test.Fatalf("self referral moved credits: %d", balance)
	}
}

func TestRedeemTwiceRejected(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	referrerA := store.addAccount(test, "referrer-a", 0)
	referrerB := store.addAccount(test, "referrer-b", 0)
	store.addAccount(test, "redeemer", 0)
	seedCode(test, store, referrerA.AccountID, "SCRX1111")
	seedCode(test, store, referrerB.AccountID, "SCRX2222")
	service := mustNewService(test, store)
	ctx := context.Background()
	redeemer := mustUserID(test, "redeemer")

	if _, err := service.RedeemReferralCode(ctx, redeemer, mustCode(test, "SCRX1111")); err != nil {
		test.Fatalf("first redeem: %v", err)
	}
	_, err := service.RedeemReferralCode(ctx, redeemer, mustCode(test, "SCRX1111"))
	if !errors.Is(err, ErrReferralAlreadyUsed) {
		test.Fatalf("expected ErrReferralAlreadyUsed on repeat, got %v", err)
	}
	_, err = service.RedeemReferralCode(ctx, redeemer, mustCode(test, "SCRX2222"))
	if !errors.Is(err, ErrReferralAlreadyUsed) {
		test.Fatalf("expected ErrReferralAlreadyUsed on second code, got %v", err)
	}
	if balance := store.mustAccount(test, "redeemer").Balance; balance != 5 {
		test.Fatalf("expected a single signup bonus, balance %d", balance)
	}
}

func TestReferralInfoAggregates(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	referrer := store.addAccount(test, "referrer", 0)
	store.addAccount(test, "friend-1", 0)
	store.addAccount(test, "friend-2", 0)
	seedCode(test, store, referrer.AccountID, "SCRX1234")
	service := mustNewService(test, store)
	ctx := context.Background()

	for _, friend := range []string{"friend-1", "friend-2"} {
		if _, err := service.RedeemReferralCode(ctx, mustUserID(test, friend), mustCode(test, "SCRX1234")); err != nil {
			test.Fatalf("redeem by %s: %v", friend, err)
		}
	}

	info, err := service.ReferralInfo(ctx, mustUserID(test, "referrer"))
	if err != nil {
		test.Fatalf("info: %v", err)
	}
	if info.ReferralCode != "SCRX1234" {
		test.Fatalf("unexpected code %s", info.ReferralCode)
	}
	if info.ReferralCount != 2 || info.ReferralPoints != 20 {
		test.Fatalf("unexpected aggregates: %+v", info)
	}
	if len(info.ReferredUsers) != 2 {
		test.Fatalf("expected 2 referred users, got %d", len(info.ReferredUsers))
	}
}

func TestReferralInfoWithoutCode(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addAccount(test, "user-1", 0)
	service := mustNewService(test, store)

	info, err := service.ReferralInfo(context.Background(), mustUserID(test, "user-1"))
	if err != nil {
		test.Fatalf("info: %v", err)
	}
	if info.ReferralCode != "" || info.ReferralCount != 0 || len(info.ReferredUsers) != 0 {
		test.Fatalf("expected empty referral info, got %+v", info)
	}
}
