package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/rozo-network/custody_layer/internal/app/domain/custody"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
	"github.com/rozo-network/custody_layer/internal/app/ledger/memory"
	"github.com/rozo-network/custody_layer/internal/app/services/registry"
)

func testIdentity(b byte) identity.ID {
	var id identity.ID
	id[0] = b
	return id
}

func newFixture(t *testing.T) (*memory.Ledger, *Service, identity.ID) {
	t.Helper()
	mem := memory.New()
	admin := testIdentity(0xAD)
	if err := registry.New(mem, nil).Initialize(context.Background(), admin); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	return mem, New(mem, nil), admin
}

func TestService_AuthorizeAndPay(t *testing.T) {
	mem, svc, admin := newFixture(t)
	owner := testIdentity(1)
	merchant := testIdentity(2)
	mem.Fund(owner, ledger.AssetUSDC, 1000)

	esc, err := svc.InitializeAuthorization(context.Background(), owner, 500)
	if err != nil {
		t.Fatalf("initialize authorization: %v", err)
	}
	if esc.Allowed != 500 || esc.Spent != 0 {
		t.Fatalf("unexpected escrow state: allowed=%d spent=%d", esc.Allowed, esc.Spent)
	}
	if got := mem.BalanceOf(owner, ledger.AssetUSDC); got != 500 {
		t.Fatalf("owner balance after authorization: %d", got)
	}
	if got := mem.BalanceOf(esc.Vault, ledger.AssetUSDC); got != 500 {
		t.Fatalf("vault balance after authorization: %d", got)
	}

	var session custody.SessionID
	session[0] = 0x01
	esc, err = svc.TapToPay(context.Background(), admin, owner, merchant, 200, session)
	if err != nil {
		t.Fatalf("tap to pay: %v", err)
	}
	if esc.Spent != 200 || esc.Remaining() != 300 {
		t.Fatalf("unexpected escrow after payment: spent=%d remaining=%d", esc.Spent, esc.Remaining())
	}
	if got := mem.BalanceOf(merchant, ledger.AssetUSDC); got != 200 {
		t.Fatalf("merchant balance: %d", got)
	}
	// Conservation: the vault backs exactly the unspent allowance.
	if got := mem.BalanceOf(esc.Vault, ledger.AssetUSDC); got != esc.Remaining() {
		t.Fatalf("vault %d does not back remaining allowance %d", got, esc.Remaining())
	}

	// Exactly the remaining allowance succeeds.
	esc, err = svc.TapToPay(context.Background(), admin, owner, merchant, 300, session)
	if err != nil {
		t.Fatalf("pay remaining allowance: %v", err)
	}
	if esc.Remaining() != 0 {
		t.Fatalf("allowance should be exhausted, remaining=%d", esc.Remaining())
	}

	if _, err := svc.TapToPay(context.Background(), admin, owner, merchant, 1, session); !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := mem.BalanceOf(merchant, ledger.AssetUSDC); got != 500 {
		t.Fatalf("failed payment must not move funds, merchant=%d", got)
	}
}

func TestService_PaymentRequiresAdmin(t *testing.T) {
	mem, svc, _ := newFixture(t)
	owner := testIdentity(1)
	merchant := testIdentity(2)
	stranger := testIdentity(3)
	mem.Fund(owner, ledger.AssetUSDC, 100)

	if _, err := svc.InitializeAuthorization(context.Background(), owner, 100); err != nil {
		t.Fatalf("initialize authorization: %v", err)
	}
	_, err := svc.TapToPay(context.Background(), stranger, owner, merchant, 10, custody.SessionID{})
	if !errors.Is(err, custody.ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if got := mem.BalanceOf(merchant, ledger.AssetUSDC); got != 0 {
		t.Fatalf("rejected payment must not move funds, merchant=%d", got)
	}
}

func TestService_InitializeFailures(t *testing.T) {
	mem, svc, _ := newFixture(t)
	owner := testIdentity(1)
	broke := testIdentity(9)
	mem.Fund(owner, ledger.AssetUSDC, 100)

	if _, err := svc.InitializeAuthorization(context.Background(), owner, 100); err != nil {
		t.Fatalf("initialize authorization: %v", err)
	}
	if _, err := svc.InitializeAuthorization(context.Background(), owner, 50); !errors.Is(err, custody.ErrEscrowExists) {
		t.Fatalf("expected duplicate escrow error, got %v", err)
	}

	// Insufficient owner balance aborts with no partial escrow state.
	if _, err := svc.InitializeAuthorization(context.Background(), broke, 50); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := svc.Get(context.Background(), broke); !errors.Is(err, custody.ErrEscrowNotFound) {
		t.Fatalf("aborted initialization must not leave a record, got %v", err)
	}
}

func TestService_RevokeAndClose(t *testing.T) {
	mem, svc, admin := newFixture(t)
	owner := testIdentity(1)
	merchant := testIdentity(2)
	stranger := testIdentity(3)
	mem.Fund(owner, ledger.AssetUSDC, 500)

	if _, err := svc.InitializeAuthorization(context.Background(), owner, 500); err != nil {
		t.Fatalf("initialize authorization: %v", err)
	}
	if _, err := svc.TapToPay(context.Background(), admin, owner, merchant, 100, custody.SessionID{}); err != nil {
		t.Fatalf("tap to pay: %v", err)
	}

	if _, err := svc.RevokeAuthorization(context.Background(), stranger, owner); !errors.Is(err, custody.ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	esc, err := svc.RevokeAuthorization(context.Background(), owner, owner)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if esc.Allowed != esc.Spent || esc.Remaining() != 0 {
		t.Fatalf("revoke must pin ceiling to spent: allowed=%d spent=%d", esc.Allowed, esc.Spent)
	}
	if got := mem.BalanceOf(owner, ledger.AssetUSDC); got != 400 {
		t.Fatalf("remainder not returned, owner=%d", got)
	}

	if _, err := svc.RevokeAuthorization(context.Background(), owner, owner); !errors.Is(err, custody.ErrNoRemainingAllowance) {
		t.Fatalf("second revoke should fail, got %v", err)
	}

	if err := svc.CloseEscrow(context.Background(), stranger, owner); !errors.Is(err, custody.ErrNotAuthorized) {
		t.Fatalf("expected authorization error on close, got %v", err)
	}
	if err := svc.CloseEscrow(context.Background(), owner, owner); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.Get(context.Background(), owner); !errors.Is(err, custody.ErrEscrowNotFound) {
		t.Fatalf("escrow should be gone after close, got %v", err)
	}
	if got := mem.BalanceOf(VaultAddress(owner), ledger.AssetUSDC); got != 0 {
		t.Fatalf("vault should be empty after close, got %d", got)
	}
}

type recordingObserver struct {
	owner  identity.ID
	amount uint64
	calls  int
	err    error
}

func (o *recordingObserver) RecordSpend(_ context.Context, owner identity.ID, amount uint64) error {
	o.owner = owner
	o.amount = amount
	o.calls++
	return o.err
}

func TestService_SpendObserver(t *testing.T) {
	mem, svc, admin := newFixture(t)
	owner := testIdentity(1)
	merchant := testIdentity(2)
	mem.Fund(owner, ledger.AssetUSDC, 100)

	obs := &recordingObserver{err: errors.New("telemetry down")}
	svc.AttachObserver(obs)

	if _, err := svc.InitializeAuthorization(context.Background(), owner, 100); err != nil {
		t.Fatalf("initialize authorization: %v", err)
	}

	// An observer failure never fails the payment.
	esc, err := svc.TapToPay(context.Background(), admin, owner, merchant, 25, custody.SessionID{})
	if err != nil {
		t.Fatalf("tap to pay: %v", err)
	}
	if esc.Spent != 25 {
		t.Fatalf("payment not applied: spent=%d", esc.Spent)
	}
	if obs.calls != 1 || !obs.owner.Equal(owner) || obs.amount != 25 {
		t.Fatalf("observer not notified: calls=%d owner=%s amount=%d", obs.calls, obs.owner, obs.amount)
	}

	// A failed payment never reaches the observer.
	if _, err := svc.TapToPay(context.Background(), admin, owner, merchant, 1000, custody.SessionID{}); !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if obs.calls != 1 {
		t.Fatalf("observer fired on failed payment: calls=%d", obs.calls)
	}
}
