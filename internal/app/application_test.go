package app

import (
	"context"
	"testing"

	"github.com/rozo-network/custody_layer/internal/app/domain/custody"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
	"github.com/rozo-network/custody_layer/internal/app/ledger/memory"
)

func testIdentity(b byte) identity.ID {
	var id identity.ID
	id[0] = b
	return id
}

func TestApplication_BootstrapAndTelemetryWiring(t *testing.T) {
	mem := memory.New()
	admin := testIdentity(0xAD)
	owner := testIdentity(1)
	merchant := testIdentity(2)
	mem.Fund(owner, ledger.AssetUSDC, 1000)

	application, err := New(Options{Ledger: mem, Admin: admin}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer application.Stop(context.Background())

	// A second start against the same ledger tolerates the existing registry.
	restarted, err := New(Options{Ledger: mem, Admin: admin}, nil)
	if err != nil {
		t.Fatalf("rebuild application: %v", err)
	}
	if err := restarted.Start(context.Background()); err != nil {
		t.Fatalf("restart against bootstrapped registry: %v", err)
	}
	restarted.Stop(context.Background())

	got, err := application.Registry.Admin(context.Background())
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if !got.Equal(admin) {
		t.Fatalf("registry not bootstrapped: %s", got)
	}

	// A payment flows through to the opted-in user's telemetry.
	if _, err := application.Stats.InitializeUserStats(context.Background(), owner); err != nil {
		t.Fatalf("opt in: %v", err)
	}
	if _, err := application.Escrow.InitializeAuthorization(context.Background(), owner, 500); err != nil {
		t.Fatalf("initialize authorization: %v", err)
	}
	if _, err := application.Escrow.TapToPay(context.Background(), admin, owner, merchant, 125, custody.SessionID{}); err != nil {
		t.Fatalf("tap to pay: %v", err)
	}

	stats, err := application.Stats.UserStats(context.Background(), owner)
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if stats.TotalSpent != 125 || stats.TransactionCount != 1 {
		t.Fatalf("telemetry not updated: spent=%d count=%d", stats.TotalSpent, stats.TransactionCount)
	}
}
