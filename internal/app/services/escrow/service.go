// Package escrow implements the per-user spend authorization engine and the
// tap-to-pay deduction protocol.
//
// A user pre-authorizes a bounded ceiling once; the registry admin then
// repeatedly deducts from it without further user interaction. Splitting the
// one-time user-signed authorization from the repeated admin-signed deduction
// bounds the blast radius of a compromised operator key to the outstanding
// allowance.
package escrow

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rozo-network/custody_layer/internal/app/domain/custody"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
	"github.com/rozo-network/custody_layer/internal/app/metrics"
	"github.com/rozo-network/custody_layer/internal/app/services/registry"
	"github.com/rozo-network/custody_layer/pkg/logger"
)

const (
	recordPurpose = "escrow"
	vaultPurpose  = "escrow-vault"
)

// Address returns the derived address of an owner's escrow record.
func Address(owner identity.ID) (identity.ID, byte) {
	return ledger.Derive(recordPurpose, owner[:])
}

// VaultAddress returns the derived address of an owner's escrow vault. Only
// the vault's derivation proof can move funds out of it.
func VaultAddress(owner identity.ID) identity.ID {
	addr, _ := ledger.Derive(vaultPurpose, owner[:])
	return addr
}

func vaultAuthority(owner identity.ID) ledger.Authority {
	return ledger.Derived{Purpose: vaultPurpose, Seeds: [][]byte{owner[:]}}
}

// SpendObserver receives a best-effort notification after a deduction has
// committed. Implementations must tolerate absent telemetry state; a returned
// error is logged and swallowed, never failing the payment.
type SpendObserver interface {
	RecordSpend(ctx context.Context, owner identity.ID, amount uint64) error
}

// NoopObserver is the safe default observer.
type NoopObserver struct{}

// RecordSpend implements SpendObserver.
func (NoopObserver) RecordSpend(context.Context, identity.ID, uint64) error { return nil }

// Service manages escrow lifecycle and deductions.
type Service struct {
	ledger   ledger.Executor
	observer SpendObserver
	log      *logger.Logger
}

// New constructs an escrow service. The spend observer defaults to a no-op.
func New(exec ledger.Executor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("escrow")
	}
	return &Service{ledger: exec, observer: NoopObserver{}, log: log}
}

// AttachObserver injects the post-deduction telemetry hook. Call before use.
func (s *Service) AttachObserver(obs SpendObserver) {
	if obs == nil {
		obs = NoopObserver{}
	}
	s.observer = obs
}

// InitializeAuthorization creates the owner's escrow with the given ceiling
// and moves the full amount into the escrow vault, atomically. An owner with
// an existing escrow fails with ErrEscrowExists; insufficient owner balance
// aborts with no partial state.
func (s *Service) InitializeAuthorization(ctx context.Context, owner identity.ID, amount uint64) (custody.Escrow, error) {
	if owner.IsZero() {
		return custody.Escrow{}, fmt.Errorf("owner identity is required")
	}
	if amount == 0 {
		return custody.Escrow{}, fmt.Errorf("authorization amount must be positive")
	}

	var esc custody.Escrow
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		addr, bump := Address(owner)
		esc = custody.Escrow{
			Owner:   owner,
			Vault:   VaultAddress(owner),
			Bump:    bump,
			Allowed: amount,
			Spent:   0,
		}
		if err := tx.CreateRecord(addr, esc.Marshal()); err != nil {
			if errors.Is(err, ledger.ErrRecordExists) {
				return fmt.Errorf("owner %s: %w", owner, custody.ErrEscrowExists)
			}
			return err
		}
		return tx.Transfer(owner, esc.Vault, ledger.AssetUSDC, amount, ledger.Signer{ID: owner})
	})
	if err != nil {
		return custody.Escrow{}, err
	}

	metrics.EscrowOpened()
	s.log.WithField("owner", owner.String()).
		WithField("allowed", amount).
		Info("authorization initialized")
	return esc, nil
}

// TapToPay deducts amount from the owner's escrow and pays the merchant. Only
// the registry admin may call it; the admin identity is re-verified against
// the registry record on every call. The remaining allowance is computed by
// saturating subtraction and compared before any transfer.
func (s *Service) TapToPay(ctx context.Context, caller, owner, merchant identity.ID, amount uint64, sessionID custody.SessionID) (custody.Escrow, error) {
	if amount == 0 {
		return custody.Escrow{}, fmt.Errorf("payment amount must be positive")
	}

	var esc custody.Escrow
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		if err := registry.RequireAdmin(tx, caller); err != nil {
			return err
		}

		loaded, err := s.load(tx, owner)
		if err != nil {
			return err
		}
		esc = loaded

		if remaining := esc.Remaining(); remaining < amount {
			return fmt.Errorf("deduct %d, remaining allowance %d: %w",
				amount, remaining, custody.ErrInsufficientFunds)
		}

		if err := tx.Transfer(esc.Vault, merchant, ledger.AssetUSDC, amount, vaultAuthority(owner)); err != nil {
			return err
		}

		esc.Spent += amount
		addr, _ := Address(owner)
		return tx.PutRecord(addr, esc.Marshal())
	})
	metrics.RecordPayment(amount, err)
	if err != nil {
		return custody.Escrow{}, err
	}

	s.log.WithField("owner", owner.String()).
		WithField("merchant", merchant.String()).
		WithField("amount", amount).
		WithField("session_id", hex.EncodeToString(sessionID[:])).
		Info("payment processed")

	// Telemetry runs after the payment has committed and is advisory only.
	if err := s.observer.RecordSpend(ctx, owner, amount); err != nil {
		s.log.WithError(err).WithField("owner", owner.String()).Warn("spend telemetry update failed")
	}
	return esc, nil
}

// RevokeAuthorization returns the unspent remainder to the owner and pins the
// ceiling to the amount already spent. Only the escrow owner may revoke. A
// second revocation fails with ErrNoRemainingAllowance rather than silently
// doing nothing.
func (s *Service) RevokeAuthorization(ctx context.Context, caller, owner identity.ID) (custody.Escrow, error) {
	var esc custody.Escrow
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		loaded, err := s.load(tx, owner)
		if err != nil {
			return err
		}
		esc = loaded
		if !esc.Owner.Equal(caller) {
			return fmt.Errorf("caller %s does not own escrow: %w", caller, custody.ErrNotAuthorized)
		}

		remaining := esc.Remaining()
		if remaining == 0 {
			return custody.ErrNoRemainingAllowance
		}

		esc.Allowed = esc.Spent
		addr, _ := Address(owner)
		if err := tx.PutRecord(addr, esc.Marshal()); err != nil {
			return err
		}
		return tx.Transfer(esc.Vault, owner, ledger.AssetUSDC, remaining, vaultAuthority(owner))
	})
	if err != nil {
		return custody.Escrow{}, err
	}

	s.log.WithField("owner", owner.String()).
		WithField("spent", esc.Spent).
		Info("authorization revoked")
	return esc, nil
}

// CloseEscrow flushes any residual vault balance back to the owner and deletes
// the escrow record. Only the escrow owner may close.
func (s *Service) CloseEscrow(ctx context.Context, caller, owner identity.ID) error {
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		esc, err := s.load(tx, owner)
		if err != nil {
			return err
		}
		if !esc.Owner.Equal(caller) {
			return fmt.Errorf("caller %s does not own escrow: %w", caller, custody.ErrNotAuthorized)
		}

		residual, err := tx.Balance(esc.Vault, ledger.AssetUSDC)
		if err != nil {
			return err
		}
		if residual > 0 {
			if err := tx.Transfer(esc.Vault, owner, ledger.AssetUSDC, residual, vaultAuthority(owner)); err != nil {
				return err
			}
		}

		addr, _ := Address(owner)
		return tx.CloseRecord(addr)
	})
	if err != nil {
		return err
	}

	metrics.EscrowClosed()
	s.log.WithField("owner", owner.String()).Info("escrow closed")
	return nil
}

// Get returns the owner's escrow record.
func (s *Service) Get(ctx context.Context, owner identity.ID) (custody.Escrow, error) {
	var esc custody.Escrow
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		loaded, err := s.load(tx, owner)
		if err != nil {
			return err
		}
		esc = loaded
		return nil
	})
	return esc, err
}

func (s *Service) load(tx ledger.Tx, owner identity.ID) (custody.Escrow, error) {
	addr, _ := Address(owner)
	data, err := tx.GetRecord(addr)
	if errors.Is(err, ledger.ErrRecordNotFound) {
		return custody.Escrow{}, fmt.Errorf("owner %s: %w", owner, custody.ErrEscrowNotFound)
	}
	if err != nil {
		return custody.Escrow{}, err
	}
	esc, err := custody.UnmarshalEscrow(data)
	if err != nil {
		return custody.Escrow{}, err
	}
	if !esc.Owner.Equal(owner) {
		return custody.Escrow{}, fmt.Errorf("escrow record owner mismatch for %s", owner)
	}
	return esc, nil
}
