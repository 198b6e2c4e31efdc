// Package swap implements atomic currency-conversion-and-forward payments and
// treasury administration.
//
// A swap-and-pay moves native currency from the user into the treasury and
// pooled tokens from the treasury to the recipient as one all-or-nothing unit,
// recording a permanent session receipt. The receipt's derived address binds
// (user, session), so replaying a session is rejected by record creation
// itself, not by bypassable application bookkeeping.
package swap

import (
	"context"
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
	treasuryPurpose      = "treasury"
	treasuryVaultPurpose = "treasury-vault"
	sessionPurpose       = "session"
)

// TreasuryAddress returns the native-currency treasury account.
func TreasuryAddress() identity.ID {
	addr, _ := ledger.Derive(treasuryPurpose)
	return addr
}

// TreasuryVaultAddress returns the pooled token vault.
func TreasuryVaultAddress() identity.ID {
	addr, _ := ledger.Derive(treasuryVaultPurpose)
	return addr
}

// SessionAddress returns the derived address of a session receipt.
func SessionAddress(user identity.ID, sessionID custody.SessionID) identity.ID {
	addr, _ := ledger.Derive(sessionPurpose, user[:], sessionID[:])
	return addr
}

func treasuryAuthority() ledger.Authority {
	return ledger.Derived{Purpose: treasuryPurpose}
}

func treasuryVaultAuthority() ledger.Authority {
	return ledger.Derived{Purpose: treasuryVaultPurpose}
}

// Service manages swap-and-pay and the treasury accounts.
type Service struct {
	ledger ledger.Executor
	log    *logger.Logger
}

// New constructs a swap service.
func New(exec ledger.Executor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("swap")
	}
	return &Service{ledger: exec, log: log}
}

// SOLToUSDCPay executes one atomic swap-and-pay: native currency user to
// treasury, pooled tokens treasury to recipient, plus a permanent session
// receipt. A session identifier already claimed by this user fails with
// ErrDuplicateSession regardless of amounts. Treasury liquidity is pre-checked
// so a short pool surfaces as ErrInsufficientLiquidity rather than a raw
// transfer failure.
func (s *Service) SOLToUSDCPay(ctx context.Context, user identity.ID, solAmount, usdcAmount uint64, recipient identity.ID, sessionID custody.SessionID) (custody.SessionRecord, error) {
	if user.IsZero() || recipient.IsZero() {
		return custody.SessionRecord{}, fmt.Errorf("user and recipient identities are required")
	}
	if solAmount == 0 || usdcAmount == 0 {
		return custody.SessionRecord{}, fmt.Errorf("swap amounts must be positive")
	}

	var record custody.SessionRecord
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		vault := TreasuryVaultAddress()
		liquidity, err := tx.Balance(vault, ledger.AssetUSDC)
		if err != nil {
			return err
		}
		if liquidity < usdcAmount {
			return fmt.Errorf("pay %d, treasury holds %d: %w",
				usdcAmount, liquidity, custody.ErrInsufficientLiquidity)
		}

		record = custody.SessionRecord{
			User:       user,
			Recipient:  recipient,
			SOLAmount:  solAmount,
			USDCAmount: usdcAmount,
			Timestamp:  tx.Now().Unix(),
			SessionID:  sessionID,
		}
		if err := tx.CreateRecord(SessionAddress(user, sessionID), record.Marshal()); err != nil {
			if errors.Is(err, ledger.ErrRecordExists) {
				return fmt.Errorf("user %s: %w", user, custody.ErrDuplicateSession)
			}
			return err
		}

		if err := tx.Transfer(user, TreasuryAddress(), ledger.AssetSOL, solAmount, ledger.Signer{ID: user}); err != nil {
			return err
		}
		return tx.Transfer(vault, recipient, ledger.AssetUSDC, usdcAmount, treasuryVaultAuthority())
	})
	metrics.RecordSwap(err)
	if err != nil {
		return custody.SessionRecord{}, err
	}

	s.log.WithField("user", user.String()).
		WithField("recipient", recipient.String()).
		WithField("sol_amount", solAmount).
		WithField("usdc_amount", usdcAmount).
		Info("swap payment completed")
	return record, nil
}

// Session returns the receipt for (user, sessionID).
func (s *Service) Session(ctx context.Context, user identity.ID, sessionID custody.SessionID) (custody.SessionRecord, error) {
	var record custody.SessionRecord
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		data, err := tx.GetRecord(SessionAddress(user, sessionID))
		if err != nil {
			return err
		}
		record, err = custody.UnmarshalSessionRecord(data)
		return err
	})
	return record, err
}

// WithdrawSOL moves native currency from the treasury to the admin. The caller
// is re-verified against the registry record on every call.
func (s *Service) WithdrawSOL(ctx context.Context, caller identity.ID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("withdrawal amount must be positive")
	}

	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		if err := registry.RequireAdmin(tx, caller); err != nil {
			return err
		}
		return tx.Transfer(TreasuryAddress(), caller, ledger.AssetSOL, amount, treasuryAuthority())
	})
	if err != nil {
		return err
	}

	s.log.WithField("admin", caller.String()).
		WithField("amount", amount).
		Info("treasury sol withdrawn")
	return nil
}

// WithdrawUSDC moves pooled tokens from the treasury vault to the admin. The
// caller is re-verified against the registry record on every call.
func (s *Service) WithdrawUSDC(ctx context.Context, caller identity.ID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("withdrawal amount must be positive")
	}

	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		if err := registry.RequireAdmin(tx, caller); err != nil {
			return err
		}
		return tx.Transfer(TreasuryVaultAddress(), caller, ledger.AssetUSDC, amount, treasuryVaultAuthority())
	})
	if err != nil {
		return err
	}

	s.log.WithField("admin", caller.String()).
		WithField("amount", amount).
		Info("treasury usdc withdrawn")
	return nil
}

// DepositUSDC tops up the pooled token vault. Anyone may deposit.
func (s *Service) DepositUSDC(ctx context.Context, depositor identity.ID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("deposit amount must be positive")
	}

	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		return tx.Transfer(depositor, TreasuryVaultAddress(), ledger.AssetUSDC, amount, ledger.Signer{ID: depositor})
	})
	if err != nil {
		return err
	}

	s.log.WithField("depositor", depositor.String()).
		WithField("amount", amount).
		Info("treasury usdc deposited")
	return nil
}

// TreasuryBalances reports the native and token holdings of the treasury.
func (s *Service) TreasuryBalances(ctx context.Context) (sol, usdc uint64, err error) {
	err = s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		if sol, err = tx.Balance(TreasuryAddress(), ledger.AssetSOL); err != nil {
			return err
		}
		usdc, err = tx.Balance(TreasuryVaultAddress(), ledger.AssetUSDC)
		return err
	})
	return sol, usdc, err
}
