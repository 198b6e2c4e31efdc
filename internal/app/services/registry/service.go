// Package registry manages the singleton admin identity that gates privileged
// custody operations.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/rozo-network/custody_layer/internal/app/domain/custody"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
	"github.com/rozo-network/custody_layer/pkg/logger"
)

// statePurpose seeds the derivation of the registry record address.
const statePurpose = "registry-state"

// StateAddress returns the derived address of the registry record.
func StateAddress() (identity.ID, byte) {
	return ledger.Derive(statePurpose)
}

// Load reads the registry record inside a transaction. Privileged operations
// call this on every invocation; admin identity is never cached across calls.
func Load(tx ledger.Tx) (custody.Registry, error) {
	addr, _ := StateAddress()
	data, err := tx.GetRecord(addr)
	if errors.Is(err, ledger.ErrRecordNotFound) {
		return custody.Registry{}, custody.ErrRegistryNotInitialized
	}
	if err != nil {
		return custody.Registry{}, err
	}
	return custody.UnmarshalRegistry(data)
}

// RequireAdmin verifies the presented caller against the registry record.
func RequireAdmin(tx ledger.Tx, caller identity.ID) error {
	reg, err := Load(tx)
	if err != nil {
		return err
	}
	if !reg.Admin.Equal(caller) {
		return fmt.Errorf("caller %s is not the registry admin: %w", caller, custody.ErrNotAuthorized)
	}
	return nil
}

// Service manages registry bootstrap and admin rotation.
type Service struct {
	ledger ledger.Executor
	log    *logger.Logger
}

// New constructs a registry service.
func New(exec ledger.Executor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{ledger: exec, log: log}
}

// Initialize creates the registry record with the given admin. It can succeed
// only once; a second call fails with ErrRegistryInitialized.
func (s *Service) Initialize(ctx context.Context, admin identity.ID) error {
	if admin.IsZero() {
		return fmt.Errorf("admin identity is required")
	}

	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		addr, bump := StateAddress()
		reg := custody.Registry{Admin: admin, Bump: bump}
		if err := tx.CreateRecord(addr, reg.Marshal()); err != nil {
			if errors.Is(err, ledger.ErrRecordExists) {
				return custody.ErrRegistryInitialized
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithField("admin", admin.String()).Info("registry initialized")
	return nil
}

// UpdateAdmin rotates the admin identity. Only the current admin may call it.
func (s *Service) UpdateAdmin(ctx context.Context, caller, newAdmin identity.ID) error {
	if newAdmin.IsZero() {
		return fmt.Errorf("new admin identity is required")
	}

	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		reg, err := Load(tx)
		if err != nil {
			return err
		}
		if !reg.Admin.Equal(caller) {
			return fmt.Errorf("caller %s is not the registry admin: %w", caller, custody.ErrNotAuthorized)
		}
		reg.Admin = newAdmin
		addr, _ := StateAddress()
		return tx.PutRecord(addr, reg.Marshal())
	})
	if err != nil {
		return err
	}

	s.log.WithField("admin", newAdmin.String()).Info("registry admin updated")
	return nil
}

// Admin returns the current admin identity.
func (s *Service) Admin(ctx context.Context) (identity.ID, error) {
	var admin identity.ID
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		reg, err := Load(tx)
		if err != nil {
			return err
		}
		admin = reg.Admin
		return nil
	})
	return admin, err
}
