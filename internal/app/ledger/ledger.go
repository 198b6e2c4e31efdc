// Package ledger abstracts the atomic transaction executor the custody layer
// runs on: account balances, transfer primitives, keyed record storage with
// deterministic sub-account derivation, and a transaction clock.
//
// Every custody operation executes as a single Execute call. The executor
// commits all effects together or none; the engine never performs manual
// rollback.
package ledger

import (
	"context"
	"errors"
	"hash"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
)

// Asset names a currency tracked by the ledger.
type Asset string

const (
	// AssetSOL is the native currency.
	AssetSOL Asset = "sol"
	// AssetUSDC is the pooled payment token.
	AssetUSDC Asset = "usdc"
)

// Errors surfaced by executor implementations.
var (
	// ErrRecordExists is returned by CreateRecord when the derived address is
	// already claimed. Record creation doubling as a uniqueness check is what
	// makes session replay a storage-level failure.
	ErrRecordExists = errors.New("record already exists at address")

	// ErrRecordNotFound is returned when no record lives at the address.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInsufficientBalance is returned when a transfer exceeds the source
	// account balance.
	ErrInsufficientBalance = errors.New("insufficient account balance")

	// ErrBadAuthority is returned when the presented authority does not
	// control the debited account.
	ErrBadAuthority = errors.New("authority does not control source account")
)

// Executor runs custody operations as serializable, all-or-nothing
// transactions. Conflicting concurrent operations are resolved by the
// executor; at most one of a racing pair commits.
type Executor interface {
	Execute(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of ledger state inside one transaction. All mutations are
// staged and only take effect if the Execute callback returns nil.
type Tx interface {
	// Balance returns the asset balance of an account. Accounts that never
	// received funds report zero.
	Balance(addr identity.ID, asset Asset) (uint64, error)

	// Transfer moves amount from one account to another. The authority must
	// control the source account.
	Transfer(from, to identity.ID, asset Asset, amount uint64, auth Authority) error

	// CreateRecord claims an address and stores the record bytes. Fails with
	// ErrRecordExists when the address is already claimed.
	CreateRecord(addr identity.ID, data []byte) error

	// GetRecord returns the record bytes at the address.
	GetRecord(addr identity.ID) ([]byte, error)

	// PutRecord overwrites an existing record.
	PutRecord(addr identity.ID, data []byte) error

	// CloseRecord deletes the record and releases the address.
	CloseRecord(addr identity.ID) error

	// Now returns the transaction timestamp.
	Now() time.Time
}

// Authority authorizes outbound transfers from an account. It is a capability:
// either a host-verified caller signature or a derivation proof for a
// sub-account, never ambient trust.
type Authority interface {
	// Account returns the address this authority controls.
	Account() identity.ID
}

// Signer is the authority of a caller whose signature the host executor has
// already verified before dispatching the operation.
type Signer struct {
	ID identity.ID
}

// Account implements Authority.
func (s Signer) Account() identity.ID { return s.ID }

// Derived proves control of a derived sub-account by re-presenting its
// derivation inputs. Account recomputes the address from the inputs, so a
// proof that does not match the debited account is rejected at transfer time.
type Derived struct {
	Purpose string
	Seeds   [][]byte
}

// Account implements Authority.
func (d Derived) Account() identity.ID {
	addr, _ := Derive(d.Purpose, d.Seeds...)
	return addr
}

// Derive computes the deterministic sub-account address for (purpose, seeds),
// plus a bump byte persisted alongside records claimed at the address. Inputs
// are length-prefixed so distinct seed lists can never collide.
func Derive(purpose string, seeds ...[]byte) (identity.ID, byte) {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // keyless blake2b cannot fail
	}
	writeLenPrefixed(h, []byte(purpose))
	for _, seed := range seeds {
		writeLenPrefixed(h, seed)
	}
	sum := h.Sum(nil)

	var addr identity.ID
	copy(addr[:], sum)
	return addr, sum[len(sum)-1]
}

func writeLenPrefixed(h hash.Hash, b []byte) {
	h.Write([]byte{byte(len(b) >> 8), byte(len(b))})
	h.Write(b)
}
