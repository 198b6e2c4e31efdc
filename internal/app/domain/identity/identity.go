// Package identity defines ledger identities: fixed 32-byte account keys with a
// base58 text form.
package identity

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58/base58"
)

// Size is the byte length of every ledger identity.
const Size = 32

// ID is a ledger account key. User wallets, merchants, vaults and record
// addresses all share this keyspace.
type ID [Size]byte

// Zero is the all-zero identity, used as the "unset" sentinel.
var Zero ID

// FromBytes copies a 32-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("invalid identity length: %d", len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// Parse decodes the base58 text form produced by String.
func Parse(s string) (ID, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Zero, fmt.Errorf("decode identity %q: %w", s, err)
	}
	return FromBytes(raw)
}

// String renders the identity in base58.
func (id ID) String() string {
	return base58.Encode(id[:])
}

// IsZero reports whether the identity is unset.
func (id ID) IsZero() bool {
	return bytes.Equal(id[:], Zero[:])
}

// Equal reports byte equality with other.
func (id ID) Equal(other ID) bool {
	return id == other
}

// MarshalText implements encoding.TextMarshaler so identities serialize as
// base58 in JSON payloads.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
