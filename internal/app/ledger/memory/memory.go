// Package memory provides an in-memory ledger executor. It is intended for
// tests and single-node deployments and deliberately keeps the implementation
// simple: transactions serialize on one mutex, which trivially satisfies the
// serializable-commit contract.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
)

type balanceKey struct {
	addr  identity.ID
	asset ledger.Asset
}

// Ledger is a thread-safe in-memory ledger executor. Effects of a transaction
// are staged in an overlay and applied only when the callback returns nil.
type Ledger struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64
	records  map[identity.ID][]byte
	now      func() time.Time
}

var _ ledger.Executor = (*Ledger)(nil)

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[balanceKey]uint64),
		records:  make(map[identity.ID][]byte),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the transaction clock. Tests use this to pin timestamps.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Fund credits an account outside any transaction. It stands in for the
// host's external deposit primitive when seeding users and treasuries.
func (l *Ledger) Fund(addr identity.ID, asset ledger.Asset, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey{addr, asset}] += amount
}

// BalanceOf reads a committed balance. Intended for inspection and tests.
func (l *Ledger) BalanceOf(addr identity.ID, asset ledger.Asset) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{addr, asset}]
}

// Execute runs fn as one atomic transaction. A non-nil error discards every
// staged effect.
func (l *Ledger) Execute(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memTx{
		ledger:     l,
		balances:   make(map[balanceKey]uint64),
		records:    make(map[identity.ID][]byte),
		tombstones: make(map[identity.ID]bool),
		stamp:      l.now(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// memTx stages reads and writes for one transaction.
type memTx struct {
	ledger     *Ledger
	balances   map[balanceKey]uint64
	records    map[identity.ID][]byte
	tombstones map[identity.ID]bool
	stamp      time.Time
}

var _ ledger.Tx = (*memTx)(nil)

func (t *memTx) Now() time.Time { return t.stamp }

func (t *memTx) balance(key balanceKey) uint64 {
	if v, ok := t.balances[key]; ok {
		return v
	}
	return t.ledger.balances[key]
}

func (t *memTx) Balance(addr identity.ID, asset ledger.Asset) (uint64, error) {
	return t.balance(balanceKey{addr, asset}), nil
}

func (t *memTx) Transfer(from, to identity.ID, asset ledger.Asset, amount uint64, auth ledger.Authority) error {
	if auth == nil || auth.Account() != from {
		return fmt.Errorf("transfer from %s: %w", from, ledger.ErrBadAuthority)
	}

	fromKey := balanceKey{from, asset}
	available := t.balance(fromKey)
	if available < amount {
		return fmt.Errorf("transfer %d %s from %s (available %d): %w",
			amount, asset, from, available, ledger.ErrInsufficientBalance)
	}

	toKey := balanceKey{to, asset}
	t.balances[fromKey] = available - amount
	t.balances[toKey] = t.balance(toKey) + amount
	return nil
}

func (t *memTx) record(addr identity.ID) ([]byte, bool) {
	if t.tombstones[addr] {
		return nil, false
	}
	if data, ok := t.records[addr]; ok {
		return data, true
	}
	data, ok := t.ledger.records[addr]
	return data, ok
}

func (t *memTx) CreateRecord(addr identity.ID, data []byte) error {
	if _, ok := t.record(addr); ok {
		return fmt.Errorf("create record at %s: %w", addr, ledger.ErrRecordExists)
	}
	delete(t.tombstones, addr)
	t.records[addr] = append([]byte(nil), data...)
	return nil
}

func (t *memTx) GetRecord(addr identity.ID) ([]byte, error) {
	data, ok := t.record(addr)
	if !ok {
		return nil, fmt.Errorf("record at %s: %w", addr, ledger.ErrRecordNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (t *memTx) PutRecord(addr identity.ID, data []byte) error {
	if _, ok := t.record(addr); !ok {
		return fmt.Errorf("update record at %s: %w", addr, ledger.ErrRecordNotFound)
	}
	t.records[addr] = append([]byte(nil), data...)
	return nil
}

func (t *memTx) CloseRecord(addr identity.ID) error {
	if _, ok := t.record(addr); !ok {
		return fmt.Errorf("close record at %s: %w", addr, ledger.ErrRecordNotFound)
	}
	delete(t.records, addr)
	t.tombstones[addr] = true
	return nil
}

func (t *memTx) apply() {
	for key, value := range t.balances {
		if value == 0 {
			delete(t.ledger.balances, key)
			continue
		}
		t.ledger.balances[key] = value
	}
	for addr := range t.tombstones {
		delete(t.ledger.records, addr)
	}
	for addr, data := range t.records {
		t.ledger.records[addr] = data
	}
}
