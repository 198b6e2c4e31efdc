// Package postgres implements the ledger executor on PostgreSQL. Each Execute
// call maps to one SERIALIZABLE database transaction, so atomic commit/abort
// and write-conflict detection are delegated to the database engine: one of a
// racing pair of operations fails at commit and leaves no partial state.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
)

// Ledger is a PostgreSQL-backed ledger executor.
type Ledger struct {
	db *sql.DB
}

var _ ledger.Executor = (*Ledger)(nil)

// New creates a Ledger using the provided database handle.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	l := New(db)
	if err := l.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// EnsureSchema creates the ledger tables when they do not exist yet.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS custody_balances (
			address TEXT    NOT NULL,
			asset   TEXT    NOT NULL,
			amount  BIGINT  NOT NULL CHECK (amount >= 0),
			PRIMARY KEY (address, asset)
		)`,
		`CREATE TABLE IF NOT EXISTS custody_records (
			address    TEXT        PRIMARY KEY,
			data       BYTEA       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS custody_transfers (
			id           TEXT        PRIMARY KEY,
			from_address TEXT        NOT NULL,
			to_address   TEXT        NOT NULL,
			asset        TEXT        NOT NULL,
			amount       BIGINT      NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

// Fund credits an account outside any operation. It stands in for the host's
// external deposit primitive when seeding users and treasuries.
func (l *Ledger) Fund(ctx context.Context, addr identity.ID, asset ledger.Asset, amount uint64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO custody_balances (address, asset, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, asset)
		DO UPDATE SET amount = custody_balances.amount + EXCLUDED.amount
	`, addr.String(), string(asset), int64(amount))
	if err != nil {
		return fmt.Errorf("fund %s: %w", addr, err)
	}
	return nil
}

// Execute runs fn inside one SERIALIZABLE transaction.
func (l *Ledger) Execute(ctx context.Context, fn func(tx ledger.Tx) error) error {
	dbTx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}

	t := &pgTx{ctx: ctx, tx: dbTx, stamp: time.Now().UTC()}
	if err := fn(t); err != nil {
		dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", mapError(err))
	}
	return nil
}

type pgTx struct {
	ctx   context.Context
	tx    *sql.Tx
	stamp time.Time
}

var _ ledger.Tx = (*pgTx)(nil)

func (t *pgTx) Now() time.Time { return t.stamp }

func (t *pgTx) Balance(addr identity.ID, asset ledger.Asset) (uint64, error) {
	var amount int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT amount FROM custody_balances WHERE address = $1 AND asset = $2
	`, addr.String(), string(asset)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", addr, mapError(err))
	}
	return uint64(amount), nil
}

func (t *pgTx) Transfer(from, to identity.ID, asset ledger.Asset, amount uint64, auth ledger.Authority) error {
	if auth == nil || auth.Account() != from {
		return fmt.Errorf("transfer from %s: %w", from, ledger.ErrBadAuthority)
	}

	available, err := t.Balance(from, asset)
	if err != nil {
		return err
	}
	if available < amount {
		return fmt.Errorf("transfer %d %s from %s (available %d): %w",
			amount, asset, from, available, ledger.ErrInsufficientBalance)
	}

	if _, err := t.tx.ExecContext(t.ctx, `
		UPDATE custody_balances SET amount = amount - $1 WHERE address = $2 AND asset = $3
	`, int64(amount), from.String(), string(asset)); err != nil {
		return fmt.Errorf("debit %s: %w", from, mapError(err))
	}

	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO custody_balances (address, asset, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, asset)
		DO UPDATE SET amount = custody_balances.amount + EXCLUDED.amount
	`, to.String(), string(asset), int64(amount)); err != nil {
		return fmt.Errorf("credit %s: %w", to, mapError(err))
	}

	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO custody_transfers (id, from_address, to_address, asset, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), from.String(), to.String(), string(asset), int64(amount), t.stamp); err != nil {
		return fmt.Errorf("journal transfer: %w", mapError(err))
	}
	return nil
}

func (t *pgTx) CreateRecord(addr identity.ID, data []byte) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO custody_records (address, data, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, addr.String(), data, t.stamp)
	if err != nil {
		return fmt.Errorf("create record at %s: %w", addr, mapError(err))
	}
	return nil
}

func (t *pgTx) GetRecord(addr identity.ID) ([]byte, error) {
	var data []byte
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT data FROM custody_records WHERE address = $1
	`, addr.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record at %s: %w", addr, ledger.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read record at %s: %w", addr, mapError(err))
	}
	return data, nil
}

func (t *pgTx) PutRecord(addr identity.ID, data []byte) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE custody_records SET data = $2, updated_at = $3 WHERE address = $1
	`, addr.String(), data, t.stamp)
	if err != nil {
		return fmt.Errorf("update record at %s: %w", addr, mapError(err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("update record at %s: %w", addr, ledger.ErrRecordNotFound)
	}
	return nil
}

func (t *pgTx) CloseRecord(addr identity.ID) error {
	res, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM custody_records WHERE address = $1
	`, addr.String())
	if err != nil {
		return fmt.Errorf("close record at %s: %w", addr, mapError(err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("close record at %s: %w", addr, ledger.ErrRecordNotFound)
	}
	return nil
}

// mapError converts driver error codes into the ledger sentinels callers
// match on.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return ledger.ErrRecordExists
		case pqSerializationFailure:
			return fmt.Errorf("write conflict, operation aborted: %w", err)
		}
	}
	return err
}
