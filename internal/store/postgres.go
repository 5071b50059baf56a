package store

import (
	"context"
	"fmt"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/sqlinline"
)

// PostgresBackend stores keys in the closet_kv table. Updates take a
// transaction-scoped advisory lock so concurrent writers serialize.
type PostgresBackend struct {
	sql infra.TxRunner
}

// NewPostgresBackend ensures the schema exists and returns the backend.
func NewPostgresBackend(ctx context.Context, runner infra.TxRunner) (*PostgresBackend, error) {
	if _, err := runner.Exec(ctx, sqlinline.QEnsureKVSchema); err != nil {
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &PostgresBackend{sql: runner}, nil
}

func (b *PostgresBackend) View(ctx context.Context, fn func(Tx) error) error {
	return b.sql.InReadTx(ctx, func(exec infra.SQLExecutor) error {
		return fn(pgTx{sql: exec, readOnly: true})
	})
}

func (b *PostgresBackend) Update(ctx context.Context, fn func(Tx) error) error {
	return b.sql.InTx(ctx, func(exec infra.SQLExecutor) error {
		if _, err := exec.Exec(ctx, sqlinline.QLockKV); err != nil {
			return fmt.Errorf("store: lock: %w", err)
		}
		return fn(pgTx{sql: exec})
	})
}

// Close is a no-op; the pool is owned by the caller.
func (b *PostgresBackend) Close() error { return nil }

type pgTx struct {
	sql      infra.SQLExecutor
	readOnly bool
}

func (t pgTx) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	if err := t.sql.QueryRow(ctx, sqlinline.QSelectKV, key).Scan(&value); err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, nil
}

func (t pgTx) Put(ctx context.Context, key string, value []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.sql.Exec(ctx, sqlinline.QUpsertKV, key, value); err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

func (t pgTx) Delete(ctx context.Context, key string) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.sql.Exec(ctx, sqlinline.QDeleteKV, key); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}
