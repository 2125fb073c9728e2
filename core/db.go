package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext
		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	}

	DB interface {
		DBExecutor

		BeginTxx(context.Context, *sql.TxOptions) (*sqlx.Tx, error)
	}
)

var (
	_ DBExecutor = (*sqlx.Tx)(nil)
	_ DB         = (*sqlx.DB)(nil)
)

// TxOptions configures a unit of work.
// MaxWait bounds how long a statement may wait on a lock; Timeout bounds the whole transaction.
// Zero values mean no limit.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
	MaxWait   time.Duration
	Timeout   time.Duration
}

func (opts *TxOptions) SQL() *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
}

// Serializable returns TxOptions using the strongest isolation level.
func Serializable(maxWait, timeout time.Duration) *TxOptions {
	return &TxOptions{Isolation: sql.LevelSerializable, MaxWait: maxWait, Timeout: timeout}
}

// Snapshot returns read-only TxOptions for reports that must see a consistent view.
func Snapshot() *TxOptions {
	return &TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

// ErrTxTimeout is returned when a transaction exceeds its time budget and is rolled back.
var ErrTxTimeout = errors.New("transaction timed out")
