package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
)

// postgres error codes
const (
	uniqueViolation      = "23505"
	foreignKeyViolation  = "23503"
	invalidTextRepr      = "22P02"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	lockNotAvailable     = "55P03"
	queryCanceled        = "57014"
	adminShutdown        = "57P01"
	crashShutdown        = "57P02"
	cannotConnectNow     = "57P03"
)

var errConcurrentUpdate = core.NewConflictError("The records were modified concurrently. Please try again.")

// dbError translates driver errors into the domain errors. notFound is returned for missing rows.
func dbError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	cause := errors.Cause(err)
	if cause == sql.ErrNoRows && notFound != nil {
		return notFound
	}
	if pqErr, ok := cause.(*pq.Error); ok {
		switch pqErr.Code {
		case uniqueViolation:
			return core.NewConflictError(fmt.Sprintf("duplicate value violates %s", pqErr.Constraint))
		case foreignKeyViolation:
			return core.NewNotFoundError(fmt.Sprintf("referenced record missing (%s)", pqErr.Constraint))
		case invalidTextRepr:
			if notFound != nil {
				return notFound
			}
		case serializationFailure, deadlockDetected, lockNotAvailable:
			return errConcurrentUpdate
		case adminShutdown, crashShutdown, cannotConnectNow:
			return core.NewShutdownError(fmt.Sprintf("database unavailable: %s", pqErr.Message))
		}
	}
	return err
}

// Store is the PostgreSQL school.Store.
type Store struct {
	*repository
	db *sqlx.DB
}

var _ school.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{repository: &repository{db: db}, db: db}
}

// Atomic runs fn in a transaction. opts.MaxWait sets the lock_timeout of the transaction
// and opts.Timeout cancels it (and rolls it back) once elapsed.
func (s *Store) Atomic(ctx context.Context, opts *core.TxOptions, fn func(ctx context.Context, repo school.Repository) error) (err error) {
	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTxx(ctx, opts.SQL())
	if err != nil {
		return txError(ctx, errors.Wrap(err, "beginning transaction"))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if opts != nil && opts.MaxWait > 0 {
		q := fmt.Sprintf("SET LOCAL lock_timeout = %d", opts.MaxWait.Milliseconds())
		if _, err = tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return txError(ctx, errors.Wrap(err, "setting lock timeout"))
		}
	}

	if err = fn(ctx, &repository{db: tx}); err != nil {
		_ = tx.Rollback()
		return txError(ctx, err)
	}
	if err = tx.Commit(); err != nil {
		return txError(ctx, dbError(errors.Wrap(err, "committing transaction"), nil))
	}
	return nil
}

func txError(ctx context.Context, err error) error {
	if errors.Cause(ctx.Err()) == context.DeadlineExceeded {
		return errors.Wrap(core.ErrTxTimeout, err.Error())
	}
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == queryCanceled {
		return errors.Wrap(core.ErrTxTimeout, err.Error())
	}
	return dbError(err, nil)
}
