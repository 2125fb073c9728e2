package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/user"
)

var errConcurrentUpdate = core.NewConflictError("The records were modified concurrently. Please try again.")

type (
	// DB keeps every record in memory. School records change through units of work:
	// a unit of work edits a private copy of the tables, which replaces the shared one on commit.
	DB struct {
		mu     sync.RWMutex
		school *schoolTables
		txLock chan struct{} // one unit of work at a time

		user *userTable
	}

	schoolTables struct {
		classes          map[string]school.SchoolClass
		students         map[string]school.Student
		terms            map[string]school.Term
		payments         map[string]school.Payment
		promotionLogs    map[string]school.PromotionLog
		promotionRecords map[string]school.StudentPromotionRecord
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}
)

func Open() *DB {
	return &DB{
		school: newSchoolTables(),
		txLock: make(chan struct{}, 1),
		user:   &userTable{table: make(map[string]*user.User)},
	}
}

func newSchoolTables() *schoolTables {
	return &schoolTables{
		classes:          make(map[string]school.SchoolClass),
		students:         make(map[string]school.Student),
		terms:            make(map[string]school.Term),
		payments:         make(map[string]school.Payment),
		promotionLogs:    make(map[string]school.PromotionLog),
		promotionRecords: make(map[string]school.StudentPromotionRecord),
	}
}

func (t *schoolTables) clone() *schoolTables {
	c := newSchoolTables()
	for k, v := range t.classes {
		c.classes[k] = v
	}
	for k, v := range t.students {
		c.students[k] = v
	}
	for k, v := range t.terms {
		c.terms[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.promotionLogs {
		c.promotionLogs[k] = v
	}
	for k, v := range t.promotionRecords {
		c.promotionRecords[k] = v
	}
	return c
}

// atomic runs fn on a copy of the school tables and publishes the copy when fn succeeds in time.
// The copy of a read-only unit of work is discarded.
// opts.MaxWait bounds the wait for the running unit of work; opts.Timeout bounds the whole unit.
func (db *DB) atomic(ctx context.Context, opts *core.TxOptions, fn func(ctx context.Context, tables *schoolTables) error) error {
	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var wait <-chan time.Time
	if opts != nil && opts.MaxWait > 0 {
		timer := time.NewTimer(opts.MaxWait)
		defer timer.Stop()
		wait = timer.C
	}
	select {
	case db.txLock <- struct{}{}:
	case <-wait:
		return errConcurrentUpdate
	case <-ctx.Done():
		return txError(ctx)
	}
	defer func() { <-db.txLock }()

	db.mu.RLock()
	tables := db.school.clone()
	db.mu.RUnlock()

	if err := fn(ctx, tables); err != nil {
		if ctx.Err() != nil {
			return txError(ctx)
		}
		return err
	}
	if ctx.Err() != nil {
		return txError(ctx)
	}
	if opts != nil && opts.ReadOnly {
		return nil
	}

	db.mu.Lock()
	db.school = tables
	db.mu.Unlock()
	return nil
}

func (db *DB) read(fn func(tables *schoolTables)) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	fn(db.school)
}

func txError(ctx context.Context) error {
	if errors.Cause(ctx.Err()) == context.DeadlineExceeded {
		return core.ErrTxTimeout
	}
	return ctx.Err()
}
