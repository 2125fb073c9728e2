package inmemdb

import (
	"context"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
)

// Store is the in-memory school.Store. Reads see the last committed tables;
// each write outside of Atomic is a unit of work of its own.
type Store struct {
	db *DB
}

var _ school.Store = (*Store)(nil)

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Atomic(ctx context.Context, opts *core.TxOptions, fn func(ctx context.Context, repo school.Repository) error) error {
	return s.db.atomic(ctx, opts, func(ctx context.Context, tables *schoolTables) error {
		return fn(ctx, &repository{t: tables})
	})
}

func (s *Store) write(ctx context.Context, fn func(repo *repository) error) error {
	return s.db.atomic(ctx, nil, func(ctx context.Context, tables *schoolTables) error {
		return fn(&repository{t: tables})
	})
}

func (s *Store) read(fn func(repo *repository)) {
	s.db.read(func(tables *schoolTables) {
		fn(&repository{t: tables})
	})
}

// classes

func (s *Store) CreateClass(ctx context.Context, cls school.SchoolClass) (created school.SchoolClass, err error) {
	err = s.write(ctx, func(repo *repository) (err error) {
		created, err = repo.CreateClass(ctx, cls)
		return err
	})
	return created, err
}

func (s *Store) QueryClasses(ctx context.Context) (classes []school.SchoolClass, err error) {
	s.read(func(repo *repository) { classes, err = repo.QueryClasses(ctx) })
	return classes, err
}

func (s *Store) GetClass(ctx context.Context, id string) (cls school.SchoolClass, err error) {
	s.read(func(repo *repository) { cls, err = repo.GetClass(ctx, id) })
	return cls, err
}

func (s *Store) GetClassesByName(ctx context.Context, names ...string) (classes map[string]school.SchoolClass, err error) {
	s.read(func(repo *repository) { classes, err = repo.GetClassesByName(ctx, names...) })
	return classes, err
}

func (s *Store) UpdateClass(ctx context.Context, cls school.SchoolClass) (updated school.SchoolClass, err error) {
	err = s.write(ctx, func(repo *repository) (err error) {
		updated, err = repo.UpdateClass(ctx, cls)
		return err
	})
	return updated, err
}

// students

func (s *Store) CreateStudents(ctx context.Context, students ...school.Student) error {
	return s.write(ctx, func(repo *repository) error {
		return repo.CreateStudents(ctx, students...)
	})
}

func (s *Store) GetStudent(ctx context.Context, id string) (std school.Student, err error) {
	s.read(func(repo *repository) { std, err = repo.GetStudent(ctx, id) })
	return std, err
}

func (s *Store) QueryStudents(ctx context.Context, filter school.StudentFilter) (students []school.Student, err error) {
	s.read(func(repo *repository) { students, err = repo.QueryStudents(ctx, filter) })
	return students, err
}

func (s *Store) ExistingAdmissionNumbers(ctx context.Context, numbers ...string) (existing []string, err error) {
	s.read(func(repo *repository) { existing, err = repo.ExistingAdmissionNumbers(ctx, numbers...) })
	return existing, err
}

func (s *Store) UpdateStudent(ctx context.Context, std school.Student) (updated school.Student, err error) {
	err = s.write(ctx, func(repo *repository) (err error) {
		updated, err = repo.UpdateStudent(ctx, std)
		return err
	})
	return updated, err
}

// terms

func (s *Store) CreateTerm(ctx context.Context, term school.Term) (created school.Term, err error) {
	err = s.write(ctx, func(repo *repository) (err error) {
		created, err = repo.CreateTerm(ctx, term)
		return err
	})
	return created, err
}

func (s *Store) GetCurrentTerm(ctx context.Context) (term school.Term, err error) {
	s.read(func(repo *repository) { term, err = repo.GetCurrentTerm(ctx) })
	return term, err
}

func (s *Store) TermNameExists(ctx context.Context, name string) (exists bool, err error) {
	s.read(func(repo *repository) { exists, err = repo.TermNameExists(ctx, name) })
	return exists, err
}

func (s *Store) QueryTerms(ctx context.Context) (terms []school.Term, err error) {
	s.read(func(repo *repository) { terms, err = repo.QueryTerms(ctx) })
	return terms, err
}

func (s *Store) ClearCurrentTerm(ctx context.Context) error {
	return s.write(ctx, func(repo *repository) error {
		return repo.ClearCurrentTerm(ctx)
	})
}

// payments

func (s *Store) CreatePayment(ctx context.Context, pmt school.Payment) (created school.Payment, err error) {
	err = s.write(ctx, func(repo *repository) (err error) {
		created, err = repo.CreatePayment(ctx, pmt)
		return err
	})
	return created, err
}

func (s *Store) QueryStudentPayments(ctx context.Context, studentID string) (payments []school.PaymentWithTerm, err error) {
	s.read(func(repo *repository) { payments, err = repo.QueryStudentPayments(ctx, studentID) })
	return payments, err
}

func (s *Store) SumPaymentsByStudent(ctx context.Context, termID string) (totals []school.StudentPaymentTotal, err error) {
	s.read(func(repo *repository) { totals, err = repo.SumPaymentsByStudent(ctx, termID) })
	return totals, err
}

// promotions

func (s *Store) CreatePromotionLog(ctx context.Context, log school.PromotionLog) (created school.PromotionLog, err error) {
	err = s.write(ctx, func(repo *repository) (err error) {
		created, err = repo.CreatePromotionLog(ctx, log)
		return err
	})
	return created, err
}

func (s *Store) GetPromotionLog(ctx context.Context, id string) (log school.PromotionLog, err error) {
	s.read(func(repo *repository) { log, err = repo.GetPromotionLog(ctx, id) })
	return log, err
}

func (s *Store) QueryPromotionLogs(ctx context.Context) (logs []school.PromotionLog, err error) {
	s.read(func(repo *repository) { logs, err = repo.QueryPromotionLogs(ctx) })
	return logs, err
}

func (s *Store) UpdatePromotionLog(ctx context.Context, log school.PromotionLog) (updated school.PromotionLog, err error) {
	err = s.write(ctx, func(repo *repository) (err error) {
		updated, err = repo.UpdatePromotionLog(ctx, log)
		return err
	})
	return updated, err
}

func (s *Store) CreatePromotionRecords(ctx context.Context, records ...school.StudentPromotionRecord) error {
	return s.write(ctx, func(repo *repository) error {
		return repo.CreatePromotionRecords(ctx, records...)
	})
}

func (s *Store) QueryPromotionRecords(ctx context.Context, logID string) (records []school.StudentPromotionRecord, err error) {
	s.read(func(repo *repository) { records, err = repo.QueryPromotionRecords(ctx, logID) })
	return records, err
}
