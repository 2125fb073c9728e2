package school

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/amboseli-lewis/sms/core"
)

type (
	StudentFilter struct {
		SchoolClassIDs []string
		Statuses       []string
		// ClassNames matches students whose current class has one of these names.
		ClassNames []string
	}

	// StudentPaymentTotal is the sum of a student's payments for one term.
	StudentPaymentTotal struct {
		StudentID string          `db:"student_id"`
		Total     decimal.Decimal `db:"total"`
	}

	// Repository is the persistence contract of the school records.
	// Lookups of a missing record return an error for which core.IsNotFound is true;
	// writes breaking a uniqueness constraint return a core.ConflictError.
	Repository interface {
		// classes
		CreateClass(ctx context.Context, cls SchoolClass) (SchoolClass, error)
		QueryClasses(ctx context.Context) ([]SchoolClass, error) // ordered by name
		GetClass(ctx context.Context, id string) (SchoolClass, error)
		GetClassesByName(ctx context.Context, names ...string) (map[string]SchoolClass, error)
		UpdateClass(ctx context.Context, cls SchoolClass) (SchoolClass, error)

		// students
		CreateStudents(ctx context.Context, students ...Student) error
		GetStudent(ctx context.Context, id string) (Student, error)
		QueryStudents(ctx context.Context, filter StudentFilter) ([]Student, error) // ordered by name
		ExistingAdmissionNumbers(ctx context.Context, numbers ...string) ([]string, error)
		UpdateStudent(ctx context.Context, std Student) (Student, error)

		// terms
		CreateTerm(ctx context.Context, term Term) (Term, error)
		GetCurrentTerm(ctx context.Context) (Term, error)
		TermNameExists(ctx context.Context, name string) (bool, error)
		QueryTerms(ctx context.Context) ([]Term, error) // current first, then newest
		ClearCurrentTerm(ctx context.Context) error

		// payments
		CreatePayment(ctx context.Context, pmt Payment) (Payment, error)
		QueryStudentPayments(ctx context.Context, studentID string) ([]PaymentWithTerm, error) // newest first
		SumPaymentsByStudent(ctx context.Context, termID string) ([]StudentPaymentTotal, error)

		// promotions
		CreatePromotionLog(ctx context.Context, log PromotionLog) (PromotionLog, error)
		GetPromotionLog(ctx context.Context, id string) (PromotionLog, error)
		QueryPromotionLogs(ctx context.Context) ([]PromotionLog, error) // newest first
		UpdatePromotionLog(ctx context.Context, log PromotionLog) (PromotionLog, error)
		CreatePromotionRecords(ctx context.Context, records ...StudentPromotionRecord) error
		QueryPromotionRecords(ctx context.Context, logID string) ([]StudentPromotionRecord, error)
	}

	// Store is a Repository able to run a unit of work atomically.
	Store interface {
		Repository

		// Atomic runs fn inside a single transaction: it commits when fn returns nil and rolls back otherwise.
		// opts may be nil for the backend defaults.
		Atomic(ctx context.Context, opts *core.TxOptions, fn func(ctx context.Context, repo Repository) error) error
	}
)

func paymentTotals(totals []StudentPaymentTotal) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(totals))
	for _, t := range totals {
		m[t.StudentID] = t.Total
	}
	return m
}
