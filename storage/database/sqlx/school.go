package sqlxrepos

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
)

// repository implements school.Repository on a connection or a transaction.
type repository struct {
	db core.DBExecutor
}

var _ school.Repository = (*repository)(nil)

func (r *repository) namedExec(ctx context.Context, query string, arg interface{}, notFound error) error {
	res, err := sqlx.NamedExecContext(ctx, r.db, query, arg)
	if err != nil {
		return dbError(err, notFound)
	}
	if notFound != nil {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return notFound
		}
	}
	return nil
}

// classes

const classColumns = "id, name, term_fee, created_at, updated_at"

func (r *repository) CreateClass(ctx context.Context, cls school.SchoolClass) (school.SchoolClass, error) {
	q := `INSERT INTO school_class (` + classColumns + `) VALUES (:id, :name, :term_fee, :created_at, :updated_at)`
	return cls, r.namedExec(ctx, q, cls, nil)
}

func (r *repository) QueryClasses(ctx context.Context) ([]school.SchoolClass, error) {
	var classes []school.SchoolClass
	err := r.db.SelectContext(ctx, &classes, `SELECT `+classColumns+` FROM school_class ORDER BY name`)
	return classes, dbError(err, nil)
}

func (r *repository) GetClass(ctx context.Context, id string) (school.SchoolClass, error) {
	var cls school.SchoolClass
	err := r.db.GetContext(ctx, &cls, `SELECT `+classColumns+` FROM school_class WHERE id = $1`, id)
	return cls, dbError(err, school.ErrNotFound)
}

func (r *repository) GetClassesByName(ctx context.Context, names ...string) (map[string]school.SchoolClass, error) {
	var classes []school.SchoolClass
	q := `SELECT ` + classColumns + ` FROM school_class WHERE name = ANY($1)`
	if err := r.db.SelectContext(ctx, &classes, q, pq.Array(names)); err != nil {
		return nil, dbError(err, nil)
	}
	byName := make(map[string]school.SchoolClass, len(classes))
	for _, cls := range classes {
		byName[cls.Name] = cls
	}
	return byName, nil
}

func (r *repository) UpdateClass(ctx context.Context, cls school.SchoolClass) (school.SchoolClass, error) {
	q := `UPDATE school_class SET name = :name, term_fee = :term_fee, updated_at = :updated_at WHERE id = :id`
	return cls, r.namedExec(ctx, q, cls, school.ErrNotFound)
}

// students

const studentColumns = "s.id, s.name, s.admission_number, s.school_class_id, s.status, s.arrears, s.created_at, s.updated_at"

func (r *repository) CreateStudents(ctx context.Context, students ...school.Student) error {
	q := `INSERT INTO student (id, name, admission_number, school_class_id, status, arrears, created_at, updated_at)
		VALUES (:id, :name, :admission_number, :school_class_id, :status, :arrears, :created_at, :updated_at)`
	for _, std := range students {
		if err := r.namedExec(ctx, q, std, nil); err != nil {
			return errors.Wrapf(err, "inserting student %s", std.AdmissionNumber)
		}
	}
	return nil
}

func (r *repository) GetStudent(ctx context.Context, id string) (school.Student, error) {
	var std school.Student
	err := r.db.GetContext(ctx, &std, `SELECT `+studentColumns+` FROM student s WHERE s.id = $1`, id)
	return std, dbError(err, school.ErrNotFound)
}

func (r *repository) QueryStudents(ctx context.Context, filter school.StudentFilter) ([]school.Student, error) {
	var (
		conds []string
		args  []interface{}
	)
	where := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(filter.SchoolClassIDs) > 0 {
		where("s.school_class_id = ANY($%d::uuid[])", pq.Array(filter.SchoolClassIDs))
	}
	if len(filter.Statuses) > 0 {
		where("s.status = ANY($%d)", pq.Array(filter.Statuses))
	}
	if len(filter.ClassNames) > 0 {
		where("c.name = ANY($%d)", pq.Array(filter.ClassNames))
	}

	q := `SELECT ` + studentColumns + ` FROM student s JOIN school_class c ON c.id = s.school_class_id`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY s.name, s.admission_number"

	var students []school.Student
	err := r.db.SelectContext(ctx, &students, q, args...)
	return students, dbError(err, nil)
}

func (r *repository) ExistingAdmissionNumbers(ctx context.Context, numbers ...string) ([]string, error) {
	var existing []string
	if len(numbers) == 0 {
		return existing, nil
	}
	q := `SELECT admission_number FROM student WHERE admission_number = ANY($1)`
	err := r.db.SelectContext(ctx, &existing, q, pq.Array(numbers))
	return existing, dbError(err, nil)
}

func (r *repository) UpdateStudent(ctx context.Context, std school.Student) (school.Student, error) {
	q := `UPDATE student SET
			name = :name,
			admission_number = :admission_number,
			school_class_id = :school_class_id,
			status = :status,
			arrears = :arrears,
			updated_at = :updated_at
		WHERE id = :id`
	return std, r.namedExec(ctx, q, std, school.ErrNotFound)
}

// terms

const termColumns = "id, name, start_date, end_date, is_current, created_at"

func (r *repository) CreateTerm(ctx context.Context, term school.Term) (school.Term, error) {
	q := `INSERT INTO term (` + termColumns + `) VALUES (:id, :name, :start_date, :end_date, :is_current, :created_at)`
	return term, r.namedExec(ctx, q, term, nil)
}

func (r *repository) GetCurrentTerm(ctx context.Context) (school.Term, error) {
	var term school.Term
	err := r.db.GetContext(ctx, &term, `SELECT `+termColumns+` FROM term WHERE is_current LIMIT 1`)
	return term, dbError(err, school.ErrNotFound)
}

func (r *repository) TermNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM term WHERE name = $1)`, name)
	return exists, dbError(err, nil)
}

func (r *repository) QueryTerms(ctx context.Context) ([]school.Term, error) {
	var terms []school.Term
	q := `SELECT ` + termColumns + ` FROM term ORDER BY is_current DESC, start_date DESC, created_at DESC`
	err := r.db.SelectContext(ctx, &terms, q)
	return terms, dbError(err, nil)
}

func (r *repository) ClearCurrentTerm(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE term SET is_current = FALSE WHERE is_current`)
	return dbError(err, nil)
}

// payments

const paymentColumns = "p.id, p.student_id, p.term_id, p.amount, p.method, p.reference, p.notes, p.recorded_by, p.created_at"

func (r *repository) CreatePayment(ctx context.Context, pmt school.Payment) (school.Payment, error) {
	q := `INSERT INTO payment (id, student_id, term_id, amount, method, reference, notes, recorded_by, created_at)
		VALUES (:id, :student_id, :term_id, :amount, :method, :reference, :notes, :recorded_by, :created_at)`
	return pmt, r.namedExec(ctx, q, pmt, nil)
}

func (r *repository) QueryStudentPayments(ctx context.Context, studentID string) ([]school.PaymentWithTerm, error) {
	var payments []school.PaymentWithTerm
	q := `SELECT ` + paymentColumns + `, t.name AS term_name
		FROM payment p LEFT JOIN term t ON t.id = p.term_id
		WHERE p.student_id = $1
		ORDER BY p.created_at DESC`
	err := r.db.SelectContext(ctx, &payments, q, studentID)
	return payments, dbError(err, nil)
}

func (r *repository) SumPaymentsByStudent(ctx context.Context, termID string) ([]school.StudentPaymentTotal, error) {
	var totals []school.StudentPaymentTotal
	q := `SELECT student_id, SUM(amount) AS total FROM payment WHERE term_id = $1 GROUP BY student_id`
	err := r.db.SelectContext(ctx, &totals, q, termID)
	return totals, dbError(err, nil)
}

// promotions

const promotionLogColumns = "id, triggered_by, status, created_at, rolled_back_by, rolled_back_at"

func (r *repository) CreatePromotionLog(ctx context.Context, log school.PromotionLog) (school.PromotionLog, error) {
	q := `INSERT INTO promotion_log (` + promotionLogColumns + `)
		VALUES (:id, :triggered_by, :status, :created_at, :rolled_back_by, :rolled_back_at)`
	return log, r.namedExec(ctx, q, log, nil)
}

func (r *repository) GetPromotionLog(ctx context.Context, id string) (school.PromotionLog, error) {
	var log school.PromotionLog
	err := r.db.GetContext(ctx, &log, `SELECT `+promotionLogColumns+` FROM promotion_log WHERE id = $1`, id)
	return log, dbError(err, school.ErrNotFound)
}

func (r *repository) QueryPromotionLogs(ctx context.Context) ([]school.PromotionLog, error) {
	var logs []school.PromotionLog
	err := r.db.SelectContext(ctx, &logs, `SELECT `+promotionLogColumns+` FROM promotion_log ORDER BY created_at DESC`)
	return logs, dbError(err, nil)
}

func (r *repository) UpdatePromotionLog(ctx context.Context, log school.PromotionLog) (school.PromotionLog, error) {
	q := `UPDATE promotion_log SET
			status = :status,
			rolled_back_by = :rolled_back_by,
			rolled_back_at = :rolled_back_at
		WHERE id = :id`
	return log, r.namedExec(ctx, q, log, school.ErrNotFound)
}

func (r *repository) CreatePromotionRecords(ctx context.Context, records ...school.StudentPromotionRecord) error {
	q := `INSERT INTO student_promotion_record
			(id, promotion_log_id, student_id, student_name, previous_school_class_id, new_school_class_id)
		VALUES
			(:id, :promotion_log_id, :student_id, :student_name, :previous_school_class_id, :new_school_class_id)`
	for _, rec := range records {
		if err := r.namedExec(ctx, q, rec, nil); err != nil {
			return errors.Wrapf(err, "inserting promotion record of student %s", rec.StudentID)
		}
	}
	return nil
}

func (r *repository) QueryPromotionRecords(ctx context.Context, logID string) ([]school.StudentPromotionRecord, error) {
	var records []school.StudentPromotionRecord
	q := `SELECT id, promotion_log_id, student_id, student_name, previous_school_class_id, new_school_class_id
		FROM student_promotion_record
		WHERE promotion_log_id = $1
		ORDER BY student_name`
	err := r.db.SelectContext(ctx, &records, q, logID)
	return records, dbError(err, nil)
}
