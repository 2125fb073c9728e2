package inmemdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
)

// repository implements school.Repository over a set of tables; callers handle locking.
type repository struct {
	t *schoolTables
}

var _ school.Repository = (*repository)(nil)

func conflict(format string, args ...interface{}) error {
	return core.NewConflictError(fmt.Sprintf(format, args...))
}

// classes

func (r *repository) CreateClass(ctx context.Context, cls school.SchoolClass) (school.SchoolClass, error) {
	if err := ctx.Err(); err != nil {
		return school.SchoolClass{}, err
	}
	for _, c := range r.t.classes {
		if c.Name == cls.Name {
			return school.SchoolClass{}, conflict("class %q already exists", cls.Name)
		}
	}
	r.t.classes[cls.ID] = cls
	return cls, nil
}

func (r *repository) QueryClasses(ctx context.Context) ([]school.SchoolClass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	classes := make([]school.SchoolClass, 0, len(r.t.classes))
	for _, c := range r.t.classes {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}

func (r *repository) GetClass(ctx context.Context, id string) (school.SchoolClass, error) {
	if err := ctx.Err(); err != nil {
		return school.SchoolClass{}, err
	}
	if cls, ok := r.t.classes[id]; ok {
		return cls, nil
	}
	return school.SchoolClass{}, school.ErrNotFound
}

func (r *repository) GetClassesByName(ctx context.Context, names ...string) (map[string]school.SchoolClass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := stringSet(names)
	byName := make(map[string]school.SchoolClass, len(names))
	for _, c := range r.t.classes {
		if wanted[c.Name] {
			byName[c.Name] = c
		}
	}
	return byName, nil
}

func (r *repository) UpdateClass(ctx context.Context, cls school.SchoolClass) (school.SchoolClass, error) {
	if err := ctx.Err(); err != nil {
		return school.SchoolClass{}, err
	}
	orig, ok := r.t.classes[cls.ID]
	if !ok {
		return school.SchoolClass{}, school.ErrNotFound
	}
	cls.CreatedAt = orig.CreatedAt
	r.t.classes[cls.ID] = cls
	return cls, nil
}

// students

func (r *repository) CreateStudents(ctx context.Context, students ...school.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	numbers := make(map[string]bool, len(r.t.students)+len(students))
	for _, std := range r.t.students {
		numbers[std.AdmissionNumber] = true
	}
	for _, std := range students {
		if numbers[std.AdmissionNumber] {
			return conflict("admission number %q already exists", std.AdmissionNumber)
		}
		if _, ok := r.t.classes[std.SchoolClassID]; !ok {
			return school.ErrNotFound
		}
		numbers[std.AdmissionNumber] = true
	}
	for _, std := range students {
		r.t.students[std.ID] = std
	}
	return nil
}

func (r *repository) GetStudent(ctx context.Context, id string) (school.Student, error) {
	if err := ctx.Err(); err != nil {
		return school.Student{}, err
	}
	if std, ok := r.t.students[id]; ok {
		return std, nil
	}
	return school.Student{}, school.ErrNotFound
}

func (r *repository) QueryStudents(ctx context.Context, filter school.StudentFilter) ([]school.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	classIDs := stringSet(filter.SchoolClassIDs)
	statuses := stringSet(filter.Statuses)
	classNames := stringSet(filter.ClassNames)

	students := make([]school.Student, 0)
	for _, std := range r.t.students {
		if len(classIDs) > 0 && !classIDs[std.SchoolClassID] {
			continue
		}
		if len(statuses) > 0 && !statuses[std.Status] {
			continue
		}
		if len(classNames) > 0 && !classNames[r.t.classes[std.SchoolClassID].Name] {
			continue
		}
		students = append(students, std)
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].Name != students[j].Name {
			return students[i].Name < students[j].Name
		}
		return students[i].AdmissionNumber < students[j].AdmissionNumber
	})
	return students, nil
}

func (r *repository) ExistingAdmissionNumbers(ctx context.Context, numbers ...string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := stringSet(numbers)
	existing := make([]string, 0)
	for _, std := range r.t.students {
		if wanted[std.AdmissionNumber] {
			existing = append(existing, std.AdmissionNumber)
		}
	}
	sort.Strings(existing)
	return existing, nil
}

func (r *repository) UpdateStudent(ctx context.Context, std school.Student) (school.Student, error) {
	if err := ctx.Err(); err != nil {
		return school.Student{}, err
	}
	orig, ok := r.t.students[std.ID]
	if !ok {
		return school.Student{}, school.ErrNotFound
	}
	if _, ok := r.t.classes[std.SchoolClassID]; !ok {
		return school.Student{}, school.ErrNotFound
	}
	std.CreatedAt = orig.CreatedAt
	r.t.students[std.ID] = std
	return std, nil
}

// terms

func (r *repository) CreateTerm(ctx context.Context, term school.Term) (school.Term, error) {
	if err := ctx.Err(); err != nil {
		return school.Term{}, err
	}
	for _, t := range r.t.terms {
		if t.Name == term.Name {
			return school.Term{}, conflict("term %q already exists", term.Name)
		}
		if t.IsCurrent && term.IsCurrent {
			return school.Term{}, conflict("term %q is already current", t.Name)
		}
	}
	r.t.terms[term.ID] = term
	return term, nil
}

func (r *repository) GetCurrentTerm(ctx context.Context) (school.Term, error) {
	if err := ctx.Err(); err != nil {
		return school.Term{}, err
	}
	for _, t := range r.t.terms {
		if t.IsCurrent {
			return t, nil
		}
	}
	return school.Term{}, school.ErrNotFound
}

func (r *repository) TermNameExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, t := range r.t.terms {
		if t.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *repository) QueryTerms(ctx context.Context) ([]school.Term, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := make([]school.Term, 0, len(r.t.terms))
	for _, t := range r.t.terms {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		a, b := terms[i], terms[j]
		switch {
		case a.IsCurrent != b.IsCurrent:
			return a.IsCurrent
		case !a.StartDate.Equal(b.StartDate.Time):
			return a.StartDate.After(b.StartDate.Time)
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
	return terms, nil
}

func (r *repository) ClearCurrentTerm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, t := range r.t.terms {
		if t.IsCurrent {
			t.IsCurrent = false
			r.t.terms[id] = t
		}
	}
	return nil
}

// payments

func (r *repository) CreatePayment(ctx context.Context, pmt school.Payment) (school.Payment, error) {
	if err := ctx.Err(); err != nil {
		return school.Payment{}, err
	}
	if _, ok := r.t.students[pmt.StudentID]; !ok {
		return school.Payment{}, school.ErrNotFound
	}
	r.t.payments[pmt.ID] = pmt
	return pmt, nil
}

func (r *repository) QueryStudentPayments(ctx context.Context, studentID string) ([]school.PaymentWithTerm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payments := make([]school.PaymentWithTerm, 0)
	for _, pmt := range r.t.payments {
		if pmt.StudentID != studentID {
			continue
		}
		pwt := school.PaymentWithTerm{Payment: pmt}
		if term, ok := r.t.terms[pmt.TermID.String]; pmt.TermID.Valid && ok {
			pwt.TermName.SetValid(term.Name)
		}
		payments = append(payments, pwt)
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.After(payments[j].CreatedAt) })
	return payments, nil
}

func (r *repository) SumPaymentsByStudent(ctx context.Context, termID string) ([]school.StudentPaymentTotal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sums := make(map[string]decimal.Decimal)
	for _, pmt := range r.t.payments {
		if pmt.TermID.Valid && pmt.TermID.String == termID {
			sums[pmt.StudentID] = sums[pmt.StudentID].Add(pmt.Amount)
		}
	}
	totals := make([]school.StudentPaymentTotal, 0, len(sums))
	for id, total := range sums {
		totals = append(totals, school.StudentPaymentTotal{StudentID: id, Total: total})
	}
	return totals, nil
}

// promotions

func (r *repository) CreatePromotionLog(ctx context.Context, log school.PromotionLog) (school.PromotionLog, error) {
	if err := ctx.Err(); err != nil {
		return school.PromotionLog{}, err
	}
	r.t.promotionLogs[log.ID] = log
	return log, nil
}

func (r *repository) GetPromotionLog(ctx context.Context, id string) (school.PromotionLog, error) {
	if err := ctx.Err(); err != nil {
		return school.PromotionLog{}, err
	}
	if log, ok := r.t.promotionLogs[id]; ok {
		return log, nil
	}
	return school.PromotionLog{}, school.ErrNotFound
}

func (r *repository) QueryPromotionLogs(ctx context.Context) ([]school.PromotionLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logs := make([]school.PromotionLog, 0, len(r.t.promotionLogs))
	for _, log := range r.t.promotionLogs {
		logs = append(logs, log)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	return logs, nil
}

func (r *repository) UpdatePromotionLog(ctx context.Context, log school.PromotionLog) (school.PromotionLog, error) {
	if err := ctx.Err(); err != nil {
		return school.PromotionLog{}, err
	}
	orig, ok := r.t.promotionLogs[log.ID]
	if !ok {
		return school.PromotionLog{}, school.ErrNotFound
	}
	log.CreatedAt = orig.CreatedAt
	log.TriggeredBy = orig.TriggeredBy
	r.t.promotionLogs[log.ID] = log
	return log, nil
}

func (r *repository) CreatePromotionRecords(ctx context.Context, records ...school.StudentPromotionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, rec := range records {
		if _, ok := r.t.promotionLogs[rec.PromotionLogID]; !ok {
			return school.ErrNotFound
		}
	}
	for _, rec := range records {
		r.t.promotionRecords[rec.ID] = rec
	}
	return nil
}

func (r *repository) QueryPromotionRecords(ctx context.Context, logID string) ([]school.StudentPromotionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]school.StudentPromotionRecord, 0)
	for _, rec := range r.t.promotionRecords {
		if rec.PromotionLogID == logID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StudentName < records[j].StudentName })
	return records, nil
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
