package school

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/amboseli-lewis/sms/core"
)

var (
	// ErrNotFound is returned by repositories for any missing record.
	ErrNotFound = core.NewNotFoundError("record not found")

	ErrClassNotFound         = core.NewNotFoundError("The specified class does not exist.")
	ErrStudentNotFound       = core.NewNotFoundError("Student not found.")
	ErrAdmissionNumberExists = core.NewConflictError("A student with this admission number already exists.")
	ErrStudentArchived       = core.NewValidationError(errors.New("Student is already archived."))
	ErrGraduatedClassMissing = core.NewPreconditionError("'Graduated' class must exist to archive students.")

	errUnknownClass = core.NewValidationError(
		errors.New("The specified class does not exist."),
		core.FieldError{Field: "schoolClassId", Error: "The specified class does not exist."},
	)
)

type Service struct {
	store    Store
	validate *validator.Validate
	logger   core.Logger
}

func NewService(store Store, validate *validator.Validate, logger core.Logger) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	return &Service{store: store, validate: validate, logger: logger}
}

func isNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

// Classes

func (svc *Service) QueryClasses(ctx context.Context) ([]SchoolClass, error) {
	classes, err := svc.store.QueryClasses(ctx)
	return classes, errors.Wrap(err, "querying classes")
}

func (svc *Service) UpdateClassFee(ctx context.Context, id string, uf UpdateClassFee) (SchoolClass, error) {
	if err := uf.Validate(svc.validate); err != nil {
		return SchoolClass{}, err
	}

	cls, err := svc.store.GetClass(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return SchoolClass{}, ErrClassNotFound
		}
		return SchoolClass{}, errors.Wrap(err, "finding class")
	}
	cls.TermFee = *uf.TermFee
	cls.UpdatedAt = time.Now().UTC()
	cls, err = svc.store.UpdateClass(ctx, cls)
	return cls, errors.Wrap(err, "updating class")
}

// SeedClasses creates the DefaultClasses that do not exist yet. Existing classes keep their fee.
func (svc *Service) SeedClasses(ctx context.Context) ([]SchoolClass, error) {
	var created []SchoolClass
	err := svc.store.Atomic(ctx, nil, func(ctx context.Context, repo Repository) error {
		names := make([]string, 0, len(DefaultClasses))
		for _, cls := range DefaultClasses {
			names = append(names, cls.Name)
		}
		existing, err := repo.GetClassesByName(ctx, names...)
		if err != nil {
			return errors.Wrap(err, "finding classes")
		}

		now := time.Now().UTC()
		for _, cls := range DefaultClasses {
			if _, ok := existing[cls.Name]; ok {
				continue
			}
			cls.ID = uuid.New().String()
			cls.CreatedAt = now
			cls.UpdatedAt = now
			cls, err = repo.CreateClass(ctx, cls)
			if err != nil {
				return errors.Wrapf(err, "creating class %q", cls.Name)
			}
			created = append(created, cls)
		}
		return nil
	})
	return created, err
}

// GetClassDetails lists the students of a class with their balance.
// The Graduated class lists graduates with their final arrears; other classes list active students
// with the term fee and arrears, net of the current term payments.
func (svc *Service) GetClassDetails(ctx context.Context, id string) (ClassDetails, error) {
	cls, err := svc.store.GetClass(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return ClassDetails{}, ErrClassNotFound
		}
		return ClassDetails{}, errors.Wrap(err, "finding class")
	}

	graduated := cls.Name == ClassGraduated
	status := StatusActive
	if graduated {
		status = StatusGraduated
	}
	students, err := svc.store.QueryStudents(ctx, StudentFilter{SchoolClassIDs: []string{cls.ID}, Statuses: []string{status}})
	if err != nil {
		return ClassDetails{}, errors.Wrap(err, "querying students")
	}

	paid := map[string]decimal.Decimal{}
	if !graduated {
		if paid, err = svc.currentTermTotals(ctx, svc.store); err != nil {
			return ClassDetails{}, err
		}
	}

	details := ClassDetails{ClassDetails: cls, Students: make([]StudentBalance, 0, len(students))}
	for _, std := range students {
		balance := std.Arrears
		if !graduated {
			balance = cls.TermFee.Add(std.Arrears).Sub(paid[std.ID])
		}
		details.Students = append(details.Students, StudentBalance{Student: std, Balance: balance})
	}
	return details, nil
}

// currentTermTotals returns the payments per student for the current term; empty when no term is current.
func (svc *Service) currentTermTotals(ctx context.Context, repo Repository) (map[string]decimal.Decimal, error) {
	term, err := repo.GetCurrentTerm(ctx)
	if err != nil {
		if isNotFound(err) {
			return map[string]decimal.Decimal{}, nil
		}
		return nil, errors.Wrap(err, "finding current term")
	}
	totals, err := repo.SumPaymentsByStudent(ctx, term.ID)
	if err != nil {
		return nil, errors.Wrap(err, "summing payments")
	}
	return paymentTotals(totals), nil
}

// Students

func (svc *Service) CreateStudent(ctx context.Context, ns NewStudent) (Student, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return Student{}, err
	}

	if _, err := svc.store.GetClass(ctx, ns.SchoolClassID); err != nil {
		if isNotFound(err) {
			return Student{}, errUnknownClass
		}
		return Student{}, errors.Wrap(err, "finding class")
	}
	existing, err := svc.store.ExistingAdmissionNumbers(ctx, ns.AdmissionNumber)
	if err != nil {
		return Student{}, errors.Wrap(err, "checking admission number")
	}
	if len(existing) > 0 {
		return Student{}, ErrAdmissionNumberExists
	}

	now := time.Now().UTC()
	std := Student{
		ID:              uuid.New().String(),
		Name:            ns.Name,
		AdmissionNumber: ns.AdmissionNumber,
		SchoolClassID:   ns.SchoolClassID,
		Status:          StatusActive,
		Arrears:         decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := svc.store.CreateStudents(ctx, std); err != nil {
		if core.IsConflict(err) {
			return Student{}, ErrAdmissionNumberExists
		}
		return Student{}, errors.Wrap(err, "creating student")
	}
	return std, nil
}

// ArchiveStudent graduates a student out of the school, freezing what they owe as final arrears.
func (svc *Service) ArchiveStudent(ctx context.Context, id string) (Student, error) {
	var archived Student
	err := svc.store.Atomic(ctx, nil, func(ctx context.Context, repo Repository) error {
		std, err := repo.GetStudent(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return ErrStudentNotFound
			}
			return errors.Wrap(err, "finding student")
		}
		if std.Status == StatusGraduated {
			return ErrStudentArchived
		}

		classes, err := repo.GetClassesByName(ctx, ClassGraduated)
		if err != nil {
			return errors.Wrap(err, "finding graduated class")
		}
		graduatedCls, ok := classes[ClassGraduated]
		if !ok {
			return ErrGraduatedClassMissing
		}

		finalArrears := std.Arrears
		term, err := repo.GetCurrentTerm(ctx)
		switch {
		case err == nil:
			cls, err := repo.GetClass(ctx, std.SchoolClassID)
			if err != nil {
				return errors.Wrap(err, "finding student class")
			}
			totals, err := repo.SumPaymentsByStudent(ctx, term.ID)
			if err != nil {
				return errors.Wrap(err, "summing payments")
			}
			finalArrears = cls.TermFee.Add(std.Arrears).Sub(paymentTotals(totals)[std.ID])
		case !isNotFound(err):
			return errors.Wrap(err, "finding current term")
		}

		std.Arrears = finalArrears
		std.Status = StatusGraduated
		std.SchoolClassID = graduatedCls.ID
		std.UpdatedAt = time.Now().UTC()
		archived, err = repo.UpdateStudent(ctx, std)
		return errors.Wrap(err, "updating student")
	})
	return archived, err
}

func (svc *Service) StudentPayments(ctx context.Context, studentID string) ([]PaymentWithTerm, error) {
	if _, err := svc.store.GetStudent(ctx, studentID); err != nil {
		if isNotFound(err) {
			return nil, ErrStudentNotFound
		}
		return nil, errors.Wrap(err, "finding student")
	}
	payments, err := svc.store.QueryStudentPayments(ctx, studentID)
	return payments, errors.Wrap(err, "querying payments")
}

// Payments

// RecordPayment stores a payment against the current term (if any).
// Payments from graduates settle their final arrears directly.
func (svc *Service) RecordPayment(ctx context.Context, np NewPayment, recordedBy string) (Payment, error) {
	if err := np.Validate(svc.validate); err != nil {
		return Payment{}, err
	}

	var pmt Payment
	err := svc.store.Atomic(ctx, nil, func(ctx context.Context, repo Repository) error {
		std, err := repo.GetStudent(ctx, np.StudentID)
		if err != nil {
			if isNotFound(err) {
				return ErrStudentNotFound
			}
			return errors.Wrap(err, "finding student")
		}

		var termID null.String
		term, err := repo.GetCurrentTerm(ctx)
		if err == nil {
			termID = null.StringFrom(term.ID)
		} else if !isNotFound(err) {
			return errors.Wrap(err, "finding current term")
		}

		pmt, err = repo.CreatePayment(ctx, Payment{
			ID:         uuid.New().String(),
			StudentID:  std.ID,
			TermID:     termID,
			Amount:     np.Amount,
			Method:     np.Method,
			Reference:  null.NewString(np.Reference, np.Reference != ""),
			Notes:      null.NewString(np.Notes, np.Notes != ""),
			RecordedBy: recordedBy,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return errors.Wrap(err, "creating payment")
		}

		if std.Status == StatusGraduated {
			std.Arrears = std.Arrears.Sub(np.Amount)
			std.UpdatedAt = time.Now().UTC()
			if _, err = repo.UpdateStudent(ctx, std); err != nil {
				return errors.Wrap(err, "updating graduate arrears")
			}
		}
		return nil
	})
	return pmt, err
}

// Terms

func (svc *Service) QueryTerms(ctx context.Context) ([]Term, error) {
	terms, err := svc.store.QueryTerms(ctx)
	return terms, errors.Wrap(err, "querying terms")
}

// Dashboard

// Dashboard aggregates the fee collection of the current term per class.
// Outstanding totals are floored at zero; credits only lower them.
func (svc *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	board := Dashboard{
		Stats: DashboardStats{
			TotalPaid:        decimal.Zero,
			TermOutstanding:  decimal.Zero,
			TotalOutstanding: decimal.Zero,
		},
		ClassData: []ClassSummary{},
	}

	var (
		term     Term
		classes  []SchoolClass
		students []Student
		totals   []StudentPaymentTotal
	)
	err := svc.store.Atomic(ctx, core.Snapshot(), func(ctx context.Context, repo Repository) (err error) {
		if term, err = repo.GetCurrentTerm(ctx); err != nil {
			return err
		}
		if classes, err = repo.QueryClasses(ctx); err != nil {
			return errors.Wrap(err, "querying classes")
		}
		if students, err = repo.QueryStudents(ctx, StudentFilter{}); err != nil {
			return errors.Wrap(err, "querying students")
		}
		totals, err = repo.SumPaymentsByStudent(ctx, term.ID)
		return errors.Wrap(err, "summing payments")
	})
	if err != nil {
		if isNotFound(err) {
			return board, nil
		}
		return Dashboard{}, errors.Wrap(err, "loading dashboard")
	}
	board.CurrentTerm = &term

	paid := paymentTotals(totals)

	allArrears := decimal.Zero
	for _, std := range students {
		allArrears = allArrears.Add(std.Arrears)
	}
	totalPaid := decimal.Zero
	for _, t := range totals {
		totalPaid = totalPaid.Add(t.Total)
	}

	termTarget := decimal.Zero
	for _, cls := range classes {
		graduated := cls.Name == ClassGraduated
		summary := ClassSummary{ID: cls.ID, Name: cls.Name, TermFee: cls.TermFee, TotalPaid: decimal.Zero}
		arrears := decimal.Zero
		for _, std := range students {
			if std.SchoolClassID != cls.ID {
				continue
			}
			if graduated && std.Status == StatusGraduated {
				summary.StudentCount++
				arrears = arrears.Add(std.Arrears)
			} else if !graduated && std.Status == StatusActive {
				summary.StudentCount++
				arrears = arrears.Add(std.Arrears)
				summary.TotalPaid = summary.TotalPaid.Add(paid[std.ID])
			}
		}

		feeComponent := decimal.Zero
		if !graduated {
			feeComponent = cls.TermFee.Mul(decimal.NewFromInt(int64(summary.StudentCount)))
			termTarget = termTarget.Add(feeComponent)
			board.Stats.TotalActiveStudents += summary.StudentCount
		}
		summary.Target = feeComponent.Add(arrears)
		summary.TotalOutstanding = summary.Target.Sub(summary.TotalPaid)
		board.ClassData = append(board.ClassData, summary)
	}
	sort.SliceStable(board.ClassData, func(i, j int) bool { return board.ClassData[i].Name < board.ClassData[j].Name })

	termOutstanding := termTarget.Sub(totalPaid)
	board.Stats.TotalPaid = totalPaid
	board.Stats.TermOutstanding = decimal.Max(termOutstanding, decimal.Zero)
	board.Stats.TotalOutstanding = decimal.Max(termOutstanding.Add(allArrears), decimal.Zero)
	return board, nil
}
