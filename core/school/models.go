package school

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/amboseli-lewis/sms/core"
)

// Student statuses
const (
	StatusActive    = "ACTIVE"
	StatusGraduated = "GRADUATED"
)

// Class names known to the promotion ladder.
const (
	ClassForm1     = "Form 1"
	ClassForm2     = "Form 2"
	ClassForm3     = "Form 3"
	ClassForm4     = "Form 4"
	ClassGraduated = "Graduated"
)

// Payment methods
const (
	MethodCash   = "CASH"
	MethodBank   = "BANK"
	MethodMobile = "MOBILE"
)

// Promotion log statuses
const (
	PromotionActive     = "ACTIVE"
	PromotionRolledBack = "ROLLED_BACK"
)

var (
	PaymentMethods = []string{MethodCash, MethodBank, MethodMobile}

	// DefaultClasses are the classes seeded on a fresh install, with their term fee.
	DefaultClasses = []SchoolClass{
		{Name: ClassForm1, TermFee: decimal.NewFromInt(15000)},
		{Name: ClassForm2, TermFee: decimal.NewFromInt(16000)},
		{Name: ClassForm3, TermFee: decimal.NewFromInt(17000)},
		{Name: ClassForm4, TermFee: decimal.NewFromInt(18000)},
		{Name: ClassGraduated, TermFee: decimal.Zero},
	}
)

type (
	SchoolClass struct {
		ID        string          `json:"id" db:"id"`
		Name      string          `json:"name" db:"name"`
		TermFee   decimal.Decimal `json:"termFee" db:"term_fee"`
		CreatedAt time.Time       `json:"createdAt" db:"created_at"`
		UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
	}

	Student struct {
		ID              string          `json:"id" db:"id"`
		Name            string          `json:"name" db:"name"`
		AdmissionNumber string          `json:"admissionNumber" db:"admission_number"`
		SchoolClassID   string          `json:"schoolClassId" db:"school_class_id"`
		Status          string          `json:"status" db:"status"`
		Arrears         decimal.Decimal `json:"arrears" db:"arrears"` // positive = owed, negative = credit
		CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
		UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
	}

	Term struct {
		ID        string    `json:"id" db:"id"`
		Name      string    `json:"name" db:"name"`
		StartDate core.Date `json:"startDate" db:"start_date"`
		EndDate   core.Date `json:"endDate" db:"end_date"`
		IsCurrent bool      `json:"isCurrent" db:"is_current"`
		CreatedAt time.Time `json:"createdAt" db:"created_at"`
	}

	Payment struct {
		ID         string          `json:"id" db:"id"`
		StudentID  string          `json:"studentId" db:"student_id"`
		TermID     null.String     `json:"termId" db:"term_id"`
		Amount     decimal.Decimal `json:"amount" db:"amount"`
		Method     string          `json:"method" db:"method"`
		Reference  null.String     `json:"reference" db:"reference"`
		Notes      null.String     `json:"notes" db:"notes"`
		RecordedBy string          `json:"recordedBy" db:"recorded_by"`
		CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
	}

	PromotionLog struct {
		ID           string      `json:"id" db:"id"`
		TriggeredBy  string      `json:"triggeredBy" db:"triggered_by"`
		Status       string      `json:"status" db:"status"`
		CreatedAt    time.Time   `json:"createdAt" db:"created_at"`
		RolledBackBy null.String `json:"rolledBackBy" db:"rolled_back_by"`
		RolledBackAt null.Time   `json:"rolledBackAt" db:"rolled_back_at"`
	}

	// StudentPromotionRecord journals one student's move so the batch can be undone.
	StudentPromotionRecord struct {
		ID                    string `json:"id" db:"id"`
		PromotionLogID        string `json:"promotionLogId" db:"promotion_log_id"`
		StudentID             string `json:"studentId" db:"student_id"`
		StudentName           string `json:"studentName" db:"student_name"`
		PreviousSchoolClassID string `json:"previousSchoolClassId" db:"previous_school_class_id"`
		NewSchoolClassID      string `json:"newSchoolClassId" db:"new_school_class_id"`
	}
)

// Inputs

type (
	NewStudent struct {
		Name            string `json:"name" validate:"required,notblank"`
		AdmissionNumber string `json:"admissionNumber" validate:"required,notblank"`
		SchoolClassID   string `json:"schoolClassId" validate:"required"`
	}

	UpdateClassFee struct {
		TermFee *decimal.Decimal `json:"termFee" validate:"required"`
	}

	NewPayment struct {
		StudentID string          `json:"studentId" validate:"required"`
		Amount    decimal.Decimal `json:"amount" validate:"required,gt=0"`
		Method    string          `json:"method" validate:"required,paymethod"`
		Reference string          `json:"reference"`
		Notes     string          `json:"notes"`
	}
)

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.AdmissionNumber = core.CleanString(ns.AdmissionNumber)
	ns.SchoolClassID = core.CleanString(ns.SchoolClassID)
	return validate.Struct(ns)
}

func (uf *UpdateClassFee) Validate(validate *validator.Validate) error {
	if err := validate.Struct(uf); err != nil {
		return err
	}
	if uf.TermFee.IsNegative() {
		return core.NewValidationError(nil, core.FieldError{Field: "termFee", Error: "termFee cannot be negative"})
	}
	return nil
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.StudentID = core.CleanString(np.StudentID)
	np.Method = core.CleanString(np.Method)
	np.Reference = core.CleanString(np.Reference)
	np.Notes = core.CleanString(np.Notes)
	return validate.Struct(np)
}

// Views

type (
	StudentBalance struct {
		Student
		Balance decimal.Decimal `json:"balance"`
	}

	ClassDetails struct {
		ClassDetails SchoolClass      `json:"classDetails"`
		Students     []StudentBalance `json:"students"`
	}

	PaymentWithTerm struct {
		Payment
		TermName null.String `json:"termName" db:"term_name"`
	}

	DashboardStats struct {
		TotalActiveStudents int             `json:"totalActiveStudents"`
		TotalPaid           decimal.Decimal `json:"totalPaid"`
		TermOutstanding     decimal.Decimal `json:"termOutstanding"`
		TotalOutstanding    decimal.Decimal `json:"totalOutstanding"`
	}

	ClassSummary struct {
		ID               string          `json:"id"`
		Name             string          `json:"name"`
		TermFee          decimal.Decimal `json:"termFee"`
		StudentCount     int             `json:"studentCount"`
		TotalPaid        decimal.Decimal `json:"totalPaid"`
		TotalOutstanding decimal.Decimal `json:"totalOutstanding"`
		Target           decimal.Decimal `json:"target"`
	}

	Dashboard struct {
		CurrentTerm *Term          `json:"currentTerm"`
		Stats       DashboardStats `json:"stats"`
		ClassData   []ClassSummary `json:"classData"`
	}

	PromotionLogDetails struct {
		PromotionLog
		Records []StudentPromotionRecord `json:"records"`
	}
)
