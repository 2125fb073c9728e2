package testutil

import (
	"context"
	"io/ioutil"
	"log"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/user"
	logsvc "github.com/amboseli-lewis/sms/services/logger"
)

// StrongPassword satisfies the password policy for the users created below.
const StrongPassword = "Kx9!mTq2#vLp"

func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.Debug = false
	conf.TestMode = true
	conf.RollbarToken = ""
	conf.SendgridApiKey = ""
	return conf
}

// NewLogger returns a logger writing nowhere, with Rollbar disabled.
func NewLogger(conf *core.Config) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	school.InitValidators(validate, translator)
	return validate, translator
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateClass(t *testing.T, repo school.Repository, name string, fee int64) school.SchoolClass {
	now := time.Now().UTC()
	cls, err := repo.CreateClass(context.Background(), school.SchoolClass{
		ID:        uuid.New().String(),
		Name:      name,
		TermFee:   decimal.NewFromInt(fee),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	return cls
}

// SeedClasses creates the promotion ladder with the default fees, keyed by class name.
func SeedClasses(t *testing.T, repo school.Repository) map[string]school.SchoolClass {
	classes := make(map[string]school.SchoolClass, len(school.DefaultClasses))
	for _, cls := range school.DefaultClasses {
		classes[cls.Name] = CreateClass(t, repo, cls.Name, cls.TermFee.IntPart())
	}
	return classes
}

func CreateStudent(t *testing.T, repo school.Repository, name, admNo, classID, status string, arrears int64) school.Student {
	now := time.Now().UTC()
	std := school.Student{
		ID:              uuid.New().String(),
		Name:            name,
		AdmissionNumber: admNo,
		SchoolClassID:   classID,
		Status:          status,
		Arrears:         decimal.NewFromInt(arrears),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := repo.CreateStudents(context.Background(), std); err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return std
}

func CreateTerm(t *testing.T, repo school.Repository, name string, isCurrent bool) school.Term {
	if isCurrent {
		if err := repo.ClearCurrentTerm(context.Background()); err != nil {
			t.Fatalf("CreateTerm() failed: %v", err)
		}
	}
	term, err := repo.CreateTerm(context.Background(), school.Term{
		ID:        uuid.New().String(),
		Name:      name,
		StartDate: core.NewDate(2025, time.January, 6),
		EndDate:   core.NewDate(2025, time.April, 4),
		IsCurrent: isCurrent,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTerm() failed: %v", err)
	}
	return term
}

func CreatePayment(t *testing.T, repo school.Repository, studentID, termID string, amount int64) school.Payment {
	pmt, err := repo.CreatePayment(context.Background(), school.Payment{
		ID:         uuid.New().String(),
		StudentID:  studentID,
		TermID:     null.NewString(termID, termID != ""),
		Amount:     decimal.NewFromInt(amount),
		Method:     school.MethodCash,
		RecordedBy: "Test Admin",
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreatePayment() failed: %v", err)
	}
	return pmt
}

// GetStudent reloads a student, failing the test if it is gone.
func GetStudent(t *testing.T, repo school.Repository, id string) school.Student {
	std, err := repo.GetStudent(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStudent() failed: %v", err)
	}
	return std
}
