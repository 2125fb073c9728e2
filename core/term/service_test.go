package term_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/term"
	"github.com/amboseli-lewis/sms/core/user"
	emailsvc "github.com/amboseli-lewis/sms/services/email"
	inmemdb "github.com/amboseli-lewis/sms/storage/database/inmem"
	"github.com/amboseli-lewis/sms/testutil"
)

var admin = user.User{ID: "admin-id", Name: "Head Teacher", Email: "head@school.test", Role: user.RoleAdmin, IsActive: true}

func setup(t *testing.T) (*term.Service, *inmemdb.Store) {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	validate, _ := testutil.NewValidator()
	core.ParseEmailTemplates(conf, logger)
	emailsvc.ResetSentMessages()

	store := inmemdb.NewStore(inmemdb.Open())
	svc := term.NewService(store, validate, emailsvc.NewConsoleServiceMock(conf, logger), logger, term.Options{
		MaxWait: time.Second,
		Timeout: 5 * time.Second,
	})
	return svc, store
}

func boolPtr(b bool) *bool { return &b }

func newTerm(name string, yearBoundary ...bool) term.NewTerm {
	nt := term.NewTerm{
		Name:      name,
		StartDate: core.NewDate(2025, time.May, 5),
		EndDate:   core.NewDate(2025, time.August, 1),
	}
	if len(yearBoundary) > 0 {
		nt.IsYearBoundary = boolPtr(yearBoundary[0])
	}
	return nt
}

func assertDecimal(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, decimal.NewFromInt(want).String(), got.String(), msgAndArgs...)
}

func currentTerm(t *testing.T, store school.Store) school.Term {
	t.Helper()
	cur, err := store.GetCurrentTerm(context.Background())
	require.NoError(t, err)
	return cur
}

func TestService_Start_firstTerm(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	classes := testutil.SeedClasses(t, store)
	std := testutil.CreateStudent(t, store, "Amani", "ADM-1", classes[school.ClassForm1].ID, school.StatusActive, 0)

	res, err := svc.Start(ctx, newTerm("Term 2 2025"), admin)
	require.NoError(t, err)
	assert.Equal(t, `New term "Term 2 2025" started successfully. Arrears have been carried forward.`, res.Message)
	assert.Equal(t, 0, res.ArrearsUpdated)
	assert.False(t, res.PromotionLogID.Valid)
	assert.True(t, res.Term.IsCurrent)
	assert.Equal(t, "2025-05-05", res.Term.StartDate.String())

	assert.Equal(t, res.Term.ID, currentTerm(t, store).ID)
	assertDecimal(t, 0, testutil.GetStudent(t, store, std.ID).Arrears, "no ending term, nothing to carry")

	msgs := emailsvc.SentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "head@school.test", msgs[0].To[0].Address)
	assert.Contains(t, msgs[0].TextContent, "Term 2 2025")
	assert.False(t, msgs[0].HasAttachments())
}

func TestService_Start_carriesArrears(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	classes := testutil.SeedClasses(t, store)
	ending := testutil.CreateTerm(t, store, "Term 2 2025", true)
	previous := testutil.CreateTerm(t, store, "Term 1 2025", false)

	owing := testutil.CreateStudent(t, store, "Owing", "ADM-1", classes[school.ClassForm1].ID, school.StatusActive, 1000)
	overpaid := testutil.CreateStudent(t, store, "Overpaid", "ADM-2", classes[school.ClassForm2].ID, school.StatusActive, 0)
	graduate := testutil.CreateStudent(t, store, "Graduate", "ADM-3", classes[school.ClassGraduated].ID, school.StatusGraduated, 700)

	testutil.CreatePayment(t, store, owing.ID, ending.ID, 6000)
	testutil.CreatePayment(t, store, owing.ID, previous.ID, 99999) // another term: ignored
	testutil.CreatePayment(t, store, overpaid.ID, ending.ID, 20000)

	res, err := svc.Start(ctx, newTerm("Term 3 2025"), admin)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ArrearsUpdated)
	assert.Equal(t, 0, res.Promoted)

	assertDecimal(t, 10000, testutil.GetStudent(t, store, owing.ID).Arrears)    // 15000 + 1000 - 6000
	assertDecimal(t, -4000, testutil.GetStudent(t, store, overpaid.ID).Arrears) // credit is kept
	assertDecimal(t, 700, testutil.GetStudent(t, store, graduate.ID).Arrears)

	terms, err := store.QueryTerms(ctx)
	require.NoError(t, err)
	require.Len(t, terms, 3)
	assert.Equal(t, res.Term.ID, terms[0].ID)
	current := 0
	for _, tm := range terms {
		if tm.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current, "exactly one current term")
}

func TestService_Start_yearBoundary(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	classes := testutil.SeedClasses(t, store)
	ending := testutil.CreateTerm(t, store, "Term 3 2025", true)

	f1 := testutil.CreateStudent(t, store, "Form One", "ADM-1", classes[school.ClassForm1].ID, school.StatusActive, 0)
	f4 := testutil.CreateStudent(t, store, "Form Four", "ADM-4", classes[school.ClassForm4].ID, school.StatusActive, 0)
	grad := testutil.CreateStudent(t, store, "Old Graduate", "ADM-0", classes[school.ClassGraduated].ID, school.StatusGraduated, 500)
	testutil.CreatePayment(t, store, f4.ID, ending.ID, 18000)

	res, err := svc.Start(ctx, newTerm("Term 1 2026"), admin)
	require.NoError(t, err)
	assert.Equal(t, "Students promoted, arrears updated, and new academic year started successfully!", res.Message)
	assert.Equal(t, 2, res.ArrearsUpdated)
	assert.Equal(t, 2, res.Promoted)
	require.True(t, res.PromotionLogID.Valid)

	// arrears are carried with the fee of the class the student was in
	s1 := testutil.GetStudent(t, store, f1.ID)
	assert.Equal(t, classes[school.ClassForm2].ID, s1.SchoolClassID)
	assert.Equal(t, school.StatusActive, s1.Status)
	assertDecimal(t, 15000, s1.Arrears)

	s4 := testutil.GetStudent(t, store, f4.ID)
	assert.Equal(t, classes[school.ClassGraduated].ID, s4.SchoolClassID)
	assert.Equal(t, school.StatusGraduated, s4.Status)
	assertDecimal(t, 0, s4.Arrears)

	g := testutil.GetStudent(t, store, grad.ID)
	assert.Equal(t, grad.SchoolClassID, g.SchoolClassID, "graduates do not move")

	logs, err := svc.QueryPromotions(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, res.PromotionLogID.String, logs[0].ID)
	assert.Equal(t, school.PromotionActive, logs[0].Status)
	assert.Equal(t, admin.Name, logs[0].TriggeredBy)
	require.Len(t, logs[0].Records, 2)
	assert.Equal(t, "Form Four", logs[0].Records[0].StudentName)
	assert.Equal(t, classes[school.ClassForm4].ID, logs[0].Records[0].PreviousSchoolClassID)

	msgs := emailsvc.SentMessages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].HasAttachments())
	report := msgs[0].Attachments[0]
	assert.Equal(t, "text/csv", report.ContentType)
	assert.Equal(t, "promotion-"+res.PromotionLogID.String+".csv", report.Filename)
}

func TestService_Start_failures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid input", func(t *testing.T) {
		svc, _ := setup(t)
		nt := newTerm(" ")
		nt.EndDate = core.NewDate(2025, time.January, 1)
		_, err := svc.Start(ctx, nt, admin)

		var vErrs validator.ValidationErrors
		require.True(t, errors.As(err, &vErrs), "unexpected error: %v", err)
		fields := make([]string, 0, len(vErrs))
		for _, e := range vErrs {
			fields = append(fields, e.Field())
		}
		assert.ElementsMatch(t, []string{"name", "endDate"}, fields)
	})

	t.Run("year boundary without a current term", func(t *testing.T) {
		svc, store := setup(t)
		testutil.SeedClasses(t, store)

		_, err := svc.Start(ctx, newTerm("Term 1 2026"), admin)
		assert.Equal(t, term.ErrNoCurrentTerm, errors.Cause(err))

		terms, err := store.QueryTerms(ctx)
		require.NoError(t, err)
		assert.Empty(t, terms)
		assert.Empty(t, emailsvc.SentMessages())
	})

	t.Run("duplicate name changes nothing", func(t *testing.T) {
		svc, store := setup(t)
		classes := testutil.SeedClasses(t, store)
		ending := testutil.CreateTerm(t, store, "Term 2 2025", true)
		std := testutil.CreateStudent(t, store, "Amani", "ADM-1", classes[school.ClassForm1].ID, school.StatusActive, 100)

		_, err := svc.Start(ctx, newTerm("Term 2 2025"), admin)
		require.True(t, core.IsConflict(err), "unexpected error: %v", err)
		assert.Equal(t, `A term with the name "Term 2 2025" already exists.`, errors.Cause(err).Error())

		assertDecimal(t, 100, testutil.GetStudent(t, store, std.ID).Arrears)
		assert.Equal(t, ending.ID, currentTerm(t, store).ID)
	})

	t.Run("missing class rolls everything back", func(t *testing.T) {
		svc, store := setup(t)
		for _, name := range []string{school.ClassForm1, school.ClassForm2, school.ClassForm3, school.ClassForm4} {
			testutil.CreateClass(t, store, name, 10000)
		}
		ending := testutil.CreateTerm(t, store, "Term 3 2025", true)
		form1, err := store.GetClassesByName(ctx, school.ClassForm1)
		require.NoError(t, err)
		std := testutil.CreateStudent(t, store, "Amani", "ADM-1", form1[school.ClassForm1].ID, school.StatusActive, 0)

		_, err = svc.Start(ctx, newTerm("Term 1 2026"), admin)
		_, ok := errors.Cause(err).(*core.PreconditionError)
		require.True(t, ok, "unexpected error: %v", err)
		assert.Equal(t, `The class "Graduated" is not defined in the database. Promotion cannot proceed.`, errors.Cause(err).Error())

		s := testutil.GetStudent(t, store, std.ID)
		assertDecimal(t, 0, s.Arrears, "arrears must not be carried when the rollover fails")
		assert.Equal(t, form1[school.ClassForm1].ID, s.SchoolClassID)
		assert.Equal(t, ending.ID, currentTerm(t, store).ID)
	})
}

func TestService_Start_explicitYearBoundary(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	classes := testutil.SeedClasses(t, store)
	testutil.CreateTerm(t, store, "Term 3 2025", true)
	std := testutil.CreateStudent(t, store, "Amani", "ADM-1", classes[school.ClassForm3].ID, school.StatusActive, 0)

	res, err := svc.Start(ctx, newTerm("Semester A", true), admin)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, classes[school.ClassForm4].ID, testutil.GetStudent(t, store, std.ID).SchoolClassID)

	res, err = svc.Start(ctx, newTerm("Term 1 2027", false), admin)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Promoted, "the flag wins over the name")
	assert.Equal(t, classes[school.ClassForm4].ID, testutil.GetStudent(t, store, std.ID).SchoolClassID)
}

func TestService_Promote(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	classes := testutil.SeedClasses(t, store)

	res, err := svc.Promote(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, "No active students were eligible for promotion.", res.Message)
	assert.False(t, res.PromotionLogID.Valid)
	logs, err := svc.QueryPromotions(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs, "no log without students")

	std := testutil.CreateStudent(t, store, "Amani", "ADM-1", classes[school.ClassForm2].ID, school.StatusActive, 300)
	res, err = svc.Promote(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, "Students promoted successfully.", res.Message)
	assert.Equal(t, 1, res.Promoted)
	s := testutil.GetStudent(t, store, std.ID)
	assert.Equal(t, classes[school.ClassForm3].ID, s.SchoolClassID)
	assertDecimal(t, 300, s.Arrears, "promotion alone does not touch arrears")
}

func TestService_UndoPromotion(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	classes := testutil.SeedClasses(t, store)
	testutil.CreateTerm(t, store, "Term 3 2025", true)
	f2 := testutil.CreateStudent(t, store, "Form Two", "ADM-2", classes[school.ClassForm2].ID, school.StatusActive, 0)
	f4 := testutil.CreateStudent(t, store, "Form Four", "ADM-4", classes[school.ClassForm4].ID, school.StatusActive, 0)

	started, err := svc.Start(ctx, newTerm("Term 1 2026"), admin)
	require.NoError(t, err)
	logID := started.PromotionLogID.String
	emailsvc.ResetSentMessages()

	t.Run("missing id", func(t *testing.T) {
		_, err := svc.UndoPromotion(ctx, "  ", admin)
		assert.Equal(t, term.ErrMissingPromotionLogID, err)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.UndoPromotion(ctx, "nope", admin)
		assert.Equal(t, term.ErrPromotionNotFound, errors.Cause(err))
	})

	t.Run("restores previous classes", func(t *testing.T) {
		res, err := svc.UndoPromotion(ctx, logID, admin)
		require.NoError(t, err)
		assert.Equal(t, "Promotion has been successfully undone.", res.Message)
		assert.Equal(t, 2, res.Restored)

		s2 := testutil.GetStudent(t, store, f2.ID)
		assert.Equal(t, classes[school.ClassForm2].ID, s2.SchoolClassID)
		assertDecimal(t, 16000, s2.Arrears, "carried arrears are kept")

		s4 := testutil.GetStudent(t, store, f4.ID)
		assert.Equal(t, classes[school.ClassForm4].ID, s4.SchoolClassID)
		assert.Equal(t, school.StatusActive, s4.Status)

		plog, err := store.GetPromotionLog(ctx, logID)
		require.NoError(t, err)
		assert.Equal(t, school.PromotionRolledBack, plog.Status)
		assert.Equal(t, admin.Name, plog.RolledBackBy.String)
		assert.True(t, plog.RolledBackAt.Valid)

		msgs := emailsvc.SentMessages()
		require.Len(t, msgs, 1)
		assert.True(t, strings.Contains(msgs[0].TextContent, logID))
	})

	t.Run("undo twice", func(t *testing.T) {
		_, err := svc.UndoPromotion(ctx, logID, admin)
		assert.Equal(t, term.ErrPromotionUndone, errors.Cause(err))
		assert.Equal(t, classes[school.ClassForm2].ID, testutil.GetStudent(t, store, f2.ID).SchoolClassID)
	})
}

func TestService_UndoPromotion_changedStudents(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	classes := testutil.SeedClasses(t, store)
	testutil.CreateTerm(t, store, "Term 3 2025", true)
	f3 := testutil.CreateStudent(t, store, "Form Three", "ADM-3", classes[school.ClassForm3].ID, school.StatusActive, 0)
	f4 := testutil.CreateStudent(t, store, "Form Four", "ADM-4", classes[school.ClassForm4].ID, school.StatusActive, 0)

	started, err := svc.Start(ctx, newTerm("Term 1 2026"), admin)
	require.NoError(t, err)
	require.True(t, started.PromotionLogID.Valid)

	// archived after the promotion
	validate, _ := testutil.NewValidator()
	schoolSvc := school.NewService(store, validate, testutil.NewLogger(testutil.NewConfig()))
	archived, err := schoolSvc.ArchiveStudent(ctx, f3.ID)
	require.NoError(t, err)
	require.Equal(t, school.StatusGraduated, archived.Status)
	require.Equal(t, classes[school.ClassGraduated].ID, archived.SchoolClassID)

	// moved by hand after graduating
	graduate := testutil.GetStudent(t, store, f4.ID)
	require.Equal(t, school.StatusGraduated, graduate.Status)
	graduate.SchoolClassID = classes[school.ClassForm1].ID
	graduate.Status = school.StatusActive
	_, err = store.UpdateStudent(ctx, graduate)
	require.NoError(t, err)

	res, err := svc.UndoPromotion(ctx, started.PromotionLogID.String, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Restored)

	s3 := testutil.GetStudent(t, store, f3.ID)
	assert.Equal(t, classes[school.ClassForm3].ID, s3.SchoolClassID)
	assert.Equal(t, school.StatusActive, s3.Status)

	s4 := testutil.GetStudent(t, store, f4.ID)
	assert.Equal(t, classes[school.ClassForm4].ID, s4.SchoolClassID)
	assert.Equal(t, school.StatusActive, s4.Status)
}

// stallingStore runs units of work whose term creation outlives the transaction timeout.
type stallingStore struct {
	*inmemdb.Store
}

func (s stallingStore) Atomic(ctx context.Context, opts *core.TxOptions, fn func(ctx context.Context, repo school.Repository) error) error {
	return s.Store.Atomic(ctx, opts, func(ctx context.Context, repo school.Repository) error {
		return fn(ctx, stallingRepo{repo})
	})
}

type stallingRepo struct {
	school.Repository
}

func (r stallingRepo) CreateTerm(ctx context.Context, t school.Term) (school.Term, error) {
	created, err := r.Repository.CreateTerm(ctx, t)
	<-ctx.Done()
	return created, err
}

func TestService_Start_timeoutRollsBack(t *testing.T) {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	validate, _ := testutil.NewValidator()
	core.ParseEmailTemplates(conf, logger)
	emailsvc.ResetSentMessages()
	ctx := context.Background()

	store := inmemdb.NewStore(inmemdb.Open())
	classes := testutil.SeedClasses(t, store)
	old := testutil.CreateTerm(t, store, "Term 3 2025", true)
	std := testutil.CreateStudent(t, store, "Amani", "ADM-1", classes[school.ClassForm3].ID, school.StatusActive, 500)

	svc := term.NewService(&stallingStore{store}, validate, emailsvc.NewConsoleServiceMock(conf, logger), logger, term.Options{
		MaxWait: time.Second,
		Timeout: 20 * time.Millisecond,
	})
	_, err := svc.Start(ctx, newTerm("Term 1 2026", true), admin)
	require.Equal(t, core.ErrTxTimeout, errors.Cause(err), "unexpected error: %v", err)

	assert.Equal(t, old.ID, currentTerm(t, store).ID, "the previous term stays current")
	terms, err := store.QueryTerms(ctx)
	require.NoError(t, err)
	assert.Len(t, terms, 1)

	s := testutil.GetStudent(t, store, std.ID)
	assert.Equal(t, classes[school.ClassForm3].ID, s.SchoolClassID)
	assertDecimal(t, 500, s.Arrears)

	logs, err := store.QueryPromotionLogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Empty(t, emailsvc.SentMessages())
}

func TestService_timeouts(t *testing.T) {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	validate, _ := testutil.NewValidator()
	store := inmemdb.NewStore(inmemdb.Open())
	testutil.SeedClasses(t, store)
	svc := term.NewService(store, validate, emailsvc.NewConsoleServiceMock(conf, logger), logger, term.Options{
		MaxWait: 20 * time.Millisecond,
		Timeout: time.Second,
	})

	// hold the store while the term starts
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = store.Atomic(context.Background(), nil, func(ctx context.Context, repo school.Repository) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := svc.Start(context.Background(), newTerm("Term 2 2025"), admin)
	close(release)
	require.True(t, core.IsConflict(err), "unexpected error: %v", err)

	terms, err := store.QueryTerms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, terms)
}
