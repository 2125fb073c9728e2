package term

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/user"
)

var (
	ErrNoCurrentTerm = core.NewPreconditionError(
		"No term is currently active. Arrears cannot be carried forward without the term that is ending.",
	)
	ErrMissingPromotionLogID = core.NewValidationError(errors.New("Missing Promotion Log ID."))
	ErrPromotionNotFound     = core.NewNotFoundError("Promotion event not found.")
	ErrPromotionUndone       = core.NewConflictError("This promotion has already been undone.")
)

const (
	msgYearStarted      = "Students promoted, arrears updated, and new academic year started successfully!"
	msgTermStartedFmt   = "New term %q started successfully. Arrears have been carried forward."
	msgTermExistsFmt    = "A term with the name %q already exists."
	msgPromoted         = "Students promoted successfully."
	msgNothingToPromote = "No active students were eligible for promotion."
	msgPromotionUndone  = "Promotion has been successfully undone."
)

// Options bounds the rollover transactions: MaxWait caps lock waits, Timeout the whole transaction.
type Options struct {
	MaxWait time.Duration
	Timeout time.Duration
}

// Service runs the academic calendar: starting terms, promoting students and undoing promotions.
type Service struct {
	store    school.Store
	validate *validator.Validate
	mailSvc  core.EmailService
	logger   core.Logger
	opts     Options
}

func NewService(store school.Store, validate *validator.Validate, mailSvc core.EmailService, logger core.Logger, opts Options) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	return &Service{store: store, validate: validate, mailSvc: mailSvc, logger: logger, opts: opts}
}

func (svc *Service) txOptions() *core.TxOptions {
	return core.Serializable(svc.opts.MaxWait, svc.opts.Timeout)
}

// Start makes a new term current, all in one serializable transaction.
// The ending term's arrears are carried forward and, on a year boundary, students are promoted.
// A year boundary requires a current term.
func (svc *Service) Start(ctx context.Context, nt NewTerm, by user.User) (StartResult, error) {
	if err := nt.Validate(svc.validate); err != nil {
		return StartResult{}, err
	}
	yearBoundary := nt.YearBoundary()

	var (
		res   StartResult
		promo *promotion
	)
	err := svc.store.Atomic(ctx, svc.txOptions(), func(ctx context.Context, repo school.Repository) error {
		exists, err := repo.TermNameExists(ctx, nt.Name)
		if err != nil {
			return errors.Wrap(err, "checking term name")
		}
		if exists {
			return core.NewConflictError(fmt.Sprintf(msgTermExistsFmt, nt.Name))
		}

		current, err := repo.GetCurrentTerm(ctx)
		hasCurrent := err == nil
		if err != nil && errors.Cause(err) != school.ErrNotFound {
			return errors.Wrap(err, "finding current term")
		}
		if yearBoundary && !hasCurrent {
			return ErrNoCurrentTerm
		}

		if hasCurrent {
			if res.ArrearsUpdated, err = carryArrears(ctx, repo, current); err != nil {
				return errors.Wrap(err, "carrying arrears forward")
			}
		}
		if yearBoundary {
			if promo, err = promote(ctx, repo, by.Name); err != nil {
				return errors.Wrap(err, "promoting students")
			}
		}

		if err = repo.ClearCurrentTerm(ctx); err != nil {
			return errors.Wrap(err, "clearing current term")
		}
		res.Term, err = repo.CreateTerm(ctx, school.Term{
			ID:        uuid.New().String(),
			Name:      nt.Name,
			StartDate: nt.StartDate,
			EndDate:   nt.EndDate,
			IsCurrent: true,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			if core.IsConflict(err) {
				return core.NewConflictError(fmt.Sprintf(msgTermExistsFmt, nt.Name))
			}
			return errors.Wrap(err, "creating term")
		}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}

	res.Promoted = promo.count()
	res.PromotionLogID = null.NewString(promo.logID(), promo != nil)
	if promo != nil {
		res.Message = msgYearStarted
	} else {
		res.Message = fmt.Sprintf(msgTermStartedFmt, res.Term.Name)
	}

	svc.logger.Info(
		fmt.Sprintf("term %q started: arrears carried forward for %d students, %d students promoted",
			res.Term.Name, res.ArrearsUpdated, res.Promoted),
		map[string]interface{}{"termId": res.Term.ID, "promotionLogId": promo.logID()},
		by,
	)
	svc.sendTermStartedEmail(by, res, promo)
	return res, nil
}

// Promote runs a promotion on its own, outside of a term change.
func (svc *Service) Promote(ctx context.Context, by user.User) (PromotionResult, error) {
	var promo *promotion
	err := svc.store.Atomic(ctx, svc.txOptions(), func(ctx context.Context, repo school.Repository) error {
		var err error
		promo, err = promote(ctx, repo, by.Name)
		return err
	})
	if err != nil {
		return PromotionResult{}, err
	}

	res := PromotionResult{
		Message:        msgPromoted,
		PromotionLogID: null.NewString(promo.logID(), promo != nil),
		Promoted:       promo.count(),
	}
	if promo == nil {
		res.Message = msgNothingToPromote
	}
	svc.logger.Info(fmt.Sprintf("%d students promoted", res.Promoted), by)
	return res, nil
}

// UndoPromotion puts every student of a promotion batch back in their previous class as ACTIVE,
// whatever happened to them since. Arrears carried forward at that time are kept.
// The log is marked ROLLED_BACK last, so an interrupted undo can be retried.
func (svc *Service) UndoPromotion(ctx context.Context, logID string, by user.User) (UndoResult, error) {
	logID = core.CleanString(logID)
	if logID == "" {
		return UndoResult{}, ErrMissingPromotionLogID
	}

	var (
		res  UndoResult
		plog school.PromotionLog
	)
	err := svc.store.Atomic(ctx, svc.txOptions(), func(ctx context.Context, repo school.Repository) error {
		var err error
		plog, err = repo.GetPromotionLog(ctx, logID)
		if err != nil {
			if errors.Cause(err) == school.ErrNotFound {
				return ErrPromotionNotFound
			}
			return errors.Wrap(err, "finding promotion log")
		}
		if plog.Status == school.PromotionRolledBack {
			return ErrPromotionUndone
		}

		records, err := repo.QueryPromotionRecords(ctx, plog.ID)
		if err != nil {
			return errors.Wrap(err, "querying promotion records")
		}
		now := time.Now().UTC()
		for _, rec := range records {
			std, err := repo.GetStudent(ctx, rec.StudentID)
			if err != nil {
				return errors.Wrapf(err, "finding student %s", rec.StudentID)
			}
			std.SchoolClassID = rec.PreviousSchoolClassID
			std.Status = school.StatusActive
			std.UpdatedAt = now
			if _, err = repo.UpdateStudent(ctx, std); err != nil {
				return errors.Wrapf(err, "restoring student %s", rec.StudentID)
			}
		}
		res.Restored = len(records)

		plog.Status = school.PromotionRolledBack
		plog.RolledBackBy = null.StringFrom(by.Name)
		plog.RolledBackAt = null.TimeFrom(now)
		plog, err = repo.UpdatePromotionLog(ctx, plog)
		return errors.Wrap(err, "marking promotion log as rolled back")
	})
	if err != nil {
		return UndoResult{}, err
	}

	res.Message = msgPromotionUndone
	svc.logger.Info(fmt.Sprintf("promotion %s undone: %d students restored", plog.ID, res.Restored), by)
	svc.sendPromotionUndoneEmail(by, plog, res)
	return res, nil
}

// QueryPromotions lists the promotion logs, newest first, with their records.
func (svc *Service) QueryPromotions(ctx context.Context) ([]school.PromotionLogDetails, error) {
	logs, err := svc.store.QueryPromotionLogs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying promotion logs")
	}
	details := make([]school.PromotionLogDetails, 0, len(logs))
	for _, l := range logs {
		records, err := svc.store.QueryPromotionRecords(ctx, l.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying promotion records")
		}
		if records == nil {
			records = []school.StudentPromotionRecord{}
		}
		details = append(details, school.PromotionLogDetails{PromotionLog: l, Records: records})
	}
	return details, nil
}

// Notifications

type (
	termStartedData struct {
		AdminName      string
		Message        string
		TermName       string
		StartDate      string
		EndDate        string
		ArrearsUpdated int
		Promoted       int
		PromotionLogID string
	}

	promotionUndoneData struct {
		AdminName      string
		PromotionLogID string
		TriggeredBy    string
		Restored       int
	}
)

func (svc *Service) sendTermStartedEmail(by user.User, res StartResult, promo *promotion) {
	if by.Email == "" {
		return
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: by.Name, Address: by.Email}},
		Subject:      fmt.Sprintf("Term %q started", res.Term.Name),
		TemplateName: "term_started",
		TemplateData: termStartedData{
			AdminName:      by.Name,
			Message:        res.Message,
			TermName:       res.Term.Name,
			StartDate:      res.Term.StartDate.String(),
			EndDate:        res.Term.EndDate.String(),
			ArrearsUpdated: res.ArrearsUpdated,
			Promoted:       res.Promoted,
			PromotionLogID: promo.logID(),
		},
	}
	if promo != nil {
		report, err := promotionReport(promo)
		if err == nil {
			err = msg.Attach(bytes.NewReader(report), "promotion-"+promo.log.ID+".csv", "text/csv")
		}
		if err != nil {
			svc.logger.Error(fmt.Sprintf("attaching promotion report: %v", err), err, by)
		}
	}
	svc.mailSvc.SendMessages(msg)
}

func (svc *Service) sendPromotionUndoneEmail(by user.User, plog school.PromotionLog, res UndoResult) {
	if by.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: by.Name, Address: by.Email}},
		Subject:      "Promotion undone",
		TemplateName: "promotion_undone",
		TemplateData: promotionUndoneData{
			AdminName:      by.Name,
			PromotionLogID: plog.ID,
			TriggeredBy:    plog.TriggeredBy,
			Restored:       res.Restored,
		},
	})
}

// promotionReport renders the promotion records as CSV.
func promotionReport(promo *promotion) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"studentId", "studentName", "previousClass", "newClass"}); err != nil {
		return nil, err
	}
	for _, rec := range promo.records {
		row := []string{
			rec.StudentID,
			rec.StudentName,
			promo.classNames[rec.PreviousSchoolClassID],
			promo.classNames[rec.NewSchoolClassID],
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
