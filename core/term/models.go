package term

import (
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
)

// yearBoundaryRegex is the legacy naming rule: "Term 1 2025" opens a new academic year, "Term 10" does not.
var yearBoundaryRegex = regexp.MustCompile(`(?i)\bterm\s*1\b`)

type (
	// NewTerm holds what is needed to start a term.
	// IsYearBoundary, when omitted, is inferred from the name.
	NewTerm struct {
		Name           string    `json:"name" validate:"required,notblank"`
		StartDate      core.Date `json:"startDate" validate:"required"`
		EndDate        core.Date `json:"endDate" validate:"required,gtefield=StartDate"`
		IsYearBoundary *bool     `json:"isYearBoundary"`
	}

	StartResult struct {
		Message        string      `json:"message"`
		Term           school.Term `json:"term"`
		PromotionLogID null.String `json:"promotionLogId"`
		ArrearsUpdated int         `json:"arrearsUpdated"`
		Promoted       int         `json:"promoted"`
	}

	PromotionResult struct {
		Message        string      `json:"message"`
		PromotionLogID null.String `json:"promotionLogId"`
		Promoted       int         `json:"promoted"`
	}

	UndoRequest struct {
		PromotionLogID string `json:"promotionLogId"`
	}

	UndoResult struct {
		Message  string `json:"message"`
		Restored int    `json:"restored"`
	}
)

func (nt *NewTerm) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	return validate.Struct(nt)
}

// YearBoundary reports whether starting this term closes an academic year (and so promotes students).
func (nt NewTerm) YearBoundary() bool {
	if nt.IsYearBoundary != nil {
		return *nt.IsYearBoundary
	}
	return yearBoundaryRegex.MatchString(nt.Name)
}
