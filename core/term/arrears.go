package term

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/amboseli-lewis/sms/core/school"
)

// carryArrears closes the billing of the ending term: every active student now owes
// their class fee plus previous arrears, less what they paid during that term.
// The result is kept signed so overpayments carry forward as credit.
func carryArrears(ctx context.Context, repo school.Repository, ending school.Term) (int, error) {
	students, err := repo.QueryStudents(ctx, school.StudentFilter{Statuses: []string{school.StatusActive}})
	if err != nil {
		return 0, errors.Wrap(err, "querying active students")
	}
	if len(students) == 0 {
		return 0, nil
	}

	classes, err := repo.QueryClasses(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "querying classes")
	}
	fees := make(map[string]decimal.Decimal, len(classes))
	for _, cls := range classes {
		fees[cls.ID] = cls.TermFee
	}

	totals, err := repo.SumPaymentsByStudent(ctx, ending.ID)
	if err != nil {
		return 0, errors.Wrap(err, "summing term payments")
	}
	paid := make(map[string]decimal.Decimal, len(totals))
	for _, t := range totals {
		paid[t.StudentID] = t.Total
	}

	now := time.Now().UTC()
	for _, std := range students {
		fee, ok := fees[std.SchoolClassID]
		if !ok {
			return 0, errors.Errorf("class %s of student %s not found", std.SchoolClassID, std.ID)
		}
		std.Arrears = fee.Add(std.Arrears).Sub(paid[std.ID])
		std.UpdatedAt = now
		if _, err := repo.UpdateStudent(ctx, std); err != nil {
			return 0, errors.Wrapf(err, "updating arrears of student %s", std.ID)
		}
	}
	return len(students), nil
}
