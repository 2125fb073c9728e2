package term

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
)

// promotionLadder lists the classes in promotion order; each class moves to the following one.
var promotionLadder = []string{
	school.ClassForm1,
	school.ClassForm2,
	school.ClassForm3,
	school.ClassForm4,
	school.ClassGraduated,
}

type promotion struct {
	log        school.PromotionLog
	records    []school.StudentPromotionRecord
	classNames map[string]string // {classID: name}
}

func (p *promotion) logID() string {
	if p == nil {
		return ""
	}
	return p.log.ID
}

func (p *promotion) count() int {
	if p == nil {
		return 0
	}
	return len(p.records)
}

// promote moves every active student of Form 1..4 one class up; Form 4 students graduate.
// Students are selected before any write so nobody moves twice.
// Returns nil when no student is eligible, in which case no log is written.
func promote(ctx context.Context, repo school.Repository, triggeredBy string) (*promotion, error) {
	classes, err := repo.GetClassesByName(ctx, promotionLadder...)
	if err != nil {
		return nil, errors.Wrap(err, "finding promotion classes")
	}
	for _, name := range promotionLadder {
		if _, ok := classes[name]; !ok {
			return nil, core.NewPreconditionError(
				fmt.Sprintf("The class %q is not defined in the database. Promotion cannot proceed.", name),
			)
		}
	}

	next := make(map[string]school.SchoolClass, len(promotionLadder)-1) // {fromClassID: toClass}
	classNames := make(map[string]string, len(promotionLadder))
	for i, name := range promotionLadder {
		classNames[classes[name].ID] = name
		if i+1 < len(promotionLadder) {
			next[classes[name].ID] = classes[promotionLadder[i+1]]
		}
	}

	snapshot, err := repo.QueryStudents(ctx, school.StudentFilter{
		ClassNames: promotionLadder[:len(promotionLadder)-1],
		Statuses:   []string{school.StatusActive},
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying promotable students")
	}
	if len(snapshot) == 0 {
		return nil, nil
	}

	log, err := repo.CreatePromotionLog(ctx, school.PromotionLog{
		ID:          uuid.New().String(),
		TriggeredBy: triggeredBy,
		Status:      school.PromotionActive,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating promotion log")
	}

	now := time.Now().UTC()
	records := make([]school.StudentPromotionRecord, 0, len(snapshot))
	for _, std := range snapshot {
		to := next[std.SchoolClassID]
		records = append(records, school.StudentPromotionRecord{
			ID:                    uuid.New().String(),
			PromotionLogID:        log.ID,
			StudentID:             std.ID,
			StudentName:           std.Name,
			PreviousSchoolClassID: std.SchoolClassID,
			NewSchoolClassID:      to.ID,
		})

		std.SchoolClassID = to.ID
		std.Status = school.StatusActive
		if to.Name == school.ClassGraduated {
			std.Status = school.StatusGraduated
		}
		std.UpdatedAt = now
		if _, err := repo.UpdateStudent(ctx, std); err != nil {
			return nil, errors.Wrapf(err, "promoting student %s", std.ID)
		}
	}

	if err := repo.CreatePromotionRecords(ctx, records...); err != nil {
		return nil, errors.Wrap(err, "creating promotion records")
	}
	return &promotion{log: log, records: records, classNames: classNames}, nil
}
