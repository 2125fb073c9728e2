package school

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/amboseli-lewis/sms/core"
)

const (
	importNameColumn            = "name"
	importAdmissionNumberColumn = "admissionnumber"
)

var (
	ErrImportEmpty = core.NewValidationError(errors.New("The file is empty or has no data rows."))
	ErrImportColumns = core.NewValidationError(
		errors.New(`The file must contain "name" and "admissionNumber" columns.`),
	)
	ErrImportNoRecords = core.NewValidationError(
		errors.New("No student records with both a name and admission number were found in the file."),
	)
	ErrImportFileType = core.NewValidationError(errors.New("Unsupported file type. Upload a .csv or .xlsx file."))
)

type ImportResult struct {
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Message  string `json:"message"`
}

// ReadRows reads the first sheet of an .xlsx file or a .csv file into rows of trimmed cells.
// Blank rows are dropped.
func ReadRows(filename string, r io.Reader) ([][]string, error) {
	var rows [][]string

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rdr := csv.NewReader(r)
		rdr.FieldsPerRecord = -1
		rdr.TrimLeadingSpace = true
		records, err := rdr.ReadAll()
		if err != nil {
			return nil, core.NewValidationError(errors.Wrap(err, "reading csv"))
		}
		rows = records
	case ".xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, core.NewValidationError(errors.Wrap(err, "reading xlsx"))
		}
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrImportEmpty
		}
		if rows, err = f.GetRows(sheets[0]); err != nil {
			return nil, core.NewValidationError(errors.Wrap(err, "reading xlsx"))
		}
	default:
		return nil, ErrImportFileType
	}

	cleaned := make([][]string, 0, len(rows))
	for _, row := range rows {
		blank := true
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
			if row[i] != "" {
				blank = false
			}
		}
		if !blank {
			cleaned = append(cleaned, row)
		}
	}
	return cleaned, nil
}

// parseImportRows maps rows to NewStudents using the header row. Rows without a name or an admission number are ignored.
func parseImportRows(rows [][]string) ([]NewStudent, error) {
	if len(rows) < 2 {
		return nil, ErrImportEmpty
	}

	nameIdx, admIdx := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(h) {
		case importNameColumn:
			nameIdx = i
		case importAdmissionNumberColumn:
			admIdx = i
		}
	}
	if nameIdx == -1 || admIdx == -1 {
		return nil, ErrImportColumns
	}

	cell := func(row []string, i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	students := make([]NewStudent, 0, len(rows)-1)
	for _, row := range rows[1:] {
		ns := NewStudent{Name: cell(row, nameIdx), AdmissionNumber: cell(row, admIdx)}
		if ns.Name == "" || ns.AdmissionNumber == "" {
			continue
		}
		students = append(students, ns)
	}
	if len(students) == 0 {
		return nil, ErrImportNoRecords
	}
	return students, nil
}

// ImportStudents enrolls the students listed in a spreadsheet into a class.
// Admission numbers already enrolled, or repeated in the file, are skipped.
func (svc *Service) ImportStudents(ctx context.Context, classID, filename string, r io.Reader) (ImportResult, error) {
	classID = core.CleanString(classID)
	if classID == "" {
		return ImportResult{}, core.NewValidationError(
			errors.New("File or Class ID missing."),
			core.FieldError{Field: "schoolClassId", Error: "this field is required"},
		)
	}
	if _, err := svc.store.GetClass(ctx, classID); err != nil {
		if isNotFound(err) {
			return ImportResult{}, errUnknownClass
		}
		return ImportResult{}, errors.Wrap(err, "finding class")
	}

	rows, err := ReadRows(filename, r)
	if err != nil {
		return ImportResult{}, err
	}
	fromFile, err := parseImportRows(rows)
	if err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	err = svc.store.Atomic(ctx, nil, func(ctx context.Context, repo Repository) error {
		numbers := make([]string, 0, len(fromFile))
		for _, ns := range fromFile {
			numbers = append(numbers, ns.AdmissionNumber)
		}
		existing, err := repo.ExistingAdmissionNumbers(ctx, numbers...)
		if err != nil {
			return errors.Wrap(err, "checking admission numbers")
		}
		seen := make(map[string]bool, len(fromFile)+len(existing))
		for _, n := range existing {
			seen[n] = true
		}

		now := time.Now().UTC()
		toCreate := make([]Student, 0, len(fromFile))
		for _, ns := range fromFile {
			if seen[ns.AdmissionNumber] {
				continue
			}
			seen[ns.AdmissionNumber] = true
			toCreate = append(toCreate, Student{
				ID:              uuid.New().String(),
				Name:            ns.Name,
				AdmissionNumber: ns.AdmissionNumber,
				SchoolClassID:   classID,
				Status:          StatusActive,
				Arrears:         decimal.Zero,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}

		result.Imported = len(toCreate)
		result.Skipped = len(fromFile) - len(toCreate)
		if len(toCreate) == 0 {
			return nil
		}
		return errors.Wrap(repo.CreateStudents(ctx, toCreate...), "creating students")
	})
	if err != nil {
		return ImportResult{}, err
	}

	if result.Imported == 0 {
		result.Message = "All students in the file already exist in the system."
	} else {
		result.Message = fmt.Sprintf("%d new students were imported successfully.", result.Imported)
		if result.Skipped > 0 {
			result.Message += fmt.Sprintf(" %d students were skipped because their admission number already exists.", result.Skipped)
		}
	}
	svc.logger.Info(result.Message, map[string]interface{}{"schoolClassId": classID, "file": filename})
	return result, nil
}
