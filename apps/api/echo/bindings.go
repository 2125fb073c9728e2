package echoapi

import (
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core"
)

const (
	importFileField  = "file"
	importClassField = "schoolClassId"
)

// ImportForm is the multipart form of a student import.
type ImportForm struct {
	SchoolClassID string
	File          *multipart.FileHeader
}

func (f *ImportForm) Bind(ctx echo.Context) error {
	f.SchoolClassID = core.CleanString(ctx.FormValue(importClassField))

	fh, err := ctx.FormFile(importFileField)
	if err != nil {
		if err == http.ErrMissingFile || err == http.ErrNotMultipart {
			return core.NewValidationError(
				errors.New("No file uploaded."),
				core.FieldError{Field: importFileField, Error: "No file uploaded."},
			)
		}
		return errors.Wrap(err, "reading uploaded file")
	}
	f.File = fh
	return nil
}
