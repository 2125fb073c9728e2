package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core/school"
)

const msgStudentArchived = "Student has been successfully archived."

type schoolApi struct {
	svc *school.Service
}

func registerSchoolAPI(g *echo.Group, s *Server, staff, admin []echo.MiddlewareFunc) {
	api := schoolApi{svc: s.deps.SchoolSvc}

	g.GET("/dashboard", api.dashboard, staff...)

	g.GET("/classes", api.queryClasses, staff...)
	g.GET("/classes/:id", api.retrieveClass, staff...)
	g.PUT("/classes/:id", api.updateClass, admin...)

	g.POST("/students", api.createStudent, admin...)
	g.POST("/students/import", api.importStudents, admin...)
	g.DELETE("/students/:id", api.archiveStudent, admin...)
	g.GET("/students/:id/payments", api.studentPayments, staff...)

	g.POST("/payments", api.recordPayment, admin...)

	g.GET("/terms", api.queryTerms, staff...)
}

// Handlers

func (api *schoolApi) dashboard(ctx echo.Context) error {
	board, err := api.svc.Dashboard(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing dashboard")
	}
	return ctx.JSON(http.StatusOK, board)
}

func (api *schoolApi) queryClasses(ctx echo.Context) error {
	classes, err := api.svc.QueryClasses(ctx.Request().Context())
	if err != nil {
		return err
	}
	if classes == nil {
		classes = []school.SchoolClass{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *schoolApi) retrieveClass(ctx echo.Context) error {
	details, err := api.svc.GetClassDetails(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class details")
	}
	return ctx.JSON(http.StatusOK, details)
}

func (api *schoolApi) updateClass(ctx echo.Context) error {
	var data school.UpdateClassFee
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClassFee")
	}
	cls, err := api.svc.UpdateClassFee(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating class fee")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *schoolApi) createStudent(ctx echo.Context) error {
	var data school.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	std, err := api.svc.CreateStudent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, std)
}

func (api *schoolApi) importStudents(ctx echo.Context) error {
	var form ImportForm
	if err := form.Bind(ctx); err != nil {
		return err
	}
	file, err := form.File.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer func() { _ = file.Close() }()

	res, err := api.svc.ImportStudents(ctx.Request().Context(), form.SchoolClassID, form.File.Filename, file)
	if err != nil {
		return errors.Wrap(err, "importing students")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *schoolApi) archiveStudent(ctx echo.Context) error {
	std, err := api.svc.ArchiveStudent(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "archiving student")
	}
	return ctx.JSON(http.StatusOK, ArchiveResponse{Message: msgStudentArchived, Student: std})
}

func (api *schoolApi) studentPayments(ctx echo.Context) error {
	payments, err := api.svc.StudentPayments(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying student payments")
	}
	if payments == nil {
		payments = []school.PaymentWithTerm{}
	}
	return ctx.JSON(http.StatusOK, payments)
}

func (api *schoolApi) recordPayment(ctx echo.Context) error {
	var data school.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	pmt, err := api.svc.RecordPayment(ctx.Request().Context(), data, usr.Name)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusCreated, pmt)
}

func (api *schoolApi) queryTerms(ctx echo.Context) error {
	terms, err := api.svc.QueryTerms(ctx.Request().Context())
	if err != nil {
		return err
	}
	if terms == nil {
		terms = []school.Term{}
	}
	return ctx.JSON(http.StatusOK, terms)
}

type ArchiveResponse struct {
	Message string         `json:"message"`
	Student school.Student `json:"student"`
}
