package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/term"
)

// systemApi exposes the academic calendar operations; all of them are admin only.
type systemApi struct {
	svc *term.Service
}

func registerSystemAPI(g *echo.Group, s *Server, admin []echo.MiddlewareFunc) {
	api := systemApi{svc: s.deps.TermSvc}

	sg := g.Group("/system")
	sg.POST("/terms", api.startTerm, admin...)
	sg.POST("/promote", api.promote, admin...)
	sg.POST("/promote/undo", api.undoPromotion, admin...)
	sg.GET("/promotions", api.queryPromotions, admin...)
}

func (api *systemApi) startTerm(ctx echo.Context) error {
	var data term.NewTerm
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTerm")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Start(ctx.Request().Context(), data, usr)
	if err != nil {
		return errors.Wrap(err, "starting term")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *systemApi) promote(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Promote(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "promoting students")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *systemApi) undoPromotion(ctx echo.Context) error {
	var data term.UndoRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UndoRequest")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.UndoPromotion(ctx.Request().Context(), data.PromotionLogID, usr)
	if err != nil {
		return errors.Wrap(err, "undoing promotion")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *systemApi) queryPromotions(ctx echo.Context) error {
	logs, err := api.svc.QueryPromotions(ctx.Request().Context())
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []school.PromotionLogDetails{}
	}
	return ctx.JSON(http.StatusOK, logs)
}
