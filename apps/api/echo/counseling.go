package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core/counseling"
)

type counselingApi struct {
	svc      counseling.ServiceInterface
	validate *validator.Validate
}

func registerCounselingAPI(g *echo.Group, authed []echo.MiddlewareFunc, api *counselingApi) {
	cg := g.Group("/counseling", authed...)
	cg.POST("", api.book)
	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve)
	cg.POST("/:id/confirm", api.confirm)
	cg.POST("/:id/cancel", api.cancel)
	cg.POST("/:id/complete", api.complete)
	cg.POST("/:id/reschedule", api.reschedule)
}

func (api *counselingApi) book(ctx echo.Context) error {
	var data counseling.NewAppointment
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	appt, err := api.svc.Book(ctx.Request().Context(), data, usr)
	if err != nil {
		return errors.Wrap(err, "booking appointment")
	}
	return ctx.JSON(http.StatusCreated, appt)
}

func (api *counselingApi) query(ctx echo.Context) error {
	filter := new(counseling.QueryFilter)
	if err := bindQuery(ctx, filter); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	appts, err := api.svc.List(ctx.Request().Context(), filter, ordering.Orderings, usr)
	if err != nil {
		return errors.Wrap(err, "querying appointments")
	}
	if appts == nil {
		appts = []counseling.Appointment{}
	}
	return ctx.JSON(http.StatusOK, appts)
}

func (api *counselingApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	appt, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "getting appointment")
	}
	return ctx.JSON(http.StatusOK, appt)
}

func (api *counselingApi) confirm(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	appt, err := api.svc.Confirm(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "confirming appointment")
	}
	return ctx.JSON(http.StatusOK, appt)
}

func (api *counselingApi) cancel(ctx echo.Context) error {
	var data counseling.CancelRequest
	if ctx.Request().ContentLength != 0 {
		if err := bindBody(ctx, &data); err != nil {
			return err
		}
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	appt, err := api.svc.Cancel(ctx.Request().Context(), ctx.Param("id"), usr, data.Reason)
	if err != nil {
		return errors.Wrap(err, "cancelling appointment")
	}
	return ctx.JSON(http.StatusOK, appt)
}

func (api *counselingApi) complete(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	appt, err := api.svc.Complete(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "completing appointment")
	}
	return ctx.JSON(http.StatusOK, appt)
}

func (api *counselingApi) reschedule(ctx echo.Context) error {
	var data counseling.Reschedule
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	appt, err := api.svc.Reschedule(ctx.Request().Context(), ctx.Param("id"), usr, data)
	if err != nil {
		return errors.Wrap(err, "rescheduling appointment")
	}
	return ctx.JSON(http.StatusOK, appt)
}
