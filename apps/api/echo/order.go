package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core/order"
)

type orderApi struct {
	svc      order.ServiceInterface
	validate *validator.Validate
}

func registerOrderAPI(g *echo.Group, authed []echo.MiddlewareFunc, api *orderApi) {
	og := g.Group("/orders", authed...)
	og.POST("", api.create)
	og.GET("", api.query)
	og.GET("/:id", api.retrieve)
	og.POST("/:id/cancel", api.cancel)
	og.POST("/:id/pay", api.pay, adminMiddleware())
	og.POST("/:id/refund", api.refund, adminMiddleware())
}

func (api *orderApi) create(ctx echo.Context) error {
	var data order.NewOrder
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
	ord, err := api.svc.Create(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating order")
	}
	return ctx.JSON(http.StatusCreated, ord)
}

func (api *orderApi) query(ctx echo.Context) error {
	filter := new(order.QueryFilter)
	if err := bindQuery(ctx, filter); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	orders, err := api.svc.List(ctx.Request().Context(), filter, ordering.Orderings, usr)
	if err != nil {
		return errors.Wrap(err, "querying orders")
	}
	if orders == nil {
		orders = []order.Order{}
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (api *orderApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ord, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "getting order")
	}
	return ctx.JSON(http.StatusOK, ord)
}

func (api *orderApi) cancel(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ord, err := api.svc.Cancel(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "cancelling order")
	}
	return ctx.JSON(http.StatusOK, ord)
}

func (api *orderApi) pay(ctx echo.Context) error {
	ord, err := api.svc.Pay(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "paying order")
	}
	return ctx.JSON(http.StatusOK, ord)
}

func (api *orderApi) refund(ctx echo.Context) error {
	ord, err := api.svc.Refund(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "refunding order")
	}
	return ctx.JSON(http.StatusOK, ord)
}
