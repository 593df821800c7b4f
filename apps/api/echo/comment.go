package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core/comment"
)

type commentApi struct {
	svc      comment.ServiceInterface
	validate *validator.Validate
}

func registerCommentAPI(g *echo.Group, authed []echo.MiddlewareFunc, api *commentApi) {
	cg := g.Group("/comments", authed...)
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.PUT("/:id", api.update)
	cg.DELETE("/:id", api.destroy)
	cg.POST("/:id/hide", api.hide, adminMiddleware())
}

func (api *commentApi) query(ctx echo.Context) error {
	var target comment.Target
	if err := bindQuery(ctx, &target); err != nil {
		return err
	}
	if err := api.validate.Struct(target); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	comments, err := api.svc.List(ctx.Request().Context(), target, usr)
	if err != nil {
		return errors.Wrap(err, "querying comments")
	}
	if comments == nil {
		comments = []comment.Comment{}
	}
	return ctx.JSON(http.StatusOK, comments)
}

func (api *commentApi) create(ctx echo.Context) error {
	var data comment.NewComment
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
	c, err := api.svc.Create(ctx.Request().Context(), data, usr)
	if err != nil {
		return errors.Wrap(err, "creating comment")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *commentApi) update(ctx echo.Context) error {
	var data comment.UpdateComment
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
	c, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data, usr)
	if err != nil {
		return errors.Wrap(err, "updating comment")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *commentApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), usr); err != nil {
		return errors.Wrap(err, "deleting comment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *commentApi) hide(ctx echo.Context) error {
	var data comment.SetHidden
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	c, err := api.svc.SetHidden(ctx.Request().Context(), ctx.Param("id"), data.Hidden, usr)
	if err != nil {
		return errors.Wrap(err, "hiding comment")
	}
	return ctx.JSON(http.StatusOK, c)
}
