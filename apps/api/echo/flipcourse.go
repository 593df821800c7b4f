package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core/flipcourse"
)

type flipCourseApi struct {
	svc      flipcourse.ServiceInterface
	validate *validator.Validate
}

func registerFlipCourseAPI(g *echo.Group, authed []echo.MiddlewareFunc, api *flipCourseApi) {
	fg := g.Group("/flip-courses", authed...)
	fg.POST("", api.create)
	fg.GET("", api.query)
	fg.GET("/:id", api.retrieve)
	fg.PUT("/:id/team", api.assignTeam)
	fg.POST("/:id/advance", api.advance)
	fg.GET("/:id/prescriptions", api.listPrescriptions)
	fg.POST("/:id/prescriptions", api.createPrescription)
	fg.GET("/:id/analyses", api.listAnalyses)
	fg.POST("/:id/analyses", api.createAnalysis)

	g.PUT("/prescriptions/:id", api.updatePrescription, authed...)
	g.POST("/tasks/:id/complete", api.completeTask, authed...)
}

func (api *flipCourseApi) create(ctx echo.Context) error {
	var data flipcourse.NewFlipCourse
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
	fc, err := api.svc.Create(ctx.Request().Context(), data, usr)
	if err != nil {
		return errors.Wrap(err, "creating flip course")
	}
	return ctx.JSON(http.StatusCreated, fc)
}

func (api *flipCourseApi) query(ctx echo.Context) error {
	filter := new(flipcourse.QueryFilter)
	if err := bindQuery(ctx, filter); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	fcs, err := api.svc.List(ctx.Request().Context(), filter, ordering.Orderings, usr)
	if err != nil {
		return errors.Wrap(err, "querying flip courses")
	}
	if fcs == nil {
		fcs = []flipcourse.FlipCourse{}
	}
	return ctx.JSON(http.StatusOK, fcs)
}

func (api *flipCourseApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	fc, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "getting flip course")
	}
	return ctx.JSON(http.StatusOK, fc)
}

func (api *flipCourseApi) assignTeam(ctx echo.Context) error {
	var data flipcourse.AssignTeam
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
	fc, err := api.svc.AssignTeam(ctx.Request().Context(), ctx.Param("id"), data, usr)
	if err != nil {
		return errors.Wrap(err, "assigning team")
	}
	return ctx.JSON(http.StatusOK, fc)
}

func (api *flipCourseApi) advance(ctx echo.Context) error {
	var data flipcourse.Advance
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
	fc, err := api.svc.Advance(ctx.Request().Context(), ctx.Param("id"), data.To, usr)
	if err != nil {
		return errors.Wrap(err, "advancing flip course")
	}
	return ctx.JSON(http.StatusOK, fc)
}

func (api *flipCourseApi) listPrescriptions(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ps, err := api.svc.ListPrescriptions(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "querying prescriptions")
	}
	if ps == nil {
		ps = []flipcourse.Prescription{}
	}
	return ctx.JSON(http.StatusOK, ps)
}

func (api *flipCourseApi) createPrescription(ctx echo.Context) error {
	var data flipcourse.NewPrescription
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
	p, err := api.svc.CreatePrescription(ctx.Request().Context(), ctx.Param("id"), data, usr)
	if err != nil {
		return errors.Wrap(err, "creating prescription")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *flipCourseApi) updatePrescription(ctx echo.Context) error {
	var data flipcourse.UpdatePrescription
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
	p, err := api.svc.UpdatePrescription(ctx.Request().Context(), ctx.Param("id"), data, usr)
	if err != nil {
		return errors.Wrap(err, "updating prescription")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *flipCourseApi) completeTask(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	t, err := api.svc.CompleteTask(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "completing task")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *flipCourseApi) listAnalyses(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	as, err := api.svc.ListAnalyses(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "querying analyses")
	}
	if as == nil {
		as = []flipcourse.Analysis{}
	}
	return ctx.JSON(http.StatusOK, as)
}

func (api *flipCourseApi) createAnalysis(ctx echo.Context) error {
	var data flipcourse.NewAnalysis
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
	a, err := api.svc.CreateAnalysis(ctx.Request().Context(), ctx.Param("id"), data, usr)
	if err != nil {
		return errors.Wrap(err, "creating analysis")
	}
	return ctx.JSON(http.StatusCreated, a)
}
