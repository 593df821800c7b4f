package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/user"
)

type clubCourseApi struct {
	svc      clubcourse.ServiceInterface
	validate *validator.Validate
}

func registerClubCourseAPI(g *echo.Group, authed []echo.MiddlewareFunc, api *clubCourseApi) {
	cg := g.Group("/club-courses", authed...)
	staff := roleMiddleware((*user.User).IsTeacher)

	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve)
	cg.POST("", api.create, staff)
	cg.PUT("/:id", api.update, staff)
	cg.POST("/:id/cancel", api.cancel, staff)
	cg.GET("/:id/members", api.members, staff)
	cg.POST("/:id/enrollment", api.enroll)
	cg.DELETE("/:id/enrollment", api.withdraw)
}

func (api *clubCourseApi) query(ctx echo.Context) error {
	filter := new(clubcourse.QueryFilter)
	if err := bindQuery(ctx, filter); err != nil {
		return err
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.List(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying club courses")
	}
	if courses == nil {
		courses = []clubcourse.ClubCourse{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *clubCourseApi) retrieve(ctx echo.Context) error {
	course, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting club course")
	}
	return ctx.JSON(http.StatusOK, course)
}

func (api *clubCourseApi) create(ctx echo.Context) error {
	var data clubcourse.NewClubCourse
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	course, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating club course")
	}
	return ctx.JSON(http.StatusCreated, course)
}

func (api *clubCourseApi) update(ctx echo.Context) error {
	var data clubcourse.UpdateClubCourse
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	course, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating club course")
	}
	return ctx.JSON(http.StatusOK, course)
}

func (api *clubCourseApi) cancel(ctx echo.Context) error {
	course, err := api.svc.Cancel(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "cancelling club course")
	}
	return ctx.JSON(http.StatusOK, course)
}

func (api *clubCourseApi) members(ctx echo.Context) error {
	enrollments, err := api.svc.Members(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying members")
	}
	if enrollments == nil {
		enrollments = []clubcourse.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *clubCourseApi) enroll(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Enroll(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *clubCourseApi) withdraw(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Withdraw(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		return errors.Wrap(err, "withdrawing")
	}
	return ctx.NoContent(http.StatusNoContent)
}
