package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core/catalog"
)

type catalogApi struct {
	svc      catalog.ServiceInterface
	validate *validator.Validate
}

func registerCatalogAPI(g *echo.Group, public, authed []echo.MiddlewareFunc, api *catalogApi) {
	// public reads; only admins see inactive products
	g.GET("/categories", api.queryCategories)
	g.GET("/products", api.queryProducts, public...)
	g.GET("/products/:id", api.retrieveProduct, public...)

	admin := append(append([]echo.MiddlewareFunc{}, authed...), adminMiddleware())
	g.POST("/categories", api.createCategory, admin...)
	g.PUT("/categories/:id", api.updateCategory, admin...)
	g.DELETE("/categories/:id", api.destroyCategory, admin...)

	g.POST("/products", api.createProduct, admin...)
	g.PUT("/products/:id", api.updateProduct, admin...)
	g.DELETE("/products/:id", api.destroyProduct, admin...)
}

func (api *catalogApi) queryCategories(ctx echo.Context) error {
	cats, err := api.svc.QueryCategories(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying categories")
	}
	if cats == nil {
		cats = []catalog.Category{}
	}
	return ctx.JSON(http.StatusOK, cats)
}

func (api *catalogApi) createCategory(ctx echo.Context) error {
	var data catalog.NewCategory
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	cat, err := api.svc.CreateCategory(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating category")
	}
	return ctx.JSON(http.StatusCreated, cat)
}

func (api *catalogApi) updateCategory(ctx echo.Context) error {
	var data catalog.NewCategory
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	cat, err := api.svc.UpdateCategory(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating category")
	}
	return ctx.JSON(http.StatusOK, cat)
}

func (api *catalogApi) destroyCategory(ctx echo.Context) error {
	if err := api.svc.DeleteCategory(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting category")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *catalogApi) queryProducts(ctx echo.Context) error {
	filter := new(catalog.QueryFilter)
	if err := bindQuery(ctx, filter); err != nil {
		return err
	}
	filter.Clean()
	if !isContextAdmin(ctx) {
		active := true
		filter.IsActive = &active
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	prods, err := api.svc.QueryProducts(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying products")
	}
	if prods == nil {
		prods = []catalog.Product{}
	}
	return ctx.JSON(http.StatusOK, prods)
}

func (api *catalogApi) retrieveProduct(ctx echo.Context) error {
	prod, err := api.svc.GetProduct(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting product")
	}
	if !prod.IsActive && !isContextAdmin(ctx) {
		return catalog.ErrProductNotFound
	}
	return ctx.JSON(http.StatusOK, prod)
}

func (api *catalogApi) createProduct(ctx echo.Context) error {
	var data catalog.NewProduct
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	prod, err := api.svc.CreateProduct(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating product")
	}
	return ctx.JSON(http.StatusCreated, prod)
}

func (api *catalogApi) updateProduct(ctx echo.Context) error {
	var data catalog.UpdateProduct
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	prod, err := api.svc.UpdateProduct(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating product")
	}
	return ctx.JSON(http.StatusOK, prod)
}

func (api *catalogApi) destroyProduct(ctx echo.Context) error {
	if err := api.svc.DeleteProduct(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting product")
	}
	return ctx.NoContent(http.StatusNoContent)
}
