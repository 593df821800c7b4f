package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

func TestCatalogAPI(t *testing.T) {
	srv, app := newTestServer(t)
	student := testutil.CreateUser(t, app.Repos.Users, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, app.Repos.Users, "Adm", "adm", "adm@mclass.test", "", []string{user.RoleAdmin}, true)
	studentToken, adminToken := getToken(t, app, student), getToken(t, app, admin)

	book := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindMaterial, "Workbook", 450, 3)
	course := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindCourse, "IELTS prep", 12000, -1)

	newCat := marchallObj(t, catalog.NewCategory{Name: "Languages", Slug: "languages"})
	newProd := marchallObj(t, catalog.NewProduct{Kind: catalog.KindClub, Name: "Book club", PriceCents: 900, Currency: "TWD"})

	runTests(t, srv, []httpTest{
		{name: "products are public", path: "/v1/products?kind=course", wantCode: http.StatusOK, wantData: marchallList(t, course)},
		{name: "search", path: "/v1/products?search=WORK", wantCode: http.StatusOK, wantData: marchallList(t, book)},
		{name: "retrieve", path: "/v1/products/" + book.ID, wantCode: http.StatusOK, wantData: marchallObj(t, book)},
		{
			name: "retrieve: unknown", path: "/v1/products/0b6f8d5e-8d0a-4a4f-9d3a-3f1d4f3c2a10", wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "product not found"}),
		},
		{name: "categories are public", path: "/v1/categories", wantCode: http.StatusOK, wantData: marchallList(t)},
		{
			name: "create category: auth required", method: http.MethodPost, path: "/v1/categories", body: newCat,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "create category: admin required", method: http.MethodPost, path: "/v1/categories", body: newCat,
			token: studentToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errPermDenied),
		},
		{name: "create category", method: http.MethodPost, path: "/v1/categories", body: newCat, token: adminToken, wantCode: http.StatusCreated},
		{
			name: "create product: invalid", method: http.MethodPost, path: "/v1/products", token: adminToken,
			body: marchallObj(t, catalog.NewProduct{Kind: "gadget", Name: "?", Currency: "TWD"}), wantCode: http.StatusBadRequest,
		},
		{name: "create product", method: http.MethodPost, path: "/v1/products", body: newProd, token: adminToken, wantCode: http.StatusCreated},
		{name: "delete product", method: http.MethodDelete, path: "/v1/products/" + book.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted product", path: "/v1/products/" + book.ID, wantCode: http.StatusNotFound},
	})

	cats, err := app.Services.Catalog.QueryCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "languages", cats[0].Slug)
}

func TestCatalogAPI_inactiveProducts(t *testing.T) {
	srv, app := newTestServer(t)
	student := testutil.CreateUser(t, app.Repos.Users, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, app.Repos.Users, "Adm", "adm", "adm@mclass.test", "", []string{user.RoleAdmin}, true)
	studentToken, adminToken := getToken(t, app, student), getToken(t, app, admin)

	shown := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindCourse, "Shown", 100, -1)
	hidden := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindCourse, "Hidden", 100, -1)
	inactive := false
	hidden, err := app.Services.Catalog.UpdateProduct(context.Background(), hidden.ID, catalog.UpdateProduct{IsActive: &inactive})
	require.NoError(t, err)
	require.False(t, hidden.IsActive)
	notFound := marchallObj(t, httpErr{Error: catalog.ErrProductNotFound.Error()})

	runTests(t, srv, []httpTest{
		{name: "list: anonymous", path: "/v1/products", wantCode: http.StatusOK, wantData: marchallList(t, shown)},
		{name: "list: anonymous asks for inactive", path: "/v1/products?is_active=false", wantCode: http.StatusOK, wantData: marchallList(t, shown)},
		{name: "list: student asks for inactive", path: "/v1/products?is_active=false", token: studentToken, wantCode: http.StatusOK, wantData: marchallList(t, shown)},
		{name: "list: admin asks for inactive", path: "/v1/products?is_active=false", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, hidden)},
		{name: "retrieve: anonymous", path: "/v1/products/" + hidden.ID, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "retrieve: student", path: "/v1/products/" + hidden.ID, token: studentToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "retrieve: admin", path: "/v1/products/" + hidden.ID, token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, hidden)},
		{name: "retrieve: bad token", path: "/v1/products/" + shown.ID, token: "nope", wantCode: http.StatusUnauthorized},
	})
}
