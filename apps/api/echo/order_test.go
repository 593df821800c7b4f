package echoapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/order"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

func TestOrderAPI(t *testing.T) {
	srv, app := newTestServer(t)
	repo := app.Repos.Users
	student := testutil.CreateUser(t, repo, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, repo, "Oth", "oth", "oth@mclass.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, repo, "Adm", "adm", "adm@mclass.test", "", []string{user.RoleAdmin}, true)
	studentToken, otherToken, adminToken := getToken(t, app, student), getToken(t, app, other), getToken(t, app, admin)

	club := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindClub, "Book club", 900, -1)
	course := testutil.CreateClubCourse(t, app.Services.ClubCourses, "Reading", &club.ID, 10, time.Now().Add(48*time.Hour))

	newOrder := marchallObj(t, order.NewOrder{Items: []order.NewItem{{ProductID: club.ID, Quantity: 1}}})
	req, rec := newAuthRequest(http.MethodPost, "/v1/orders", studentToken, newOrder)
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ord order.Order
	unmarshal(t, rec, &ord)
	assert.Equal(t, order.StatusPending, ord.Status)
	assert.Equal(t, int64(900), ord.TotalCents)
	path := "/v1/orders/" + ord.ID

	runTests(t, srv, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/v1/orders", body: newOrder, wantCode: http.StatusUnauthorized},
		{
			name: "no items", method: http.MethodPost, path: "/v1/orders", token: studentToken,
			body: marchallObj(t, order.NewOrder{}), wantCode: http.StatusBadRequest,
		},
		{
			name: "someone else's order", path: path, token: otherToken, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "order not found"}),
		},
		{name: "list: own orders only", path: "/v1/orders", token: otherToken, wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "pay: admin required", method: http.MethodPost, path: path + "/pay", token: studentToken, wantCode: http.StatusForbidden},
		{name: "pay", method: http.MethodPost, path: path + "/pay", token: adminToken, wantCode: http.StatusOK},
		{
			name: "cancel after pay", method: http.MethodPost, path: path + "/cancel", token: studentToken,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "order status does not allow this operation"}),
		},
	})

	members, err := app.Services.ClubCourses.Members(context.Background(), course.ID)
	require.NoError(t, err)
	require.Len(t, members, 1, "paying a club order enrolls the member")
	assert.Equal(t, student.ID, members[0].MemberID)

	runTests(t, srv, []httpTest{
		{name: "refund", method: http.MethodPost, path: path + "/refund", token: adminToken, wantCode: http.StatusOK},
		{name: "members: staff only", path: "/v1/club-courses/" + course.ID + "/members", token: studentToken, wantCode: http.StatusForbidden},
		{name: "members", path: "/v1/club-courses/" + course.ID + "/members", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t)},
	})
}

func TestClubCourseAPI(t *testing.T) {
	srv, app := newTestServer(t)
	student := testutil.CreateUser(t, app.Repos.Users, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	teacher := testutil.CreateUser(t, app.Repos.Users, "Tea", "tea", "tea@mclass.test", "", []string{user.RoleTeacher}, true)
	studentToken, teacherToken := getToken(t, app, student), getToken(t, app, teacher)

	course := testutil.CreateClubCourse(t, app.Services.ClubCourses, "Reading", nil, 1, time.Now().Add(48*time.Hour))
	path := "/v1/club-courses/" + course.ID

	runTests(t, srv, []httpTest{
		{name: "list: auth required", path: "/v1/club-courses", wantCode: http.StatusUnauthorized},
		{name: "list", path: "/v1/club-courses", token: studentToken, wantCode: http.StatusOK, wantData: marchallList(t, course)},
		{name: "retrieve", path: path, token: studentToken, wantCode: http.StatusOK, wantData: marchallObj(t, course)},
		{name: "enroll: auth required", method: http.MethodPost, path: path + "/enrollment", wantCode: http.StatusUnauthorized},
		{name: "enroll", method: http.MethodPost, path: path + "/enrollment", token: studentToken, wantCode: http.StatusNoContent},
		{
			name: "enroll: full", method: http.MethodPost, path: path + "/enrollment", token: teacherToken,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "club course is full"}),
		},
		{name: "withdraw", method: http.MethodDelete, path: path + "/enrollment", token: studentToken, wantCode: http.StatusNoContent},
		{
			name: "withdraw: not enrolled", method: http.MethodDelete, path: path + "/enrollment", token: studentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "member is not enrolled in this club course"}),
		},
		{name: "cancel: staff only", method: http.MethodPost, path: path + "/cancel", token: studentToken, wantCode: http.StatusForbidden},
		{name: "cancel", method: http.MethodPost, path: path + "/cancel", token: teacherToken, wantCode: http.StatusOK},
		{
			name: "enroll: cancelled", method: http.MethodPost, path: path + "/enrollment", token: studentToken,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "club course is not open for enrollment"}),
		},
	})
}
