package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/benhuang0857/mclass/apps/api/echo"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

const testPwd = "Qx7#mPlk!2"

func TestUserAPI_login(t *testing.T) {
	srv, app := newTestServer(t)
	usr := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", testPwd, []string{user.RoleStudent}, true)
	testutil.CreateUser(t, app.Repos.Users, "Gone", "gone", "gone@mclass.test", testPwd, []string{user.RoleStudent}, false)

	authFailed := marchallObj(t, httpErr{Error: "authentication failed"})
	runTests(t, srv, []httpTest{
		{name: "malformed body", method: http.MethodPost, path: "/v1/users/login", body: []byte("{"), wantCode: http.StatusBadRequest},
		{
			name: "missing fields", method: http.MethodPost, path: "/v1/users/login",
			body: marchallObj(t, echoapi.LoginRequest{}), wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown user", method: http.MethodPost, path: "/v1/users/login",
			body:     marchallObj(t, echoapi.LoginRequest{Username: "bob", Password: testPwd}),
			wantCode: http.StatusBadRequest, wantData: authFailed,
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login",
			body:     marchallObj(t, echoapi.LoginRequest{Username: "alice", Password: "nope"}),
			wantCode: http.StatusBadRequest, wantData: authFailed,
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login",
			body:     marchallObj(t, echoapi.LoginRequest{Username: "gone", Password: testPwd}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	})

	req, rec := newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, echoapi.LoginRequest{Username: " ALICE@mclass.test ", Password: testPwd}))
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login echoapi.LoginResponse
	unmarshal(t, rec, &login)
	require.NotEmpty(t, login.Token)

	req, rec = newAuthRequest(http.MethodGet, "/v1/users/me", login.Token)
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var me user.User
	unmarshal(t, rec, &me)
	assert.Equal(t, usr.ID, me.ID)
	assert.False(t, me.LastLogin.IsZero(), "login is recorded")

	req, rec = newAuthRequest(http.MethodPost, "/v1/users/token-refresh", login.Token)
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed echoapi.LoginResponse
	unmarshal(t, rec, &refreshed)
	assert.NotEmpty(t, refreshed.Token)
}

func TestUserAPI_auth(t *testing.T) {
	srv, app := newTestServer(t)
	ctx := context.Background()
	gone := testutil.CreateUser(t, app.Repos.Users, "Gone", "gone", "gone@mclass.test", "", []string{user.RoleStudent}, false)
	deleted := testutil.CreateUser(t, app.Repos.Users, "Del", "del", "del@mclass.test", "", []string{user.RoleStudent}, true)
	deletedToken := getToken(t, app, deleted)
	require.NoError(t, app.Services.Users.Delete(ctx, deleted.ID))

	runTests(t, srv, []httpTest{
		{name: "auth required", path: "/v1/users/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "bad token", path: "/v1/users/me", token: "not-a-token", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{
			name: "deleted user", path: "/v1/users/me", token: deletedToken, wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "user not authenticated"}),
		},
		{
			name: "deactivated user", path: "/v1/users/me", token: getToken(t, app, gone), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "roles", path: "/v1/users/roles", token: getToken(t, app, gone), wantCode: http.StatusForbidden},
	})
}

func TestUserAPI_register(t *testing.T) {
	srv, app := newTestServer(t)
	ctx := context.Background()

	body := marchallObj(t, user.NewMember{Name: "Alice", Email: "Alice@mclass.test", Password: testPwd, PasswordConfirm: testPwd})
	req, rec := newRequest(http.MethodPost, "/v1/users/register", body)
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var usr user.User
	unmarshal(t, rec, &usr)
	assert.Equal(t, "alice@mclass.test", usr.Email)
	assert.Equal(t, []string{user.RoleStudent}, usr.Roles)

	runTests(t, srv, []httpTest{
		{
			name: "email taken", method: http.MethodPost, path: "/v1/users/register", body: body,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
		{
			name: "weak password", method: http.MethodPost, path: "/v1/users/register",
			body:     marchallObj(t, user.NewMember{Name: "Bob", Email: "bob@mclass.test", Password: "12345678", PasswordConfirm: "12345678"}),
			wantCode: http.StatusBadRequest,
		},
	})

	got, err := app.Services.Users.GetByEmail(ctx, "alice@mclass.test")
	require.NoError(t, err)
	assert.NoError(t, got.CheckPassword(testPwd))
}

func TestUserAPI_admin(t *testing.T) {
	srv, app := newTestServer(t)
	ctx := context.Background()
	repo := app.Repos.Users
	student := testutil.CreateUser(t, repo, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, repo, "Oth", "oth", "oth@mclass.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, repo, "Adm", "adm", "adm@mclass.test", "", []string{user.RoleAdmin}, true)
	studentToken, adminToken := getToken(t, app, student), getToken(t, app, admin)

	newCounselor := marchallObj(t, user.NewUser{
		Name: "Coach", Username: "coach", Password: testPwd, PasswordConfirm: testPwd, Roles: []string{user.RoleCounselor},
	})
	newOwner := marchallObj(t, user.NewUser{
		Name: "Boss", Username: "boss", Password: testPwd, PasswordConfirm: testPwd, Roles: []string{user.RoleAdminOwner},
	})
	inactive := false

	runTests(t, srv, []httpTest{
		{name: "query: auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "query: admin required", path: "/v1/users", token: studentToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errPermDenied)},
		{name: "query: by role", path: "/v1/users?role=admin:", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, admin)},
		{name: "create: admin required", method: http.MethodPost, path: "/v1/users", body: newCounselor, token: studentToken, wantCode: http.StatusForbidden},
		{
			name: "create: role above own", method: http.MethodPost, path: "/v1/users", body: newOwner, token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{name: "create", method: http.MethodPost, path: "/v1/users", body: newCounselor, token: adminToken, wantCode: http.StatusCreated},
		{name: "retrieve: self", path: "/v1/users/" + student.ID, token: studentToken, wantCode: http.StatusOK, wantData: marchallObj(t, student)},
		{
			name: "retrieve: someone else", path: "/v1/users/" + other.ID, token: studentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{name: "retrieve: admin", path: "/v1/users/" + other.ID, token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, other)},
		{
			name: "update: roles by non admin", method: http.MethodPut, path: "/v1/users/" + student.ID, token: studentToken,
			body: marchallObj(t, user.UpdateUser{Roles: []string{user.RoleAdmin}}), wantCode: http.StatusForbidden,
		},
		{
			name: "update: deactivate", method: http.MethodPut, path: "/v1/users/" + other.ID, token: adminToken,
			body: marchallObj(t, user.UpdateUser{IsActive: &inactive}), wantCode: http.StatusOK,
		},
		{
			name: "delete: self", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "users cannot delete themselves"}),
		},
		{name: "delete: multiple", method: http.MethodDelete, path: "/v1/users?id=" + other.ID, token: adminToken, wantCode: http.StatusNoContent},
	})

	_, err := app.Services.Users.GetByID(ctx, other.ID)
	assert.Error(t, err)
	coach, err := app.Services.Users.GetByUsername(ctx, "coach")
	require.NoError(t, err)
	assert.True(t, coach.IsCounselor())
}

func TestUserAPI_passwordReset(t *testing.T) {
	srv, app := newTestServer(t)
	testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", testPwd, []string{user.RoleStudent}, true)

	runTests(t, srv, []httpTest{
		{
			name: "invalid email", method: http.MethodPost, path: "/v1/users/password-reset",
			body: marchallObj(t, echoapi.PasswordResetRequest{Email: "alice"}), wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown email", method: http.MethodPost, path: "/v1/users/password-reset",
			body: marchallObj(t, echoapi.PasswordResetRequest{Email: "bob@mclass.test"}), wantCode: http.StatusOK,
		},
		{
			name: "known email", method: http.MethodPost, path: "/v1/users/password-reset",
			body: marchallObj(t, echoapi.PasswordResetRequest{Email: "alice@mclass.test"}), wantCode: http.StatusOK,
		},
	})
	require.Len(t, app.Mail.SentMessages(), 1)

	data := app.Mail.SentMessages()[0].TemplateData.(map[string]interface{})
	newPwd := "Zq9!rTyu#4"
	runTests(t, srv, []httpTest{
		{
			name: "bad token", method: http.MethodPost, path: "/v1/users/password-reset-confirm",
			body: marchallObj(t, user.ResetUserPassword{
				UID: data["UID"].(string), Token: "bad", Password: newPwd, PasswordConfirm: newPwd,
			}),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "confirm", method: http.MethodPost, path: "/v1/users/password-reset-confirm",
			body: marchallObj(t, user.ResetUserPassword{
				UID: data["UID"].(string), Token: data["Token"].(string), Password: newPwd, PasswordConfirm: newPwd,
			}),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	})
}
