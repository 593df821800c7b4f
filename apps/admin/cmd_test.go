package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/order"
	"github.com/benhuang0857/mclass/core/reminder"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

func setup(t *testing.T) (*commandLine, *testutil.App, *bytes.Buffer) {
	t.Helper()
	app := testutil.NewApp()
	out := new(bytes.Buffer)
	cli := &commandLine{
		conf:     app.Conf,
		logger:   app.Logger,
		svcs:     app.Services,
		locker:   app.Cache,
		validate: app.Validate,
		out:      out,
	}
	return cli, app, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLI(t *testing.T, cli *commandLine, tt cliTest) error {
	t.Helper()
	err := cli.run(append([]string{"admin"}, tt.args...))
	switch {
	case tt.wantErr != nil:
		if errors.Cause(err) != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err == nil || err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
		}
	case err != nil:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
	return err
}

func mockReadPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

func Test_commandLine_run(t *testing.T) {
	cli, _, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "migrate: inmem engine", args: []string{"migrate", "up"}, wantErr: errNoDB},
		{name: "remind: no job", args: []string{"remind"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runCLI(t, cli, tt)
		})
	}
	assert.Contains(t, out.String(), "Usage:")
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	cli.db = db

	orig := gooseRunFunc
	defer func() { gooseRunFunc = orig }()
	gooseRunFunc = func(_ context.Context, _ *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "add_refunds", "sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runCLI(t, cli, tt)
		})
	}
}

func Test_commandLine_createAdmin(t *testing.T) {
	cli, app, out := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, app.Repos.Users, "Tea", "teacher", "tea@mclass.test", "", []string{user.RoleTeacher}, false)

	mockReadPassword(t, "")
	runCLI(t, cli, cliTest{args: []string{"createadmin"}, wantErr: errHelp})
	runCLI(t, cli, cliTest{args: []string{"createadmin", "-username", "boss", "-email", "boss@mclass.test"}, wantErr: errHelp})

	mockReadPassword(t, "Qx7#mPlk!2")
	runCLI(t, cli, cliTest{args: []string{"createadmin", "-username", " Boss ", "-email", "BOSS@mclass.test"}})
	boss, err := app.Services.Users.GetByUsername(ctx, "boss")
	require.NoError(t, err)
	assert.Equal(t, "boss@mclass.test", boss.Email)
	assert.Equal(t, []string{user.RoleAdminOwner}, boss.Roles)
	assert.NoError(t, boss.CheckPassword("Qx7#mPlk!2"))

	runCLI(t, cli, cliTest{args: []string{"createadmin", "-username", "teacher", "-email", "other@mclass.test"}})
	promoted, err := app.Services.Users.GetByID(ctx, teacher.ID)
	require.NoError(t, err)
	assert.True(t, promoted.IsActive, "promotion reactivates the account")
	assert.True(t, promoted.IsAdmin())
	assert.True(t, promoted.IsTeacher(), "existing roles are kept")

	assert.Contains(t, out.String(), `admin "boss" created`)
	assert.Contains(t, out.String(), `user "teacher" promoted to admin`)
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, app, _ := setup(t)
	usr := testutil.CreateUser(t, app.Repos.Users, "User", "awe", "awe@mclass.test", "mdr", nil, true)

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: "lmao"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd, _ := tt.extra.(string)
			mockReadPassword(t, pwd)
			if err := runCLI(t, cli, tt); err != nil {
				return
			}
			refreshed, err := app.Repos.Users.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.NoError(t, refreshed.CheckPassword(pwd))
		})
	}
}

func Test_commandLine_seed(t *testing.T) {
	cli, app, out := setup(t)
	ctx := context.Background()

	runCLI(t, cli, cliTest{args: []string{"seed"}})
	prods, err := app.Services.Catalog.QueryProducts(ctx, &catalog.QueryFilter{}, nil)
	require.NoError(t, err)
	assert.Len(t, prods, len(seedProducts))
	_, err = app.Services.Users.GetByUsername(ctx, "planner")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err), "demo accounts need -demo")

	runCLI(t, cli, cliTest{args: []string{"seed", "-demo"}})
	out.Reset()
	runCLI(t, cli, cliTest{args: []string{"seed", "-demo"}})
	assert.Empty(t, out.String(), "seeding twice creates nothing")

	cats, err := app.Services.Catalog.QueryCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, len(seedCategories))
	courses, err := app.Services.ClubCourses.List(ctx, &clubcourse.QueryFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, demoClubTitle, courses[0].Title)

	admin := user.User{Roles: []string{user.RoleAdmin}}
	fcs, err := app.Services.FlipCourses.List(ctx, &flipcourse.QueryFilter{}, nil, admin)
	require.NoError(t, err)
	require.Len(t, fcs, 1)
	assert.True(t, fcs[0].CounselorID.Valid)
}

func Test_commandLine_remind(t *testing.T) {
	cli, app, out := setup(t)
	ctx := context.Background()

	course := testutil.CreateClubCourse(t, app.Services.ClubCourses, "Reading", nil, 0, time.Now().Add(3*time.Hour))
	member := testutil.CreateUser(t, app.Repos.Users, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	require.NoError(t, app.Services.ClubCourses.Enroll(ctx, course.ID, member.ID))

	runCLI(t, cli, cliTest{args: []string{"remind", "weekly"}, wantErrStr: "unknown reminder job \"weekly\""})
	runCLI(t, cli, cliTest{args: []string{"remind", "courses", "-window", "1h"}})
	assert.Contains(t, out.String(), "sent=0")
	out.Reset()

	runCLI(t, cli, cliTest{args: []string{"remind", "all"}})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, len(reminder.Jobs), "one summary per job")
	assert.Contains(t, out.String(), "sent=1")
	assert.Len(t, app.Mail.SentMessages(), 1)
}

func Test_commandLine_expireOrders(t *testing.T) {
	cli, app, out := setup(t)
	ctx := context.Background()

	member := testutil.CreateUser(t, app.Repos.Users, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	prod := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindMaterial, "Workbook", 300, 5)
	ord, err := app.Services.Orders.Create(ctx, member.ID, order.NewOrder{Items: []order.NewItem{{ProductID: prod.ID, Quantity: 2}}})
	require.NoError(t, err)

	runCLI(t, cli, cliTest{args: []string{"expireorders"}})
	ord, err = app.Services.Orders.Get(ctx, ord.ID, member)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, ord.Status)

	nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	defer func() { nowFunc = time.Now }()
	runCLI(t, cli, cliTest{args: []string{"expireorders", "-ttl", "30m"}})
	assert.Contains(t, out.String(), "expired=1")
	ord, err = app.Services.Orders.Get(ctx, ord.ID, member)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, ord.Status)

	prod, err = app.Services.Catalog.GetProduct(ctx, prod.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, prod.Stock.Int, "expired orders release their stock")
}

func Test_commandLine_schedule(t *testing.T) {
	cli, app, _ := setup(t)

	cli.conf.Reminders.CounselingSpec = "@every 1h"
	cli.conf.Reminders.TaskSpec = "0 8 * * *"
	c, err := cli.newScheduler()
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2, "jobs without a spec are not scheduled")

	cli.conf.Reminders.ExpireOrdersSpec = "every tuesday"
	_, err = cli.newScheduler()
	assert.Error(t, err)

	ctx := context.Background()
	release, ok, err := app.Cache.Acquire(ctx, "jobs:"+reminder.JobTasks, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, cli.runLocked(ctx, reminder.JobTasks), "a held lock skips the run")
	release()
	assert.True(t, cli.runLocked(ctx, reminder.JobTasks))
}
