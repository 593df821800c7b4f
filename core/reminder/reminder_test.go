package reminder_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/counseling"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/order"
	"github.com/benhuang0857/mclass/core/reminder"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

type recorder struct {
	results []reminder.Result
}

func (r *recorder) Record(res reminder.Result) { r.results = append(r.results, res) }

func newService(app *testutil.App, notifier core.Notifier, rec reminder.Recorder) *reminder.Service {
	s := app.Services
	return reminder.NewService(s.Counseling, s.ClubCourses, s.FlipCourses, s.Orders, notifier, rec, app.Logger)
}

func TestService_CounselingReminders(t *testing.T) {
	app := testutil.NewApp()
	rec := new(recorder)
	svc := newService(app, app.Services.Notifications, rec)
	ctx := context.Background()

	student := testutil.CreateUser(t, app.Repos.Users, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	counselor := testutil.CreateUser(t, app.Repos.Users, "Cou", "cou", "cou@mclass.test", "", []string{user.RoleCounselor}, true)
	start := time.Now().Add(2 * time.Hour)
	appt, err := app.Services.Counseling.Book(ctx, counseling.NewAppointment{
		CounselorID: counselor.ID,
		Topic:       "Essay review",
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
	}, student)
	require.NoError(t, err)
	far := time.Now().Add(72 * time.Hour)
	_, err = app.Services.Counseling.Book(ctx, counseling.NewAppointment{
		CounselorID: counselor.ID,
		Topic:       "Later",
		StartsAt:    far,
		EndsAt:      far.Add(time.Hour),
	}, student)
	require.NoError(t, err)

	res, err := svc.CounselingReminders(ctx, time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 2, res.Sent, "both participants are reminded")

	res, err = svc.Run(ctx, reminder.JobCounseling, time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	assert.Equal(t, 2, res.Duplicates, "reminders are sent once")

	moved := start.Add(time.Hour)
	_, err = app.Services.Counseling.Reschedule(ctx, appt.ID, student, counseling.Reschedule{StartsAt: moved, EndsAt: moved.Add(time.Hour)})
	require.NoError(t, err)
	res, err = svc.CounselingReminders(ctx, time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent, "a rescheduled appointment is reminded again")

	require.Len(t, rec.results, 3)
	assert.Equal(t, reminder.JobCounseling, rec.results[0].Job)
}

func TestService_ClubCourseReminders(t *testing.T) {
	app := testutil.NewApp()
	svc := newService(app, app.Services.Notifications, nil)
	ctx := context.Background()

	course := testutil.CreateClubCourse(t, app.Services.ClubCourses, "Reading", nil, 0, time.Now().Add(3*time.Hour))
	testutil.CreateClubCourse(t, app.Services.ClubCourses, "Empty", nil, 0, time.Now().Add(4*time.Hour))
	for _, name := range []string{"a", "b"} {
		usr := testutil.CreateUser(t, app.Repos.Users, name, name, name+"@mclass.test", "", []string{user.RoleStudent}, true)
		require.NoError(t, app.Services.ClubCourses.Enroll(ctx, course.ID, usr.ID))
	}

	res, err := svc.ClubCourseReminders(ctx, time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Sent)
	assert.Len(t, app.Mail.SentMessages(), 2)

	res, err = svc.ClubCourseReminders(ctx, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned, "courses outside the window are skipped")
}

func TestService_TaskReminders(t *testing.T) {
	app := testutil.NewApp()
	svc := newService(app, app.Services.Notifications, nil)
	ctx := context.Background()

	repo := app.Repos.Users
	student := testutil.CreateUser(t, repo, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	planner := testutil.CreateUser(t, repo, "Pla", "pla", "pla@mclass.test", "", []string{user.RolePlanner}, true)
	counselor := testutil.CreateUser(t, repo, "Cou", "cou", "cou@mclass.test", "", []string{user.RoleCounselor}, true)
	analyst := testutil.CreateUser(t, repo, "Ana", "ana", "ana@mclass.test", "", []string{user.RoleAnalyst}, true)

	fcs := app.Services.FlipCourses
	fc, err := fcs.Create(ctx, flipcourse.NewFlipCourse{Title: "Plan", StudentID: student.ID, CounselorID: &counselor.ID, AnalystID: &analyst.ID}, planner)
	require.NoError(t, err)
	for _, to := range []flipcourse.Stage{flipcourse.StagePlanning, flipcourse.StageCounseling} {
		_, err = fcs.Advance(ctx, fc.ID, to, planner)
		require.NoError(t, err)
	}
	soon, later := time.Now().Add(6*time.Hour), time.Now().Add(96*time.Hour)
	p, err := fcs.CreatePrescription(ctx, fc.ID, flipcourse.NewPrescription{
		Title:   "Week 1",
		Content: "Read.",
		Tasks: []flipcourse.NewTask{
			{Title: "Soon", DueAt: &soon},
			{Title: "Later", DueAt: &later},
			{Title: "Done", DueAt: &soon},
			{Title: "Whenever"},
		},
	}, counselor)
	require.NoError(t, err)
	_, err = fcs.CompleteTask(ctx, p.Tasks[2].ID, student)
	require.NoError(t, err)

	res, err := svc.Run(ctx, reminder.JobTasks, time.Now(), 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Sent)
}

func TestService_ExpireOrders(t *testing.T) {
	app := testutil.NewApp()
	rec := new(recorder)
	svc := newService(app, app.Services.Notifications, rec)
	ctx := context.Background()

	member := testutil.CreateUser(t, app.Repos.Users, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	prod := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindMaterial, "Workbook", 300, -1)
	ord, err := app.Services.Orders.Create(ctx, member.ID, order.NewOrder{Items: []order.NewItem{{ProductID: prod.ID, Quantity: 1}}})
	require.NoError(t, err)

	ttl := 48 * time.Hour
	res, err := svc.ExpireOrders(ctx, time.Now(), ttl)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)

	res, err = svc.Run(ctx, reminder.JobExpireOrders, time.Now().Add(ttl+time.Minute), ttl)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Zero(t, res.Sent, "expiring orders sends no notifications")
	assert.Contains(t, res.String(), "expireorders: expired=1 failed=0")

	ord, err = app.Services.Orders.Get(ctx, ord.ID, member)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, ord.Status)
	require.Len(t, rec.results, 2)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, core.Notice) (bool, error) {
	return false, errors.New("inbox unavailable")
}

func TestService_failures(t *testing.T) {
	app := testutil.NewApp()
	rec := new(recorder)
	svc := newService(app, failingNotifier{}, rec)
	ctx := context.Background()

	course := testutil.CreateClubCourse(t, app.Services.ClubCourses, "Reading", nil, 0, time.Now().Add(time.Hour))
	usr := testutil.CreateUser(t, app.Repos.Users, "a", "a", "a@mclass.test", "", []string{user.RoleStudent}, true)
	require.NoError(t, app.Services.ClubCourses.Enroll(ctx, course.ID, usr.ID))

	res, err := svc.ClubCourseReminders(ctx, time.Now(), 24*time.Hour)
	require.NoError(t, err, "a failed recipient does not fail the job")
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Sent)

	_, err = svc.Run(ctx, "weekly", time.Now(), time.Hour)
	assert.Error(t, err)
	require.Len(t, rec.results, 1, "unknown jobs are not recorded")
	assert.Contains(t, rec.results[0].String(), "failed=1")
}
