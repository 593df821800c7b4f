package counseling_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/counseling"
	"github.com/benhuang0857/mclass/core/notification"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

type fixture struct {
	app       *testutil.App
	svc       *counseling.Service
	student   user.User
	other     user.User
	counselor user.User
	teacher   user.User
	admin     user.User
	start     time.Time
}

func newFixture(t *testing.T) *fixture {
	app := testutil.NewApp()
	repo := app.Repos.Users
	return &fixture{
		app:       app,
		svc:       app.Services.Counseling,
		student:   testutil.CreateUser(t, repo, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true),
		other:     testutil.CreateUser(t, repo, "Oth", "oth", "oth@mclass.test", "", []string{user.RoleStudent}, true),
		counselor: testutil.CreateUser(t, repo, "Cou", "cou", "cou@mclass.test", "", []string{user.RoleCounselor}, true),
		teacher:   testutil.CreateUser(t, repo, "Tea", "tea", "tea@mclass.test", "", []string{user.RoleTeacher}, true),
		admin:     testutil.CreateUser(t, repo, "Adm", "adm", "adm@mclass.test", "", []string{user.RoleAdmin}, true),
		start:     time.Now().Add(48 * time.Hour).Truncate(time.Hour),
	}
}

func (f *fixture) book(t *testing.T, studentID string, start time.Time, caller user.User) (counseling.Appointment, error) {
	t.Helper()
	return f.svc.Book(context.Background(), counseling.NewAppointment{
		StudentID:   studentID,
		CounselorID: f.counselor.ID,
		Topic:       "Study plan",
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
	}, caller)
}

func TestService_Book(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "", f.start, f.student)
	require.NoError(t, err)
	assert.Equal(t, f.student.ID, appt.StudentID, "student defaults to the caller")
	assert.Equal(t, counseling.StatusBooked, appt.Status)

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name      string
			na        counseling.NewAppointment
			wantField string
		}{
			{"not a counselor", counseling.NewAppointment{CounselorID: f.teacher.ID, StartsAt: f.start, EndsAt: f.start.Add(time.Hour)}, "counselor_id"},
			{"unknown counselor", counseling.NewAppointment{CounselorID: "0b6f8d5e-8d0a-4a4f-9d3a-3f1d4f3c2a10", StartsAt: f.start, EndsAt: f.start.Add(time.Hour)}, "counselor_id"},
			{"in the past", counseling.NewAppointment{CounselorID: f.counselor.ID, StartsAt: time.Now().Add(-time.Hour), EndsAt: time.Now()}, "starts_at"},
			{"too long", counseling.NewAppointment{CounselorID: f.counselor.ID, StartsAt: f.start.Add(24 * time.Hour), EndsAt: f.start.Add(24*time.Hour + counseling.MaxDuration + time.Minute)}, "ends_at"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				tc.na.Topic = "Topic"
				_, err := f.svc.Book(ctx, tc.na, f.other)
				var verr *core.ValidationError
				require.True(t, errors.As(err, &verr), "got %v", err)
				assert.Equal(t, tc.wantField, verr.Fields[0].Field)
			})
		}
	})

	t.Run("overlaps", func(t *testing.T) {
		_, err := f.book(t, "", f.start.Add(30*time.Minute), f.other)
		assert.Equal(t, counseling.ErrSlotTaken, errors.Cause(err), "counselor is busy")
		_, err = f.book(t, "", f.start.Add(time.Hour), f.other)
		assert.NoError(t, err, "back to back slots do not overlap")
	})

	t.Run("on behalf of", func(t *testing.T) {
		_, err := f.book(t, f.other.ID, f.start.Add(5*time.Hour), f.student)
		assert.Equal(t, counseling.ErrForbidden, errors.Cause(err))
		appt, err := f.book(t, f.other.ID, f.start.Add(5*time.Hour), f.counselor)
		require.NoError(t, err)
		assert.Equal(t, f.other.ID, appt.StudentID)
	})

	notes, _, err := f.app.Services.Notifications.List(ctx, notification.QueryFilter{UserID: f.counselor.ID})
	require.NoError(t, err)
	assert.Len(t, notes, 2, "the counselor hears about bookings made by students only")
}

func TestService_lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "", f.start, f.student)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, appt.ID, f.student)
	assert.Equal(t, counseling.ErrForbidden, errors.Cause(err), "only the counselor confirms")
	_, err = f.svc.Get(ctx, appt.ID, f.other)
	assert.Equal(t, counseling.ErrNotFound, errors.Cause(err))

	appt, err = f.svc.Confirm(ctx, appt.ID, f.counselor)
	require.NoError(t, err)
	assert.Equal(t, counseling.StatusConfirmed, appt.Status)
	_, err = f.svc.Confirm(ctx, appt.ID, f.counselor)
	assert.Equal(t, counseling.ErrInvalidTransition, errors.Cause(err))

	_, err = f.svc.Complete(ctx, appt.ID, f.counselor)
	assert.Equal(t, counseling.ErrNotStarted, errors.Cause(err))

	f.svc.SetNowFunc(func() time.Time { return f.start.Add(30 * time.Minute) })
	defer f.svc.SetNowFunc(time.Now)
	appt, err = f.svc.Complete(ctx, appt.ID, f.counselor)
	require.NoError(t, err)
	assert.Equal(t, counseling.StatusCompleted, appt.Status)

	_, err = f.svc.Cancel(ctx, appt.ID, f.student, "")
	assert.Equal(t, counseling.ErrInvalidTransition, errors.Cause(err))
}

func TestService_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "", f.start, f.student)
	require.NoError(t, err)

	appt, err = f.svc.Cancel(ctx, appt.ID, f.student, "  feeling sick ")
	require.NoError(t, err)
	assert.Equal(t, counseling.StatusCancelled, appt.Status)
	assert.Equal(t, "feeling sick", appt.CancelReason)

	_, err = f.book(t, "", f.start, f.other)
	assert.NoError(t, err, "cancelled appointments free their slot")

	notes, _, err := f.app.Services.Notifications.List(ctx, notification.QueryFilter{UserID: f.counselor.ID})
	require.NoError(t, err)
	var cancelled *notification.Notification
	for i := range notes {
		if notes[i].Kind == "counseling.cancelled" {
			cancelled = &notes[i]
		}
	}
	require.NotNil(t, cancelled)
	assert.Contains(t, cancelled.Body, "Reason: feeling sick")
}

func TestService_Reschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "", f.start, f.student)
	require.NoError(t, err)
	busy, err := f.book(t, "", f.start.Add(3*time.Hour), f.other)
	require.NoError(t, err)
	appt, err = f.svc.Confirm(ctx, appt.ID, f.counselor)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, appt.ID, f.student, counseling.Reschedule{StartsAt: busy.StartsAt, EndsAt: busy.EndsAt})
	assert.Equal(t, counseling.ErrSlotTaken, errors.Cause(err))

	later := f.start.Add(30 * time.Minute)
	appt, err = f.svc.Reschedule(ctx, appt.ID, f.student, counseling.Reschedule{StartsAt: later, EndsAt: later.Add(time.Hour)})
	require.NoError(t, err, "an appointment does not clash with itself")
	assert.Equal(t, counseling.StatusBooked, appt.Status, "rescheduled appointments need a new confirmation")
	assert.True(t, later.Equal(appt.StartsAt))
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.book(t, "", f.start.Add(2*time.Hour), f.student)
	require.NoError(t, err)
	_, err = f.book(t, "", f.start, f.other)
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, &counseling.QueryFilter{StudentID: f.other.ID}, nil, f.student)
	require.NoError(t, err)
	assert.Empty(t, mine, "students only see their own appointments")

	all, err := f.svc.List(ctx, nil, nil, f.counselor)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, f.other.ID, all[0].StudentID, "sorted by start time")

	all, err = f.svc.List(ctx, nil, nil, f.admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	upcoming, err := f.svc.Upcoming(ctx, f.start, f.start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, f.other.ID, upcoming[0].StudentID)
}

// staleAppointments serves a copy of the appointment read before another request changed it.
type staleAppointments struct {
	counseling.Repository
	snapshot counseling.Appointment
}

func (r *staleAppointments) GetAppointment(ctx context.Context, id string) (counseling.Appointment, error) {
	if id == r.snapshot.ID {
		return r.snapshot, nil
	}
	return r.Repository.GetAppointment(ctx, id)
}

func TestService_concurrentStatusChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "", f.start, f.student)
	require.NoError(t, err)

	stale := counseling.NewService(
		&staleAppointments{Repository: f.app.Repos.Counseling, snapshot: appt},
		f.app.Services.Users, f.app.Services.Notifications, f.app.Events, f.app.Logger,
	)
	stale.SetNowFunc(func() time.Time { return f.start.Add(30 * time.Minute) })

	_, err = f.svc.Cancel(ctx, appt.ID, f.student, "exam week")
	require.NoError(t, err)

	_, err = stale.Complete(ctx, appt.ID, f.counselor)
	assert.Equal(t, counseling.ErrInvalidTransition, errors.Cause(err), "the status moved since it was read")
	_, err = stale.Confirm(ctx, appt.ID, f.counselor)
	assert.Equal(t, counseling.ErrInvalidTransition, errors.Cause(err))

	got, err := f.svc.Get(ctx, appt.ID, f.counselor)
	require.NoError(t, err)
	assert.Equal(t, counseling.StatusCancelled, got.Status)
	assert.Equal(t, "exam week", got.CancelReason)
}
