package sqlxrepos_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core/counseling"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/notification"
	"github.com/benhuang0857/mclass/core/order"
	"github.com/benhuang0857/mclass/core/user"
	sqlxrepos "github.com/benhuang0857/mclass/storage/database/sqlx"
)

const bossID = "5d3c9b8e-2f7a-4c1e-9a0b-6e4f1d2c3b4a"

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "username", "email", "phone", "is_active", "roles",
		"password_hash", "created_at", "updated_at", "last_login",
	})
}

func TestUserRepository_GetUser(t *testing.T) {
	db, mock := newMock(t)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	_, err := repo.GetUser(ctx, user.GetFilter{ID: "not-a-uuid"})
	assert.Equal(t, user.ErrNotFound, err, "malformed IDs never reach the database")
	_, err = repo.GetUser(ctx, user.GetFilter{})
	assert.Equal(t, user.ErrNotFound, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1 LIMIT 1")).
		WithArgs("boss").
		WillReturnRows(userRows().AddRow(
			bossID, "Boss", "boss", nil, "", true, "{admin,teacher}", []byte("hash"), created, created, nil,
		))
	usr, err := repo.GetUser(ctx, user.GetFilter{Username: "boss"})
	require.NoError(t, err)
	assert.Equal(t, bossID, usr.ID)
	assert.Equal(t, "", usr.Email)
	assert.Equal(t, []string{"admin", "teacher"}, usr.Roles)
	assert.True(t, usr.LastLogin.IsZero())
	assert.True(t, created.Equal(usr.CreatedAt))

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE (username = $1 OR email = $2) LIMIT 1")).
		WithArgs("ghost", "ghost").
		WillReturnRows(userRows())
	_, err = repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "ghost"})
	assert.Equal(t, user.ErrNotFound, err)
}

func TestUserRepository_uniqueness(t *testing.T) {
	db, mock := newMock(t)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()

	assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "", ""))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT username, email FROM users WHERE (username = $1 OR email = $2) AND id NOT IN ($3) LIMIT 2")).
		WithArgs("boss", "boss@mclass.test", bossID).
		WillReturnRows(sqlmock.NewRows([]string{"username", "email"}).AddRow("other", "boss@mclass.test"))
	err := repo.CheckUsernameUniqueness(ctx, "boss", "boss@mclass.test", user.User{ID: bossID})
	assert.Equal(t, user.ErrEmailExists, err)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})
	_, err = repo.CreateUser(ctx, user.User{Name: "Boss", Username: "boss", Roles: []string{user.RoleAdmin}})
	assert.Equal(t, user.ErrUsernameExists, err)

	mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("connection reset"))
	_, err = repo.CreateUser(ctx, user.User{Name: "Boss", Username: "boss"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting user")
}

func TestUserRepository_UpdateAndDelete(t *testing.T) {
	db, mock := newMock(t)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := repo.UpdateUser(ctx, user.User{ID: bossID, Name: "Boss"})
	assert.Equal(t, user.ErrNotFound, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})
	_, err = repo.UpdateUser(ctx, user.User{ID: bossID, Name: "Boss", Email: "taken@mclass.test"})
	assert.Equal(t, user.ErrEmailExists, err)

	n, err := repo.DeleteUsersByID(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id IN ($1,$2)")).
		WithArgs(bossID, "other").
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err = repo.DeleteUsersByID(ctx, bossID, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOrderRepository_TransitionOrder(t *testing.T) {
	db, mock := newMock(t)
	repo := sqlxrepos.NewOrderRepository(db)
	ctx := context.Background()

	_, err := repo.TransitionOrder(ctx, "nope", order.StatusPending, order.StatusPaid, time.Now(), false)
	assert.Equal(t, order.ErrNotFound, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders SET")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()
	_, err = repo.TransitionOrder(ctx, bossID, order.StatusPending, order.StatusPaid, time.Now(), false)
	assert.Equal(t, order.ErrInvalidTransition, err)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
	_, err = repo.TransitionOrder(ctx, bossID, order.StatusPending, order.StatusCancelled, time.Now(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beginning transaction")
}

func TestFlipCourseRepository_TransitionFlipCourse(t *testing.T) {
	db, mock := newMock(t)
	repo := sqlxrepos.NewFlipCourseRepository(db)
	ctx := context.Background()
	fc := flipcourse.FlipCourse{ID: bossID, Stage: flipcourse.StageCounseling, Cycle: 2, UpdatedAt: time.Now()}

	anyArg := sqlmock.AnyArg()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE flip_courses SET")).
		WithArgs(anyArg, anyArg, anyArg, anyArg, bossID, "cycling").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := repo.TransitionFlipCourse(ctx, fc, flipcourse.StageCycling)
	assert.Equal(t, flipcourse.ErrInvalidTransition, err, "another request moved the stage first")
}

func TestCounselingRepository_UpdateAppointment(t *testing.T) {
	db, mock := newMock(t)
	repo := sqlxrepos.NewCounselingRepository(db)
	ctx := context.Background()
	appt := counseling.Appointment{ID: bossID, Status: counseling.StatusCompleted}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE counseling_appointments SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := repo.UpdateAppointment(ctx, appt, counseling.StatusConfirmed)
	assert.Equal(t, counseling.ErrInvalidTransition, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE counseling_appointments SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	got, err := repo.UpdateAppointment(ctx, appt, counseling.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, counseling.StatusCompleted, got.Status)
}

func TestNotificationRepository_CreateNotification(t *testing.T) {
	db, mock := newMock(t)
	repo := sqlxrepos.NewNotificationRepository(db)
	ctx := context.Background()
	n := notification.Notification{UserID: bossID, Kind: "test", Title: "Hi", DedupeKey: "test:1", CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO notifications").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "notifications_dedupe_idx"})
	_, err := repo.CreateNotification(ctx, n)
	assert.Equal(t, notification.ErrDuplicate, err)

	mock.ExpectExec("INSERT INTO notifications").
		WillReturnError(&pq.Error{Code: "23503", Constraint: "notifications_user_id_fkey"})
	_, err = repo.CreateNotification(ctx, n)
	require.Error(t, err)
	assert.NotEqual(t, notification.ErrDuplicate, errors.Cause(err))

	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := repo.CreateNotification(ctx, n)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}
