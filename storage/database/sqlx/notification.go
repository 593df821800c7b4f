package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/notification"
	"github.com/benhuang0857/mclass/storage/database"
)

var notificationColumns = []string{
	"id", "user_id", "kind", "title", "body", "data", "dedupe_key", "read_at", "emailed_at", "created_at",
}

type notificationRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Kind      string         `db:"kind"`
	Title     string         `db:"title"`
	Body      string         `db:"body"`
	Data      types.JSONText `db:"data"`
	DedupeKey string         `db:"dedupe_key"`
	ReadAt    null.Time      `db:"read_at"`
	EmailedAt null.Time      `db:"emailed_at"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r notificationRow) notification() (notification.Notification, error) {
	n := notification.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Kind:      r.Kind,
		Title:     r.Title,
		Body:      r.Body,
		DedupeKey: r.DedupeKey,
		ReadAt:    r.ReadAt,
		EmailedAt: r.EmailedAt,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if len(r.Data) > 0 {
		if err := r.Data.Unmarshal(&n.Data); err != nil {
			return notification.Notification{}, errors.Wrapf(err, "decoding data of notification %s", r.ID)
		}
	}
	return n, nil
}

type NotificationRepository struct {
	db core.DB
}

var _ notification.Repository = (*NotificationRepository)(nil)

func NewNotificationRepository(db core.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (repo *NotificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	n.ID = uuid.NewString()
	data := types.JSONText("{}")
	if len(n.Data) > 0 {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return notification.Notification{}, errors.Wrap(err, "encoding notification data")
		}
		data = raw
	}
	b := psql.Insert("notifications").Columns(notificationColumns...).Values(
		n.ID, n.UserID, n.Kind, n.Title, n.Body, data, n.DedupeKey, n.ReadAt, n.EmailedAt, n.CreatedAt,
	)
	if _, err := exec(ctx, repo.db, b); err != nil {
		if database.IsUniqueViolation(err, "notifications_dedupe_idx") {
			return notification.Notification{}, notification.ErrDuplicate
		}
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return n, nil
}

func (repo *NotificationRepository) getOne(ctx context.Context, b sq.SelectBuilder) (notification.Notification, error) {
	var row notificationRow
	if err := get(ctx, repo.db, &row, b); err != nil {
		return notification.Notification{}, trapNoRows(err, notification.ErrNotFound, "getting notification")
	}
	return row.notification()
}

func (repo *NotificationRepository) FindByDedupeKey(ctx context.Context, userID, key string) (notification.Notification, bool, error) {
	n, err := repo.getOne(ctx, psql.Select(notificationColumns...).From("notifications").
		Where(sq.Eq{"user_id": userID, "dedupe_key": key}).
		Limit(1))
	switch {
	case err == notification.ErrNotFound:
		return notification.Notification{}, false, nil
	case err != nil:
		return notification.Notification{}, false, err
	}
	return n, true, nil
}

func (repo *NotificationRepository) QueryNotifications(ctx context.Context, filter notification.QueryFilter) ([]notification.Notification, int, error) {
	where := sq.And{sq.Eq{"user_id": filter.UserID}}
	if filter.UnreadOnly {
		where = append(where, sq.Eq{"read_at": nil})
	}

	var total int
	if err := get(ctx, repo.db, &total, psql.Select("COUNT(*)").From("notifications").Where(where)); err != nil {
		return nil, 0, errors.Wrap(err, "counting notifications")
	}

	var rows []notificationRow
	b := psql.Select(notificationColumns...).From("notifications").Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.Size)).
		Offset(uint64(filter.Offset()))
	if err := selectAll(ctx, repo.db, &rows, b); err != nil {
		return nil, 0, errors.Wrap(err, "querying notifications")
	}
	list := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.notification()
		if err != nil {
			return nil, 0, err
		}
		list = append(list, n)
	}
	return list, total, nil
}

func (repo *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := get(ctx, repo.db, &n, psql.Select("COUNT(*)").From("notifications").
		Where(sq.Eq{"user_id": userID, "read_at": nil}))
	return n, errors.Wrap(err, "counting unread notifications")
}

// MarkRead keeps the first read time of an already read notification.
func (repo *NotificationRepository) MarkRead(ctx context.Context, userID, id string, at time.Time) (notification.Notification, error) {
	if !isUUID(id) {
		return notification.Notification{}, notification.ErrNotFound
	}
	var row notificationRow
	b := psql.Update("notifications").
		Set("read_at", sq.Expr("COALESCE(read_at, ?)", at)).
		Where(sq.Eq{"id": id, "user_id": userID}).
		Suffix("RETURNING " + joinColumns(notificationColumns))
	if err := get(ctx, repo.db, &row, b); err != nil {
		return notification.Notification{}, trapNoRows(err, notification.ErrNotFound, "marking notification read")
	}
	return row.notification()
}

func (repo *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := exec(ctx, repo.db, psql.Update("notifications").
		Set("read_at", at).
		Where(sq.Eq{"user_id": userID, "read_at": nil}))
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "reading affected rows")
}

func (repo *NotificationRepository) MarkEmailed(ctx context.Context, id string, at time.Time) error {
	res, err := exec(ctx, repo.db, psql.Update("notifications").Set("emailed_at", at).Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "marking notification emailed")
	}
	return affected(res, notification.ErrNotFound)
}

func (repo *NotificationRepository) DeleteNotification(ctx context.Context, userID, id string) error {
	if !isUUID(id) {
		return notification.ErrNotFound
	}
	res, err := exec(ctx, repo.db, psql.Delete("notifications").Where(sq.Eq{"id": id, "user_id": userID}))
	if err != nil {
		return errors.Wrap(err, "deleting notification")
	}
	return affected(res, notification.ErrNotFound)
}
