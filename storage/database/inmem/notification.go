package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core/notification"
)

type NotificationRepository struct {
	db *DB
}

var _ notification.Repository = (*NotificationRepository)(nil)

func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// findByKey must be called with the lock held.
func (repo *NotificationRepository) findByKey(userID, key string) (notification.Notification, bool) {
	for _, n := range repo.db.notifications {
		if n.UserID == userID && n.DedupeKey == key {
			return n, true
		}
	}
	return notification.Notification{}, false
}

func (repo *NotificationRepository) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if n.DedupeKey != "" {
		if _, found := repo.findByKey(n.UserID, n.DedupeKey); found {
			return notification.Notification{}, notification.ErrDuplicate
		}
	}
	n.ID = newID()
	repo.db.notifications[n.ID] = n
	return n, nil
}

func (repo *NotificationRepository) FindByDedupeKey(_ context.Context, userID, key string) (notification.Notification, bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	n, found := repo.findByKey(userID, key)
	return n, found, nil
}

func (repo *NotificationRepository) QueryNotifications(_ context.Context, filter notification.QueryFilter) ([]notification.Notification, int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	all := make([]notification.Notification, 0)
	for _, n := range repo.db.notifications {
		if n.UserID != filter.UserID || (filter.UnreadOnly && n.IsRead()) {
			continue
		}
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.Size
	if end > total || filter.Size <= 0 {
		end = total
	}
	return all[start:end], total, nil
}

func (repo *NotificationRepository) CountUnread(_ context.Context, userID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var count int
	for _, n := range repo.db.notifications {
		if n.UserID == userID && !n.IsRead() {
			count++
		}
	}
	return count, nil
}

func (repo *NotificationRepository) MarkRead(_ context.Context, userID, id string, at time.Time) (notification.Notification, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	n, ok := repo.db.notifications[id]
	if !ok || n.UserID != userID {
		return notification.Notification{}, notification.ErrNotFound
	}
	if !n.IsRead() {
		n.ReadAt = null.TimeFrom(at)
		repo.db.notifications[id] = n
	}
	return n, nil
}

func (repo *NotificationRepository) MarkAllRead(_ context.Context, userID string, at time.Time) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var count int
	for id, n := range repo.db.notifications {
		if n.UserID == userID && !n.IsRead() {
			n.ReadAt = null.TimeFrom(at)
			repo.db.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (repo *NotificationRepository) MarkEmailed(_ context.Context, id string, at time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	n, ok := repo.db.notifications[id]
	if !ok {
		return notification.ErrNotFound
	}
	n.EmailedAt = null.TimeFrom(at)
	repo.db.notifications[id] = n
	return nil
}

func (repo *NotificationRepository) DeleteNotification(_ context.Context, userID, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	n, ok := repo.db.notifications[id]
	if !ok || n.UserID != userID {
		return notification.ErrNotFound
	}
	delete(repo.db.notifications, id)
	return nil
}
