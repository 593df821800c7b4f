package notification

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/user"
)

var (
	// errors
	ErrNotFound = core.NewNotFoundError("notification not found")
	// ErrDuplicate is returned by Repository.CreateNotification when (user, dedupe key) already exists.
	ErrDuplicate = core.NewConflictError("notification already exists")
)

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		FindByDedupeKey(ctx context.Context, userID, key string) (Notification, bool, error)
		// QueryNotifications returns the user's notifications, newest first, and the total count matching the filter.
		QueryNotifications(ctx context.Context, filter QueryFilter) ([]Notification, int, error)
		CountUnread(ctx context.Context, userID string) (int, error)
		MarkRead(ctx context.Context, userID, id string, at time.Time) (Notification, error)
		MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
		MarkEmailed(ctx context.Context, id string, at time.Time) error
		DeleteNotification(ctx context.Context, userID, id string) error
	}

	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	ServiceInterface interface {
		core.Notifier
		List(ctx context.Context, filter QueryFilter) ([]Notification, int, error)
		UnreadCount(ctx context.Context, userID string) (int, error)
		MarkRead(ctx context.Context, userID, id string) (Notification, error)
		MarkAllRead(ctx context.Context, userID string) (int, error)
		Delete(ctx context.Context, userID, id string) error
	}

	Service struct {
		repo    Repository
		users   UserGetter
		mailSvc core.EmailService
		logger  core.Logger
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, users UserGetter, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{repo: repo, users: users, mailSvc: mailSvc, logger: logger}
}

// Notify stores the notice in the user's inbox and e-mails it when asked to.
// With a dedupe key, a notice already delivered to the user is skipped and created is false.
func (svc *Service) Notify(ctx context.Context, notice core.Notice) (bool, error) {
	if notice.DedupeKey != "" {
		_, found, err := svc.repo.FindByDedupeKey(ctx, notice.UserID, notice.DedupeKey)
		if err != nil {
			return false, errors.Wrap(err, "checking dedupe key")
		}
		if found {
			return false, nil
		}
	}

	n, err := svc.repo.CreateNotification(ctx, Notification{
		UserID:    notice.UserID,
		Kind:      notice.Kind,
		Title:     notice.Title,
		Body:      notice.Body,
		Data:      notice.Data,
		DedupeKey: notice.DedupeKey,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Cause(err) == ErrDuplicate {
			return false, nil // lost a race with a concurrent sender
		}
		return false, errors.Wrap(err, "creating notification")
	}

	if notice.SendEmail {
		svc.email(ctx, n)
	}
	return true, nil
}

func (svc *Service) email(ctx context.Context, n Notification) {
	usr, err := svc.users.GetByID(ctx, n.UserID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("notification %s: finding user: %v", n.ID, err), err)
		return
	}
	if usr.Email == "" || !usr.IsActive {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      n.Title,
		TemplateName: "notification",
		TemplateData: map[string]interface{}{
			"Name":  usr.Name,
			"Title": n.Title,
			"Body":  n.Body,
		},
	})
	if err := svc.repo.MarkEmailed(ctx, n.ID, time.Now().UTC()); err != nil {
		svc.logger.Error(fmt.Sprintf("notification %s: marking emailed: %v", n.ID, err), err)
	}
}

func (svc *Service) List(ctx context.Context, filter QueryFilter) ([]Notification, int, error) {
	filter.Page.Clean()
	return svc.repo.QueryNotifications(ctx, filter)
}

func (svc *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return svc.repo.CountUnread(ctx, userID)
}

func (svc *Service) MarkRead(ctx context.Context, userID, id string) (Notification, error) {
	return svc.repo.MarkRead(ctx, userID, id, time.Now().UTC())
}

func (svc *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return svc.repo.MarkAllRead(ctx, userID, time.Now().UTC())
}

func (svc *Service) Delete(ctx context.Context, userID, id string) error {
	return svc.repo.DeleteNotification(ctx, userID, id)
}
