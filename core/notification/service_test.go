package notification_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/notification"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

func TestService_Notify(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Notifications
	ctx := context.Background()

	alice := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	inactive := testutil.CreateUser(t, app.Repos.Users, "Gone", "gone", "gone@mclass.test", "", []string{user.RoleStudent}, false)

	notice := core.Notice{
		UserID:    alice.ID,
		Kind:      "test.notice",
		Title:     "Hello",
		Body:      "World",
		DedupeKey: "test:1",
		SendEmail: true,
	}
	created, err := svc.Notify(ctx, notice)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.Notify(ctx, notice)
	require.NoError(t, err)
	assert.False(t, created, "a dedupe key is delivered once per user")

	notice.UserID = inactive.ID
	created, err = svc.Notify(ctx, notice)
	require.NoError(t, err)
	assert.True(t, created, "keys are scoped to the recipient")

	notice.UserID, notice.DedupeKey = alice.ID, ""
	for i := 0; i < 2; i++ {
		created, err = svc.Notify(ctx, notice)
		require.NoError(t, err)
		assert.True(t, created, "notices without a key are never deduplicated")
	}

	sent := app.Mail.SentMessages()
	require.Len(t, sent, 3, "inactive users get no mail")
	for _, msg := range sent {
		assert.Equal(t, alice.Email, msg.To[0].Address)
		assert.Equal(t, "Hello", msg.Subject)
		assert.Contains(t, msg.TextContent, "World")
	}

	notes, total, err := svc.List(ctx, notification.QueryFilter{UserID: inactive.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.False(t, notes[0].EmailedAt.Valid)
}

// racingNotifications misses the dedupe lookup and then loses the insert to a concurrent sender.
type racingNotifications struct {
	notification.Repository
}

func (racingNotifications) FindByDedupeKey(context.Context, string, string) (notification.Notification, bool, error) {
	return notification.Notification{}, false, nil
}

func (racingNotifications) CreateNotification(context.Context, notification.Notification) (notification.Notification, error) {
	return notification.Notification{}, notification.ErrDuplicate
}

func TestService_Notify_duplicateInsert(t *testing.T) {
	app := testutil.NewApp()
	alice := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	svc := notification.NewService(racingNotifications{app.Repos.Notifications}, app.Services.Users, app.Mail, app.Logger)

	created, err := svc.Notify(context.Background(), core.Notice{
		UserID:    alice.ID,
		Kind:      "test.notice",
		Title:     "Hello",
		DedupeKey: "test:race",
		SendEmail: true,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, app.Mail.SentMessages())
}

func TestService_inbox(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Notifications
	ctx := context.Background()

	alice := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	bob := testutil.CreateUser(t, app.Repos.Users, "Bob", "bob", "bob@mclass.test", "", []string{user.RoleStudent}, true)
	for i := 0; i < 5; i++ {
		_, err := svc.Notify(ctx, core.Notice{UserID: alice.ID, Kind: "test", Title: fmt.Sprintf("n%d", i)})
		require.NoError(t, err)
	}
	bobs, err := svc.Notify(ctx, core.Notice{UserID: bob.ID, Kind: "test", Title: "bob", DedupeKey: "bob"})
	require.NoError(t, err)
	require.True(t, bobs)

	page, total, err := svc.List(ctx, notification.QueryFilter{UserID: alice.ID, Page: core.Page{Number: 2, Size: 2}})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	n, err := svc.UnreadCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	read, err := svc.MarkRead(ctx, alice.ID, page[0].ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead())
	_, err = svc.MarkRead(ctx, bob.ID, page[1].ID)
	assert.Equal(t, notification.ErrNotFound, errors.Cause(err), "users only reach their own inbox")

	unread, total, err := svc.List(ctx, notification.QueryFilter{UserID: alice.ID, UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, unread, 4)

	marked, err := svc.MarkAllRead(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, marked)
	n, err = svc.UnreadCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = svc.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, notification.ErrNotFound, errors.Cause(svc.Delete(ctx, bob.ID, page[1].ID)))
	require.NoError(t, svc.Delete(ctx, alice.ID, page[1].ID))
	_, total, err = svc.List(ctx, notification.QueryFilter{UserID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}
