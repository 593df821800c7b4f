package comment_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/comment"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/notification"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func TestService_Create(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Comments
	ctx := context.Background()

	alice := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	bob := testutil.CreateUser(t, app.Repos.Users, "Bob", "bob", "bob@mclass.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, app.Repos.Users, "Admin", "admin", "admin@mclass.test", "", []string{user.RoleAdmin}, true)
	prod := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindMaterial, "Workbook", 300, -1)
	club := testutil.CreateClubCourse(t, app.Services.ClubCourses, "Reading", nil, 0, time.Now().Add(time.Hour))
	inactive := false
	hidden, err := app.Services.Catalog.CreateProduct(ctx, catalog.NewProduct{Kind: catalog.KindMaterial, Name: "Draft", Currency: "TWD", IsActive: &inactive})
	require.NoError(t, err)

	onProduct := comment.Target{Type: comment.TargetProduct, ID: prod.ID}
	top, err := svc.Create(ctx, comment.NewComment{Target: onProduct, Body: "Great workbook", Rating: intPtr(5)}, alice)
	require.NoError(t, err)
	assert.Equal(t, 5, top.Rating.Int)

	t.Run("errors", func(t *testing.T) {
		_, err := svc.Create(ctx, comment.NewComment{Target: comment.Target{Type: comment.TargetProduct, ID: hidden.ID}, Body: "?"}, alice)
		assert.Equal(t, comment.ErrTargetNotFound, errors.Cause(err), "inactive products are hidden")
		_, err = svc.Create(ctx, comment.NewComment{Target: comment.Target{Type: comment.TargetProduct, ID: hidden.ID}, Body: "ok"}, admin)
		assert.NoError(t, err)

		_, err = svc.Create(ctx, comment.NewComment{Target: comment.Target{Type: "lesson", ID: prod.ID}, Body: "?"}, alice)
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr), "got %v", err)
		assert.Equal(t, "target_type", verr.Fields[0].Field)

		tests := []struct {
			name      string
			nc        comment.NewComment
			wantField string
		}{
			{"rating on a reply", comment.NewComment{Target: onProduct, ParentID: &top.ID, Body: "x", Rating: intPtr(3)}, "rating"},
			{"rating on a club course", comment.NewComment{Target: comment.Target{Type: comment.TargetClubCourse, ID: club.ID}, Body: "x", Rating: intPtr(3)}, "rating"},
			{"unknown parent", comment.NewComment{Target: onProduct, ParentID: strPtr("0b6f8d5e-8d0a-4a4f-9d3a-3f1d4f3c2a10"), Body: "x"}, "parent_id"},
			{"parent on another target", comment.NewComment{Target: comment.Target{Type: comment.TargetClubCourse, ID: club.ID}, ParentID: &top.ID, Body: "x"}, "parent_id"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := svc.Create(ctx, tc.nc, bob)
				var verr *core.ValidationError
				require.True(t, errors.As(err, &verr), "got %v", err)
				assert.Equal(t, tc.wantField, verr.Fields[0].Field)
			})
		}
	})

	reply, err := svc.Create(ctx, comment.NewComment{Target: onProduct, ParentID: &top.ID, Body: "Agreed"}, bob)
	require.NoError(t, err)
	assert.True(t, reply.IsReply())

	_, err = svc.Create(ctx, comment.NewComment{Target: onProduct, ParentID: &reply.ID, Body: "Nested"}, alice)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "replies cannot be answered, got %v", err)

	_, err = svc.Create(ctx, comment.NewComment{Target: onProduct, ParentID: &top.ID, Body: "Thanks"}, alice)
	require.NoError(t, err)

	notes, _, err := app.Services.Notifications.List(ctx, notification.QueryFilter{UserID: alice.ID})
	require.NoError(t, err)
	require.Len(t, notes, 1, "authors are not notified of their own replies")
	assert.Equal(t, "comment.reply", notes[0].Kind)
	assert.Contains(t, notes[0].Body, "Bob replied: Agreed")
}

func TestService_List(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Comments
	ctx := context.Background()

	alice := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, app.Repos.Users, "Admin", "admin", "admin@mclass.test", "", []string{user.RoleAdmin}, true)
	prod := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindMaterial, "Workbook", 300, -1)
	target := comment.Target{Type: comment.TargetProduct, ID: prod.ID}

	first, err := svc.Create(ctx, comment.NewComment{Target: target, Body: "first"}, alice)
	require.NoError(t, err)
	second, err := svc.Create(ctx, comment.NewComment{Target: target, Body: "second"}, alice)
	require.NoError(t, err)
	for _, body := range []string{"reply 1", "reply 2"} {
		_, err := svc.Create(ctx, comment.NewComment{Target: target, ParentID: &first.ID, Body: body}, admin)
		require.NoError(t, err)
	}

	list, err := svc.List(ctx, target, alice)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	require.Len(t, list[1].Replies, 2)
	assert.Equal(t, "reply 1", list[1].Replies[0].Body, "replies oldest first")

	_, err = svc.SetHidden(ctx, first.ID, true, alice)
	assert.Equal(t, comment.ErrForbidden, errors.Cause(err))
	_, err = svc.SetHidden(ctx, first.ID, true, admin)
	require.NoError(t, err)

	list, err = svc.List(ctx, target, alice)
	require.NoError(t, err)
	require.Len(t, list, 1, "hidden comments and their replies are gone")
	assert.Equal(t, second.ID, list[0].ID)

	list, err = svc.List(ctx, target, admin)
	require.NoError(t, err)
	assert.Len(t, list, 2, "admins still see hidden comments")
}

func TestService_UpdateDelete(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Comments
	ctx := context.Background()

	alice := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	bob := testutil.CreateUser(t, app.Repos.Users, "Bob", "bob", "bob@mclass.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, app.Repos.Users, "Admin", "admin", "admin@mclass.test", "", []string{user.RoleAdmin}, true)
	club := testutil.CreateClubCourse(t, app.Services.ClubCourses, "Reading", nil, 0, time.Now().Add(time.Hour))
	target := comment.Target{Type: comment.TargetClubCourse, ID: club.ID}

	c, err := svc.Create(ctx, comment.NewComment{Target: target, Body: "See you there"}, alice)
	require.NoError(t, err)
	_, err = svc.Create(ctx, comment.NewComment{Target: target, ParentID: &c.ID, Body: "Me too"}, bob)
	require.NoError(t, err)

	_, err = svc.Update(ctx, c.ID, comment.UpdateComment{Body: strPtr("hijacked")}, bob)
	assert.Equal(t, comment.ErrForbidden, errors.Cause(err))
	_, err = svc.Update(ctx, c.ID, comment.UpdateComment{Rating: intPtr(4)}, alice)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "club course comments carry no rating, got %v", err)

	c, err = svc.Update(ctx, c.ID, comment.UpdateComment{Body: strPtr("See you all there")}, alice)
	require.NoError(t, err)
	assert.Equal(t, "See you all there", c.Body)

	assert.Equal(t, comment.ErrForbidden, errors.Cause(svc.Delete(ctx, c.ID, bob)))
	require.NoError(t, svc.Delete(ctx, c.ID, admin))
	assert.Equal(t, comment.ErrNotFound, errors.Cause(svc.Delete(ctx, c.ID, admin)))

	list, err := svc.List(ctx, target, alice)
	require.NoError(t, err)
	assert.Empty(t, list, "replies go with their parent")
}

func TestService_flipCourseTarget(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Comments
	ctx := context.Background()

	student := testutil.CreateUser(t, app.Repos.Users, "Stu", "stu", "stu@mclass.test", "", []string{user.RoleStudent}, true)
	planner := testutil.CreateUser(t, app.Repos.Users, "Pla", "pla", "pla@mclass.test", "", []string{user.RolePlanner}, true)
	outsider := testutil.CreateUser(t, app.Repos.Users, "Out", "out", "out@mclass.test", "", []string{user.RoleStudent}, true)
	fc, err := app.Services.FlipCourses.Create(ctx, flipcourse.NewFlipCourse{Title: "Plan", StudentID: student.ID}, planner)
	require.NoError(t, err)
	target := comment.Target{Type: comment.TargetFlipCourse, ID: fc.ID}

	_, err = svc.Create(ctx, comment.NewComment{Target: target, Body: "Hello"}, outsider)
	assert.Equal(t, comment.ErrTargetNotFound, errors.Cause(err))
	_, err = svc.List(ctx, target, outsider)
	assert.Equal(t, comment.ErrTargetNotFound, errors.Cause(err))

	_, err = svc.Create(ctx, comment.NewComment{Target: target, Body: "Hello"}, student)
	require.NoError(t, err)
	list, err := svc.List(ctx, target, planner)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
