package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/order"
	"github.com/benhuang0857/mclass/core/user"
	"github.com/benhuang0857/mclass/testutil"
)

func stockOf(t *testing.T, app *testutil.App, id string) int {
	t.Helper()
	p, err := app.Services.Catalog.GetProduct(context.Background(), id)
	require.NoError(t, err)
	require.True(t, p.Stock.Valid)
	return p.Stock.Int
}

func TestService_Create(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Orders
	ctx := context.Background()
	member := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)

	book := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindMaterial, "Workbook", 450, 3)
	course := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindCourse, "Flip", 12000, -1)
	inactive := false
	hidden, err := app.Services.Catalog.CreateProduct(ctx, catalog.NewProduct{Kind: catalog.KindMaterial, Name: "Hidden", Currency: "TWD", IsActive: &inactive})
	require.NoError(t, err)
	usd, err := app.Services.Catalog.CreateProduct(ctx, catalog.NewProduct{Kind: catalog.KindMaterial, Name: "Import", Currency: "USD"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		items []order.NewItem
	}{
		{"unknown product", []order.NewItem{{ProductID: "0b6f8d5e-8d0a-4a4f-9d3a-3f1d4f3c2a10", Quantity: 1}}},
		{"inactive product", []order.NewItem{{ProductID: hidden.ID, Quantity: 1}}},
		{"insufficient stock", []order.NewItem{{ProductID: book.ID, Quantity: 2}, {ProductID: book.ID, Quantity: 2}}},
		{"mixed currencies", []order.NewItem{{ProductID: book.ID, Quantity: 1}, {ProductID: usd.ID, Quantity: 1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, member.ID, order.NewOrder{Items: tc.items})
			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, "items", verr.Fields[0].Field)
		})
	}
	assert.Equal(t, 3, stockOf(t, app, book.ID), "failed orders leave stock untouched")

	ord, err := svc.Create(ctx, member.ID, order.NewOrder{
		Items: []order.NewItem{{ProductID: book.ID, Quantity: 1}, {ProductID: course.ID, Quantity: 1}, {ProductID: book.ID, Quantity: 1}},
		Note:  "  gift wrap  ",
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, ord.Status)
	assert.Equal(t, "gift wrap", ord.Note)
	assert.Equal(t, "TWD", ord.Currency)
	require.Len(t, ord.Items, 2, "duplicate lines are merged")
	assert.Equal(t, 2, ord.Items[0].Quantity)
	assert.Equal(t, int64(2*450+12000), ord.TotalCents)
	assert.Equal(t, 1, stockOf(t, app, book.ID))
}

func TestService_Get(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Orders
	ctx := context.Background()
	alice := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	bob := testutil.CreateUser(t, app.Repos.Users, "Bob", "bob", "bob@mclass.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, app.Repos.Users, "Admin", "admin", "admin@mclass.test", "", []string{user.RoleAdmin}, true)
	prod := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindCourse, "Flip", 12000, -1)

	ord, err := svc.Create(ctx, alice.ID, order.NewOrder{Items: []order.NewItem{{ProductID: prod.ID, Quantity: 1}}})
	require.NoError(t, err)

	_, err = svc.Get(ctx, ord.ID, alice)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, ord.ID, admin)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, ord.ID, bob)
	assert.Equal(t, order.ErrNotFound, errors.Cause(err), "other members' orders are hidden")

	orders, err := svc.List(ctx, nil, nil, bob)
	require.NoError(t, err)
	assert.Empty(t, orders)
	orders, err = svc.List(ctx, &order.QueryFilter{MemberID: alice.ID}, nil, bob)
	require.NoError(t, err)
	assert.Empty(t, orders, "members only ever see their own orders")
	orders, err = svc.List(ctx, nil, nil, admin)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestService_lifecycle(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Orders
	ctx := context.Background()
	alice := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	bob := testutil.CreateUser(t, app.Repos.Users, "Bob", "bob", "bob@mclass.test", "", []string{user.RoleStudent}, true)

	pass := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindClub, "Club pass", 500, 5)
	course := testutil.CreateClubCourse(t, app.Services.ClubCourses, "Reading", &pass.ID, 0, time.Now().Add(24*time.Hour))
	newOrder := order.NewOrder{Items: []order.NewItem{{ProductID: pass.ID, Quantity: 1}}}

	t.Run("pay enrolls and refund withdraws", func(t *testing.T) {
		ord, err := svc.Create(ctx, alice.ID, newOrder)
		require.NoError(t, err)

		ord, err = svc.Pay(ctx, ord.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, ord.Status)
		assert.True(t, ord.PaidAt.Valid)

		members, err := app.Services.ClubCourses.Members(ctx, course.ID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, alice.ID, members[0].MemberID)

		_, err = svc.Pay(ctx, ord.ID)
		assert.Equal(t, order.ErrInvalidTransition, errors.Cause(err))
		_, err = svc.Cancel(ctx, ord.ID, alice)
		assert.Equal(t, order.ErrInvalidTransition, errors.Cause(err), "paid orders are refunded, not cancelled")

		ord, err = svc.Refund(ctx, ord.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusRefunded, ord.Status)
		members, err = app.Services.ClubCourses.Members(ctx, course.ID)
		require.NoError(t, err)
		assert.Empty(t, members)
		assert.Equal(t, 4, stockOf(t, app, pass.ID), "refunds do not restock")
	})

	t.Run("cancel restores stock", func(t *testing.T) {
		ord, err := svc.Create(ctx, bob.ID, newOrder)
		require.NoError(t, err)
		assert.Equal(t, 3, stockOf(t, app, pass.ID))

		_, err = svc.Cancel(ctx, ord.ID, alice)
		assert.Equal(t, order.ErrForbidden, errors.Cause(err))

		ord, err = svc.Cancel(ctx, ord.ID, bob)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, ord.Status)
		assert.True(t, ord.CancelledAt.Valid)
		assert.Equal(t, 4, stockOf(t, app, pass.ID))

		_, err = svc.Refund(ctx, ord.ID)
		assert.Equal(t, order.ErrInvalidTransition, errors.Cause(err))
	})

	assert.Equal(t, []string{
		catalog.EventProductCreated,
		order.EventCreated, order.EventPaid, order.EventRefunded,
		order.EventCreated, order.EventCancelled,
	}, filterEvents(app.Events.Published(), "product.", "order."))
}

func filterEvents(names []string, prefixes ...string) []string {
	var out []string
	for _, n := range names {
		for _, p := range prefixes {
			if len(n) >= len(p) && n[:len(p)] == p {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func TestService_ExpirePending(t *testing.T) {
	app := testutil.NewApp()
	svc := app.Services.Orders
	ctx := context.Background()
	member := testutil.CreateUser(t, app.Repos.Users, "Alice", "alice", "alice@mclass.test", "", []string{user.RoleStudent}, true)
	prod := testutil.CreateProduct(t, app.Services.Catalog, catalog.KindMaterial, "Workbook", 450, 10)
	newOrder := order.NewOrder{Items: []order.NewItem{{ProductID: prod.ID, Quantity: 2}}}

	stale, err := svc.Create(ctx, member.ID, newOrder)
	require.NoError(t, err)
	paid, err := svc.Create(ctx, member.ID, newOrder)
	require.NoError(t, err)
	_, err = svc.Pay(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stockOf(t, app, prod.ID))

	n, err := svc.ExpirePending(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "recent orders are kept")

	n, err = svc.ExpirePending(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 8, stockOf(t, app, prod.ID))

	stale, err = svc.Get(ctx, stale.ID, member)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stale.Status)

	n, err = svc.ExpirePending(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}
