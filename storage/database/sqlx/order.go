package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/order"
)

var (
	orderColumns = []string{
		"id", "member_id", "status", "total_cents", "currency", "note",
		"paid_at", "cancelled_at", "created_at", "updated_at",
	}
	orderItemColumns = []string{"id", "order_id", "product_id", "product_name", "quantity", "unit_price_cents"}
)

type OrderRepository struct {
	db core.DB
}

var _ order.Repository = (*OrderRepository)(nil)

func NewOrderRepository(db core.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (repo *OrderRepository) CreateOrder(ctx context.Context, ord order.Order) (order.Order, error) {
	ord.ID = uuid.NewString()
	for i := range ord.Items {
		ord.Items[i].ID = uuid.NewString()
		ord.Items[i].OrderID = ord.ID
	}

	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for _, it := range ord.Items {
			res, err := exec(ctx, tx, psql.Update("products").
				Set("stock", sq.Expr("stock - ?", it.Quantity)).
				Where(sq.Eq{"id": it.ProductID}).
				Where(sq.Or{sq.Eq{"stock": nil}, sq.GtOrEq{"stock": it.Quantity}}))
			if err != nil {
				return errors.Wrap(err, "reserving stock")
			}
			if err := affected(res, order.ErrInsufficientStock); err != nil {
				return err
			}
		}

		_, err := exec(ctx, tx, psql.Insert("orders").Columns(orderColumns...).Values(
			ord.ID, ord.MemberID, ord.Status, ord.TotalCents, ord.Currency, ord.Note,
			ord.PaidAt, ord.CancelledAt, ord.CreatedAt, ord.UpdatedAt,
		))
		if err != nil {
			return errors.Wrap(err, "inserting order")
		}

		items := psql.Insert("order_items").Columns(orderItemColumns...)
		for _, it := range ord.Items {
			items = items.Values(it.ID, it.OrderID, it.ProductID, it.ProductName, it.Quantity, it.UnitPriceCents)
		}
		_, err = exec(ctx, tx, items)
		return errors.Wrap(err, "inserting order items")
	})
	if err != nil {
		return order.Order{}, err
	}
	return ord, nil
}

// withItems loads the items of the orders.
func (repo *OrderRepository) withItems(ctx context.Context, ex core.DBExecutor, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	idx := make(map[string]int, len(orders))
	for i, o := range orders {
		ids = append(ids, o.ID)
		idx[o.ID] = i
	}
	var items []order.Item
	b := psql.Select(orderItemColumns...).From("order_items").Where(sq.Eq{"order_id": ids}).OrderBy("product_name ASC")
	if err := selectAll(ctx, ex, &items, b); err != nil {
		return errors.Wrap(err, "querying order items")
	}
	for _, it := range items {
		o := &orders[idx[it.OrderID]]
		o.Items = append(o.Items, it)
	}
	return nil
}

func (repo *OrderRepository) GetOrder(ctx context.Context, id string) (order.Order, error) {
	if !isUUID(id) {
		return order.Order{}, order.ErrNotFound
	}
	var ord order.Order
	if err := get(ctx, repo.db, &ord, psql.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id})); err != nil {
		return order.Order{}, trapNoRows(err, order.ErrNotFound, "getting order")
	}
	orders := []order.Order{ord}
	if err := repo.withItems(ctx, repo.db, orders); err != nil {
		return order.Order{}, err
	}
	return orders[0], nil
}

func (repo *OrderRepository) QueryOrders(ctx context.Context, filter *order.QueryFilter, ordering []core.DBOrdering) ([]order.Order, error) {
	b := psql.Select(orderColumns...).From("orders")
	if filter != nil {
		if filter.MemberID != "" {
			b = b.Where(sq.Eq{"member_id": filter.MemberID})
		}
		if filter.Status != "" {
			b = b.Where(sq.Eq{"status": filter.Status})
		}
		if !filter.From.IsZero() {
			b = b.Where(sq.GtOrEq{"created_at": filter.From.UTC()})
		}
		if !filter.To.IsZero() {
			b = b.Where(sq.Lt{"created_at": filter.To.UTC()})
		}
	}
	b = orderBy(b, ordering, "created_at DESC")

	var orders []order.Order
	if err := selectAll(ctx, repo.db, &orders, b); err != nil {
		return nil, errors.Wrap(err, "querying orders")
	}
	if err := repo.withItems(ctx, repo.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (repo *OrderRepository) TransitionOrder(ctx context.Context, id string, from, to order.Status, at time.Time, restoreStock bool) (order.Order, error) {
	if !isUUID(id) {
		return order.Order{}, order.ErrNotFound
	}
	var ord order.Order
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		upd := psql.Update("orders").
			Set("status", to).
			Set("updated_at", at).
			Where(sq.Eq{"id": id, "status": from}).
			Suffix("RETURNING " + joinColumns(orderColumns))
		switch to {
		case order.StatusPaid:
			upd = upd.Set("paid_at", at)
		case order.StatusCancelled:
			upd = upd.Set("cancelled_at", at)
		}
		if err := get(ctx, tx, &ord, upd); err != nil {
			if err == sql.ErrNoRows {
				return order.ErrInvalidTransition
			}
			return errors.Wrap(err, "updating order status")
		}

		if restoreStock {
			_, err := tx.ExecContext(ctx, `
				UPDATE products p SET stock = p.stock + oi.quantity
				FROM order_items oi
				WHERE oi.order_id = $1 AND oi.product_id = p.id AND p.stock IS NOT NULL`, id)
			if err != nil {
				return errors.Wrap(err, "restoring stock")
			}
		}
		orders := []order.Order{ord}
		if err := repo.withItems(ctx, tx, orders); err != nil {
			return err
		}
		ord = orders[0]
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}
	return ord, nil
}

func (repo *OrderRepository) QueryPendingBefore(ctx context.Context, cutoff time.Time) ([]order.Order, error) {
	var orders []order.Order
	b := psql.Select(orderColumns...).From("orders").
		Where(sq.Eq{"status": order.StatusPending}).
		Where(sq.Lt{"created_at": cutoff}).
		OrderBy("created_at ASC")
	if err := selectAll(ctx, repo.db, &orders, b); err != nil {
		return nil, errors.Wrap(err, "querying pending orders")
	}
	return orders, nil
}
