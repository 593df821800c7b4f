package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/order"
)

type OrderRepository struct {
	db *DB
}

var _ order.Repository = (*OrderRepository)(nil)

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func copyOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	return o
}

func (repo *OrderRepository) CreateOrder(_ context.Context, ord order.Order) (order.Order, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	needed := make(map[string]int, len(ord.Items))
	for _, it := range ord.Items {
		needed[it.ProductID] += it.Quantity
	}
	for id, qty := range needed {
		p, ok := repo.db.products[id]
		if !ok || !p.HasStockFor(qty) {
			return order.Order{}, order.ErrInsufficientStock
		}
	}
	for id, qty := range needed {
		p := repo.db.products[id]
		if p.Stock.Valid {
			p.Stock = null.IntFrom(p.Stock.Int - qty)
			repo.db.products[id] = p
		}
	}

	ord.ID = newID()
	ord = copyOrder(ord)
	for i := range ord.Items {
		ord.Items[i].ID = newID()
		ord.Items[i].OrderID = ord.ID
	}
	repo.db.orders[ord.ID] = ord
	return copyOrder(ord), nil
}

func (repo *OrderRepository) GetOrder(_ context.Context, id string) (order.Order, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if o, ok := repo.db.orders[id]; ok {
		return copyOrder(o), nil
	}
	return order.Order{}, order.ErrNotFound
}

func (repo *OrderRepository) QueryOrders(_ context.Context, filter *order.QueryFilter, _ []core.DBOrdering) ([]order.Order, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	orders := make([]order.Order, 0)
	for _, o := range repo.db.orders {
		if filter != nil {
			if filter.MemberID != "" && o.MemberID != filter.MemberID {
				continue
			}
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			if !inWindow(o.CreatedAt, filter.From, filter.To) {
				continue
			}
		}
		orders = append(orders, copyOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (repo *OrderRepository) TransitionOrder(_ context.Context, id string, from, to order.Status, at time.Time, restoreStock bool) (order.Order, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	o, ok := repo.db.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	if o.Status != from {
		return order.Order{}, order.ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = at
	switch to {
	case order.StatusPaid:
		o.PaidAt = null.TimeFrom(at)
	case order.StatusCancelled:
		o.CancelledAt = null.TimeFrom(at)
	}
	if restoreStock {
		for _, it := range o.Items {
			if p, ok := repo.db.products[it.ProductID]; ok && p.Stock.Valid {
				p.Stock = null.IntFrom(p.Stock.Int + it.Quantity)
				repo.db.products[p.ID] = p
			}
		}
	}
	repo.db.orders[id] = o
	return copyOrder(o), nil
}

func (repo *OrderRepository) QueryPendingBefore(_ context.Context, cutoff time.Time) ([]order.Order, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var orders []order.Order
	for _, o := range repo.db.orders {
		if o.Status == order.StatusPending && o.CreatedAt.Before(cutoff) {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}
