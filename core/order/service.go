package order

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/user"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("order not found")
	ErrForbidden         = core.NewForbiddenError("this order belongs to another member")
	ErrInvalidTransition = core.NewConflictError("order status does not allow this operation")
	ErrInsufficientStock = errors.New("insufficient stock")
	errInactiveProduct   = errors.New("product is not available")
	errMixedCurrencies   = errors.New("all products of an order must share one currency")
)

const (
	EventCreated   = "order.created"
	EventPaid      = "order.paid"
	EventCancelled = "order.cancelled"
	EventRefunded  = "order.refunded"
)

type (
	Repository interface {
		// CreateOrder inserts the order and its items and decrements product stocks atomically.
		// It fails with ErrInsufficientStock when any stocked product runs short.
		CreateOrder(ctx context.Context, ord Order) (Order, error)
		GetOrder(ctx context.Context, id string) (Order, error)
		QueryOrders(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Order, error)
		// TransitionOrder moves the order from one status to another; ErrInvalidTransition when its status is no longer `from`.
		// Stocks are restored when restoreStock is set.
		TransitionOrder(ctx context.Context, id string, from, to Status, at time.Time, restoreStock bool) (Order, error)
		QueryPendingBefore(ctx context.Context, cutoff time.Time) ([]Order, error)
	}

	// ProductCatalog is the view of the catalog orders need.
	ProductCatalog interface {
		GetProductsByID(ctx context.Context, ids ...string) ([]catalog.Product, error)
		Invalidate(ctx context.Context, ids ...string)
	}

	// Enroller grants (and revokes) the club course seats sold through products.
	Enroller interface {
		EnrollForProducts(ctx context.Context, memberID string, productIDs []string) error
		WithdrawForProducts(ctx context.Context, memberID string, productIDs []string) error
	}

	ServiceInterface interface {
		Create(ctx context.Context, memberID string, no NewOrder) (Order, error)
		Get(ctx context.Context, id string, caller user.User) (Order, error)
		List(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, caller user.User) ([]Order, error)
		Pay(ctx context.Context, id string) (Order, error)
		Cancel(ctx context.Context, id string, caller user.User) (Order, error)
		Refund(ctx context.Context, id string) (Order, error)
		ExpirePending(ctx context.Context, cutoff time.Time) (int, error)
	}

	Service struct {
		repo     Repository
		products ProductCatalog
		enroller Enroller
		notifier core.Notifier
		events   core.EventPublisher
		logger   core.Logger
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	repo Repository,
	products ProductCatalog,
	enroller Enroller,
	notifier core.Notifier,
	events core.EventPublisher,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		products: products,
		enroller: enroller,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

func itemsErr(err error, productID string) error {
	return core.NewValidationError(err, core.FieldError{Field: "items", Error: fmt.Sprintf("%s: %s", productID, err)})
}

func (svc *Service) Create(ctx context.Context, memberID string, no NewOrder) (Order, error) {
	lines := no.mergedItems()
	ids := make([]string, 0, len(lines))
	for _, it := range lines {
		ids = append(ids, it.ProductID)
	}

	prods, err := svc.products.GetProductsByID(ctx, ids...)
	if err != nil {
		return Order{}, errors.Wrap(err, "finding products")
	}
	byID := make(map[string]catalog.Product, len(prods))
	for _, p := range prods {
		byID[p.ID] = p
	}

	now := time.Now().UTC()
	ord := Order{
		MemberID:  memberID,
		Status:    StatusPending,
		Note:      core.CleanString(no.Note),
		CreatedAt: now,
		UpdatedAt: now,
		Items:     make([]Item, 0, len(lines)),
	}
	for _, line := range lines {
		prod, ok := byID[line.ProductID]
		if !ok {
			return Order{}, itemsErr(catalog.ErrProductNotFound, line.ProductID)
		}
		if !prod.IsActive {
			return Order{}, itemsErr(errInactiveProduct, prod.ID)
		}
		if !prod.HasStockFor(line.Quantity) {
			return Order{}, itemsErr(ErrInsufficientStock, prod.ID)
		}
		if ord.Currency == "" {
			ord.Currency = prod.Currency
		} else if ord.Currency != prod.Currency {
			return Order{}, itemsErr(errMixedCurrencies, prod.ID)
		}
		item := Item{
			ProductID:      prod.ID,
			ProductName:    prod.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: prod.PriceCents,
		}
		ord.TotalCents += item.SubtotalCents()
		ord.Items = append(ord.Items, item)
	}

	ord, err = svc.repo.CreateOrder(ctx, ord)
	if err != nil {
		if errors.Cause(err) == ErrInsufficientStock {
			return Order{}, core.NewValidationError(err, core.FieldError{Field: "items", Error: err.Error()})
		}
		return Order{}, errors.Wrap(err, "creating order")
	}
	svc.products.Invalidate(ctx, ord.ProductIDs()...)
	svc.publish(ctx, EventCreated, ord)
	return ord, nil
}

func (svc *Service) Get(ctx context.Context, id string, caller user.User) (Order, error) {
	ord, err := svc.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if ord.MemberID != caller.ID && !caller.IsAdmin() {
		return Order{}, ErrNotFound
	}
	return ord, nil
}

func (svc *Service) List(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, caller user.User) ([]Order, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	if !caller.IsAdmin() {
		filter.MemberID = caller.ID
	}
	return svc.repo.QueryOrders(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

func (svc *Service) transition(ctx context.Context, id string, to Status, check func(Order) error) (Order, error) {
	ord, err := svc.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if check != nil {
		if err := check(ord); err != nil {
			return Order{}, err
		}
	}
	if !ord.Status.CanMoveTo(to) {
		return Order{}, ErrInvalidTransition
	}
	restore := to == StatusCancelled
	ord, err = svc.repo.TransitionOrder(ctx, id, ord.Status, to, time.Now().UTC(), restore)
	if err != nil {
		return Order{}, err
	}
	if restore {
		svc.products.Invalidate(ctx, ord.ProductIDs()...)
	}
	return ord, nil
}

// Pay marks a pending order as paid and grants the club course seats it bought.
func (svc *Service) Pay(ctx context.Context, id string) (Order, error) {
	ord, err := svc.transition(ctx, id, StatusPaid, nil)
	if err != nil {
		return Order{}, err
	}
	if err := svc.enroller.EnrollForProducts(ctx, ord.MemberID, ord.ProductIDs()); err != nil {
		svc.logger.Error(fmt.Sprintf("order %s: enrolling member %s: %v", ord.ID, ord.MemberID, err), err)
	}
	svc.notify(ctx, ord, "Payment received",
		fmt.Sprintf("Your order of %s has been paid. Thank you!", formatCents(ord.TotalCents, ord.Currency)))
	svc.publish(ctx, EventPaid, ord)
	return ord, nil
}

// Cancel cancels a pending order. Members may only cancel their own orders.
func (svc *Service) Cancel(ctx context.Context, id string, caller user.User) (Order, error) {
	ord, err := svc.transition(ctx, id, StatusCancelled, func(ord Order) error {
		if ord.MemberID != caller.ID && !caller.IsAdmin() {
			return ErrForbidden
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	svc.publish(ctx, EventCancelled, ord)
	return ord, nil
}

func (svc *Service) Refund(ctx context.Context, id string) (Order, error) {
	ord, err := svc.transition(ctx, id, StatusRefunded, nil)
	if err != nil {
		return Order{}, err
	}
	if err := svc.enroller.WithdrawForProducts(ctx, ord.MemberID, ord.ProductIDs()); err != nil {
		svc.logger.Error(fmt.Sprintf("order %s: withdrawing member %s: %v", ord.ID, ord.MemberID, err), err)
	}
	svc.notify(ctx, ord, "Order refunded",
		fmt.Sprintf("Your order of %s has been refunded.", formatCents(ord.TotalCents, ord.Currency)))
	svc.publish(ctx, EventRefunded, ord)
	return ord, nil
}

// ExpirePending cancels the pending orders created before cutoff and restores their stock.
func (svc *Service) ExpirePending(ctx context.Context, cutoff time.Time) (int, error) {
	orders, err := svc.repo.QueryPendingBefore(ctx, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "querying pending orders")
	}
	var expired int
	for _, o := range orders {
		ord, err := svc.repo.TransitionOrder(ctx, o.ID, StatusPending, StatusCancelled, time.Now().UTC(), true)
		if err != nil {
			if errors.Cause(err) == ErrInvalidTransition {
				continue // paid or cancelled meanwhile
			}
			return expired, errors.Wrapf(err, "expiring order %s", o.ID)
		}
		expired++
		svc.products.Invalidate(ctx, ord.ProductIDs()...)
		svc.notify(ctx, ord, "Order expired", "Your unpaid order has expired and was cancelled.")
		svc.publish(ctx, EventCancelled, ord)
	}
	return expired, nil
}

func (svc *Service) notify(ctx context.Context, ord Order, title, body string) {
	_, err := svc.notifier.Notify(ctx, core.Notice{
		UserID:    ord.MemberID,
		Kind:      "order." + string(ord.Status),
		Title:     title,
		Body:      body,
		Data:      map[string]interface{}{"order_id": ord.ID},
		DedupeKey: fmt.Sprintf("order.%s:%s", ord.Status, ord.ID),
		SendEmail: true,
	})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("order %s: notifying member: %v", ord.ID, err), err)
	}
}

func (svc *Service) publish(ctx context.Context, name string, ord Order) {
	event := core.NewEvent(name, ord.ID, map[string]interface{}{
		"id":          ord.ID,
		"member_id":   ord.MemberID,
		"status":      ord.Status,
		"total_cents": ord.TotalCents,
		"currency":    ord.Currency,
		"product_ids": ord.ProductIDs(),
	})
	if err := svc.events.Publish(ctx, event); err != nil {
		svc.logger.Error(fmt.Sprintf("order: publishing %s: %v", name, err), err)
	}
}

func formatCents(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}

