package order

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// transitions lists the statuses an order may move to from a given status.
var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusRefunded},
}

func (s Status) CanMoveTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID          string    `json:"id" db:"id"`
	MemberID    string    `json:"member_id" db:"member_id"`
	Status      Status    `json:"status" db:"status"`
	TotalCents  int64     `json:"total_cents" db:"total_cents"`
	Currency    string    `json:"currency" db:"currency"`
	Note        string    `json:"note" db:"note"`
	PaidAt      null.Time `json:"paid_at" db:"paid_at"`
	CancelledAt null.Time `json:"cancelled_at" db:"cancelled_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	Items       []Item    `json:"items" db:"-"`
}

// ProductIDs returns the IDs of the ordered products.
func (o Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

type Item struct {
	ID             string `json:"id" db:"id"`
	OrderID        string `json:"order_id" db:"order_id"`
	ProductID      string `json:"product_id" db:"product_id"`
	ProductName    string `json:"product_name" db:"product_name"`
	Quantity       int    `json:"quantity" db:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents" db:"unit_price_cents"`
}

func (it Item) SubtotalCents() int64 { return int64(it.Quantity) * it.UnitPriceCents }

type NewItem struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

type NewOrder struct {
	Items []NewItem `json:"items" validate:"required,min=1,max=50,dive"`
	Note  string    `json:"note" validate:"max=500"`
}

func (no *NewOrder) Validate(validate *validator.Validate) error {
	return validate.Struct(no)
}

// mergedItems folds duplicate product lines into one.
func (no NewOrder) mergedItems() []NewItem {
	idx := make(map[string]int, len(no.Items))
	merged := make([]NewItem, 0, len(no.Items))
	for _, it := range no.Items {
		if i, ok := idx[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	return merged
}

type QueryFilter struct {
	MemberID string    `query:"member_id"`
	Status   Status    `query:"status"`
	From     time.Time `query:"from"`
	To       time.Time `query:"to"`
}

// OrderingFields are the fields orders may be sorted on.
var OrderingFields = []string{"created_at", "updated_at", "total_cents", "status"}
