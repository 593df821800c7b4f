package catalog

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
)

type Kind string

const (
	KindCourse     Kind = "course"
	KindClub       Kind = "club"
	KindCounseling Kind = "counseling"
	KindMaterial   Kind = "material"
)

var Kinds = []Kind{KindCourse, KindClub, KindCounseling, KindMaterial}

type Category struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Product struct {
	ID          string      `json:"id" db:"id"`
	CategoryID  null.String `json:"category_id" db:"category_id"`
	Kind        Kind        `json:"kind" db:"kind"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	PriceCents  int64       `json:"price_cents" db:"price_cents"`
	Currency    string      `json:"currency" db:"currency"`
	Stock       null.Int    `json:"stock" db:"stock"` // null: unlimited
	IsActive    bool        `json:"is_active" db:"is_active"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// HasStockFor reports whether qty units can be sold.
func (p Product) HasStockFor(qty int) bool {
	return !p.Stock.Valid || p.Stock.Int >= qty
}

type NewCategory struct {
	Name string `json:"name" validate:"required,max=100"`
	Slug string `json:"slug" validate:"required,max=100,slug"`
}

func (nc *NewCategory) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Slug = core.CleanString(nc.Slug, true /* lower */)
	return validate.Struct(nc)
}

type NewProduct struct {
	CategoryID  *string `json:"category_id" validate:"omitempty,uuid"`
	Kind        Kind    `json:"kind" validate:"required,oneof=course club counseling material"`
	Name        string  `json:"name" validate:"required,max=200"`
	Description string  `json:"description"`
	PriceCents  int64   `json:"price_cents" validate:"gte=0"`
	Currency    string  `json:"currency" validate:"required,currency"`
	Stock       *int    `json:"stock" validate:"omitempty,gte=0"`
	IsActive    *bool   `json:"is_active"`
}

func (np *NewProduct) Validate(validate *validator.Validate) error {
	np.Name = core.CleanString(np.Name)
	np.Description = core.CleanString(np.Description)
	np.Currency = core.CleanString(np.Currency)
	return validate.Struct(np)
}

// UpdateProduct defines what information may be provided to modify an existing Product.
// Nil fields are left untouched; ClearStock makes the stock unlimited.
type UpdateProduct struct {
	CategoryID  *string `json:"category_id" validate:"omitempty,uuid"`
	Kind        *Kind   `json:"kind" validate:"omitempty,oneof=course club counseling material"`
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Description *string `json:"description"`
	PriceCents  *int64  `json:"price_cents" validate:"omitempty,gte=0"`
	Currency    *string `json:"currency" validate:"omitempty,currency"`
	Stock       *int    `json:"stock" validate:"omitempty,gte=0"`
	ClearStock  bool    `json:"clear_stock"`
	IsActive    *bool   `json:"is_active"`
}

func (up *UpdateProduct) Validate(validate *validator.Validate) error {
	if up.Name != nil {
		name := core.CleanString(*up.Name)
		up.Name = &name
	}
	return validate.Struct(up)
}

type QueryFilter struct {
	Search     string `query:"search"`
	Kind       Kind   `query:"kind"`
	CategoryID string `query:"category_id"`
	IsActive   *bool  `query:"is_active"`
	MinPrice   *int64 `query:"min_price"`
	MaxPrice   *int64 `query:"max_price"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// OrderingFields are the fields products may be sorted on.
var OrderingFields = []string{"name", "price_cents", "created_at", "updated_at"}
