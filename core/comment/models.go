package comment

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
)

type TargetType string

const (
	TargetProduct    TargetType = "product"
	TargetClubCourse TargetType = "club_course"
	TargetFlipCourse TargetType = "flip_course"
)

type Comment struct {
	ID         string      `json:"id" db:"id"`
	AuthorID   string      `json:"author_id" db:"author_id"`
	TargetType TargetType  `json:"target_type" db:"target_type"`
	TargetID   string      `json:"target_id" db:"target_id"`
	ParentID   null.String `json:"parent_id" db:"parent_id"`
	Body       string      `json:"body" db:"body"`
	Rating     null.Int    `json:"rating" db:"rating"`
	IsHidden   bool        `json:"is_hidden" db:"is_hidden"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
	Replies    []Comment   `json:"replies,omitempty" db:"-"`
}

func (c Comment) IsReply() bool { return c.ParentID.Valid }

// Target identifies what a comment is about.
type Target struct {
	Type TargetType `json:"target_type" query:"target_type" validate:"required,oneof=product club_course flip_course"`
	ID   string     `json:"target_id" query:"target_id" validate:"required,uuid"`
}

type NewComment struct {
	Target
	ParentID *string `json:"parent_id" validate:"omitempty,uuid"`
	Body     string  `json:"body" validate:"required,max=5000"`
	Rating   *int    `json:"rating" validate:"omitempty,gte=1,lte=5"`
}

func (nc *NewComment) Validate(validate *validator.Validate) error {
	nc.Body = core.CleanString(nc.Body)
	return validate.Struct(nc)
}

type UpdateComment struct {
	Body   *string `json:"body" validate:"omitempty,max=5000"`
	Rating *int    `json:"rating" validate:"omitempty,gte=1,lte=5"`
}

func (uc *UpdateComment) Validate(validate *validator.Validate) error {
	if uc.Body != nil {
		body := core.CleanString(*uc.Body)
		uc.Body = &body
	}
	return validate.Struct(uc)
}

type SetHidden struct {
	Hidden bool `json:"hidden"`
}
