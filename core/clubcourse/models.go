package clubcourse

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusFinished  Status = "finished"
)

type ClubCourse struct {
	ID            string      `json:"id" db:"id"`
	ProductID     null.String `json:"product_id" db:"product_id"`
	Title         string      `json:"title" db:"title"`
	Description   string      `json:"description" db:"description"`
	TeacherID     null.String `json:"teacher_id" db:"teacher_id"`
	Location      string      `json:"location" db:"location"`
	Capacity      int         `json:"capacity" db:"capacity"` // 0: unlimited
	StartsAt      time.Time   `json:"starts_at" db:"starts_at"`
	EndsAt        time.Time   `json:"ends_at" db:"ends_at"`
	Status        Status      `json:"status" db:"status"`
	EnrolledCount int         `json:"enrolled_count" db:"enrolled_count"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// IsFull reports whether no seat is left.
func (c ClubCourse) IsFull() bool {
	return c.Capacity > 0 && c.EnrolledCount >= c.Capacity
}

type Enrollment struct {
	ClubCourseID string    `json:"club_course_id" db:"club_course_id"`
	MemberID     string    `json:"member_id" db:"member_id"`
	EnrolledAt   time.Time `json:"enrolled_at" db:"enrolled_at"`
}

// Upcoming is a course about to start together with its members.
type Upcoming struct {
	Course    ClubCourse
	MemberIDs []string
}

type NewClubCourse struct {
	ProductID   *string   `json:"product_id" validate:"omitempty,uuid"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description"`
	TeacherID   *string   `json:"teacher_id" validate:"omitempty,uuid"`
	Location    string    `json:"location" validate:"max=200"`
	Capacity    int       `json:"capacity" validate:"gte=0"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

func (nc *NewClubCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	nc.Location = core.CleanString(nc.Location)
	return validate.Struct(nc)
}

// UpdateClubCourse defines what information may be provided to modify an existing ClubCourse.
type UpdateClubCourse struct {
	ProductID   *string    `json:"product_id" validate:"omitempty,uuid"`
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Description *string    `json:"description"`
	TeacherID   *string    `json:"teacher_id" validate:"omitempty,uuid"`
	Location    *string    `json:"location" validate:"omitempty,max=200"`
	Capacity    *int       `json:"capacity" validate:"omitempty,gte=0"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
}

func (uc *UpdateClubCourse) Validate(validate *validator.Validate) error {
	return validate.Struct(uc)
}

type QueryFilter struct {
	Search    string    `query:"search"`
	Status    Status    `query:"status"`
	TeacherID string    `query:"teacher_id"`
	MemberID  string    `query:"member_id"`
	From      time.Time `query:"from"`
	To        time.Time `query:"to"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// OrderingFields are the fields club courses may be sorted on.
var OrderingFields = []string{"title", "starts_at", "created_at"}
