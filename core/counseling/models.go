package counseling

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
)

// MaxDuration is the longest appointment that can be booked.
const MaxDuration = 4 * time.Hour

type Status string

const (
	StatusBooked    Status = "booked"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// IsActive reports whether an appointment in this status still holds its slot.
func (s Status) IsActive() bool {
	return s == StatusBooked || s == StatusConfirmed
}

type Appointment struct {
	ID           string      `json:"id" db:"id"`
	StudentID    string      `json:"student_id" db:"student_id"`
	CounselorID  string      `json:"counselor_id" db:"counselor_id"`
	FlipCourseID null.String `json:"flip_course_id" db:"flip_course_id"`
	Topic        string      `json:"topic" db:"topic"`
	Notes        string      `json:"notes" db:"notes"`
	MeetingURL   string      `json:"meeting_url" db:"meeting_url"`
	StartsAt     time.Time   `json:"starts_at" db:"starts_at"`
	EndsAt       time.Time   `json:"ends_at" db:"ends_at"`
	Status       Status      `json:"status" db:"status"`
	CancelReason string      `json:"cancel_reason" db:"cancel_reason"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// IsParticipant reports whether the user is the student or the counselor of the appointment.
func (a Appointment) IsParticipant(userID string) bool {
	return a.StudentID == userID || a.CounselorID == userID
}

// NewAppointment books a slot. StudentID defaults to the caller.
type NewAppointment struct {
	StudentID    string    `json:"student_id" validate:"omitempty,uuid"`
	CounselorID  string    `json:"counselor_id" validate:"required,uuid"`
	FlipCourseID *string   `json:"flip_course_id" validate:"omitempty,uuid"`
	Topic        string    `json:"topic" validate:"required,max=200"`
	Notes        string    `json:"notes" validate:"max=2000"`
	MeetingURL   string    `json:"meeting_url" validate:"omitempty,url"`
	StartsAt     time.Time `json:"starts_at" validate:"required"`
	EndsAt       time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

func (na *NewAppointment) Validate(validate *validator.Validate) error {
	na.Topic = core.CleanString(na.Topic)
	na.Notes = core.CleanString(na.Notes)
	na.MeetingURL = core.CleanString(na.MeetingURL)
	return validate.Struct(na)
}

type Reschedule struct {
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

func (r *Reschedule) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (cr *CancelRequest) Validate(validate *validator.Validate) error {
	cr.Reason = core.CleanString(cr.Reason)
	return validate.Struct(cr)
}

type QueryFilter struct {
	StudentID   string    `query:"student_id"`
	CounselorID string    `query:"counselor_id"`
	Status      Status    `query:"status"`
	From        time.Time `query:"from"`
	To          time.Time `query:"to"`
	// ParticipantID restricts results to appointments the user takes part in.
	ParticipantID string `query:"-"`
}

// OrderingFields are the fields appointments may be sorted on.
var OrderingFields = []string{"starts_at", "created_at", "status"}
