package counseling

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/user"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("appointment not found")
	ErrForbidden         = core.NewForbiddenError("you are not allowed to change this appointment")
	ErrSlotTaken         = core.NewConflictError("the counselor or the student already has an appointment at this time")
	ErrInvalidTransition = core.NewConflictError("appointment status does not allow this operation")
	ErrNotStarted        = core.NewConflictError("appointment has not started yet")
	errNotCounselor      = errors.New("user is not a counselor")
	errPastSlot          = errors.New("appointments cannot be booked in the past")
	errTooLong           = fmt.Errorf("appointments cannot last more than %s", MaxDuration)
)

type (
	Repository interface {
		CreateAppointment(ctx context.Context, appt Appointment) (Appointment, error)
		GetAppointment(ctx context.Context, id string) (Appointment, error)
		QueryAppointments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Appointment, error)
		// UpdateAppointment saves appt if it still has status from, or fails with ErrInvalidTransition.
		UpdateAppointment(ctx context.Context, appt Appointment, from Status) (Appointment, error)
		// QueryOverlapping returns the booked or confirmed appointments of any of the users
		// intersecting [start, end), ignoring excludeID.
		QueryOverlapping(ctx context.Context, userIDs []string, start, end time.Time, excludeID string) ([]Appointment, error)
		// QueryUpcoming returns the booked or confirmed appointments starting in [from, to).
		QueryUpcoming(ctx context.Context, from, to time.Time) ([]Appointment, error)
	}

	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	ServiceInterface interface {
		Book(ctx context.Context, na NewAppointment, caller user.User) (Appointment, error)
		Confirm(ctx context.Context, id string, caller user.User) (Appointment, error)
		Cancel(ctx context.Context, id string, caller user.User, reason string) (Appointment, error)
		Complete(ctx context.Context, id string, caller user.User) (Appointment, error)
		Reschedule(ctx context.Context, id string, caller user.User, rs Reschedule) (Appointment, error)
		Get(ctx context.Context, id string, caller user.User) (Appointment, error)
		List(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, caller user.User) ([]Appointment, error)
		Upcoming(ctx context.Context, from, to time.Time) ([]Appointment, error)
	}

	Service struct {
		repo     Repository
		users    UserGetter
		notifier core.Notifier
		events   core.EventPublisher
		logger   core.Logger
		nowFunc  func() time.Time
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, users UserGetter, notifier core.Notifier, events core.EventPublisher, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		notifier: notifier,
		events:   events,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

func fieldErr(field string, err error) error {
	return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
}

// checkSlot validates a time slot for the given participants.
func (svc *Service) checkSlot(ctx context.Context, appt Appointment) error {
	if appt.StartsAt.Before(svc.nowFunc()) {
		return fieldErr("starts_at", errPastSlot)
	}
	if appt.EndsAt.Sub(appt.StartsAt) > MaxDuration {
		return fieldErr("ends_at", errTooLong)
	}
	clashes, err := svc.repo.QueryOverlapping(ctx, []string{appt.CounselorID, appt.StudentID}, appt.StartsAt, appt.EndsAt, appt.ID)
	if err != nil {
		return errors.Wrap(err, "querying overlapping appointments")
	}
	if len(clashes) > 0 {
		return ErrSlotTaken
	}
	return nil
}

func (svc *Service) Book(ctx context.Context, na NewAppointment, caller user.User) (Appointment, error) {
	if na.StudentID == "" {
		na.StudentID = caller.ID
	}
	if na.StudentID != caller.ID && !caller.IsStaff() {
		return Appointment{}, ErrForbidden
	}

	counselor, err := svc.users.GetByID(ctx, na.CounselorID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Appointment{}, fieldErr("counselor_id", err)
		}
		return Appointment{}, errors.Wrap(err, "finding counselor")
	}
	if !counselor.IsCounselor() || !counselor.IsActive {
		return Appointment{}, fieldErr("counselor_id", errNotCounselor)
	}
	if na.StudentID != caller.ID {
		if _, err := svc.users.GetByID(ctx, na.StudentID); err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return Appointment{}, fieldErr("student_id", err)
			}
			return Appointment{}, errors.Wrap(err, "finding student")
		}
	}

	now := svc.nowFunc().UTC()
	appt := Appointment{
		StudentID:    na.StudentID,
		CounselorID:  na.CounselorID,
		FlipCourseID: null.StringFromPtr(na.FlipCourseID),
		Topic:        na.Topic,
		Notes:        na.Notes,
		MeetingURL:   na.MeetingURL,
		StartsAt:     na.StartsAt.UTC(),
		EndsAt:       na.EndsAt.UTC(),
		Status:       StatusBooked,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := svc.checkSlot(ctx, appt); err != nil {
		return Appointment{}, err
	}
	if appt, err = svc.repo.CreateAppointment(ctx, appt); err != nil {
		return Appointment{}, err
	}
	svc.changed(ctx, appt, caller)
	return appt, nil
}

// load fetches the appointment and checks the caller may act on it.
// counselorOnly restricts the action to the counselor (and admins).
func (svc *Service) load(ctx context.Context, id string, caller user.User, counselorOnly bool) (Appointment, error) {
	appt, err := svc.repo.GetAppointment(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if caller.IsAdmin() {
		return appt, nil
	}
	if !appt.IsParticipant(caller.ID) {
		return Appointment{}, ErrNotFound
	}
	if counselorOnly && appt.CounselorID != caller.ID {
		return Appointment{}, ErrForbidden
	}
	return appt, nil
}

func (svc *Service) save(ctx context.Context, appt Appointment, from Status, caller user.User) (Appointment, error) {
	appt.UpdatedAt = svc.nowFunc().UTC()
	appt, err := svc.repo.UpdateAppointment(ctx, appt, from)
	if err != nil {
		return Appointment{}, err
	}
	svc.changed(ctx, appt, caller)
	return appt, nil
}

func (svc *Service) Confirm(ctx context.Context, id string, caller user.User) (Appointment, error) {
	appt, err := svc.load(ctx, id, caller, true)
	if err != nil {
		return Appointment{}, err
	}
	if appt.Status != StatusBooked {
		return Appointment{}, ErrInvalidTransition
	}
	appt.Status = StatusConfirmed
	return svc.save(ctx, appt, StatusBooked, caller)
}

func (svc *Service) Cancel(ctx context.Context, id string, caller user.User, reason string) (Appointment, error) {
	appt, err := svc.load(ctx, id, caller, false)
	if err != nil {
		return Appointment{}, err
	}
	if !appt.Status.IsActive() {
		return Appointment{}, ErrInvalidTransition
	}
	from := appt.Status
	appt.Status = StatusCancelled
	appt.CancelReason = core.CleanString(reason)
	return svc.save(ctx, appt, from, caller)
}

func (svc *Service) Complete(ctx context.Context, id string, caller user.User) (Appointment, error) {
	appt, err := svc.load(ctx, id, caller, true)
	if err != nil {
		return Appointment{}, err
	}
	if !appt.Status.IsActive() {
		return Appointment{}, ErrInvalidTransition
	}
	if svc.nowFunc().Before(appt.StartsAt) {
		return Appointment{}, ErrNotStarted
	}
	from := appt.Status
	appt.Status = StatusCompleted
	return svc.save(ctx, appt, from, caller)
}

// Reschedule moves the appointment to a new slot. It has to be confirmed again.
func (svc *Service) Reschedule(ctx context.Context, id string, caller user.User, rs Reschedule) (Appointment, error) {
	appt, err := svc.load(ctx, id, caller, false)
	if err != nil {
		return Appointment{}, err
	}
	if !appt.Status.IsActive() {
		return Appointment{}, ErrInvalidTransition
	}
	from := appt.Status
	appt.StartsAt = rs.StartsAt.UTC()
	appt.EndsAt = rs.EndsAt.UTC()
	appt.Status = StatusBooked
	if err := svc.checkSlot(ctx, appt); err != nil {
		return Appointment{}, err
	}
	return svc.save(ctx, appt, from, caller)
}

func (svc *Service) Get(ctx context.Context, id string, caller user.User) (Appointment, error) {
	return svc.load(ctx, id, caller, false)
}

func (svc *Service) List(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, caller user.User) ([]Appointment, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	if !caller.IsAdmin() {
		filter.ParticipantID = caller.ID
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "starts_at", Ascending: true}}
	}
	return svc.repo.QueryAppointments(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

func (svc *Service) Upcoming(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	return svc.repo.QueryUpcoming(ctx, from.UTC(), to.UTC())
}

var statusTitles = map[Status]string{
	StatusBooked:    "Counseling appointment booked",
	StatusConfirmed: "Counseling appointment confirmed",
	StatusCancelled: "Counseling appointment cancelled",
	StatusCompleted: "Counseling appointment completed",
}

// changed notifies the participants other than the caller and publishes the status event.
func (svc *Service) changed(ctx context.Context, appt Appointment, caller user.User) {
	body := fmt.Sprintf("%q on %s.", appt.Topic, appt.StartsAt.Format(time.RFC1123))
	if appt.Status == StatusCancelled && appt.CancelReason != "" {
		body += " Reason: " + appt.CancelReason
	}
	for _, uid := range []string{appt.StudentID, appt.CounselorID} {
		if uid == caller.ID {
			continue
		}
		_, err := svc.notifier.Notify(ctx, core.Notice{
			UserID:    uid,
			Kind:      "counseling." + string(appt.Status),
			Title:     statusTitles[appt.Status],
			Body:      body,
			Data:      map[string]interface{}{"appointment_id": appt.ID},
			DedupeKey: fmt.Sprintf("counseling.%s:%s:%d", appt.Status, appt.ID, appt.UpdatedAt.UnixNano()),
			SendEmail: true,
		})
		if err != nil {
			svc.logger.Error(fmt.Sprintf("appointment %s: notifying %s: %v", appt.ID, uid, err), err)
		}
	}

	event := core.NewEvent("counseling."+string(appt.Status), appt.ID, map[string]interface{}{
		"id":           appt.ID,
		"student_id":   appt.StudentID,
		"counselor_id": appt.CounselorID,
		"starts_at":    appt.StartsAt,
		"ends_at":      appt.EndsAt,
		"status":       appt.Status,
	})
	if err := svc.events.Publish(ctx, event); err != nil {
		svc.logger.Error(fmt.Sprintf("counseling: publishing %s: %v", event.Name, err), err)
	}
}
