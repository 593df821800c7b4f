package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/counseling"
)

var appointmentColumns = []string{
	"id", "student_id", "counselor_id", "flip_course_id", "topic", "notes", "meeting_url",
	"starts_at", "ends_at", "status", "cancel_reason", "created_at", "updated_at",
}

var activeAppointment = sq.Eq{"status": []counseling.Status{counseling.StatusBooked, counseling.StatusConfirmed}}

type CounselingRepository struct {
	db core.DB
}

var _ counseling.Repository = (*CounselingRepository)(nil)

func NewCounselingRepository(db core.DB) *CounselingRepository {
	return &CounselingRepository{db: db}
}

func (repo *CounselingRepository) CreateAppointment(ctx context.Context, a counseling.Appointment) (counseling.Appointment, error) {
	a.ID = uuid.NewString()
	b := psql.Insert("counseling_appointments").Columns(appointmentColumns...).Values(
		a.ID, a.StudentID, a.CounselorID, a.FlipCourseID, a.Topic, a.Notes, a.MeetingURL,
		a.StartsAt, a.EndsAt, a.Status, a.CancelReason, a.CreatedAt, a.UpdatedAt,
	)
	if _, err := exec(ctx, repo.db, b); err != nil {
		return counseling.Appointment{}, errors.Wrap(err, "inserting appointment")
	}
	return a, nil
}

func (repo *CounselingRepository) GetAppointment(ctx context.Context, id string) (counseling.Appointment, error) {
	if !isUUID(id) {
		return counseling.Appointment{}, counseling.ErrNotFound
	}
	var a counseling.Appointment
	b := psql.Select(appointmentColumns...).From("counseling_appointments").Where(sq.Eq{"id": id})
	if err := get(ctx, repo.db, &a, b); err != nil {
		return counseling.Appointment{}, trapNoRows(err, counseling.ErrNotFound, "getting appointment")
	}
	return a, nil
}

func (repo *CounselingRepository) QueryAppointments(ctx context.Context, filter *counseling.QueryFilter, ordering []core.DBOrdering) ([]counseling.Appointment, error) {
	b := psql.Select(appointmentColumns...).From("counseling_appointments")
	if filter != nil {
		if filter.StudentID != "" {
			b = b.Where(sq.Eq{"student_id": filter.StudentID})
		}
		if filter.CounselorID != "" {
			b = b.Where(sq.Eq{"counselor_id": filter.CounselorID})
		}
		if filter.ParticipantID != "" {
			b = b.Where(sq.Or{sq.Eq{"student_id": filter.ParticipantID}, sq.Eq{"counselor_id": filter.ParticipantID}})
		}
		if filter.Status != "" {
			b = b.Where(sq.Eq{"status": filter.Status})
		}
		if !filter.From.IsZero() {
			b = b.Where(sq.GtOrEq{"starts_at": filter.From.UTC()})
		}
		if !filter.To.IsZero() {
			b = b.Where(sq.Lt{"starts_at": filter.To.UTC()})
		}
	}
	b = orderBy(b, ordering, "starts_at ASC")

	var appts []counseling.Appointment
	if err := selectAll(ctx, repo.db, &appts, b); err != nil {
		return nil, errors.Wrap(err, "querying appointments")
	}
	return appts, nil
}

func (repo *CounselingRepository) UpdateAppointment(ctx context.Context, a counseling.Appointment, from counseling.Status) (counseling.Appointment, error) {
	b := psql.Update("counseling_appointments").SetMap(map[string]interface{}{
		"topic":         a.Topic,
		"notes":         a.Notes,
		"meeting_url":   a.MeetingURL,
		"starts_at":     a.StartsAt,
		"ends_at":       a.EndsAt,
		"status":        a.Status,
		"cancel_reason": a.CancelReason,
		"updated_at":    a.UpdatedAt,
	}).Where(sq.Eq{"id": a.ID, "status": from})
	res, err := exec(ctx, repo.db, b)
	if err != nil {
		return counseling.Appointment{}, errors.Wrap(err, "updating appointment")
	}
	// the row was loaded before, so no match means its status moved on
	return a, affected(res, counseling.ErrInvalidTransition)
}

func (repo *CounselingRepository) QueryOverlapping(ctx context.Context, userIDs []string, start, end time.Time, excludeID string) ([]counseling.Appointment, error) {
	b := psql.Select(appointmentColumns...).From("counseling_appointments").
		Where(activeAppointment).
		Where(sq.Or{sq.Eq{"student_id": userIDs}, sq.Eq{"counselor_id": userIDs}}).
		Where(sq.Lt{"starts_at": end}).
		Where(sq.Gt{"ends_at": start})
	if excludeID != "" {
		b = b.Where(sq.NotEq{"id": excludeID})
	}
	var appts []counseling.Appointment
	if err := selectAll(ctx, repo.db, &appts, b); err != nil {
		return nil, errors.Wrap(err, "querying overlapping appointments")
	}
	return appts, nil
}

func (repo *CounselingRepository) QueryUpcoming(ctx context.Context, from, to time.Time) ([]counseling.Appointment, error) {
	b := psql.Select(appointmentColumns...).From("counseling_appointments").
		Where(activeAppointment).
		Where(sq.GtOrEq{"starts_at": from}).
		Where(sq.Lt{"starts_at": to}).
		OrderBy("starts_at ASC")
	var appts []counseling.Appointment
	if err := selectAll(ctx, repo.db, &appts, b); err != nil {
		return nil, errors.Wrap(err, "querying upcoming appointments")
	}
	return appts, nil
}
