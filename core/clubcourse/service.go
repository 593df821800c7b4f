package clubcourse

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/user"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("club course not found")
	ErrAlreadyEnrolled  = core.NewConflictError("member is already enrolled in this club course")
	ErrNotEnrolled      = core.NewNotFoundError("member is not enrolled in this club course")
	ErrCourseFull       = core.NewConflictError("club course is full")
	ErrNotOpen          = core.NewConflictError("club course is not open for enrollment")
	ErrCapacityTooSmall = errors.New("capacity cannot be lower than the number of enrolled members")
	errNotClubProduct   = errors.New("product must be a club product")
	errNotTeacher       = errors.New("user is not a teacher")
	errEndsBeforeStart  = errors.New("ends_at must be after starts_at")
)

const (
	EventEnrolled  = "clubcourse.enrolled"
	EventWithdrawn = "clubcourse.withdrawn"
	EventCancelled = "clubcourse.cancelled"
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, course ClubCourse) (ClubCourse, error)
		GetCourse(ctx context.Context, id string) (ClubCourse, error)
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]ClubCourse, error)
		QueryCoursesByProduct(ctx context.Context, productIDs ...string) ([]ClubCourse, error)
		// QueryUpcoming returns the scheduled courses starting in [from, to).
		QueryUpcoming(ctx context.Context, from, to time.Time) ([]ClubCourse, error)
		UpdateCourse(ctx context.Context, course ClubCourse) (ClubCourse, error)
		// Enroll adds the member atomically; ErrCourseFull or ErrAlreadyEnrolled otherwise.
		Enroll(ctx context.Context, enrollment Enrollment) error
		Withdraw(ctx context.Context, courseID, memberID string) error
		QueryEnrollments(ctx context.Context, courseID string) ([]Enrollment, error)
	}

	ProductGetter interface {
		GetProduct(ctx context.Context, id string) (catalog.Product, error)
	}

	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	ServiceInterface interface {
		Create(ctx context.Context, nc NewClubCourse) (ClubCourse, error)
		Get(ctx context.Context, id string) (ClubCourse, error)
		List(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]ClubCourse, error)
		Update(ctx context.Context, id string, uc UpdateClubCourse) (ClubCourse, error)
		Cancel(ctx context.Context, id string) (ClubCourse, error)
		Enroll(ctx context.Context, courseID, memberID string) error
		Withdraw(ctx context.Context, courseID, memberID string) error
		Members(ctx context.Context, courseID string) ([]Enrollment, error)
		EnrollForProducts(ctx context.Context, memberID string, productIDs []string) error
		WithdrawForProducts(ctx context.Context, memberID string, productIDs []string) error
		Upcoming(ctx context.Context, from, to time.Time) ([]Upcoming, error)
	}

	Service struct {
		repo     Repository
		products ProductGetter
		users    UserGetter
		notifier core.Notifier
		events   core.EventPublisher
		logger   core.Logger
		nowFunc  func() time.Time
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	repo Repository,
	products ProductGetter,
	users UserGetter,
	notifier core.Notifier,
	events core.EventPublisher,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		products: products,
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

func (svc *Service) checkProduct(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	prod, err := svc.products.GetProduct(ctx, *id)
	if err != nil {
		if errors.Cause(err) == catalog.ErrProductNotFound {
			return fieldErr("product_id", err)
		}
		return errors.Wrap(err, "finding product")
	}
	if prod.Kind != catalog.KindClub {
		return fieldErr("product_id", errNotClubProduct)
	}
	return nil
}

func (svc *Service) checkTeacher(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	usr, err := svc.users.GetByID(ctx, *id)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return fieldErr("teacher_id", err)
		}
		return errors.Wrap(err, "finding teacher")
	}
	if !usr.IsTeacher() {
		return fieldErr("teacher_id", errNotTeacher)
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nc NewClubCourse) (ClubCourse, error) {
	if err := svc.checkProduct(ctx, nc.ProductID); err != nil {
		return ClubCourse{}, err
	}
	if err := svc.checkTeacher(ctx, nc.TeacherID); err != nil {
		return ClubCourse{}, err
	}
	now := svc.nowFunc().UTC()
	return svc.repo.CreateCourse(ctx, ClubCourse{
		ProductID:   null.StringFromPtr(nc.ProductID),
		Title:       nc.Title,
		Description: nc.Description,
		TeacherID:   null.StringFromPtr(nc.TeacherID),
		Location:    nc.Location,
		Capacity:    nc.Capacity,
		StartsAt:    nc.StartsAt.UTC(),
		EndsAt:      nc.EndsAt.UTC(),
		Status:      StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) Get(ctx context.Context, id string) (ClubCourse, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) List(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]ClubCourse, error) {
	return svc.repo.QueryCourses(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

func (svc *Service) Update(ctx context.Context, id string, uc UpdateClubCourse) (ClubCourse, error) {
	course, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return ClubCourse{}, err
	}
	if uc.ProductID != nil {
		if err := svc.checkProduct(ctx, uc.ProductID); err != nil {
			return ClubCourse{}, err
		}
		course.ProductID = null.NewString(*uc.ProductID, *uc.ProductID != "")
	}
	if uc.TeacherID != nil {
		if err := svc.checkTeacher(ctx, uc.TeacherID); err != nil {
			return ClubCourse{}, err
		}
		course.TeacherID = null.NewString(*uc.TeacherID, *uc.TeacherID != "")
	}
	if uc.Title != nil && core.CleanString(*uc.Title) != "" {
		course.Title = core.CleanString(*uc.Title)
	}
	if uc.Description != nil {
		course.Description = core.CleanString(*uc.Description)
	}
	if uc.Location != nil {
		course.Location = core.CleanString(*uc.Location)
	}
	if uc.Capacity != nil {
		if *uc.Capacity > 0 && *uc.Capacity < course.EnrolledCount {
			return ClubCourse{}, fieldErr("capacity", ErrCapacityTooSmall)
		}
		course.Capacity = *uc.Capacity
	}
	if uc.StartsAt != nil {
		course.StartsAt = uc.StartsAt.UTC()
	}
	if uc.EndsAt != nil {
		course.EndsAt = uc.EndsAt.UTC()
	}
	if !course.EndsAt.After(course.StartsAt) {
		return ClubCourse{}, fieldErr("ends_at", errEndsBeforeStart)
	}
	course.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.UpdateCourse(ctx, course)
}

// Cancel cancels a scheduled course and notifies its members.
func (svc *Service) Cancel(ctx context.Context, id string) (ClubCourse, error) {
	course, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return ClubCourse{}, err
	}
	if course.Status != StatusScheduled {
		return ClubCourse{}, ErrNotOpen
	}
	course.Status = StatusCancelled
	course.UpdatedAt = svc.nowFunc().UTC()
	if course, err = svc.repo.UpdateCourse(ctx, course); err != nil {
		return ClubCourse{}, err
	}

	enrollments, err := svc.repo.QueryEnrollments(ctx, course.ID)
	if err != nil {
		return course, errors.Wrap(err, "querying enrollments")
	}
	for _, e := range enrollments {
		_, err := svc.notifier.Notify(ctx, core.Notice{
			UserID:    e.MemberID,
			Kind:      "clubcourse.cancelled",
			Title:     "Club course cancelled",
			Body:      fmt.Sprintf("%q scheduled on %s has been cancelled.", course.Title, course.StartsAt.Format(time.RFC1123)),
			Data:      map[string]interface{}{"club_course_id": course.ID},
			DedupeKey: "clubcourse.cancelled:" + course.ID,
			SendEmail: true,
		})
		if err != nil {
			svc.logger.Error(fmt.Sprintf("club course %s: notifying %s: %v", course.ID, e.MemberID, err), err)
		}
	}
	svc.publish(ctx, EventCancelled, course.ID, "")
	return course, nil
}

func (svc *Service) Enroll(ctx context.Context, courseID, memberID string) error {
	course, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course.Status != StatusScheduled || !svc.nowFunc().Before(course.EndsAt) {
		return ErrNotOpen
	}
	if course.IsFull() {
		return ErrCourseFull
	}
	err = svc.repo.Enroll(ctx, Enrollment{ClubCourseID: courseID, MemberID: memberID, EnrolledAt: svc.nowFunc().UTC()})
	if err != nil {
		return err
	}
	svc.publish(ctx, EventEnrolled, courseID, memberID)
	return nil
}

func (svc *Service) Withdraw(ctx context.Context, courseID, memberID string) error {
	if _, err := svc.repo.GetCourse(ctx, courseID); err != nil {
		return err
	}
	if err := svc.repo.Withdraw(ctx, courseID, memberID); err != nil {
		return err
	}
	svc.publish(ctx, EventWithdrawn, courseID, memberID)
	return nil
}

func (svc *Service) Members(ctx context.Context, courseID string) ([]Enrollment, error) {
	if _, err := svc.repo.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return svc.repo.QueryEnrollments(ctx, courseID)
}

// EnrollForProducts enrolls the member in every open course sold through one of the products.
// Being already enrolled is not an error; the first other failure is returned after trying every course.
func (svc *Service) EnrollForProducts(ctx context.Context, memberID string, productIDs []string) error {
	courses, err := svc.repo.QueryCoursesByProduct(ctx, productIDs...)
	if err != nil {
		return errors.Wrap(err, "querying courses by product")
	}
	var firstErr error
	for _, c := range courses {
		if err := svc.Enroll(ctx, c.ID, memberID); err != nil && errors.Cause(err) != ErrAlreadyEnrolled {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "enrolling in %s", c.ID)
			}
		}
	}
	return firstErr
}

func (svc *Service) WithdrawForProducts(ctx context.Context, memberID string, productIDs []string) error {
	courses, err := svc.repo.QueryCoursesByProduct(ctx, productIDs...)
	if err != nil {
		return errors.Wrap(err, "querying courses by product")
	}
	for _, c := range courses {
		if err := svc.repo.Withdraw(ctx, c.ID, memberID); err != nil && errors.Cause(err) != ErrNotEnrolled {
			return errors.Wrapf(err, "withdrawing from %s", c.ID)
		}
	}
	return nil
}

func (svc *Service) Upcoming(ctx context.Context, from, to time.Time) ([]Upcoming, error) {
	courses, err := svc.repo.QueryUpcoming(ctx, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "querying upcoming courses")
	}
	upcoming := make([]Upcoming, 0, len(courses))
	for _, c := range courses {
		enrollments, err := svc.repo.QueryEnrollments(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "querying enrollments of %s", c.ID)
		}
		ids := make([]string, 0, len(enrollments))
		for _, e := range enrollments {
			ids = append(ids, e.MemberID)
		}
		upcoming = append(upcoming, Upcoming{Course: c, MemberIDs: ids})
	}
	return upcoming, nil
}

func (svc *Service) publish(ctx context.Context, name, courseID, memberID string) {
	payload := map[string]interface{}{"club_course_id": courseID}
	if memberID != "" {
		payload["member_id"] = memberID
	}
	if err := svc.events.Publish(ctx, core.NewEvent(name, courseID, payload)); err != nil {
		svc.logger.Error(fmt.Sprintf("clubcourse: publishing %s: %v", name, err), err)
	}
}
