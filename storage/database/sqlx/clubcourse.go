package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/storage/database"
)

var clubCourseColumns = []string{
	"id", "product_id", "title", "description", "teacher_id", "location",
	"capacity", "starts_at", "ends_at", "status", "created_at", "updated_at",
}

const enrolledCountColumn = "(SELECT COUNT(*) FROM club_course_members m WHERE m.club_course_id = club_courses.id) AS enrolled_count"

type ClubCourseRepository struct {
	db core.DB
}

var _ clubcourse.Repository = (*ClubCourseRepository)(nil)

func NewClubCourseRepository(db core.DB) *ClubCourseRepository {
	return &ClubCourseRepository{db: db}
}

func selectClubCourses() sq.SelectBuilder {
	return psql.Select(clubCourseColumns...).Column(enrolledCountColumn).From("club_courses")
}

func (repo *ClubCourseRepository) CreateCourse(ctx context.Context, c clubcourse.ClubCourse) (clubcourse.ClubCourse, error) {
	c.ID = uuid.NewString()
	b := psql.Insert("club_courses").Columns(clubCourseColumns...).Values(
		c.ID, c.ProductID, c.Title, c.Description, c.TeacherID, c.Location,
		c.Capacity, c.StartsAt, c.EndsAt, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if _, err := exec(ctx, repo.db, b); err != nil {
		return clubcourse.ClubCourse{}, errors.Wrap(err, "inserting club course")
	}
	return c, nil
}

func (repo *ClubCourseRepository) GetCourse(ctx context.Context, id string) (clubcourse.ClubCourse, error) {
	if !isUUID(id) {
		return clubcourse.ClubCourse{}, clubcourse.ErrNotFound
	}
	var c clubcourse.ClubCourse
	if err := get(ctx, repo.db, &c, selectClubCourses().Where(sq.Eq{"id": id})); err != nil {
		return clubcourse.ClubCourse{}, trapNoRows(err, clubcourse.ErrNotFound, "getting club course")
	}
	return c, nil
}

func (repo *ClubCourseRepository) QueryCourses(ctx context.Context, filter *clubcourse.QueryFilter, ordering []core.DBOrdering) ([]clubcourse.ClubCourse, error) {
	b := selectClubCourses()
	if filter != nil {
		if filter.Search != "" {
			b = b.Where(sq.ILike{"title": "%" + filter.Search + "%"})
		}
		if filter.Status != "" {
			b = b.Where(sq.Eq{"status": filter.Status})
		}
		if filter.TeacherID != "" {
			b = b.Where(sq.Eq{"teacher_id": filter.TeacherID})
		}
		if filter.MemberID != "" {
			b = b.Where("id IN (SELECT club_course_id FROM club_course_members WHERE member_id = ?)", filter.MemberID)
		}
		if !filter.From.IsZero() {
			b = b.Where(sq.GtOrEq{"starts_at": filter.From.UTC()})
		}
		if !filter.To.IsZero() {
			b = b.Where(sq.Lt{"starts_at": filter.To.UTC()})
		}
	}
	b = orderBy(b, ordering, "starts_at ASC")

	var courses []clubcourse.ClubCourse
	if err := selectAll(ctx, repo.db, &courses, b); err != nil {
		return nil, errors.Wrap(err, "querying club courses")
	}
	return courses, nil
}

func (repo *ClubCourseRepository) QueryCoursesByProduct(ctx context.Context, productIDs ...string) ([]clubcourse.ClubCourse, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var courses []clubcourse.ClubCourse
	b := selectClubCourses().Where(sq.Eq{"product_id": productIDs}).OrderBy("starts_at ASC")
	if err := selectAll(ctx, repo.db, &courses, b); err != nil {
		return nil, errors.Wrap(err, "querying club courses by product")
	}
	return courses, nil
}

func (repo *ClubCourseRepository) QueryUpcoming(ctx context.Context, from, to time.Time) ([]clubcourse.ClubCourse, error) {
	var courses []clubcourse.ClubCourse
	b := selectClubCourses().
		Where(sq.Eq{"status": clubcourse.StatusScheduled}).
		Where(sq.GtOrEq{"starts_at": from}).
		Where(sq.Lt{"starts_at": to}).
		OrderBy("starts_at ASC")
	if err := selectAll(ctx, repo.db, &courses, b); err != nil {
		return nil, errors.Wrap(err, "querying upcoming club courses")
	}
	return courses, nil
}

func (repo *ClubCourseRepository) UpdateCourse(ctx context.Context, c clubcourse.ClubCourse) (clubcourse.ClubCourse, error) {
	b := psql.Update("club_courses").SetMap(map[string]interface{}{
		"product_id":  c.ProductID,
		"title":       c.Title,
		"description": c.Description,
		"teacher_id":  c.TeacherID,
		"location":    c.Location,
		"capacity":    c.Capacity,
		"starts_at":   c.StartsAt,
		"ends_at":     c.EndsAt,
		"status":      c.Status,
		"updated_at":  c.UpdatedAt,
	}).Where(sq.Eq{"id": c.ID})
	res, err := exec(ctx, repo.db, b)
	if err != nil {
		return clubcourse.ClubCourse{}, errors.Wrap(err, "updating club course")
	}
	return c, affected(res, clubcourse.ErrNotFound)
}

// Enroll locks the course row so concurrent enrollments cannot exceed the capacity.
func (repo *ClubCourseRepository) Enroll(ctx context.Context, e clubcourse.Enrollment) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var capacity int
		err := tx.GetContext(ctx, &capacity, "SELECT capacity FROM club_courses WHERE id = $1 FOR UPDATE", e.ClubCourseID)
		if err != nil {
			return trapNoRows(err, clubcourse.ErrNotFound, "locking club course")
		}
		if capacity > 0 {
			var enrolled int
			err := tx.GetContext(ctx, &enrolled, "SELECT COUNT(*) FROM club_course_members WHERE club_course_id = $1", e.ClubCourseID)
			if err != nil {
				return errors.Wrap(err, "counting members")
			}
			if enrolled >= capacity {
				return clubcourse.ErrCourseFull
			}
		}
		_, err = exec(ctx, tx, psql.Insert("club_course_members").
			Columns("club_course_id", "member_id", "enrolled_at").
			Values(e.ClubCourseID, e.MemberID, e.EnrolledAt))
		if err != nil {
			if database.IsUniqueViolation(err, "club_course_members_pkey") {
				return clubcourse.ErrAlreadyEnrolled
			}
			return errors.Wrap(err, "inserting member")
		}
		return nil
	})
}

func (repo *ClubCourseRepository) Withdraw(ctx context.Context, courseID, memberID string) error {
	res, err := exec(ctx, repo.db, psql.Delete("club_course_members").
		Where(sq.Eq{"club_course_id": courseID, "member_id": memberID}))
	if err != nil {
		return errors.Wrap(err, "deleting member")
	}
	return affected(res, clubcourse.ErrNotEnrolled)
}

func (repo *ClubCourseRepository) QueryEnrollments(ctx context.Context, courseID string) ([]clubcourse.Enrollment, error) {
	var enrollments []clubcourse.Enrollment
	b := psql.Select("club_course_id", "member_id", "enrolled_at").From("club_course_members").
		Where(sq.Eq{"club_course_id": courseID}).
		OrderBy("enrolled_at ASC")
	if err := selectAll(ctx, repo.db, &enrollments, b); err != nil {
		return nil, errors.Wrap(err, "querying members")
	}
	return enrollments, nil
}
