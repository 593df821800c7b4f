package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/clubcourse"
)

type ClubCourseRepository struct {
	db *DB
}

var _ clubcourse.Repository = (*ClubCourseRepository)(nil)

func NewClubCourseRepository(db *DB) *ClubCourseRepository {
	return &ClubCourseRepository{db: db}
}

// course returns the stored course with its enrolled count; the lock must be held.
func (repo *ClubCourseRepository) course(id string) (clubcourse.ClubCourse, bool) {
	c, ok := repo.db.clubCourses[id]
	c.EnrolledCount = len(repo.db.members[id])
	return c, ok
}

func (repo *ClubCourseRepository) CreateCourse(_ context.Context, c clubcourse.ClubCourse) (clubcourse.ClubCourse, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c.ID = newID()
	c.EnrolledCount = 0
	repo.db.clubCourses[c.ID] = c
	return c, nil
}

func (repo *ClubCourseRepository) GetCourse(_ context.Context, id string) (clubcourse.ClubCourse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.course(id); ok {
		return c, nil
	}
	return clubcourse.ClubCourse{}, clubcourse.ErrNotFound
}

func (repo *ClubCourseRepository) isMember(courseID, memberID string) bool {
	for _, e := range repo.db.members[courseID] {
		if e.MemberID == memberID {
			return true
		}
	}
	return false
}

func sortByStart(courses []clubcourse.ClubCourse) {
	sort.Slice(courses, func(i, j int) bool { return courses[i].StartsAt.Before(courses[j].StartsAt) })
}

func (repo *ClubCourseRepository) QueryCourses(_ context.Context, filter *clubcourse.QueryFilter, _ []core.DBOrdering) ([]clubcourse.ClubCourse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	courses := make([]clubcourse.ClubCourse, 0)
	for id := range repo.db.clubCourses {
		c, _ := repo.course(id)
		if filter != nil {
			if filter.Search != "" && !containsFold(c.Title, filter.Search) {
				continue
			}
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
			if filter.TeacherID != "" && c.TeacherID.String != filter.TeacherID {
				continue
			}
			if filter.MemberID != "" && !repo.isMember(id, filter.MemberID) {
				continue
			}
			if !inWindow(c.StartsAt, filter.From, filter.To) {
				continue
			}
		}
		courses = append(courses, c)
	}
	sortByStart(courses)
	return courses, nil
}

func (repo *ClubCourseRepository) QueryCoursesByProduct(_ context.Context, productIDs ...string) ([]clubcourse.ClubCourse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var courses []clubcourse.ClubCourse
	for id, c := range repo.db.clubCourses {
		if c.ProductID.Valid && core.ContainsString(productIDs, c.ProductID.String) {
			c, _ = repo.course(id)
			courses = append(courses, c)
		}
	}
	sortByStart(courses)
	return courses, nil
}

func (repo *ClubCourseRepository) QueryUpcoming(_ context.Context, from, to time.Time) ([]clubcourse.ClubCourse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var courses []clubcourse.ClubCourse
	for id, c := range repo.db.clubCourses {
		if c.Status == clubcourse.StatusScheduled && inWindow(c.StartsAt, from, to) {
			c, _ = repo.course(id)
			courses = append(courses, c)
		}
	}
	sortByStart(courses)
	return courses, nil
}

func (repo *ClubCourseRepository) UpdateCourse(_ context.Context, c clubcourse.ClubCourse) (clubcourse.ClubCourse, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.clubCourses[c.ID]; !ok {
		return clubcourse.ClubCourse{}, clubcourse.ErrNotFound
	}
	repo.db.clubCourses[c.ID] = c
	return c, nil
}

func (repo *ClubCourseRepository) Enroll(_ context.Context, e clubcourse.Enrollment) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c, ok := repo.course(e.ClubCourseID)
	if !ok {
		return clubcourse.ErrNotFound
	}
	if repo.isMember(e.ClubCourseID, e.MemberID) {
		return clubcourse.ErrAlreadyEnrolled
	}
	if c.IsFull() {
		return clubcourse.ErrCourseFull
	}
	repo.db.members[e.ClubCourseID] = append(repo.db.members[e.ClubCourseID], e)
	return nil
}

func (repo *ClubCourseRepository) Withdraw(_ context.Context, courseID, memberID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	list := repo.db.members[courseID]
	for i, e := range list {
		if e.MemberID == memberID {
			repo.db.members[courseID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return clubcourse.ErrNotEnrolled
}

func (repo *ClubCourseRepository) QueryEnrollments(_ context.Context, courseID string) ([]clubcourse.Enrollment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	return append([]clubcourse.Enrollment(nil), repo.db.members[courseID]...), nil
}
