package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/flipcourse"
)

type FlipCourseRepository struct {
	db *DB
}

var _ flipcourse.Repository = (*FlipCourseRepository)(nil)

func NewFlipCourseRepository(db *DB) *FlipCourseRepository {
	return &FlipCourseRepository{db: db}
}

func copyPrescription(p flipcourse.Prescription) flipcourse.Prescription {
	p.Tasks = append([]flipcourse.Task{}, p.Tasks...)
	p.CourseIDs = append([]string{}, p.CourseIDs...)
	return p
}

func (repo *FlipCourseRepository) CreateFlipCourse(_ context.Context, fc flipcourse.FlipCourse) (flipcourse.FlipCourse, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	fc.ID = newID()
	repo.db.flipCourses[fc.ID] = fc
	return fc, nil
}

func (repo *FlipCourseRepository) GetFlipCourse(_ context.Context, id string) (flipcourse.FlipCourse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if fc, ok := repo.db.flipCourses[id]; ok {
		return fc, nil
	}
	return flipcourse.FlipCourse{}, flipcourse.ErrNotFound
}

func (repo *FlipCourseRepository) QueryFlipCourses(_ context.Context, filter *flipcourse.QueryFilter, _ []core.DBOrdering) ([]flipcourse.FlipCourse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	courses := make([]flipcourse.FlipCourse, 0)
	for _, fc := range repo.db.flipCourses {
		if filter != nil {
			if filter.Stage != "" && fc.Stage != filter.Stage {
				continue
			}
			if filter.StudentID != "" && fc.StudentID != filter.StudentID {
				continue
			}
			if filter.ParticipantID != "" && !fc.IsParticipant(filter.ParticipantID) {
				continue
			}
		}
		courses = append(courses, fc)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].CreatedAt.After(courses[j].CreatedAt) })
	return courses, nil
}

func (repo *FlipCourseRepository) UpdateFlipCourse(_ context.Context, fc flipcourse.FlipCourse) (flipcourse.FlipCourse, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.flipCourses[fc.ID]
	if !ok {
		return flipcourse.FlipCourse{}, flipcourse.ErrNotFound
	}
	fc.Stage, fc.Cycle, fc.CompletedAt = cur.Stage, cur.Cycle, cur.CompletedAt
	repo.db.flipCourses[fc.ID] = fc
	return fc, nil
}

func (repo *FlipCourseRepository) TransitionFlipCourse(_ context.Context, fc flipcourse.FlipCourse, from flipcourse.Stage) (flipcourse.FlipCourse, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.flipCourses[fc.ID]
	if !ok {
		return flipcourse.FlipCourse{}, flipcourse.ErrNotFound
	}
	if cur.Stage != from {
		return flipcourse.FlipCourse{}, flipcourse.ErrInvalidTransition
	}
	cur.Stage, cur.Cycle, cur.CompletedAt, cur.UpdatedAt = fc.Stage, fc.Cycle, fc.CompletedAt, fc.UpdatedAt
	repo.db.flipCourses[fc.ID] = cur
	return cur, nil
}

func assignTaskIDs(p *flipcourse.Prescription) {
	for i := range p.Tasks {
		p.Tasks[i].ID = newID()
		p.Tasks[i].PrescriptionID = p.ID
	}
}

func (repo *FlipCourseRepository) CreatePrescription(_ context.Context, p flipcourse.Prescription) (flipcourse.Prescription, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	p = copyPrescription(p)
	p.ID = newID()
	assignTaskIDs(&p)
	repo.db.prescriptions[p.ID] = p
	return copyPrescription(p), nil
}

func (repo *FlipCourseRepository) GetPrescription(_ context.Context, id string) (flipcourse.Prescription, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if p, ok := repo.db.prescriptions[id]; ok {
		return copyPrescription(p), nil
	}
	return flipcourse.Prescription{}, flipcourse.ErrPrescriptionNotFound
}

func (repo *FlipCourseRepository) QueryPrescriptions(_ context.Context, flipCourseID string) ([]flipcourse.Prescription, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	list := make([]flipcourse.Prescription, 0)
	for _, p := range repo.db.prescriptions {
		if p.FlipCourseID == flipCourseID {
			list = append(list, copyPrescription(p))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Cycle != list[j].Cycle {
			return list[i].Cycle < list[j].Cycle
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (repo *FlipCourseRepository) UpdatePrescription(_ context.Context, p flipcourse.Prescription, replaceTasks, replaceCourses bool) (flipcourse.Prescription, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.prescriptions[p.ID]
	if !ok {
		return flipcourse.Prescription{}, flipcourse.ErrPrescriptionNotFound
	}
	stored.Title = p.Title
	stored.Content = p.Content
	stored.UpdatedAt = p.UpdatedAt
	if replaceTasks {
		stored.Tasks = append([]flipcourse.Task{}, p.Tasks...)
		assignTaskIDs(&stored)
	}
	if replaceCourses {
		stored.CourseIDs = append([]string{}, p.CourseIDs...)
	}
	repo.db.prescriptions[p.ID] = stored
	return copyPrescription(stored), nil
}

func (repo *FlipCourseRepository) CountPrescriptions(_ context.Context, flipCourseID string, cycle int) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, p := range repo.db.prescriptions {
		if p.FlipCourseID == flipCourseID && p.Cycle == cycle {
			n++
		}
	}
	return n, nil
}

// findTask returns the prescription holding the task and the task's index; the lock must be held.
func (repo *FlipCourseRepository) findTask(id string) (flipcourse.Prescription, int, bool) {
	for _, p := range repo.db.prescriptions {
		for i, t := range p.Tasks {
			if t.ID == id {
				return p, i, true
			}
		}
	}
	return flipcourse.Prescription{}, 0, false
}

func (repo *FlipCourseRepository) GetTask(_ context.Context, id string) (flipcourse.Task, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	p, i, ok := repo.findTask(id)
	if !ok {
		return flipcourse.Task{}, flipcourse.ErrTaskNotFound
	}
	return p.Tasks[i], nil
}

func (repo *FlipCourseRepository) CompleteTask(_ context.Context, id string, at time.Time) (flipcourse.Task, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	p, i, ok := repo.findTask(id)
	if !ok {
		return flipcourse.Task{}, flipcourse.ErrTaskNotFound
	}
	if p.Tasks[i].CompletedAt.Valid {
		return flipcourse.Task{}, flipcourse.ErrTaskDone
	}
	p = copyPrescription(p)
	p.Tasks[i].CompletedAt = null.TimeFrom(at)
	repo.db.prescriptions[p.ID] = p
	return p.Tasks[i], nil
}

func (repo *FlipCourseRepository) QueryDueTasks(_ context.Context, from, to time.Time) ([]flipcourse.DueTask, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var due []flipcourse.DueTask
	for _, p := range repo.db.prescriptions {
		fc, ok := repo.db.flipCourses[p.FlipCourseID]
		if !ok || fc.Stage == flipcourse.StageCompleted {
			continue
		}
		for _, t := range p.Tasks {
			if t.CompletedAt.Valid || !t.DueAt.Valid || !inWindow(t.DueAt.Time, from, to) {
				continue
			}
			due = append(due, flipcourse.DueTask{
				Task:            t,
				FlipCourseID:    fc.ID,
				FlipCourseTitle: fc.Title,
				StudentID:       fc.StudentID,
			})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Time.Before(due[j].DueAt.Time) })
	return due, nil
}

func (repo *FlipCourseRepository) CreateAnalysis(_ context.Context, a flipcourse.Analysis) (flipcourse.Analysis, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, existing := range repo.db.analyses {
		if existing.FlipCourseID == a.FlipCourseID && existing.Cycle == a.Cycle {
			return flipcourse.Analysis{}, flipcourse.ErrAnalysisExists
		}
	}
	a.ID = newID()
	repo.db.analyses[a.ID] = a
	return a, nil
}

func (repo *FlipCourseRepository) QueryAnalyses(_ context.Context, flipCourseID string) ([]flipcourse.Analysis, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	list := make([]flipcourse.Analysis, 0)
	for _, a := range repo.db.analyses {
		if a.FlipCourseID == flipCourseID {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Cycle < list[j].Cycle })
	return list, nil
}

func (repo *FlipCourseRepository) CountAnalyses(ctx context.Context, flipCourseID string, cycle int) (int, error) {
	list, _ := repo.QueryAnalyses(ctx, flipCourseID)
	var n int
	for _, a := range list {
		if a.Cycle == cycle {
			n++
		}
	}
	return n, nil
}
