package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/counseling"
)

type CounselingRepository struct {
	db *DB
}

var _ counseling.Repository = (*CounselingRepository)(nil)

func NewCounselingRepository(db *DB) *CounselingRepository {
	return &CounselingRepository{db: db}
}

func (repo *CounselingRepository) CreateAppointment(_ context.Context, a counseling.Appointment) (counseling.Appointment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a.ID = newID()
	repo.db.appointments[a.ID] = a
	return a, nil
}

func (repo *CounselingRepository) GetAppointment(_ context.Context, id string) (counseling.Appointment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if a, ok := repo.db.appointments[id]; ok {
		return a, nil
	}
	return counseling.Appointment{}, counseling.ErrNotFound
}

func (repo *CounselingRepository) filter(keep func(a counseling.Appointment) bool) []counseling.Appointment {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	appts := make([]counseling.Appointment, 0)
	for _, a := range repo.db.appointments {
		if keep(a) {
			appts = append(appts, a)
		}
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartsAt.Before(appts[j].StartsAt) })
	return appts
}

func (repo *CounselingRepository) QueryAppointments(_ context.Context, filter *counseling.QueryFilter, _ []core.DBOrdering) ([]counseling.Appointment, error) {
	return repo.filter(func(a counseling.Appointment) bool {
		if filter == nil {
			return true
		}
		return (filter.StudentID == "" || a.StudentID == filter.StudentID) &&
			(filter.CounselorID == "" || a.CounselorID == filter.CounselorID) &&
			(filter.ParticipantID == "" || a.IsParticipant(filter.ParticipantID)) &&
			(filter.Status == "" || a.Status == filter.Status) &&
			inWindow(a.StartsAt, filter.From, filter.To)
	}), nil
}

func (repo *CounselingRepository) UpdateAppointment(_ context.Context, a counseling.Appointment, from counseling.Status) (counseling.Appointment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.appointments[a.ID]
	if !ok {
		return counseling.Appointment{}, counseling.ErrNotFound
	}
	if cur.Status != from {
		return counseling.Appointment{}, counseling.ErrInvalidTransition
	}
	repo.db.appointments[a.ID] = a
	return a, nil
}

func (repo *CounselingRepository) QueryOverlapping(_ context.Context, userIDs []string, start, end time.Time, excludeID string) ([]counseling.Appointment, error) {
	return repo.filter(func(a counseling.Appointment) bool {
		if a.ID == excludeID || !a.Status.IsActive() {
			return false
		}
		if !core.ContainsString(userIDs, a.StudentID) && !core.ContainsString(userIDs, a.CounselorID) {
			return false
		}
		return a.StartsAt.Before(end) && a.EndsAt.After(start)
	}), nil
}

func (repo *CounselingRepository) QueryUpcoming(_ context.Context, from, to time.Time) ([]counseling.Appointment, error) {
	return repo.filter(func(a counseling.Appointment) bool {
		return a.Status.IsActive() && inWindow(a.StartsAt, from, to)
	}), nil
}
