// Package reminder holds the scheduled jobs that remind users of what is coming up.
// Every job queries a time window, derives an idempotency key per recipient and sends
// through core.Notifier, which skips keys it has already delivered.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/counseling"
	"github.com/benhuang0857/mclass/core/flipcourse"
)

const (
	JobCounseling   = "counseling"
	JobClubCourses  = "courses"
	JobTasks        = "tasks"
	JobExpireOrders = "expireorders"
)

// Jobs lists the reminder jobs, in the order "all" runs them.
var Jobs = []string{JobCounseling, JobClubCourses, JobTasks}

// Result sums up one job run.
type Result struct {
	Job        string        `json:"job"`
	Scanned    int           `json:"scanned"`
	Sent       int           `json:"sent"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	// Expired counts the orders cancelled by the expiry job; it sends no notifications.
	Expired    int           `json:"expired,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (r Result) String() string {
	if r.Job == JobExpireOrders {
		return fmt.Sprintf("%s: expired=%d failed=%d in %s", r.Job, r.Expired, r.Failed, r.Duration)
	}
	return fmt.Sprintf("%s: scanned=%d sent=%d duplicates=%d failed=%d in %s",
		r.Job, r.Scanned, r.Sent, r.Duplicates, r.Failed, r.Duration)
}

type (
	AppointmentSource interface {
		Upcoming(ctx context.Context, from, to time.Time) ([]counseling.Appointment, error)
	}

	ClubCourseSource interface {
		Upcoming(ctx context.Context, from, to time.Time) ([]clubcourse.Upcoming, error)
	}

	TaskSource interface {
		DueTasks(ctx context.Context, from, to time.Time) ([]flipcourse.DueTask, error)
	}

	OrderExpirer interface {
		ExpirePending(ctx context.Context, cutoff time.Time) (int, error)
	}

	// Recorder observes job results, e.g. as metrics.
	Recorder interface {
		Record(res Result)
	}

	Service struct {
		appointments AppointmentSource
		courses      ClubCourseSource
		tasks        TaskSource
		orders       OrderExpirer
		notifier     core.Notifier
		recorder     Recorder
		logger       core.Logger
	}
)

func NewService(
	appointments AppointmentSource,
	courses ClubCourseSource,
	tasks TaskSource,
	orders OrderExpirer,
	notifier core.Notifier,
	recorder Recorder,
	logger core.Logger,
) *Service {
	return &Service{
		appointments: appointments,
		courses:      courses,
		tasks:        tasks,
		orders:       orders,
		notifier:     notifier,
		recorder:     recorder,
		logger:       logger,
	}
}

// send delivers one notice and accounts for it in res.
func (svc *Service) send(ctx context.Context, res *Result, notice core.Notice) {
	created, err := svc.notifier.Notify(ctx, notice)
	switch {
	case err != nil:
		res.Failed++
		svc.logger.Error(fmt.Sprintf("reminder %s: notifying %s (%s): %v", res.Job, notice.UserID, notice.DedupeKey, err), err)
	case created:
		res.Sent++
	default:
		res.Duplicates++
	}
}

func (svc *Service) finish(res Result, started time.Time) Result {
	res.Duration = time.Since(started)
	if svc.recorder != nil {
		svc.recorder.Record(res)
	}
	svc.logger.Info("reminder " + res.String())
	return res
}

// CounselingReminders reminds both parties of the appointments starting in [now, now+window).
// The key carries the start time so a rescheduled appointment is reminded again.
func (svc *Service) CounselingReminders(ctx context.Context, now time.Time, window time.Duration) (Result, error) {
	started := time.Now()
	res := Result{Job: JobCounseling}
	appts, err := svc.appointments.Upcoming(ctx, now, now.Add(window))
	if err != nil {
		return svc.finish(res, started), errors.Wrap(err, "querying upcoming appointments")
	}
	for _, a := range appts {
		res.Scanned++
		key := fmt.Sprintf("counseling.reminder:%s:%d", a.ID, a.StartsAt.Unix())
		for _, uid := range []string{a.StudentID, a.CounselorID} {
			svc.send(ctx, &res, core.Notice{
				UserID:    uid,
				Kind:      "counseling.reminder",
				Title:     "Upcoming counseling appointment",
				Body:      fmt.Sprintf("%q starts at %s.", a.Topic, a.StartsAt.Format(time.RFC1123)),
				Data:      map[string]interface{}{"appointment_id": a.ID, "meeting_url": a.MeetingURL},
				DedupeKey: key,
				SendEmail: true,
			})
		}
	}
	return svc.finish(res, started), nil
}

// ClubCourseReminders reminds every member of the club courses starting in [now, now+window).
func (svc *Service) ClubCourseReminders(ctx context.Context, now time.Time, window time.Duration) (Result, error) {
	started := time.Now()
	res := Result{Job: JobClubCourses}
	upcoming, err := svc.courses.Upcoming(ctx, now, now.Add(window))
	if err != nil {
		return svc.finish(res, started), errors.Wrap(err, "querying upcoming club courses")
	}
	for _, u := range upcoming {
		res.Scanned++
		c := u.Course
		key := fmt.Sprintf("clubcourse.reminder:%s:%d", c.ID, c.StartsAt.Unix())
		for _, uid := range u.MemberIDs {
			svc.send(ctx, &res, core.Notice{
				UserID:    uid,
				Kind:      "clubcourse.reminder",
				Title:     "Upcoming club course",
				Body:      fmt.Sprintf("%q starts at %s, %s.", c.Title, c.StartsAt.Format(time.RFC1123), c.Location),
				Data:      map[string]interface{}{"club_course_id": c.ID},
				DedupeKey: key,
				SendEmail: true,
			})
		}
	}
	return svc.finish(res, started), nil
}

// TaskReminders reminds students of their open prescription tasks due in [now, now+window).
func (svc *Service) TaskReminders(ctx context.Context, now time.Time, window time.Duration) (Result, error) {
	started := time.Now()
	res := Result{Job: JobTasks}
	tasks, err := svc.tasks.DueTasks(ctx, now, now.Add(window))
	if err != nil {
		return svc.finish(res, started), errors.Wrap(err, "querying due tasks")
	}
	for _, t := range tasks {
		res.Scanned++
		svc.send(ctx, &res, core.Notice{
			UserID:    t.StudentID,
			Kind:      "task.reminder",
			Title:     "Task due soon",
			Body:      fmt.Sprintf("%q (%s) is due at %s.", t.Title, t.FlipCourseTitle, t.DueAt.Time.Format(time.RFC1123)),
			Data:      map[string]interface{}{"task_id": t.ID, "flip_course_id": t.FlipCourseID},
			DedupeKey: fmt.Sprintf("task.reminder:%s:%d", t.ID, t.DueAt.Time.Unix()),
			SendEmail: true,
		})
	}
	return svc.finish(res, started), nil
}

// ExpireOrders cancels the orders left pending for longer than ttl.
func (svc *Service) ExpireOrders(ctx context.Context, now time.Time, ttl time.Duration) (Result, error) {
	started := time.Now()
	res := Result{Job: JobExpireOrders}
	n, err := svc.orders.ExpirePending(ctx, now.Add(-ttl))
	res.Scanned, res.Expired = n, n
	if err != nil {
		res.Failed++
		return svc.finish(res, started), errors.Wrap(err, "expiring pending orders")
	}
	return svc.finish(res, started), nil
}

// Run runs the named reminder job with the window configured for it.
func (svc *Service) Run(ctx context.Context, job string, now time.Time, window time.Duration) (Result, error) {
	switch job {
	case JobCounseling:
		return svc.CounselingReminders(ctx, now, window)
	case JobClubCourses:
		return svc.ClubCourseReminders(ctx, now, window)
	case JobTasks:
		return svc.TaskReminders(ctx, now, window)
	case JobExpireOrders:
		return svc.ExpireOrders(ctx, now, window)
	}
	return Result{Job: job}, errors.Errorf("unknown reminder job %q", job)
}
