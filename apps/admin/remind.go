package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/benhuang0857/mclass/core/reminder"
)

// jobLockTTL bounds how long a crashed instance can hold a job lock.
const jobLockTTL = 10 * time.Minute

var (
	nowFunc = time.Now // mockable

	// waitForSignal blocks until the scheduler should stop; mockable
	waitForSignal = func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
	}
)

// window returns the configured look-ahead of a job.
func (cli *commandLine) window(job string) time.Duration {
	switch job {
	case reminder.JobCounseling:
		return cli.conf.Reminders.CounselingWindow
	case reminder.JobClubCourses:
		return cli.conf.Reminders.ClubCourseWindow
	case reminder.JobTasks:
		return cli.conf.Reminders.TaskWindow
	case reminder.JobExpireOrders:
		return cli.conf.Reminders.PendingOrderTTL
	}
	return 0
}

func (cli *commandLine) remind(job string, window time.Duration) error {
	jobs := []string{job}
	if job == "all" {
		jobs = reminder.Jobs
	}
	for _, j := range jobs {
		w := window
		if w <= 0 {
			w = cli.window(j)
		}
		res, err := cli.svcs.Reminders.Run(context.Background(), j, nowFunc(), w)
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.out, res)
	}
	return nil
}

func (cli *commandLine) expireOrders(ttl time.Duration) error {
	res, err := cli.svcs.Reminders.Run(context.Background(), reminder.JobExpireOrders, nowFunc(), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, res)
	return nil
}

// runLocked runs the job unless another instance holds its lock.
// It reports whether the job ran.
func (cli *commandLine) runLocked(ctx context.Context, job string) bool {
	release, ok, err := cli.locker.Acquire(ctx, "jobs:"+job, jobLockTTL)
	if err != nil {
		cli.logger.Error(fmt.Sprintf("schedule %s: acquiring lock: %v", job, err), err)
		return false
	}
	if !ok {
		cli.logger.Info(fmt.Sprintf("schedule %s: running elsewhere, skipped", job))
		return false
	}
	defer release()

	if _, err := cli.svcs.Reminders.Run(ctx, job, nowFunc(), cli.window(job)); err != nil {
		cli.logger.Error(fmt.Sprintf("schedule %s: %v", job, err), err)
	}
	return true
}

func (cli *commandLine) newScheduler() (*cron.Cron, error) {
	c := cron.New()
	specs := []struct{ job, spec string }{
		{reminder.JobCounseling, cli.conf.Reminders.CounselingSpec},
		{reminder.JobClubCourses, cli.conf.Reminders.ClubCourseSpec},
		{reminder.JobTasks, cli.conf.Reminders.TaskSpec},
		{reminder.JobExpireOrders, cli.conf.Reminders.ExpireOrdersSpec},
	}
	for _, s := range specs {
		if s.spec == "" {
			continue
		}
		job := s.job
		if _, err := c.AddFunc(s.spec, func() { cli.runLocked(context.Background(), job) }); err != nil {
			return nil, errors.Wrapf(err, "scheduling %s (%q)", job, s.spec)
		}
		cli.logger.Info(fmt.Sprintf("scheduled %s on %q", job, s.spec))
	}
	return c, nil
}

func (cli *commandLine) schedule() error {
	c, err := cli.newScheduler()
	if err != nil {
		return err
	}
	c.Start()
	waitForSignal()

	// let running jobs finish
	<-c.Stop().Done()
	return nil
}
