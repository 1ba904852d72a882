package job

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
)

type scheduleConfig struct {
	handler  func(ctx context.Context) error
	name     string
	schedule string
}

type cronSchedule struct {
	schedule cron.Schedule
}

func (s *cronSchedule) Next(current time.Time) time.Time {
	return s.schedule.Next(current)
}

// parseSchedule parses a five field cron expression (minute hour dom month dow).
func parseSchedule(expr string) (river.PeriodicSchedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return &cronSchedule{schedule: schedule}, nil
}

func (c *config) periodicJobs() ([]*river.PeriodicJob, error) {
	jobs := make([]*river.PeriodicJob, 0, len(c.schedules))
	for _, sched := range c.schedules {
		schedule, err := parseSchedule(sched.schedule)
		if err != nil {
			return nil, err
		}

		name := sched.name
		jobs = append(jobs, river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) {
				return &taskArgs{TaskName: name}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		))
		c.registry[name] = untyped(sched.handler)
	}
	return jobs, nil
}
