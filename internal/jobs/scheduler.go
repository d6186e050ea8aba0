package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the recurring jobs
type Scheduler struct {
	scheduler *gocron.Scheduler
	log       logrus.FieldLogger
}

// NewScheduler creates a scheduler on UTC. Each job runs at most once at a time.
func NewScheduler(log logrus.FieldLogger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{scheduler: s, log: log}
}

// ScheduleRecurringJobs registers the nightly reconciliation on cronExpr
// (skipped when empty) and an hourly membership expiry sweep.
func (s *Scheduler) ScheduleRecurringJobs(ctx context.Context, job *ReconcileJob, cronExpr string) error {
	if cronExpr != "" {
		if _, err := s.scheduler.Cron(cronExpr).Tag("nightly_reconcile").Do(func() {
			if err := job.RunNightly(ctx); err != nil {
				s.log.WithError(err).Error("nightly reconciliation failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule nightly reconciliation: %w", err)
		}
	}

	if _, err := s.scheduler.Every(1).Hour().Tag("membership_expiry").Do(func() {
		if err := job.ExpireMemberships(ctx); err != nil {
			s.log.WithError(err).Error("membership expiry failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule membership expiry: %w", err)
	}
	return nil
}

// Tags lists the tags of every scheduled job
func (s *Scheduler) Tags() []string {
	var tags []string
	for _, j := range s.scheduler.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}

// Start starts the scheduler in the background
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
