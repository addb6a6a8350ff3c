package scheduler

import (
	"context"

	"github.com/feedbackloop/question-engine/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// pruneSchedule runs archive retention daily at 4 AM, after the default sweep
const pruneSchedule = "0 0 4 * * *"

// Jobs is the engine surface the scheduler drives
type Jobs interface {
	RunAdaptiveSweep(ctx context.Context) error
	PruneDigests(ctx context.Context) (int, error)
}

// Service handles scheduling of adaptive frequency sweeps
type Service struct {
	config *config.Config
	jobs   Jobs
	cron   *cron.Cron
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, jobs Jobs) *Service {
	return &Service{
		config: cfg,
		jobs:   jobs,
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(cfg.Location())),
	}
}

// Start registers the sweep and retention jobs and starts the cron loop
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.config.CronExpression(), s.runSweep); err != nil {
		return err
	}

	if s.config.DigestRetentionDays > 0 {
		if _, err := s.cron.AddFunc(pruneSchedule, s.runPrune); err != nil {
			return err
		}
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %s adaptive schedule (%d entries)", s.config.AdaptiveSchedule, len(s.cron.Entries()))
	return nil
}

func (s *Service) runSweep() {
	logrus.Info("Starting scheduled adaptive sweep")
	if err := s.jobs.RunAdaptiveSweep(context.Background()); err != nil {
		logrus.Errorf("Scheduled adaptive sweep failed: %v", err)
	}
}

func (s *Service) runPrune() {
	removed, err := s.jobs.PruneDigests(context.Background())
	if err != nil {
		logrus.Errorf("Digest retention run failed after %d deletions: %v", removed, err)
	}
}

// Stop stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		logrus.Info("Scheduler stopped")
	}
}
