package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/frequency"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/sirupsen/logrus"
)

// sweepTimeout bounds one adaptive sweep across all configured businesses
const sweepTimeout = 30 * time.Minute

// RunAdaptiveSweep applies adaptive frequency behavior to every question of
// the configured businesses, archives a digest per business and sends it.
func (s *Service) RunAdaptiveSweep(ctx context.Context) error {
	start := s.now()
	businesses := s.config.AdaptiveBusinesses
	if len(businesses) == 0 {
		logrus.Info("No businesses configured for adaptive sweep, skipping")
		return nil
	}
	logrus.Infof("Starting adaptive sweep for %d businesses", len(businesses))

	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	var wg sync.WaitGroup
	digestsChan := make(chan *models.Digest, len(businesses))
	errorsChan := make(chan error, len(businesses))

	for _, businessID := range businesses {
		wg.Add(1)
		go func(businessID string) {
			defer wg.Done()

			digest, err := s.SweepBusiness(ctx, businessID)
			if err != nil {
				logrus.Errorf("Adaptive sweep failed for business %s: %v", businessID, err)
				errorsChan <- fmt.Errorf("business %s: %w", businessID, err)
				return
			}
			digestsChan <- digest
		}(businessID)
	}

	go func() {
		wg.Wait()
		close(digestsChan)
		close(errorsChan)
	}()

	adjustments := 0
	for digest := range digestsChan {
		for _, a := range digest.Adjustments {
			if a.Applied {
				adjustments++
			}
		}
	}

	var failures []string
	for err := range errorsChan {
		failures = append(failures, err.Error())
	}
	sort.Strings(failures)

	s.updateSweepMetrics(s.now().Sub(start), adjustments, len(failures))

	if len(failures) > 0 {
		s.raiseSweepAlert(failures)
		return fmt.Errorf("adaptive sweep failed for %d of %d businesses: %s", len(failures), len(businesses), strings.Join(failures, "; "))
	}

	logrus.Infof("Adaptive sweep completed in %v, %d targets adjusted", s.now().Sub(start), adjustments)
	return nil
}

// SweepBusiness runs adaptive behavior for one business and delivers its digest
func (s *Service) SweepBusiness(ctx context.Context, businessID string) (*models.Digest, error) {
	if err := apperrors.RequireID("engine.SweepBusiness", "business id", businessID); err != nil {
		return nil, err
	}

	questions, err := s.store.ListQuestions(ctx, businessID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"op": "ListQuestions", "business_id": businessID}).WithError(err).Error("engine store operation failed")
		return nil, err
	}

	digest := &models.Digest{
		GeneratedAt: s.now(),
		Period:      s.config.AdaptiveSchedule,
		BusinessID:  businessID,
		Adjustments: make([]models.AdaptiveResult, 0, len(questions)),
		Summary:     make(map[string]interface{}),
	}

	cfg := s.config.AdaptiveConfig()
	var increased, decreased, unchanged, insufficient, failed int
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := s.tracker.ApplyAdaptiveBehavior(ctx, q.ID, cfg)
		if err != nil {
			failed++
			logrus.Errorf("Adaptive adjustment failed for question %s: %v", q.ID, err)
			continue
		}
		digest.Adjustments = append(digest.Adjustments, *result)

		switch {
		case result.Applied && result.NewTarget > result.OldTarget:
			increased++
		case result.Applied:
			decreased++
		case result.Reason == frequency.ReasonInsufficientData:
			insufficient++
		default:
			unchanged++
		}
	}

	digest.Summary["questions"] = len(questions)
	digest.Summary["increased"] = increased
	digest.Summary["decreased"] = decreased
	digest.Summary["unchanged"] = unchanged
	digest.Summary["insufficient_data"] = insufficient
	digest.Summary["errors"] = failed

	if err := s.archiveDigest(digest); err != nil {
		logrus.Errorf("Failed to archive digest for %s: %v", businessID, err)
		return nil, err
	}
	if err := s.notificationService.SendDigest(digest); err != nil {
		logrus.Errorf("Failed to send digest for %s: %v", businessID, err)
		return nil, err
	}

	if failed > 0 {
		return digest, fmt.Errorf("%d of %d questions could not be adjusted", failed, len(questions))
	}
	return digest, nil
}

func digestPrefix(businessID string) string {
	return storage.DigestPrefix + businessID + "/"
}

func (s *Service) archiveDigest(digest *models.Digest) error {
	data, err := json.Marshal(digest)
	if err != nil {
		return fmt.Errorf("failed to marshal digest: %w", err)
	}

	filename := digestPrefix(digest.BusinessID) + digest.GeneratedAt.UTC().Format("2006-01-02-15-04-05") + ".json"
	return s.archive.Store(filename, data)
}

// ListDigests returns the archived digest names of a business, newest first
func (s *Service) ListDigests(businessID string) ([]string, error) {
	if err := apperrors.RequireID("engine.ListDigests", "business id", businessID); err != nil {
		return nil, err
	}
	names, err := s.archive.List(digestPrefix(businessID))
	if err != nil {
		return nil, fmt.Errorf("failed to list digests: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// GetDigest loads one archived digest by the name ListDigests returned
func (s *Service) GetDigest(name string) (*models.Digest, error) {
	const op = "engine.GetDigest"
	if !strings.HasPrefix(name, storage.DigestPrefix) {
		return nil, apperrors.Validation(op, "digest name must start with digests/, got %q", name)
	}
	data, err := s.archive.Retrieve(name)
	if err != nil {
		return nil, apperrors.NotFound(op, "digest %s: %v", name, err)
	}

	var digest models.Digest
	if err := json.Unmarshal(data, &digest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal digest %s: %w", name, err)
	}
	return &digest, nil
}

func (s *Service) raiseSweepAlert(failures []string) {
	alert := &models.Alert{
		Type:      "adaptive_sweep",
		Severity:  models.SeverityHigh,
		Title:     "Adaptive frequency sweep failed",
		Message:   strings.Join(failures, "\n"),
		CreatedAt: s.now(),
	}
	if err := s.notificationService.SendAlert(alert); err != nil {
		logrus.Errorf("Failed to send sweep alert: %v", err)
	}
}

// PruneDigests deletes archived digests older than the retention period and
// returns how many were removed.
func (s *Service) PruneDigests(ctx context.Context) (int, error) {
	if s.config.DigestRetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().AddDate(0, 0, -s.config.DigestRetentionDays)

	removed := 0
	for _, businessID := range s.config.AdaptiveBusinesses {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		names, err := s.archive.List(digestPrefix(businessID))
		if err != nil {
			return removed, fmt.Errorf("failed to list digests for %s: %w", businessID, err)
		}
		for _, name := range names {
			stamp := strings.TrimSuffix(strings.TrimPrefix(name, digestPrefix(businessID)), ".json")
			generated, err := time.Parse("2006-01-02-15-04-05", stamp)
			if err != nil {
				logrus.Warnf("Skipping archived digest with unexpected name %s", name)
				continue
			}
			if !generated.Before(cutoff) {
				continue
			}
			if err := s.archive.Delete(name); err != nil {
				return removed, fmt.Errorf("failed to delete digest %s: %w", name, err)
			}
			removed++
		}
	}

	if removed > 0 {
		logrus.Infof("Pruned %d archived digests older than %d days", removed, s.config.DigestRetentionDays)
	}
	return removed, nil
}
