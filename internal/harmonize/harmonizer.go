package harmonize

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// RuleStore is the slice of the persistence collaborator the harmonizer needs
type RuleStore interface {
	GetHarmonizer(ctx context.Context, id string) (*models.FrequencyHarmonizer, error)
	ListHarmonizers(ctx context.Context, businessID string) ([]models.FrequencyHarmonizer, error)
	UpsertHarmonizer(ctx context.Context, h *models.FrequencyHarmonizer) error
	RecordHarmonizerOutcome(ctx context.Context, id string, resolved, total int) error
}

// Harmonizer detects conflicts across a batch of questions and rewrites their frequencies
type Harmonizer struct {
	rules RuleStore
	log   *logrus.Entry
}

// Option configures a Harmonizer
type Option func(*Harmonizer)

// WithLogger sets the structured logger
func WithLogger(log *logrus.Entry) Option {
	return func(h *Harmonizer) { h.log = log }
}

// NewHarmonizer creates a conflict harmonizer
func NewHarmonizer(rules RuleStore, opts ...Option) *Harmonizer {
	h := &Harmonizer{
		rules: rules,
		log:   logrus.WithField("component", "harmonize"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// strategyFor maps a rule's resolution method onto a harmonize strategy
func strategyFor(method models.ResolutionMethod) (models.HarmonizationStrategy, error) {
	switch method {
	case models.ResolutionLCMFrequency:
		return models.StrategyLCMFrequency, nil
	case models.ResolutionBusinessOverride:
		return models.StrategyBusinessOverride, nil
	case models.ResolutionPriorityBased, models.ResolutionTimeSpacing:
		return models.StrategyAdaptive, nil
	}
	return "", apperrors.Configuration("harmonize.strategyFor", "unsupported resolution method %q", method)
}

// UpsertRule validates and stores a business harmonizer rule
func (h *Harmonizer) UpsertRule(ctx context.Context, rule *models.FrequencyHarmonizer) error {
	const op = "harmonize.UpsertRule"
	if rule == nil {
		return apperrors.Validation(op, "rule is required")
	}
	if err := apperrors.RequireID(op, "rule id", rule.ID); err != nil {
		return err
	}
	if err := apperrors.RequireID(op, "business id", rule.BusinessID); err != nil {
		return err
	}
	if _, err := strategyFor(rule.ResolutionMethod); err != nil {
		return err
	}
	if _, err := path.Match(rule.Pattern, ""); err != nil {
		return apperrors.Validation(op, "invalid pattern %q: %v", rule.Pattern, err)
	}
	if rule.ResolutionMethod == models.ResolutionBusinessOverride && rule.OverrideFrequency <= 0 {
		return apperrors.Validation(op, "business override rule %s needs a positive override frequency", rule.ID)
	}
	if err := h.rules.UpsertHarmonizer(ctx, rule); err != nil {
		h.log.WithFields(logrus.Fields{"op": "UpsertHarmonizer", "rule_id": rule.ID}).WithError(err).Error("harmonizer store operation failed")
		return err
	}
	return nil
}

func validateBatch(questions []models.QuestionForHarmonization) error {
	const op = "harmonize.Harmonize"
	seen := make(map[string]bool, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			return apperrors.Validation(op, "question at index %d has no id", i)
		}
		if seen[q.ID] {
			return apperrors.Validation(op, "question %s appears twice", q.ID)
		}
		seen[q.ID] = true
		if q.CurrentFrequency < 0 || q.TargetFrequency < 0 {
			return apperrors.Validation(op, "question %s has a negative frequency", q.ID)
		}
	}
	return nil
}

// loadRules returns the rules business_override may consult: the named rule
// when one was given, otherwise every rule of the businesses in the batch.
func (h *Harmonizer) loadRules(ctx context.Context, questions []models.QuestionForHarmonization, rule *models.FrequencyHarmonizer) (map[string][]models.FrequencyHarmonizer, error) {
	out := make(map[string][]models.FrequencyHarmonizer)
	if rule != nil {
		for _, q := range questions {
			out[q.BusinessID] = []models.FrequencyHarmonizer{*rule}
		}
		return out, nil
	}
	for _, q := range questions {
		if _, ok := out[q.BusinessID]; ok {
			continue
		}
		rules, err := h.rules.ListHarmonizers(ctx, q.BusinessID)
		if err != nil {
			h.log.WithFields(logrus.Fields{"op": "ListHarmonizers", "business_id": q.BusinessID}).WithError(err).Error("harmonizer store operation failed")
			return nil, err
		}
		out[q.BusinessID] = rules
	}
	return out, nil
}

// resolve runs a strategy for one question; failures and panics stay with that question
func resolve(strategy models.HarmonizationStrategy, q models.QuestionForHarmonization, conflicts []models.FrequencyConflict, rules []models.FrequencyHarmonizer, opts models.HarmonizeOptions) (res resolution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", strategy, r)
		}
	}()
	switch strategy {
	case models.StrategyLCMFrequency:
		return resolveLCM(q, conflicts)
	case models.StrategyBusinessOverride:
		return resolveOverride(q, conflicts, rules, opts)
	default:
		return resolveAdaptive(q, conflicts, opts)
	}
}

// Harmonize detects conflicts across the batch and resolves each question's
// conflicts with the selected strategy. When ruleID is set, the rule must
// exist and be active; its resolution method picks the strategy if
// opts.Strategy is empty and the run's outcome is reported back to it.
func (h *Harmonizer) Harmonize(ctx context.Context, questions []models.QuestionForHarmonization, ruleID string, opts models.HarmonizeOptions) (*models.HarmonizationResult, error) {
	const op = "harmonize.Harmonize"
	start := time.Now()

	if err := validateBatch(questions); err != nil {
		return nil, err
	}

	var rule *models.FrequencyHarmonizer
	if ruleID != "" {
		r, err := h.rules.GetHarmonizer(ctx, ruleID)
		if err != nil {
			h.log.WithFields(logrus.Fields{"op": "GetHarmonizer", "rule_id": ruleID}).WithError(err).Error("harmonizer store operation failed")
			return nil, err
		}
		if !r.Active {
			return nil, apperrors.PolicyViolation(op, "harmonizer rule %s is not active", ruleID)
		}
		rule = r
	}

	strategy := opts.Strategy
	if strategy == "" && rule != nil {
		s, err := strategyFor(rule.ResolutionMethod)
		if err != nil {
			return nil, err
		}
		strategy = s
	}
	if strategy == "" {
		strategy = models.StrategyAdaptive
	}
	switch strategy {
	case models.StrategyLCMFrequency, models.StrategyBusinessOverride, models.StrategyAdaptive:
	default:
		return nil, apperrors.Configuration(op, "unsupported harmonization strategy %q", strategy)
	}

	var rules map[string][]models.FrequencyHarmonizer
	if strategy == models.StrategyBusinessOverride {
		var err error
		if rules, err = h.loadRules(ctx, questions, rule); err != nil {
			return nil, err
		}
	}

	conflicts := DetectConflicts(questions)
	result := &models.HarmonizationResult{
		RuleID:              ruleID,
		Strategy:            strategy,
		Questions:           make([]models.HarmonizedQuestion, 0, len(questions)),
		TotalQuestions:      len(questions),
		ResolutionsByMethod: make(map[string]int),
	}

	var ratioSum float64
	resolvedTotal := 0
	for _, q := range questions {
		qc := conflicts[q.ID]
		out := models.HarmonizedQuestion{
			ID:                  q.ID,
			OriginalFrequency:   q.CurrentFrequency,
			HarmonizedFrequency: q.CurrentFrequency,
			Conflicts:           qc,
		}
		result.TotalConflicts += len(qc)

		if len(qc) > 0 {
			res, err := resolve(strategy, q, qc, rules[q.BusinessID], opts)
			if err != nil {
				out.Error = err.Error()
				h.log.WithFields(logrus.Fields{"question_id": q.ID, "strategy": strategy}).WithError(err).Warn("Conflict resolution failed for question")
			} else {
				out.HarmonizedFrequency = res.frequency
				out.ConflictsResolved = res.resolved
				if res.resolved > 0 {
					out.Method = res.method
					result.ResolutionsByMethod[res.method] += res.resolved
					resolvedTotal += res.resolved
				}
			}
		}

		if q.CurrentFrequency > 0 {
			ratioSum += out.HarmonizedFrequency / q.CurrentFrequency
		} else {
			ratioSum += 1
		}
		result.Questions = append(result.Questions, out)
	}
	if len(questions) > 0 {
		result.AverageFrequencyRatio = ratioSum / float64(len(questions))
	}

	if rule != nil {
		if err := h.rules.RecordHarmonizerOutcome(ctx, rule.ID, resolvedTotal, result.TotalConflicts); err != nil {
			h.log.WithFields(logrus.Fields{"op": "RecordHarmonizerOutcome", "rule_id": rule.ID}).WithError(err).Error("harmonizer store operation failed")
			return nil, err
		}
	}

	result.ProcessingTime = time.Since(start)
	h.log.WithFields(logrus.Fields{
		"strategy":        strategy,
		"rule_id":         ruleID,
		"questions":       result.TotalQuestions,
		"conflicts":       result.TotalConflicts,
		"resolved":        resolvedTotal,
		"processing_time": result.ProcessingTime.String(),
	}).Info("Harmonization completed")
	return result, nil
}
