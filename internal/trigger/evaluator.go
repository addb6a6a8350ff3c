package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/cache"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultCacheTTL is how long a question's trigger list is served from cache
const DefaultCacheTTL = 5 * time.Minute

const ReasonNoActiveTriggers = "no active triggers"

// Store is the slice of the persistence collaborator the evaluator needs
type Store interface {
	ListTriggers(ctx context.Context, questionID string) ([]models.Trigger, error)
	UpsertTrigger(ctx context.Context, t *models.Trigger) error
	AppendActivation(ctx context.Context, rec models.ActivationRecord) error
}

// Evaluator decides whether a question is currently eligible by scoring its triggers
type Evaluator struct {
	store     Store
	cache     *cache.TTL[string, []models.Trigger]
	composite CompositeEvaluator
	now       func() time.Time
	log       *logrus.Entry
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithClock replaces time.Now for gate checks and activation timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithCache injects the trigger list cache
func WithCache(c *cache.TTL[string, []models.Trigger]) Option {
	return func(e *Evaluator) { e.cache = c }
}

// WithComposite replaces the composite condition evaluator
func WithComposite(c CompositeEvaluator) Option {
	return func(e *Evaluator) { e.composite = c }
}

// WithLogger sets the structured logger
func WithLogger(log *logrus.Entry) Option {
	return func(e *Evaluator) { e.log = log }
}

// NewEvaluator creates a trigger evaluator
func NewEvaluator(store Store, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:     store,
		composite: TreeEvaluator{},
		now:       time.Now,
		log:       logrus.WithField("component", "trigger"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.New[string, []models.Trigger](DefaultCacheTTL, 0, e.now)
	}
	return e
}

// Invalidate drops the cached trigger list of a question
func (e *Evaluator) Invalidate(questionID string) {
	e.cache.Invalidate(questionID)
}

// UpsertTrigger validates and stores a trigger, then invalidates its question's cache entry
func (e *Evaluator) UpsertTrigger(ctx context.Context, t *models.Trigger) error {
	const op = "trigger.UpsertTrigger"
	if t == nil {
		return apperrors.Validation(op, "trigger is required")
	}
	if err := t.Validate(); err != nil {
		if t.ID == "" || t.QuestionID == "" {
			return apperrors.Validation(op, "%v", err)
		}
		return apperrors.Configuration(op, "%v", err)
	}
	if t.CooldownMinutes < 0 || t.MaxActivations < 0 {
		return apperrors.Validation(op, "cooldown and max activations must not be negative")
	}

	err := e.store.UpsertTrigger(ctx, t)
	e.cache.Invalidate(t.QuestionID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"op": "UpsertTrigger", "trigger_id": t.ID, "question_id": t.QuestionID}).WithError(err).Error("trigger store operation failed")
		return err
	}
	return nil
}

func (e *Evaluator) loadTriggers(ctx context.Context, questionID string) ([]models.Trigger, error) {
	if cached, ok := e.cache.Get(questionID); ok {
		return cached, nil
	}
	triggers, err := e.store.ListTriggers(ctx, questionID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"op": "ListTriggers", "question_id": questionID}).WithError(err).Error("trigger store operation failed")
		return nil, err
	}
	e.cache.Set(questionID, triggers)
	return triggers, nil
}

// gate applies the checks that hold regardless of conditions
func (e *Evaluator) gate(t *models.Trigger, now time.Time) (string, bool) {
	if !t.Enabled {
		return "trigger disabled", false
	}
	if t.MaxActivations > 0 && t.ActivationCount >= t.MaxActivations {
		return fmt.Sprintf("max activations reached (%d/%d)", t.ActivationCount, t.MaxActivations), false
	}
	if t.CooldownMinutes > 0 && t.LastActivatedAt != nil {
		until := t.LastActivatedAt.Add(time.Duration(t.CooldownMinutes) * time.Minute)
		if now.Before(until) {
			return fmt.Sprintf("in cooldown until %s", until.Format(time.RFC3339)), false
		}
	}
	return "", true
}

type scored struct {
	result  models.TriggerResult
	latency time.Duration
	gated   bool
}

func (e *Evaluator) evaluateOne(ctx context.Context, t *models.Trigger, ec models.EvaluationContext) (s scored) {
	start := time.Now()
	s.result = models.TriggerResult{TriggerID: t.ID, Priority: t.Priority}
	defer func() {
		if r := recover(); r != nil {
			s.result.Triggered = false
			s.result.Confidence = 0
			s.result.Reason = fmt.Sprintf("evaluation panicked: %v", r)
		}
		s.latency = time.Since(start)
	}()

	if reason, ok := e.gate(t, ec.Now); !ok {
		s.result.Reason = reason
		s.gated = true
		return s
	}

	out, err := e.checkConditions(ctx, t, ec)
	if err != nil {
		s.result.Reason = err.Error()
		return s
	}
	s.result.Triggered = out.matched
	s.result.Reason = out.reason
	if out.matched {
		s.result.Confidence = out.confidence
	}
	return s
}

// Evaluate scores every trigger of the question against ec and picks the winner.
// A failing trigger never prevents its siblings from being scored.
func (e *Evaluator) Evaluate(ctx context.Context, questionID string, ec models.EvaluationContext) (*models.EvaluationResult, error) {
	if err := apperrors.RequireID("trigger.Evaluate", "question id", questionID); err != nil {
		return nil, err
	}
	if ec.Now.IsZero() {
		ec.Now = e.now()
	}

	triggers, err := e.loadTriggers(ctx, questionID)
	if err != nil {
		return nil, err
	}

	active := 0
	for i := range triggers {
		if triggers[i].Enabled {
			active++
		}
	}
	if active == 0 {
		return &models.EvaluationResult{QuestionID: questionID, Reason: ReasonNoActiveTriggers}, nil
	}

	results := make([]scored, len(triggers))
	var wg sync.WaitGroup
	for i := range triggers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.evaluateOne(ctx, &triggers[i], ec)
		}(i)
	}
	wg.Wait()

	winner := -1
	gated := 0
	for i, r := range results {
		if r.gated {
			gated++
		}
		if !r.result.Triggered {
			continue
		}
		if winner < 0 || Better(
			Candidate{Confidence: r.result.Confidence, Priority: r.result.Priority},
			Candidate{Confidence: results[winner].result.Confidence, Priority: results[winner].result.Priority},
		) {
			winner = i
		}
	}

	all := make([]models.TriggerResult, len(results))
	for i, r := range results {
		all[i] = r.result
	}
	metadata := map[string]interface{}{
		"evaluated_triggers": len(triggers),
		"gated_triggers":     gated,
		"results":            all,
	}

	if winner < 0 {
		reasons := make([]string, 0, len(results))
		for _, r := range results {
			reasons = append(reasons, fmt.Sprintf("%s: %s", r.result.TriggerID, r.result.Reason))
		}
		return &models.EvaluationResult{
			QuestionID: questionID,
			Reason:     strings.Join(reasons, "; "),
			Metadata:   metadata,
		}, nil
	}

	w := results[winner]
	t := triggers[winner]
	record := models.ActivationRecord{
		ID:               uuid.New().String(),
		TriggerID:        t.ID,
		ActivatedAt:      ec.Now,
		EvaluationMillis: float64(w.latency.Microseconds()) / 1000,
		Confidence:       w.result.Confidence,
		Context:          condense(ec),
	}
	err = e.store.AppendActivation(ctx, record)
	e.cache.Invalidate(questionID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"op": "AppendActivation", "trigger_id": t.ID, "question_id": questionID}).WithError(err).Error("trigger store operation failed")
		return nil, err
	}

	metadata["trigger_type"] = t.Type
	metadata["priority"] = t.Priority.Rank()
	metadata["activation_id"] = record.ID
	metadata["evaluation_ms"] = record.EvaluationMillis

	e.log.WithFields(logrus.Fields{
		"question_id": questionID,
		"trigger_id":  t.ID,
		"confidence":  w.result.Confidence,
		"session_id":  ec.SessionID,
	}).Debug("Trigger fired")

	return &models.EvaluationResult{
		QuestionID: questionID,
		Triggered:  true,
		TriggerID:  t.ID,
		Confidence: w.result.Confidence,
		Reason:     w.result.Reason,
		Metadata:   metadata,
	}, nil
}

// condense keeps the identifying parts of the context for the activation log
func condense(ec models.EvaluationContext) map[string]interface{} {
	out := map[string]interface{}{
		"business_id": ec.BusinessID,
		"weekday":     ec.Now.Weekday().String(),
		"hour":        ec.Now.Hour(),
		"visit_count": ec.Customer.VisitCount,
		"occupancy":   ec.Store.Occupancy,
	}
	if ec.SessionID != "" {
		out["session_id"] = ec.SessionID
	}
	if ec.Customer.ID != "" {
		out["customer_id"] = ec.Customer.ID
	}
	if ec.Store.ID != "" {
		out["store_id"] = ec.Store.ID
	}
	return out
}
