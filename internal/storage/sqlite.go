package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const dayLayout = "2006-01-02"

// SQLiteStore persists engine entities in SQLite. Counters are only ever
// changed by single UPDATE/UPSERT statements.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies migrations
func OpenSQLite(path, migrationsDir string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db, migrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// NewSQLiteStore wraps an open database handle
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	// one connection keeps pragmas in effect and serializes writers
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalMap(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMap(v sql.NullString) (map[string]interface{}, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

const questionColumns = `id, business_id, text, category, topic_category, priority_level,
	frequency_target, frequency_window, current_window_count, window_reset_at,
	last_presented_at, created_at, rule_overrides`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (*models.Question, error) {
	var (
		q                      models.Question
		window                 string
		resetAt, lastPresented sql.NullString
		createdAt              string
		overrides              sql.NullString
	)
	if err := row.Scan(&q.ID, &q.BusinessID, &q.Text, &q.Category, &q.TopicCategory, &q.PriorityLevel,
		&q.FrequencyTarget, &window, &q.CurrentWindowCount, &resetAt, &lastPresented, &createdAt, &overrides); err != nil {
		return nil, err
	}
	q.FrequencyWindow = models.WindowKind(window)

	var err error
	if q.WindowResetAt, err = parseTimePtr(resetAt); err != nil {
		return nil, fmt.Errorf("parse window_reset_at: %w", err)
	}
	if q.LastPresentedAt, err = parseTimePtr(lastPresented); err != nil {
		return nil, fmt.Errorf("parse last_presented_at: %w", err)
	}
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if q.RuleOverrides, err = unmarshalMap(overrides); err != nil {
		return nil, fmt.Errorf("parse rule_overrides: %w", err)
	}
	return &q, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("storage.GetQuestion", "question %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load question %s: %w", id, err)
	}
	return q, nil
}

func (s *SQLiteStore) ListQuestions(ctx context.Context, businessID string) ([]models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions`
	var args []interface{}
	if businessID != "" {
		query += ` WHERE business_id = ?`
		args = append(args, businessID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// UpsertQuestion writes business configuration; tracker-owned counters are
// only set on insert.
func (s *SQLiteStore) UpsertQuestion(ctx context.Context, q *models.Question) error {
	if err := apperrors.RequireID("storage.UpsertQuestion", "question id", q.ID); err != nil {
		return err
	}
	overrides, err := marshalMap(q.RuleOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal rule overrides: %w", err)
	}
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions (`+questionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			business_id = excluded.business_id,
			text = excluded.text,
			category = excluded.category,
			topic_category = excluded.topic_category,
			priority_level = excluded.priority_level,
			frequency_target = excluded.frequency_target,
			frequency_window = excluded.frequency_window,
			rule_overrides = excluded.rule_overrides`,
		q.ID, q.BusinessID, q.Text, q.Category, q.TopicCategory, q.PriorityLevel,
		q.FrequencyTarget, string(q.FrequencyWindow), q.CurrentWindowCount, formatTimePtr(q.WindowResetAt),
		formatTimePtr(q.LastPresentedAt), formatTime(createdAt), overrides)
	if err != nil {
		return fmt.Errorf("failed to upsert question %s: %w", q.ID, err)
	}
	return nil
}

func (s *SQLiteStore) IncrementPresentation(ctx context.Context, questionID string, at time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `UPDATE questions
		SET current_window_count = current_window_count + 1, last_presented_at = ?
		WHERE id = ?
		RETURNING current_window_count`, formatTime(at), questionID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.NotFound("storage.IncrementPresentation", "question %s", questionID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment presentation count for %s: %w", questionID, err)
	}
	return count, nil
}

func (s *SQLiteStore) execOne(ctx context.Context, op, entity, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s failed for %s %s: %w", op, entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s failed for %s %s: %w", op, entity, id, err)
	}
	if n == 0 {
		return apperrors.NotFound("storage."+op, "%s %s", entity, id)
	}
	return nil
}

func (s *SQLiteStore) ResetQuestionWindow(ctx context.Context, questionID string, at time.Time) error {
	return s.execOne(ctx, "ResetQuestionWindow", "question", questionID,
		`UPDATE questions SET current_window_count = 0, window_reset_at = ? WHERE id = ?`,
		formatTime(at), questionID)
}

func (s *SQLiteStore) ResetExpiredWindow(ctx context.Context, questionID string, expected *time.Time, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET current_window_count = 0, window_reset_at = ?
		WHERE id = ? AND window_reset_at IS ?`,
		formatTime(at), questionID, formatTimePtr(expected))
	if err != nil {
		return false, fmt.Errorf("ResetExpiredWindow failed for question %s: %w", questionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ResetExpiredWindow failed for question %s: %w", questionID, err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM questions WHERE id = ?`, questionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperrors.NotFound("storage.ResetExpiredWindow", "question %s", questionID)
	}
	if err != nil {
		return false, fmt.Errorf("ResetExpiredWindow failed for question %s: %w", questionID, err)
	}
	return false, nil
}

func (s *SQLiteStore) UpdateFrequencyConfig(ctx context.Context, questionID string, update models.FrequencyConfigUpdate) error {
	var target sql.NullInt64
	var window sql.NullString
	if update.Target != nil {
		target = sql.NullInt64{Int64: int64(*update.Target), Valid: true}
	}
	if update.Window != nil {
		window = sql.NullString{String: string(*update.Window), Valid: true}
	}
	return s.execOne(ctx, "UpdateFrequencyConfig", "question", questionID,
		`UPDATE questions SET
			frequency_target = COALESCE(?, frequency_target),
			frequency_window = COALESCE(?, frequency_window)
		WHERE id = ?`, target, window, questionID)
}

func (s *SQLiteStore) ListTriggers(ctx context.Context, questionID string) ([]models.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question_id, type, conditions, priority, enabled,
		cooldown_minutes, max_activations, activation_count, last_activated_at
		FROM triggers WHERE question_id = ? ORDER BY id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers for %s: %w", questionID, err)
	}
	defer rows.Close()

	var out []models.Trigger
	for rows.Next() {
		var (
			t          models.Trigger
			typ        string
			conditions string
			priority   string
			enabled    int
			lastActive sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.QuestionID, &typ, &conditions, &priority, &enabled,
			&t.CooldownMinutes, &t.MaxActivations, &t.ActivationCount, &lastActive); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		t.Type = models.TriggerType(typ)
		t.Priority = models.TriggerPriority(priority)
		t.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(conditions), &t.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions of trigger %s: %w", t.ID, err)
		}
		if t.LastActivatedAt, err = parseTimePtr(lastActive); err != nil {
			return nil, fmt.Errorf("parse last_activated_at of trigger %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTrigger writes trigger configuration; activation bookkeeping is left untouched on update
func (s *SQLiteStore) UpsertTrigger(ctx context.Context, t *models.Trigger) error {
	if err := apperrors.RequireID("storage.UpsertTrigger", "trigger id", t.ID); err != nil {
		return err
	}
	conditions, err := json.Marshal(t.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger conditions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO triggers (id, question_id, type, conditions, priority,
			enabled, cooldown_minutes, max_activations, activation_count, last_activated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question_id = excluded.question_id,
			type = excluded.type,
			conditions = excluded.conditions,
			priority = excluded.priority,
			enabled = excluded.enabled,
			cooldown_minutes = excluded.cooldown_minutes,
			max_activations = excluded.max_activations`,
		t.ID, t.QuestionID, string(t.Type), string(conditions), string(t.Priority), boolToInt(t.Enabled),
		t.CooldownMinutes, t.MaxActivations, t.ActivationCount, formatTimePtr(t.LastActivatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert trigger %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) AppendActivation(ctx context.Context, rec models.ActivationRecord) error {
	contextJSON, err := marshalMap(rec.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal activation context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activation transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE triggers
		SET activation_count = activation_count + 1, last_activated_at = ?
		WHERE id = ?`, formatTime(rec.ActivatedAt), rec.TriggerID)
	if err != nil {
		return fmt.Errorf("failed to update trigger %s activation count: %w", rec.TriggerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("storage.AppendActivation", "trigger %s", rec.TriggerID)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO trigger_activations
		(id, trigger_id, activated_at, evaluation_ms, confidence, context) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TriggerID, formatTime(rec.ActivatedAt), rec.EvaluationMillis, rec.Confidence, contextJSON); err != nil {
		return fmt.Errorf("failed to append activation for trigger %s: %w", rec.TriggerID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation for trigger %s: %w", rec.TriggerID, err)
	}
	logrus.Debugf("Recorded activation %s for trigger %s", rec.ID, rec.TriggerID)
	return nil
}

const harmonizerColumns = `id, business_id, rule_name, pattern, resolution_method, override_frequency,
	conflict_threshold, business_overrides, active, effectiveness_score, conflicts_resolved, runs`

func scanHarmonizer(row rowScanner) (*models.FrequencyHarmonizer, error) {
	var (
		h         models.FrequencyHarmonizer
		method    string
		overrides sql.NullString
		active    int
	)
	if err := row.Scan(&h.ID, &h.BusinessID, &h.RuleName, &h.Pattern, &method, &h.OverrideFrequency,
		&h.ConflictThreshold, &overrides, &active, &h.EffectivenessScore, &h.ConflictsResolved, &h.Runs); err != nil {
		return nil, err
	}
	h.ResolutionMethod = models.ResolutionMethod(method)
	h.Active = active != 0
	var err error
	if h.BusinessOverrides, err = unmarshalMap(overrides); err != nil {
		return nil, fmt.Errorf("parse business_overrides: %w", err)
	}
	return &h, nil
}

func (s *SQLiteStore) GetHarmonizer(ctx context.Context, id string) (*models.FrequencyHarmonizer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+harmonizerColumns+` FROM frequency_harmonizers WHERE id = ?`, id)
	h, err := scanHarmonizer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("storage.GetHarmonizer", "harmonizer %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load harmonizer %s: %w", id, err)
	}
	return h, nil
}

func (s *SQLiteStore) ListHarmonizers(ctx context.Context, businessID string) ([]models.FrequencyHarmonizer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+harmonizerColumns+`
		FROM frequency_harmonizers WHERE business_id = ? ORDER BY id`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list harmonizers for %s: %w", businessID, err)
	}
	defer rows.Close()

	var out []models.FrequencyHarmonizer
	for rows.Next() {
		h, err := scanHarmonizer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harmonizer: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertHarmonizer(ctx context.Context, h *models.FrequencyHarmonizer) error {
	if err := apperrors.RequireID("storage.UpsertHarmonizer", "harmonizer id", h.ID); err != nil {
		return err
	}
	overrides, err := marshalMap(h.BusinessOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal business overrides: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO frequency_harmonizers (`+harmonizerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			business_id = excluded.business_id,
			rule_name = excluded.rule_name,
			pattern = excluded.pattern,
			resolution_method = excluded.resolution_method,
			override_frequency = excluded.override_frequency,
			conflict_threshold = excluded.conflict_threshold,
			business_overrides = excluded.business_overrides,
			active = excluded.active`,
		h.ID, h.BusinessID, h.RuleName, h.Pattern, string(h.ResolutionMethod), h.OverrideFrequency,
		h.ConflictThreshold, overrides, boolToInt(h.Active), h.EffectivenessScore, h.ConflictsResolved, h.Runs)
	if err != nil {
		return fmt.Errorf("failed to upsert harmonizer %s: %w", h.ID, err)
	}
	return nil
}

func (s *SQLiteStore) RecordHarmonizerOutcome(ctx context.Context, id string, resolved, total int) error {
	ratio := 0.0
	if total > 0 {
		ratio = float64(resolved) / float64(total)
	}
	return s.execOne(ctx, "RecordHarmonizerOutcome", "harmonizer", id,
		`UPDATE frequency_harmonizers SET
			effectiveness_score = (effectiveness_score * runs + ?) / (runs + 1),
			conflicts_resolved = conflicts_resolved + ?,
			runs = runs + 1
		WHERE id = ?`, ratio, resolved, id)
}

func (s *SQLiteStore) ListPriorityWeights(ctx context.Context, businessID string) ([]models.PriorityWeight, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT business_id, category, weight_factor, adjustment_rules, active
		FROM priority_weights WHERE business_id = ? ORDER BY category`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list priority weights for %s: %w", businessID, err)
	}
	defer rows.Close()

	var out []models.PriorityWeight
	for rows.Next() {
		var (
			w      models.PriorityWeight
			rules  sql.NullString
			active int
		)
		if err := rows.Scan(&w.BusinessID, &w.Category, &w.WeightFactor, &rules, &active); err != nil {
			return nil, fmt.Errorf("failed to scan priority weight: %w", err)
		}
		w.Active = active != 0
		if w.AdjustmentRules, err = unmarshalMap(rules); err != nil {
			return nil, fmt.Errorf("parse adjustment_rules: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertPriorityWeight(ctx context.Context, w *models.PriorityWeight) error {
	if w.BusinessID == "" || w.Category == "" {
		return apperrors.Validation("storage.UpsertPriorityWeight", "business id and category are required")
	}
	rules, err := marshalMap(w.AdjustmentRules)
	if err != nil {
		return fmt.Errorf("failed to marshal adjustment rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO priority_weights (business_id, category, weight_factor, adjustment_rules, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(business_id, category) DO UPDATE SET
			weight_factor = excluded.weight_factor,
			adjustment_rules = excluded.adjustment_rules,
			active = excluded.active`,
		w.BusinessID, w.Category, w.WeightFactor, rules, boolToInt(w.Active))
	if err != nil {
		return fmt.Errorf("failed to upsert priority weight %s/%s: %w", w.BusinessID, w.Category, err)
	}
	return nil
}

func (s *SQLiteStore) RecordAnalytics(ctx context.Context, delta models.AnalyticsDelta) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO question_analytics
			(question_id, day, presentations, responses, rating_sum, ratings)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(question_id, day) DO UPDATE SET
			presentations = presentations + excluded.presentations,
			responses = responses + excluded.responses,
			rating_sum = rating_sum + excluded.rating_sum,
			ratings = ratings + excluded.ratings`,
		delta.QuestionID, DayBucket(delta.Day).Format(dayLayout), delta.Presentations, delta.Responses,
		delta.RatingSum, delta.Ratings)
	if err != nil {
		return fmt.Errorf("failed to record analytics for %s: %w", delta.QuestionID, err)
	}
	return nil
}

func (s *SQLiteStore) AnalyticsBuckets(ctx context.Context, questionID string, since time.Time) ([]models.AnalyticsBucket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT day, presentations, responses, rating_sum, ratings
		FROM question_analytics WHERE question_id = ? AND day >= ? ORDER BY day`,
		questionID, DayBucket(since).Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics for %s: %w", questionID, err)
	}
	defer rows.Close()

	var out []models.AnalyticsBucket
	for rows.Next() {
		var (
			day       string
			ratingSum float64
			ratings   int
			bucket    = models.AnalyticsBucket{QuestionID: questionID}
		)
		if err := rows.Scan(&day, &bucket.PresentationCount, &bucket.ResponseCount, &ratingSum, &ratings); err != nil {
			return nil, fmt.Errorf("failed to scan analytics row: %w", err)
		}
		if bucket.PeriodStart, err = time.Parse(dayLayout, day); err != nil {
			return nil, fmt.Errorf("parse analytics day %q: %w", day, err)
		}
		if ratings > 0 {
			bucket.AverageRating = ratingSum / float64(ratings)
		}
		out = append(out, bucket)
	}
	return out, rows.Err()
}
