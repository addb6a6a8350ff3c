package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/engine"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler exposes the engine operations over HTTP
type Handler struct {
	engine *engine.Service
}

// NewRouter builds the HTTP surface of the engine
func NewRouter(svc *engine.Service) *mux.Router {
	h := &Handler{engine: svc}
	router := mux.NewRouter()

	// Health and operations
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.HandleFunc("/metrics", h.metrics).Methods("GET")
	router.HandleFunc("/sweep", h.sweep).Methods("POST")

	// Selection pipeline
	router.HandleFunc("/selections", h.selectQuestions).Methods("POST")

	// Questions and frequency tracking
	router.HandleFunc("/questions", h.upsertQuestion).Methods("POST")
	router.HandleFunc("/questions/{id}", h.getQuestion).Methods("GET")
	router.HandleFunc("/questions/{id}/frequency", h.frequencyStatus).Methods("GET")
	router.HandleFunc("/questions/{id}/frequency", h.updateFrequency).Methods("PUT")
	router.HandleFunc("/questions/{id}/frequency/reset", h.resetFrequency).Methods("POST")
	router.HandleFunc("/questions/{id}/presentations", h.reportPresentation).Methods("POST")
	router.HandleFunc("/questions/{id}/responses", h.reportResponse).Methods("POST")
	router.HandleFunc("/questions/{id}/analytics", h.analytics).Methods("GET")
	router.HandleFunc("/questions/{id}/adaptive", h.applyAdaptive).Methods("POST")
	router.HandleFunc("/questions/{id}/evaluate", h.evaluate).Methods("POST")

	// Business-scoped rules and reports
	router.HandleFunc("/businesses/{id}/questions", h.listQuestions).Methods("GET")
	router.HandleFunc("/businesses/{id}/recommendations", h.recommendations).Methods("GET")
	router.HandleFunc("/businesses/{id}/digests", h.listDigests).Methods("GET")
	router.HandleFunc("/digests/{name:.+}", h.getDigest).Methods("GET")

	router.HandleFunc("/triggers", h.upsertTrigger).Methods("POST")
	router.HandleFunc("/harmonizers", h.upsertHarmonizer).Methods("POST")
	router.HandleFunc("/harmonize", h.harmonize).Methods("POST")
	router.HandleFunc("/priority-weights", h.upsertWeight).Methods("POST")
	router.HandleFunc("/balance", h.balance).Methods("POST")
	router.HandleFunc("/balance/time-boxed", h.timeBoxed).Methods("POST")

	return router
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.engine.GetMetrics()))
}

// sweep starts an adaptive sweep in the background
func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := h.engine.RunAdaptiveSweep(context.Background()); err != nil {
			logrus.Errorf("Manual adaptive sweep failed: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Adaptive sweep triggered successfully"})
}

func (h *Handler) selectQuestions(w http.ResponseWriter, r *http.Request) {
	var req models.SelectionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	selection, err := h.engine.Select(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selection)
}

func (h *Handler) upsertQuestion(w http.ResponseWriter, r *http.Request) {
	var q models.Question
	if err := decode(r, &q); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.UpsertQuestion(r.Context(), &q); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) getQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.engine.GetQuestion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.engine.ListQuestions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) frequencyStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Tracker().GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) updateFrequency(w http.ResponseWriter, r *http.Request) {
	var update models.FrequencyConfigUpdate
	if err := decode(r, &update); err != nil {
		writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.engine.Tracker().UpdateFrequencyConfig(r.Context(), id, update); err != nil {
		writeError(w, r, err)
		return
	}
	h.frequencyStatus(w, r)
}

func (h *Handler) resetFrequency(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Tracker().ResetFrequency(r.Context(), mux.Vars(r)["id"], true); err != nil {
		writeError(w, r, err)
		return
	}
	h.frequencyStatus(w, r)
}

func (h *Handler) reportPresentation(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.ReportPresentation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type responseReport struct {
	Rating *float64 `json:"rating,omitempty"`
}

func (h *Handler) reportResponse(w http.ResponseWriter, r *http.Request) {
	var body responseReport
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := h.engine.ReportResponse(r.Context(), mux.Vars(r)["id"], body.Rating); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intQuery(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation("api.query", "%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days")
	if err != nil {
		writeError(w, r, err)
		return
	}
	analytics, err := h.engine.Tracker().GetFrequencyAnalytics(r.Context(), mux.Vars(r)["id"], days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (h *Handler) applyAdaptive(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.AdaptiveConfig()
	if r.ContentLength != 0 {
		if err := decode(r, &cfg); err != nil {
			writeError(w, r, err)
			return
		}
	}
	result, err := h.engine.Tracker().ApplyAdaptiveBehavior(r.Context(), mux.Vars(r)["id"], cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.Tracker().GetFrequencyRecommendations(r.Context(), mux.Vars(r)["id"], h.engine.AdaptiveConfig())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var ec models.EvaluationContext
	if err := decode(r, &ec); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.engine.Evaluator().Evaluate(r.Context(), mux.Vars(r)["id"], ec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listDigests(w http.ResponseWriter, r *http.Request) {
	names, err := h.engine.ListDigests(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) getDigest(w http.ResponseWriter, r *http.Request) {
	digest, err := h.engine.GetDigest("digests/" + mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

func (h *Handler) upsertTrigger(w http.ResponseWriter, r *http.Request) {
	var t models.Trigger
	if err := decode(r, &t); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.Evaluator().UpsertTrigger(r.Context(), &t); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) upsertHarmonizer(w http.ResponseWriter, r *http.Request) {
	var rule models.FrequencyHarmonizer
	if err := decode(r, &rule); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.Harmonizer().UpsertRule(r.Context(), &rule); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type harmonizeRequest struct {
	Questions []models.QuestionForHarmonization `json:"questions"`
	RuleID    string                            `json:"rule_id,omitempty"`
	Options   models.HarmonizeOptions           `json:"options"`
}

func (h *Handler) harmonize(w http.ResponseWriter, r *http.Request) {
	var req harmonizeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.engine.Harmonizer().Harmonize(r.Context(), req.Questions, req.RuleID, req.Options)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) upsertWeight(w http.ResponseWriter, r *http.Request) {
	var weight models.PriorityWeight
	if err := decode(r, &weight); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.Balancer().UpsertWeight(r.Context(), &weight); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weight)
}

type balanceRequest struct {
	Questions []models.QuestionForBalancing `json:"questions"`
	Config    models.BalanceConfig          `json:"config"`
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.engine.Balancer().Balance(r.Context(), req.Questions, req.Config)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type timeBoxedRequest struct {
	Questions         []models.QuestionForBalancing `json:"questions"`
	MaxDuration       float64                       `json:"max_duration_seconds"`
	PriorityThreshold *float64                      `json:"priority_threshold,omitempty"`
}

func (h *Handler) timeBoxed(w http.ResponseWriter, r *http.Request) {
	var req timeBoxedRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.engine.Balancer().OptimizeForTimeConstraint(r.Context(), req.Questions, req.MaxDuration, req.PriorityThreshold)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
