package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/flyclaim/claims"
	"github.com/liamcoop/flyclaim/compensation"
	"github.com/liamcoop/flyclaim/internal/logger"
	"github.com/liamcoop/flyclaim/lifecycle"
	"github.com/liamcoop/flyclaim/monitor"
	"github.com/liamcoop/flyclaim/rules"
)

// Server exposes the compensation calculator, the claim service and the
// exemption rules over HTTP.
type Server struct {
	claims  *claims.Service
	calc    *compensation.Calculator
	engine  *rules.Engine
	sweeper *monitor.Sweeper
	limiter *RateLimiter
	db      *sql.DB // nil unless the store is SQL-backed
	driver  string
	router  *chi.Mux
}

// ServerDeps are the components a Server routes to.
type ServerDeps struct {
	Claims  *claims.Service
	Calc    *compensation.Calculator
	Engine  *rules.Engine
	Sweeper *monitor.Sweeper
	Limiter *RateLimiter
	DB      *sql.DB
	Driver  string
}

// NewServer builds the router over deps.
func NewServer(deps ServerDeps) *Server {
	s := &Server{
		claims:  deps.Claims,
		calc:    deps.Calc,
		engine:  deps.Engine,
		sweeper: deps.Sweeper,
		limiter: deps.Limiter,
		db:      deps.DB,
		driver:  deps.Driver,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.limiter.Middleware)

	r.Get("/api/v1/health", s.handleHealth)
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/compensation", func(r chi.Router) {
		r.Post("/calculate", s.handleCalculate)
		r.Post("/classify", s.handleClassify)
		r.Post("/exemptions", s.handleExemptions)
		r.Post("/obligations", s.handleObligations)
	})

	r.Route("/api/v1/claims", func(r chi.Router) {
		r.Get("/", s.handleListClaims)
		r.Post("/", s.handleCreateClaim)

		r.Route("/{claimId}", func(r chi.Router) {
			r.Get("/", s.handleGetClaim)
			r.Get("/activities", s.handleClaimActivities)
			r.Post("/transitions", s.handleTransition)
		})
	})

	r.Post("/api/v1/monitor/sweep", s.handleSweep)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/evaluate", s.handleEvaluateRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Store: s.driver, Counters: logger.Snapshot()}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	if active, err := s.engine.Rules(); err == nil {
		resp.Rules = len(active)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req compensation.DisruptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondServiceError(w, err)
		return
	}

	result, err := s.calc.Calculate(req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := CalculateResponse{Result: result}
	if req.Kind == compensation.Delay && req.DelayHours != nil {
		o := compensation.DeriveObligationsFor(*req.DelayHours, result.Category)
		resp.Obligations = &o
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FlightDurationHours < 0 {
		respondError(w, http.StatusBadRequest, "flightDurationHours must not be negative", nil)
		return
	}

	category := compensation.Classify(req.FlightDurationHours, req.International)
	respondJSON(w, http.StatusOK, ClassifyResponse{
		Category:            category,
		DelayThresholdHours: compensation.DelayThreshold(category),
	})
}

func (s *Server) handleExemptions(w http.ResponseWriter, r *http.Request) {
	var req compensation.DisruptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondServiceError(w, err)
		return
	}

	outcome, err := s.calc.Exemptions().Evaluate(req.Kind, req.ExemptionReason, req.CancellationNoticeDays, req.AlternativeOfferHours)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleObligations(w http.ResponseWriter, r *http.Request) {
	var req ObligationsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DelayHours < 0 || req.FlightDurationHours < 0 {
		respondError(w, http.StatusBadRequest, "hours must not be negative", nil)
		return
	}

	category := compensation.Classify(req.FlightDurationHours, req.International)
	respondJSON(w, http.StatusOK, compensation.DeriveObligationsFor(req.DelayHours, category))
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("status")
	if name == "" {
		name = lifecycle.SubmittedToAirline.String()
	}
	status, err := lifecycle.ParseStatus(name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid status", err)
		return
	}

	recs, err := s.claims.List(r.Context(), status)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []*claims.Record{}
	}
	respondJSON(w, http.StatusOK, ClaimsListResponse{Claims: recs})
}

func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req claims.NewClaim
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.claims.Open(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, claimResponse(rec))
}

// handleGetClaim accepts a claim ID or an FC- reference.
func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "claimId")

	var (
		rec *claims.Record
		err error
	)
	if strings.HasPrefix(id, "FC-") {
		rec, err = s.claims.GetByReference(r.Context(), id)
	} else {
		rec, err = s.claims.Get(r.Context(), id)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, claimResponse(rec))
}

func (s *Server) handleClaimActivities(w http.ResponseWriter, r *http.Request) {
	acts, err := s.claims.Activities(r.Context(), chi.URLParam(r, "claimId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if acts == nil {
		acts = []claims.Activity{}
	}
	respondJSON(w, http.StatusOK, ActivitiesResponse{Activities: acts})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "claimId")

	var req TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if (req.Status == "") == (req.Trigger == "") {
		respondError(w, http.StatusBadRequest, "exactly one of status and trigger is required", nil)
		return
	}

	var (
		rec *claims.Record
		err error
	)
	if req.Status != "" {
		target, perr := lifecycle.ParseStatus(req.Status)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid status", perr)
			return
		}
		rec, err = s.claims.Transition(r.Context(), id, target, req.Note, req.Actor)
	} else {
		trigger, perr := lifecycle.ParseTrigger(req.Trigger)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid trigger", perr)
			return
		}
		rec, err = s.claims.Apply(r.Context(), id, trigger, req.Note, req.Actor)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, claimResponse(rec))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sweep failed", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	active, err := s.engine.Rules()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if active == nil {
		active = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": active})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !checkRuleInput(w, req.Name, req.Expression, req.Outcome) {
		return
	}

	now := time.Now().UTC()
	rule := &rules.Rule{
		ID:         req.ID,
		Name:       req.Name,
		Expression: req.Expression,
		Outcome:    req.Outcome,
		Priority:   req.Priority,
		Active:     req.Active == nil || *req.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if rule.ID == "" {
		rule.ID = ruleID(req.Name)
	}

	// validates, compiles and stores
	if err := s.engine.AddRule(rule); err != nil {
		respondRuleError(w, "failed to add rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Rule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondRuleError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleId")

	var req UpdateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !checkRuleInput(w, req.Name, req.Expression, req.Outcome) {
		return
	}

	rule := &rules.Rule{
		ID:         id,
		Name:       req.Name,
		Expression: req.Expression,
		Outcome:    req.Outcome,
		Priority:   req.Priority,
		Active:     req.Active == nil || *req.Active,
	}

	// validates and recompiles before the store sees it
	if err := s.engine.UpdateRule(rule); err != nil {
		respondRuleError(w, "failed to update rule", err)
		return
	}

	updated, err := s.engine.Rule(id)
	if err != nil {
		respondRuleError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRule(chi.URLParam(r, "ruleId")); err != nil {
		respondRuleError(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvaluateRule runs one rule against the facts of a disruption and
// returns the values CEL observed, for checking a rule before relying on it.
func (s *Server) handleEvaluateRule(w http.ResponseWriter, r *http.Request) {
	var req compensation.DisruptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondServiceError(w, err)
		return
	}

	start := time.Now()
	facts := compensation.Facts(req.Kind, req.ExemptionReason, req.CancellationNoticeDays, req.AlternativeOfferHours)
	result, err := s.engine.Evaluate(chi.URLParam(r, "ruleId"), facts)
	if result == nil {
		respondRuleError(w, "failed to evaluate rule", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateRuleResponse{
		RuleResult:     ruleResult(result),
		EvaluationTime: time.Since(start).String(),
	})
}

// handleEvaluate runs every active rule against a disruption, in priority
// order, without stopping at the first match.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req compensation.DisruptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondServiceError(w, err)
		return
	}

	start := time.Now()
	results, err := s.engine.EvaluateAll(compensation.Facts(req.Kind, req.ExemptionReason, req.CancellationNoticeDays, req.AlternativeOfferHours))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	resp := EvaluateResponse{Results: make([]RuleResult, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, ruleResult(res))
	}
	resp.EvaluationTime = time.Since(start).String()
	respondJSON(w, http.StatusOK, resp)
}

func ruleResult(res *rules.EvaluationResult) RuleResult {
	out := RuleResult{EvaluationResult: res}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}
	return out
}

// checkRuleInput rejects rule bodies the engine would not accept as an
// exemption rule.
func checkRuleInput(w http.ResponseWriter, name, expression, outcome string) bool {
	if name == "" || expression == "" {
		respondError(w, http.StatusBadRequest, "name and expression are required", nil)
		return false
	}
	if _, err := compensation.ParseExemptionKind(outcome); err != nil {
		respondError(w, http.StatusBadRequest, "outcome must be an exemption kind", err)
		return false
	}
	return true
}

// respondRuleError maps rules engine errors onto HTTP statuses.
func respondRuleError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, rules.ErrInvalidRule):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, "rule not found", err)
	case errors.Is(err, rules.ErrRuleExists):
		respondError(w, http.StatusConflict, "rule already exists", err)
	case errors.Is(err, rules.ErrRuleInactive):
		respondError(w, http.StatusConflict, "rule is not active", err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

// ruleID derives an identifier from a rule name: "Volcanic ash" becomes
// "volcanic_ash".
func ruleID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	id := strings.Trim(b.String(), "_")
	if id == "" || (id[0] >= '0' && id[0] <= '9') {
		id = "rule_" + id
	}
	return id
}

func claimResponse(rec *claims.Record) ClaimResponse {
	allowed := lifecycle.Allowed(rec.Status)
	if allowed == nil {
		allowed = []lifecycle.Trigger{}
	}
	return ClaimResponse{Record: rec, AllowedTriggers: allowed}
}

// Helper functions

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, compensation.ErrMalformedInput):
		respondError(w, http.StatusBadRequest, "malformed input", err)
	case errors.Is(err, claims.ErrNotFound):
		respondError(w, http.StatusNotFound, "claim not found", err)
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrIneligible):
		respondError(w, http.StatusConflict, "transition not allowed", err)
	case errors.Is(err, claims.ErrConflict):
		respondError(w, http.StatusConflict, "claim was modified concurrently", err)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "request timed out", err)
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}

	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", fmt.Sprint(err))
	case status >= 400:
		logger.WarnHttp4xx(status)
	}
	respondJSON(w, status, resp)
}
