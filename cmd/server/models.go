package main

import (
	"github.com/liamcoop/flyclaim/claims"
	"github.com/liamcoop/flyclaim/compensation"
	"github.com/liamcoop/flyclaim/lifecycle"
	"github.com/liamcoop/flyclaim/rules"
)

// API request and response models

// ClassifyRequest is the body of POST /compensation/classify.
type ClassifyRequest struct {
	FlightDurationHours float64 `json:"flightDurationHours" example:"2.5"`
	International       bool    `json:"international" example:"false"`
}

// ClassifyResponse reports a flight's category and its delay threshold.
type ClassifyResponse struct {
	Category            compensation.Category `json:"category" example:"domestic_long"`
	DelayThresholdHours float64               `json:"delayThresholdHours" example:"2"`
}

// ObligationsRequest is the body of POST /compensation/obligations.
type ObligationsRequest struct {
	DelayHours          float64 `json:"delayHours" example:"7"`
	FlightDurationHours float64 `json:"flightDurationHours" example:"2.5"`
	International       bool    `json:"international" example:"false"`
}

// CalculateResponse wraps a compensation result with the care owed for a delay.
type CalculateResponse struct {
	compensation.Result
	Obligations *compensation.Obligations `json:"obligations,omitempty"`
}

// TransitionRequest is the body of POST /claims/{id}/transitions. Exactly
// one of Status and Trigger must be set.
type TransitionRequest struct {
	Status  string `json:"status,omitempty" example:"RESOLVED"`
	Trigger string `json:"trigger,omitempty" example:"acknowledge"`
	Note    string `json:"note,omitempty" example:"airline paid by bank transfer"`
	Actor   string `json:"actor,omitempty" example:"agent@flyclaim"`
}

// ClaimResponse is a claim with the triggers it currently accepts.
type ClaimResponse struct {
	*claims.Record
	AllowedTriggers []lifecycle.Trigger `json:"allowedTriggers"`
}

// ClaimsListResponse is the response of GET /claims.
type ClaimsListResponse struct {
	Claims []*claims.Record `json:"claims"`
}

// ActivitiesResponse is the response of GET /claims/{id}/activities.
type ActivitiesResponse struct {
	Activities []claims.Activity `json:"activities"`
}

// CreateRuleRequest is the body of POST /rules.
type CreateRuleRequest struct {
	ID         string `json:"id,omitempty" example:"volcanic_ash"`
	Name       string `json:"name" example:"Volcanic ash"`
	Expression string `json:"expression" example:"reason.contains(\"ash\")"`
	Outcome    string `json:"outcome" example:"weather"`
	Priority   int    `json:"priority" example:"15"`
	Active     *bool  `json:"active,omitempty" example:"true"`
}

// UpdateRuleRequest is the body of PUT /rules/{ruleId}. The rule ID comes
// from the path.
type UpdateRuleRequest struct {
	Name       string `json:"name" example:"Volcanic ash"`
	Expression string `json:"expression" example:"reason.contains(\"ash\")"`
	Outcome    string `json:"outcome" example:"weather"`
	Priority   int    `json:"priority" example:"15"`
	Active     *bool  `json:"active,omitempty" example:"true"`
}

// RuleResult is one rule evaluated against a disruption, with the values
// CEL observed while evaluating it.
type RuleResult struct {
	*rules.EvaluationResult
	Error string `json:"error,omitempty"`
}

// EvaluateRuleResponse is the response of POST /rules/{ruleId}/evaluate.
type EvaluateRuleResponse struct {
	RuleResult
	EvaluationTime string `json:"evaluationTime"`
}

// EvaluateResponse is the response of POST /evaluate: every active rule in
// priority order.
type EvaluateResponse struct {
	Results        []RuleResult `json:"results"`
	EvaluationTime string       `json:"evaluationTime"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"claim not found"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string           `json:"status" example:"healthy"`
	Store    string           `json:"store" example:"postgres"`
	Rules    int              `json:"rules" example:"6"`
	Counters map[string]int64 `json:"counters"`
	Error    string           `json:"error,omitempty"`
}
