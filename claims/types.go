// Package claims persists passenger claims and drives them through the
// compensation assessment and lifecycle.
package claims

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/liamcoop/flyclaim/compensation"
	"github.com/liamcoop/flyclaim/lifecycle"
)

var (
	ErrNotFound = errors.New("claim not found")
	// ErrConflict is returned when a claim changed underneath a write, or
	// a unique reference already exists.
	ErrConflict = errors.New("claim was modified concurrently")
)

// Record is a stored claim.
type Record struct {
	lifecycle.Claim

	Reference      string                         `json:"reference"`
	FlightNumber   string                         `json:"flightNumber"`
	AirlineCode    string                         `json:"airlineCode,omitempty"`
	AirlineName    string                         `json:"airlineName,omitempty"`
	FlightDate     time.Time                      `json:"flightDate"`
	RouteFrom      string                         `json:"routeFrom,omitempty"`
	RouteTo        string                         `json:"routeTo,omitempty"`
	Request        compensation.DisruptionRequest `json:"request"`
	Obligations    *compensation.Obligations      `json:"obligations,omitempty"`
	AmountReceived int64                          `json:"amountReceived"`
	CreatedAt      time.Time                      `json:"createdAt"`
}

// ActivityType classifies an audit entry.
type ActivityType string

const (
	ActivityAssessment   ActivityType = "assessment"
	ActivityStatusChange ActivityType = "status_change"
	ActivityReminderDue  ActivityType = "reminder_due"
)

// Activity is one entry in a claim's audit trail.
type Activity struct {
	ID          int64             `json:"id"`
	ClaimID     string            `json:"claimId"`
	Type        ActivityType      `json:"type"`
	Description string            `json:"description"`
	PerformedBy string            `json:"performedBy"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Actors recorded in PerformedBy.
const (
	ActorSystem  = "system"
	ActorMonitor = "deadline-monitor"
)

var flightNumberPattern = regexp.MustCompile(`^[A-Z0-9]{2,3}[0-9]{1,4}[A-Z]?$`)

// NormalizeFlightNumber upper-cases and strips spaces and dashes.
func NormalizeFlightNumber(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "").Replace(s)
}

// ValidateFlightNumber checks a normalized flight number such as 6E234.
func ValidateFlightNumber(s string) error {
	if !flightNumberPattern.MatchString(s) {
		return fmt.Errorf("%w: invalid flight number %q", compensation.ErrMalformedInput, s)
	}
	return nil
}

// ReferencePrefix returns the reference prefix for claims on flight
// created on day.
func ReferencePrefix(day time.Time, flightNumber string) string {
	return fmt.Sprintf("FC-%s-%s-", day.UTC().Format("20060102"), flightNumber)
}

// FormatReference builds a claim reference such as FC-20241028-6E234-0001.
func FormatReference(day time.Time, flightNumber string, seq int) string {
	return fmt.Sprintf("%s%04d", ReferencePrefix(day, flightNumber), seq)
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.SubmittedAt = cloneTime(r.SubmittedAt)
	c.ResponseDeadline = cloneTime(r.ResponseDeadline)
	c.EscalatedAt = cloneTime(r.EscalatedAt)
	c.ResolvedAt = cloneTime(r.ResolvedAt)
	if r.Compensation != nil {
		res := *r.Compensation
		if res.Exemption.Kind != nil {
			k := *res.Exemption.Kind
			res.Exemption.Kind = &k
		}
		c.Compensation = &res
	}
	if r.Obligations != nil {
		o := *r.Obligations
		c.Obligations = &o
	}
	c.Request = cloneRequest(r.Request)
	return &c
}

func cloneRequest(req compensation.DisruptionRequest) compensation.DisruptionRequest {
	if req.DelayHours != nil {
		v := *req.DelayHours
		req.DelayHours = &v
	}
	if req.CancellationNoticeDays != nil {
		v := *req.CancellationNoticeDays
		req.CancellationNoticeDays = &v
	}
	if req.AlternativeOfferHours != nil {
		v := *req.AlternativeOfferHours
		req.AlternativeOfferHours = &v
	}
	if req.FarePaid != nil {
		v := *req.FarePaid
		req.FarePaid = &v
	}
	return req
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
