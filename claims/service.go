package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/flyclaim/compensation"
	"github.com/liamcoop/flyclaim/internal/logger"
	"github.com/liamcoop/flyclaim/lifecycle"
	"github.com/liamcoop/flyclaim/monitor"
)

const maxReferenceAttempts = 5

// NewClaim is the structured intake for a claim.
type NewClaim struct {
	FlightNumber string                         `json:"flightNumber"`
	AirlineCode  string                         `json:"airlineCode,omitempty"`
	AirlineName  string                         `json:"airlineName,omitempty"`
	FlightDate   time.Time                      `json:"flightDate"`
	RouteFrom    string                         `json:"routeFrom,omitempty"`
	RouteTo      string                         `json:"routeTo,omitempty"`
	Request      compensation.DisruptionRequest `json:"request"`
}

// Service assesses, stores and advances claims. It is the monitor's
// Source and Dispatcher.
type Service struct {
	store   Store
	calc    *compensation.Calculator
	machine *lifecycle.Machine
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock sets the time source for the service and its lifecycle machine.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator sets how claim IDs are minted.
func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a claim service.
func NewService(store Store, calc *compensation.Calculator, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		calc:  calc,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		log:   logger.With("claims"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = lifecycle.NewMachine(lifecycle.WithClock(s.now))
	return s
}

// Open validates and assesses a new claim, then stores it. Eligible
// claims go straight to SUBMITTED_TO_AIRLINE and ineligible ones to
// REJECTED.
func (s *Service) Open(ctx context.Context, in NewClaim) (*Record, error) {
	flight := NormalizeFlightNumber(in.FlightNumber)
	if err := ValidateFlightNumber(flight); err != nil {
		return nil, err
	}
	if err := in.Request.Validate(); err != nil {
		return nil, err
	}

	result, err := s.calc.Calculate(in.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate compensation: %w", err)
	}

	now := s.now().UTC()
	rec := &Record{
		Claim: lifecycle.Claim{
			ID:        s.newID(),
			Status:    lifecycle.Initiated,
			UpdatedAt: now,
		},
		FlightNumber: flight,
		AirlineCode:  strings.ToUpper(strings.TrimSpace(in.AirlineCode)),
		AirlineName:  strings.TrimSpace(in.AirlineName),
		FlightDate:   in.FlightDate.UTC(),
		RouteFrom:    strings.ToUpper(strings.TrimSpace(in.RouteFrom)),
		RouteTo:      strings.ToUpper(strings.TrimSpace(in.RouteTo)),
		Request:      in.Request,
		CreatedAt:    now,
	}
	if in.Request.Kind == compensation.Delay && in.Request.DelayHours != nil {
		o := compensation.DeriveObligationsFor(*in.Request.DelayHours, result.Category)
		rec.Obligations = &o
	}

	tr, err := s.machine.Assess(&rec.Claim, result)
	if err != nil {
		return nil, err
	}

	act := Activity{
		ClaimID:     rec.ID,
		Type:        ActivityAssessment,
		Description: result.Reason,
		PerformedBy: ActorSystem,
		Metadata: map[string]string{
			"eligible": strconv.FormatBool(result.Eligible),
			"amount":   strconv.FormatInt(result.Amount, 10),
			"category": result.Category.String(),
			"trigger":  tr.Trigger.String(),
			"status":   tr.To.String(),
		},
		CreatedAt: now,
	}
	if result.Exemption.Kind != nil {
		act.Metadata["exemption"] = result.Exemption.Kind.String()
	}

	if err := s.create(ctx, rec, act); err != nil {
		return nil, err
	}

	s.log.Info("claim opened",
		"claim_id", rec.ID,
		"reference", rec.Reference,
		"status", rec.Status.String(),
		"eligible", result.Eligible,
		"amount", result.Amount,
	)
	return rec, nil
}

// create assigns the next free reference for the flight and day and stores
// the claim with its assessment.
func (s *Service) create(ctx context.Context, rec *Record, act Activity) error {
	prefix := ReferencePrefix(rec.CreatedAt, rec.FlightNumber)
	n, err := s.store.CountReferences(ctx, prefix)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= maxReferenceAttempts; attempt++ {
		rec.Reference = FormatReference(rec.CreatedAt, rec.FlightNumber, n+attempt)
		err = s.store.Create(ctx, rec, act)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("failed to allocate claim reference: %w", err)
}

// Get returns a claim by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// GetByReference returns a claim by its FC- reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*Record, error) {
	return s.store.GetByReference(ctx, reference)
}

// List returns the claims in status, oldest first.
func (s *Service) List(ctx context.Context, status lifecycle.Status) ([]*Record, error) {
	return s.store.ListByStatus(ctx, status)
}

// Activities returns a claim's audit trail.
func (s *Service) Activities(ctx context.Context, id string) ([]Activity, error) {
	return s.store.Activities(ctx, id)
}

// Transition moves a claim to target. Unreachable targets fail with an
// error wrapping lifecycle.ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, id string, target lifecycle.Status, note, actor string) (*Record, error) {
	return s.advance(ctx, id, note, actor, func(m *lifecycle.Machine, c *lifecycle.Claim) (lifecycle.Transition, error) {
		return m.MoveTo(c, target, note)
	})
}

// Apply fires trigger on a claim.
func (s *Service) Apply(ctx context.Context, id string, trigger lifecycle.Trigger, note, actor string) (*Record, error) {
	return s.advance(ctx, id, note, actor, func(m *lifecycle.Machine, c *lifecycle.Claim) (lifecycle.Transition, error) {
		return m.Apply(c, trigger, note)
	})
}

type moveFunc func(*lifecycle.Machine, *lifecycle.Claim) (lifecycle.Transition, error)

func (s *Service) advance(ctx context.Context, id, note, actor string, move moveFunc) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := rec.Status

	tr, err := move(s.machine, &rec.Claim)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) || errors.Is(err, lifecycle.ErrIneligible) {
			logger.WarnInvalidTransition(id, err)
		}
		return nil, err
	}

	if tr.To == lifecycle.Paid && rec.AmountReceived == 0 && rec.Compensation != nil {
		rec.AmountReceived = rec.Compensation.Amount
	}

	if actor == "" {
		actor = ActorSystem
	}
	act := Activity{
		ClaimID:     id,
		Type:        ActivityStatusChange,
		Description: fmt.Sprintf("%s -> %s", tr.From, tr.To),
		PerformedBy: actor,
		Metadata: map[string]string{
			"from":    tr.From.String(),
			"to":      tr.To.String(),
			"trigger": tr.Trigger.String(),
		},
		CreatedAt: tr.At,
	}
	if note != "" {
		act.Metadata["note"] = note
	}

	if err := s.store.SaveTransition(ctx, rec, from, act); err != nil {
		return nil, err
	}

	s.log.Info("claim transitioned",
		"claim_id", id,
		"from", tr.From.String(),
		"to", tr.To.String(),
		"trigger", tr.Trigger.String(),
		"actor", actor,
	)
	return rec, nil
}

// ListSubmitted returns snapshots of the claims awaiting an airline answer.
func (s *Service) ListSubmitted(ctx context.Context) ([]monitor.Snapshot, error) {
	recs, err := s.store.ListByStatus(ctx, lifecycle.SubmittedToAirline)
	if err != nil {
		return nil, err
	}
	out := make([]monitor.Snapshot, 0, len(recs))
	for _, r := range recs {
		out = append(out, monitor.Snapshot{ClaimID: r.ID, Status: r.Status, SubmittedAt: r.SubmittedAt})
	}
	return out, nil
}

// Dispatch acts on a monitor notice. Escalations fire deadline_exceeded;
// reminders are recorded as reminder_due activities for the delivery
// channel to pick up. Repeated notices return monitor.ErrAlreadyHandled.
func (s *Service) Dispatch(ctx context.Context, n monitor.Notice) error {
	switch n.Action {
	case monitor.EscalateToAirSewa:
		return s.escalate(ctx, n)
	case monitor.SendReminder:
		return s.remind(ctx, n)
	default:
		return fmt.Errorf("unknown monitor action %q", n.Action)
	}
}

func (s *Service) escalate(ctx context.Context, n monitor.Notice) error {
	rec, err := s.store.Get(ctx, n.ClaimID)
	if err != nil {
		return err
	}
	if rec.Status != lifecycle.SubmittedToAirline {
		return monitor.ErrAlreadyHandled
	}

	_, err = s.Apply(ctx, n.ClaimID, lifecycle.DeadlineExceeded, n.Reason, ActorMonitor)
	if errors.Is(err, ErrConflict) {
		return monitor.ErrAlreadyHandled
	}
	return err
}

func (s *Service) remind(ctx context.Context, n monitor.Notice) error {
	acts, err := s.store.Activities(ctx, n.ClaimID)
	if err != nil {
		return err
	}

	days := strconv.Itoa(n.ElapsedDays)
	for _, a := range acts {
		if a.Type == ActivityReminderDue && a.Metadata["elapsed_days"] == days {
			return monitor.ErrAlreadyHandled
		}
	}

	return s.store.AppendActivity(ctx, Activity{
		ClaimID:     n.ClaimID,
		Type:        ActivityReminderDue,
		Description: n.Reason,
		PerformedBy: ActorMonitor,
		Metadata: map[string]string{
			"action":       string(n.Action),
			"elapsed_days": days,
		},
		CreatedAt: s.now().UTC(),
	})
}
