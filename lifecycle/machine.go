package lifecycle

import (
	"time"

	"github.com/liamcoop/flyclaim/compensation"
)

// ResponseWindow is how long an airline has to answer a submitted claim.
const ResponseWindow = 30 * 24 * time.Hour

// Claim is the part of a claim the lifecycle machine reads and writes.
type Claim struct {
	ID               string               `json:"id"`
	Status           Status               `json:"status"`
	SubmittedAt      *time.Time           `json:"submittedAt,omitempty"`
	ResponseDeadline *time.Time           `json:"responseDeadline,omitempty"`
	EscalatedAt      *time.Time           `json:"escalatedAt,omitempty"`
	ResolvedAt       *time.Time           `json:"resolvedAt,omitempty"`
	Compensation     *compensation.Result `json:"compensation,omitempty"`
	ResolutionNotes  string               `json:"resolutionNotes,omitempty"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// Transition records one applied move.
type Transition struct {
	ClaimID string    `json:"claimId"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Trigger Trigger   `json:"trigger"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Machine applies table transitions to claims and stamps their timestamps.
type Machine struct {
	now func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a lifecycle machine.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply moves claim by trigger. On error the claim is left unchanged.
func (m *Machine) Apply(claim *Claim, trigger Trigger, note string) (Transition, error) {
	to, err := Next(claim.Status, trigger)
	if err != nil {
		return Transition{}, err
	}
	if claim.Compensation != nil && !claim.Compensation.Eligible && to != Rejected && to != Cancelled {
		return Transition{}, ErrIneligible
	}

	now := m.now().UTC()
	tr := Transition{
		ClaimID: claim.ID,
		From:    claim.Status,
		To:      to,
		Trigger: trigger,
		Note:    note,
		At:      now,
	}

	switch trigger {
	case AssessEligible, Submit:
		deadline := now.Add(ResponseWindow)
		claim.SubmittedAt = &now
		claim.ResponseDeadline = &deadline
	case DeadlineExceeded:
		claim.EscalatedAt = &now
	case EscalateDGCA:
		if claim.EscalatedAt == nil {
			claim.EscalatedAt = &now
		}
	}

	switch to {
	case Resolved, Rejected, Paid:
		claim.ResolvedAt = &now
	}
	if to.Terminal() && note != "" {
		claim.ResolutionNotes = note
	}

	claim.Status = to
	claim.UpdatedAt = now

	return tr, nil
}

// MoveTo moves claim to target using whichever trigger connects them.
func (m *Machine) MoveTo(claim *Claim, target Status, note string) (Transition, error) {
	trigger, err := TriggerFor(claim.Status, target)
	if err != nil {
		return Transition{}, err
	}
	return m.Apply(claim, trigger, note)
}

// Assess records result on claim and submits it when eligible or rejects
// it otherwise. A claim under manual review is submitted with Submit.
func (m *Machine) Assess(claim *Claim, result compensation.Result) (Transition, error) {
	previous := claim.Compensation
	claim.Compensation = &result

	trigger := AssessIneligible
	switch {
	case result.Eligible && claim.Status == EligibilityChecked:
		trigger = Submit
	case result.Eligible:
		trigger = AssessEligible
	}

	tr, err := m.Apply(claim, trigger, result.Reason)
	if err != nil {
		claim.Compensation = previous
		return Transition{}, err
	}
	return tr, nil
}
