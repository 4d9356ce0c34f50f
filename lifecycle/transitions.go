package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is wrapped by every InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrIneligible is returned when a claim assessed as ineligible would
	// move anywhere other than REJECTED or CANCELLED.
	ErrIneligible = errors.New("claim is not eligible for compensation")
)

// InvalidTransitionError describes a move the transition table does not allow.
// Trigger is zero when the caller named a target status, To is zero when the
// caller named a trigger.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	switch {
	case e.Trigger != 0:
		return fmt.Sprintf("invalid transition: %s does not accept %s", e.From, e.Trigger)
	default:
		return fmt.Sprintf("invalid transition: %s cannot move to %s", e.From, e.To)
	}
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type edge struct {
	from    Status
	trigger Trigger
}

// active lists the states in which a submitted claim can still be settled.
var active = []Status{SubmittedToAirline, AwaitingResponse, AirlineResponded, EscalatedAirSewa, EscalatedDGCA}

// table is the single source of allowed moves.
var table = buildTable()

// triggerOrder fixes which trigger TriggerFor reports when several reach
// the same target.
var triggerOrder = []Trigger{
	AssessIneligible, AssessEligible, CheckEligibility, Submit, Acknowledge, AirlineResponse,
	DeadlineExceeded, EscalateDGCA, Resolve, Reject, Pay, Cancel,
}

func buildTable() map[edge]Status {
	t := map[edge]Status{
		{Initiated, AssessIneligible}:          Rejected,
		{EligibilityChecked, AssessIneligible}: Rejected,
		{Initiated, AssessEligible}:            SubmittedToAirline,
		{Initiated, CheckEligibility}:          EligibilityChecked,
		{EligibilityChecked, Submit}:           SubmittedToAirline,
		{SubmittedToAirline, Acknowledge}:      AwaitingResponse,
		{AwaitingResponse, AirlineResponse}:    AirlineResponded,
		{SubmittedToAirline, DeadlineExceeded}: EscalatedAirSewa,
		{AwaitingResponse, DeadlineExceeded}:   EscalatedAirSewa,
		{AirlineResponded, DeadlineExceeded}:   EscalatedAirSewa,
		{AirlineResponded, EscalateDGCA}:       EscalatedDGCA,
		{EscalatedAirSewa, EscalateDGCA}:       EscalatedDGCA,
	}
	for _, s := range active {
		t[edge{s, Resolve}] = Resolved
		t[edge{s, Reject}] = Rejected
		t[edge{s, Pay}] = Paid
	}
	for _, s := range Statuses() {
		if !s.Terminal() {
			t[edge{s, Cancel}] = Cancelled
		}
	}
	return t
}

// Next returns the status reached from `from` by trigger.
func Next(from Status, trigger Trigger) (Status, error) {
	to, ok := table[edge{from, trigger}]
	if !ok {
		return 0, &InvalidTransitionError{From: from, Trigger: trigger}
	}
	return to, nil
}

// TriggerFor returns the trigger that moves a claim from `from` to `to`.
func TriggerFor(from, to Status) (Trigger, error) {
	for _, trig := range triggerOrder {
		if next, ok := table[edge{from, trig}]; ok && next == to {
			return trig, nil
		}
	}
	return 0, &InvalidTransitionError{From: from, To: to}
}

// Allowed returns the triggers accepted in status s.
func Allowed(s Status) []Trigger {
	var out []Trigger
	for _, trig := range triggerOrder {
		if _, ok := table[edge{s, trig}]; ok {
			out = append(out, trig)
		}
	}
	return out
}
