package lifecycle

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a claim.
type Status uint8

const (
	Initiated Status = iota + 1
	EligibilityChecked
	SubmittedToAirline
	AwaitingResponse
	AirlineResponded
	EscalatedAirSewa
	EscalatedDGCA
	Resolved
	Rejected
	Paid
	Cancelled
)

var statusNames = map[Status]string{
	Initiated:          "INITIATED",
	EligibilityChecked: "ELIGIBILITY_CHECKED",
	SubmittedToAirline: "SUBMITTED_TO_AIRLINE",
	AwaitingResponse:   "AWAITING_RESPONSE",
	AirlineResponded:   "AIRLINE_RESPONDED",
	EscalatedAirSewa:   "ESCALATED_AIRSEWA",
	EscalatedDGCA:      "ESCALATED_DGCA",
	Resolved:           "RESOLVED",
	Rejected:           "REJECTED",
	Paid:               "PAID",
	Cancelled:          "CANCELLED",
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		Initiated, EligibilityChecked, SubmittedToAirline, AwaitingResponse, AirlineResponded,
		EscalatedAirSewa, EscalatedDGCA, Resolved, Rejected, Paid, Cancelled,
	}
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	switch s {
	case Resolved, Rejected, Paid, Cancelled:
		return true
	}
	return false
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for s, sn := range statusNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown claim status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid claim status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Trigger is an event that moves a claim between statuses.
type Trigger uint8

const (
	AssessIneligible Trigger = iota + 1
	AssessEligible
	CheckEligibility
	Submit
	Acknowledge
	AirlineResponse
	DeadlineExceeded
	EscalateDGCA
	Resolve
	Reject
	Pay
	Cancel
)

var triggerNames = map[Trigger]string{
	AssessIneligible: "assess_ineligible",
	AssessEligible:   "assess_eligible",
	CheckEligibility: "check_eligibility",
	Submit:           "submit",
	Acknowledge:      "acknowledge",
	AirlineResponse:  "airline_response",
	DeadlineExceeded: "deadline_exceeded",
	EscalateDGCA:     "escalate_dgca",
	Resolve:          "resolve",
	Reject:           "reject",
	Pay:              "pay",
	Cancel:           "cancel",
}

func (t Trigger) String() string {
	if n, ok := triggerNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Trigger(%d)", uint8(t))
}

// ParseTrigger parses a trigger name.
func ParseTrigger(name string) (Trigger, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for t, tn := range triggerNames {
		if tn == n {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger %q", name)
}

func (t Trigger) MarshalText() ([]byte, error) {
	if _, ok := triggerNames[t]; !ok {
		return nil, fmt.Errorf("invalid trigger %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Trigger) UnmarshalText(b []byte) error {
	parsed, err := ParseTrigger(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
