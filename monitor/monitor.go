// Package monitor detects submitted claims whose airline response window is
// running out and emits the follow-up action each one needs.
package monitor

import (
	"fmt"
	"time"

	"github.com/liamcoop/flyclaim/lifecycle"
)

// Day thresholds measured from submission.
const (
	ReminderAfterDays   = 15
	EscalationAfterDays = 30
)

// Action is the follow-up the monitor asks for.
type Action string

const (
	SendReminder      Action = "send_reminder"
	EscalateToAirSewa Action = "escalate_to_airsewa"
)

// Reasons attached to notices.
const (
	ReasonDeadlineExceeded = "30-day deadline exceeded"
	ReasonReminder         = "15 days elapsed without response"
)

// Snapshot is the monitor's view of one claim.
type Snapshot struct {
	ClaimID     string           `json:"claimId"`
	Status      lifecycle.Status `json:"status"`
	SubmittedAt *time.Time       `json:"submittedAt,omitempty"`
}

// Notice asks a collaborator to act on one claim.
type Notice struct {
	ClaimID     string `json:"claimId"`
	Action      Action `json:"action"`
	Reason      string `json:"reason"`
	ElapsedDays int    `json:"elapsedDays"`
}

func (n Notice) String() string {
	return fmt.Sprintf("%s %s (%d days)", n.ClaimID, n.Action, n.ElapsedDays)
}

// ElapsedDays returns the whole days between submittedAt and now.
func ElapsedDays(submittedAt, now time.Time) int {
	d := now.Sub(submittedAt)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// Check returns the notice for one claim, if any. Only claims sitting in
// SUBMITTED_TO_AIRLINE with a submission time are considered.
func Check(s Snapshot, now time.Time) (Notice, bool) {
	if s.Status != lifecycle.SubmittedToAirline || s.SubmittedAt == nil {
		return Notice{}, false
	}

	days := ElapsedDays(*s.SubmittedAt, now)
	switch {
	case days >= EscalationAfterDays:
		return Notice{ClaimID: s.ClaimID, Action: EscalateToAirSewa, Reason: ReasonDeadlineExceeded, ElapsedDays: days}, true
	case days >= ReminderAfterDays:
		return Notice{ClaimID: s.ClaimID, Action: SendReminder, Reason: ReasonReminder, ElapsedDays: days}, true
	}
	return Notice{}, false
}

// Monitor checks every snapshot independently and returns the notices in
// input order.
func Monitor(snapshots []Snapshot, now time.Time) []Notice {
	var notices []Notice
	for _, s := range snapshots {
		if n, ok := Check(s, now); ok {
			notices = append(notices, n)
		}
	}
	return notices
}
