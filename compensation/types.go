package compensation

import (
	"errors"
	"fmt"
	"strings"
)

// Currency is the unit of every compensation amount.
const Currency = "INR"

// ErrMalformedInput is returned for requests that must be rejected before
// they reach the calculator: unknown enum values or negative numerics.
var ErrMalformedInput = errors.New("malformed input")

// DisruptionKind is the type of disruption a passenger experienced.
type DisruptionKind uint8

const (
	Delay DisruptionKind = iota + 1
	Cancellation
	DeniedBoarding
	Downgrade
)

var disruptionKindNames = map[DisruptionKind]string{
	Delay:          "delay",
	Cancellation:   "cancellation",
	DeniedBoarding: "denied_boarding",
	Downgrade:      "downgrade",
}

func (k DisruptionKind) String() string {
	if s, ok := disruptionKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("DisruptionKind(%d)", uint8(k))
}

// ParseDisruptionKind parses the wire name of a disruption kind.
func ParseDisruptionKind(s string) (DisruptionKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range disruptionKindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown disruption kind %q", ErrMalformedInput, s)
}

func (k DisruptionKind) MarshalText() ([]byte, error) {
	if _, ok := disruptionKindNames[k]; !ok {
		return nil, fmt.Errorf("%w: invalid disruption kind %d", ErrMalformedInput, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *DisruptionKind) UnmarshalText(b []byte) error {
	parsed, err := ParseDisruptionKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Category is the duration bucket that selects compensation amounts.
type Category uint8

const (
	DomesticShort Category = iota + 1
	DomesticMedium
	DomesticLong
	International
)

var categoryNames = map[Category]string{
	DomesticShort:  "domestic_short",
	DomesticMedium: "domestic_medium",
	DomesticLong:   "domestic_long",
	International:  "international",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// IsDomestic reports whether c is one of the domestic tiers.
func (c Category) IsDomestic() bool {
	return c == DomesticShort || c == DomesticMedium || c == DomesticLong
}

// ParseCategory parses the wire name of a category.
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown category %q", ErrMalformedInput, s)
}

func (c Category) MarshalText() ([]byte, error) {
	if _, ok := categoryNames[c]; !ok {
		return nil, fmt.Errorf("%w: invalid category %d", ErrMalformedInput, uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ExemptionKind names the circumstance that relieves the airline of paying.
type ExemptionKind uint8

const (
	ExemptWeather ExemptionKind = iota + 1
	ExemptSecurity
	ExemptATCStrike
	ExemptPoliticalInstability
	ExemptEarlyNotification
	ExemptAlternativeOffered
)

var exemptionKindNames = map[ExemptionKind]string{
	ExemptWeather:              "weather",
	ExemptSecurity:             "security",
	ExemptATCStrike:            "atc_strike",
	ExemptPoliticalInstability: "political_instability",
	ExemptEarlyNotification:    "early_notification",
	ExemptAlternativeOffered:   "alternative_offered",
}

func (e ExemptionKind) String() string {
	if s, ok := exemptionKindNames[e]; ok {
		return s
	}
	return fmt.Sprintf("ExemptionKind(%d)", uint8(e))
}

// ParseExemptionKind parses the wire name of an exemption kind.
func ParseExemptionKind(s string) (ExemptionKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for e, n := range exemptionKindNames {
		if n == name {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown exemption kind %q", ErrMalformedInput, s)
}

func (e ExemptionKind) MarshalText() ([]byte, error) {
	if _, ok := exemptionKindNames[e]; !ok {
		return nil, fmt.Errorf("%w: invalid exemption kind %d", ErrMalformedInput, uint8(e))
	}
	return []byte(e.String()), nil
}

func (e *ExemptionKind) UnmarshalText(b []byte) error {
	parsed, err := ParseExemptionKind(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// DisruptionRequest is the validated description of one disrupted journey.
// Optional numerics are nil when the passenger did not supply them.
type DisruptionRequest struct {
	Kind                   DisruptionKind `json:"kind"`
	FlightDurationHours    float64        `json:"flightDurationHours"`
	International          bool           `json:"international"`
	DelayHours             *float64       `json:"delayHours,omitempty"`
	CancellationNoticeDays *int           `json:"cancellationNoticeDays,omitempty"`
	AlternativeOfferHours  *float64       `json:"alternativeOfferHours,omitempty"`
	FarePaid               *float64       `json:"farePaid,omitempty"`
	ExemptionReason        string         `json:"exemptionReason,omitempty"`
	DowngradeFrom          string         `json:"downgradeFrom,omitempty"`
	DowngradeTo            string         `json:"downgradeTo,omitempty"`
}

// Validate rejects requests the calculator must never see.
func (r DisruptionRequest) Validate() error {
	if _, ok := disruptionKindNames[r.Kind]; !ok {
		return fmt.Errorf("%w: disruption kind is required", ErrMalformedInput)
	}
	if r.FlightDurationHours < 0 {
		return fmt.Errorf("%w: flight duration %v is negative", ErrMalformedInput, r.FlightDurationHours)
	}
	if r.DelayHours != nil && *r.DelayHours < 0 {
		return fmt.Errorf("%w: delay hours %v is negative", ErrMalformedInput, *r.DelayHours)
	}
	if r.CancellationNoticeDays != nil && *r.CancellationNoticeDays < 0 {
		return fmt.Errorf("%w: cancellation notice days %d is negative", ErrMalformedInput, *r.CancellationNoticeDays)
	}
	if r.AlternativeOfferHours != nil && *r.AlternativeOfferHours < 0 {
		return fmt.Errorf("%w: alternative offer hours %v is negative", ErrMalformedInput, *r.AlternativeOfferHours)
	}
	if r.FarePaid != nil && *r.FarePaid < 0 {
		return fmt.Errorf("%w: fare paid %v is negative", ErrMalformedInput, *r.FarePaid)
	}
	return nil
}

// ExemptionOutcome reports whether an exemption applies. Kind is nil
// exactly when Exempt is false.
type ExemptionOutcome struct {
	Exempt bool           `json:"exempt"`
	Kind   *ExemptionKind `json:"kind,omitempty"`
}

// Result is the authoritative compensation decision for one request.
type Result struct {
	Eligible  bool             `json:"eligible"`
	Amount    int64            `json:"amount"`
	Currency  string           `json:"currency"`
	Kind      DisruptionKind   `json:"kind"`
	Category  Category         `json:"category"`
	Reason    string           `json:"reason"`
	Exemption ExemptionOutcome `json:"exemption"`
}

// Obligations are the services an airline owes while the passenger waits.
type Obligations struct {
	Meals         bool `json:"meals"`
	Hotel         bool `json:"hotel"`
	Communication bool `json:"communication"`
	RefundOption  bool `json:"refundOption"`
}
