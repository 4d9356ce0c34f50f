package compensation

import (
	"fmt"
	"math"
	"strconv"

	"github.com/liamcoop/flyclaim/rules"
)

// Delay thresholds in hours.
const (
	DomesticDelayThreshold      = 2.0
	InternationalDelayThreshold = 4.0
)

// Downgrade refund percentages of the fare paid.
const (
	DomesticDowngradePercent      = 75
	InternationalDowngradePercent = 50
)

// delayAmounts also applies to cancellations.
var delayAmounts = map[Category]int64{
	DomesticShort:  5000,
	DomesticMedium: 7500,
	DomesticLong:   10000,
	International:  20000,
}

// Denied boarding is flat across the domestic tiers.
var deniedBoardingAmounts = map[Category]int64{
	DomesticShort:  10000,
	DomesticMedium: 10000,
	DomesticLong:   10000,
	International:  20000,
}

// Reasons for results that lack a required field.
const (
	ReasonMissingDelay = "missing delay duration"
	ReasonMissingFare  = "missing fare paid"
)

// Calculator produces compensation results using exemptions decided by
// a rules engine.
type Calculator struct {
	exemptions *ExemptionEvaluator
}

// NewCalculator creates a calculator over engine.
func NewCalculator(engine *rules.Engine) *Calculator {
	return &Calculator{exemptions: NewExemptionEvaluator(engine)}
}

// Exemptions returns the evaluator the calculator consults.
func (c *Calculator) Exemptions() *ExemptionEvaluator {
	return c.exemptions
}

// Calculate decides eligibility and amount for req. Missing required
// fields yield an ineligible result, not an error; the error is reserved
// for a rules engine that cannot list its rules.
func (c *Calculator) Calculate(req DisruptionRequest) (Result, error) {
	exemption, err := c.exemptions.Evaluate(req.Kind, req.ExemptionReason, req.CancellationNoticeDays, req.AlternativeOfferHours)
	if err != nil {
		return Result{}, err
	}
	return decide(req, exemption), nil
}

// CalculateCompensation evaluates req against the built-in exemption rules.
func CalculateCompensation(req DisruptionRequest) Result {
	return decide(req, EvaluateExemption(req.Kind, req.ExemptionReason, req.CancellationNoticeDays, req.AlternativeOfferHours))
}

// DelayThreshold returns the minimum qualifying delay for category.
func DelayThreshold(category Category) float64 {
	if category == International {
		return InternationalDelayThreshold
	}
	return DomesticDelayThreshold
}

func decide(req DisruptionRequest, exemption ExemptionOutcome) Result {
	category := Classify(req.FlightDurationHours, req.International)
	res := Result{
		Currency:  Currency,
		Kind:      req.Kind,
		Category:  category,
		Exemption: exemption,
	}

	if exemption.Exempt {
		res.Reason = "No compensation due to exemption: " + exemption.Kind.String()
		return res
	}

	switch req.Kind {
	case Delay:
		if req.DelayHours == nil {
			res.Reason = ReasonMissingDelay
			return res
		}
		delay := *req.DelayHours
		threshold := DelayThreshold(category)
		if delay >= threshold {
			res.Eligible = true
			res.Amount = delayAmounts[category]
			res.Reason = fmt.Sprintf("Delay of %s hours exceeds threshold of %s hours for %s flight",
				formatHours(delay), formatHours(threshold), category)
		} else {
			res.Reason = fmt.Sprintf("Delay of %s hours does not meet minimum threshold of %s hours for %s flight",
				formatHours(delay), formatHours(threshold), category)
		}

	case Cancellation:
		res.Eligible = true
		res.Amount = delayAmounts[category]
		res.Reason = fmt.Sprintf("Flight cancellation without adequate notice or alternative for %s flight", category)

	case DeniedBoarding:
		res.Eligible = true
		res.Amount = deniedBoardingAmounts[category]
		res.Reason = fmt.Sprintf("Denied boarding despite valid confirmed ticket on %s flight", category)

	case Downgrade:
		if req.FarePaid == nil {
			res.Reason = ReasonMissingFare
			return res
		}
		pct := DomesticDowngradePercent
		if category == International {
			pct = InternationalDowngradePercent
		}
		res.Eligible = true
		res.Amount = int64(math.Floor(*req.FarePaid * float64(pct) / 100))
		res.Reason = downgradeReason(req, pct)

	default:
		res.Reason = fmt.Sprintf("unsupported disruption kind %s", req.Kind)
	}

	return res
}

func downgradeReason(req DisruptionRequest, pct int) string {
	if req.DowngradeFrom != "" && req.DowngradeTo != "" {
		return fmt.Sprintf("Downgrade from %s to %s: %d%% refund of fare %s",
			req.DowngradeFrom, req.DowngradeTo, pct, formatHours(*req.FarePaid))
	}
	return fmt.Sprintf("Downgrade: %d%% refund of fare %s", pct, formatHours(*req.FarePaid))
}

// formatHours renders a number without trailing zeros so reasons are
// stable for identical input.
func formatHours(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
