package compensation

import (
	"fmt"
	"strings"

	"github.com/liamcoop/flyclaim/rules"
)

// DefaultExemptionRules returns the built-in exemption vocabulary in
// evaluation order. Textual causes are checked before the cancellation
// notice and alternative-flight conditions. Terms match whole words only,
// so "dispatch" is not an ATC strike and "brainstorm" is not a storm.
func DefaultExemptionRules() []*rules.Rule {
	return []*rules.Rule{
		{
			ID:         "weather",
			Name:       "Extraordinary weather",
			Expression: `reason.matches(r"\b(weather|cyclones?|(thunder|snow|sand|dust|hail|rain)?storms?)\b")`,
			Outcome:    ExemptWeather.String(),
			Priority:   10,
			Active:     true,
		},
		{
			ID:         "security",
			Name:       "Security threat",
			Expression: `reason.matches(r"\b(security|terrorism|terrorist)\b")`,
			Outcome:    ExemptSecurity.String(),
			Priority:   20,
			Active:     true,
		},
		{
			ID:         "atc_strike",
			Name:       "Air traffic control strike",
			Expression: `reason.matches(r"\b(atc|air traffic control(lers?)?) strikes?\b") || reason.matches(r"\bstrikes? (by|of) (atc|air traffic control(lers?)?)\b")`,
			Outcome:    ExemptATCStrike.String(),
			Priority:   30,
			Active:     true,
		},
		{
			ID:         "political_instability",
			Name:       "Political instability",
			Expression: `reason.matches(r"\b(political (instability|unrest|crisis)|riots?|rioting|civil unrest)\b")`,
			Outcome:    ExemptPoliticalInstability.String(),
			Priority:   40,
			Active:     true,
		},
		{
			ID:         "early_notification",
			Name:       "Cancellation notified 14 or more days ahead",
			Expression: `kind == "cancellation" && has_notice && notice_days >= 14`,
			Outcome:    ExemptEarlyNotification.String(),
			Priority:   50,
			Active:     true,
		},
		{
			ID:         "alternative_offered",
			Name:       "Alternative flight within one hour",
			Expression: `kind == "cancellation" && has_alt_offer && alt_offer_hours <= 1.0`,
			Outcome:    ExemptAlternativeOffered.String(),
			Priority:   60,
			Active:     true,
		},
	}
}

// NewDefaultEngine returns a rules engine seeded with DefaultExemptionRules
// over an in-memory store.
func NewDefaultEngine() (*rules.Engine, error) {
	return rules.NewEngine(rules.NewInMemoryRuleStore(DefaultExemptionRules()...))
}

// SeedDefaultRules adds every default rule missing from the engine's store.
func SeedDefaultRules(engine *rules.Engine) (int, error) {
	existing, err := engine.Rules()
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[r.ID] = true
	}

	added := 0
	for _, r := range DefaultExemptionRules() {
		if have[r.ID] {
			continue
		}
		if err := engine.AddRule(r); err != nil {
			return added, fmt.Errorf("failed to seed rule %s: %w", r.ID, err)
		}
		added++
	}
	return added, nil
}

// Facts builds the rule facts for one exemption check. Absent optional
// values are reported through the has_* flags.
func Facts(kind DisruptionKind, reason string, noticeDays *int, altOfferHours *float64) map[string]any {
	facts := map[string]any{
		rules.FactKind:          kind.String(),
		rules.FactReason:        strings.ToLower(reason),
		rules.FactHasNotice:     noticeDays != nil,
		rules.FactNoticeDays:    int64(0),
		rules.FactHasAltOffer:   altOfferHours != nil,
		rules.FactAltOfferHours: 0.0,
	}
	if noticeDays != nil {
		facts[rules.FactNoticeDays] = int64(*noticeDays)
	}
	if altOfferHours != nil {
		facts[rules.FactAltOfferHours] = *altOfferHours
	}
	return facts
}

// ExemptionEvaluator decides exemptions from the rules held by a rules engine.
type ExemptionEvaluator struct {
	engine *rules.Engine
}

// NewExemptionEvaluator wraps engine.
func NewExemptionEvaluator(engine *rules.Engine) *ExemptionEvaluator {
	return &ExemptionEvaluator{engine: engine}
}

// Evaluate returns the first exemption, in rule priority order, that holds.
// Rules whose outcome is not a known exemption kind are skipped. The error
// is non-nil only when the engine cannot list its rules.
func (ev *ExemptionEvaluator) Evaluate(kind DisruptionKind, reason string, noticeDays *int, altOfferHours *float64) (ExemptionOutcome, error) {
	res, err := ev.engine.FirstMatch(Facts(kind, reason, noticeDays, altOfferHours), knownOutcome)
	if err != nil {
		return ExemptionOutcome{}, fmt.Errorf("failed to evaluate exemption rules: %w", err)
	}
	if res == nil {
		return ExemptionOutcome{}, nil
	}

	ek, err := ParseExemptionKind(res.Outcome)
	if err != nil {
		return ExemptionOutcome{}, nil
	}
	return ExemptionOutcome{Exempt: true, Kind: &ek}, nil
}

func knownOutcome(r *rules.Rule) bool {
	_, err := ParseExemptionKind(r.Outcome)
	return err == nil
}

var defaultEngine = mustDefaultEngine()

func mustDefaultEngine() *rules.Engine {
	engine, err := NewDefaultEngine()
	if err != nil {
		panic(fmt.Sprintf("compensation: default exemption rules do not compile: %v", err))
	}
	return engine
}

// EvaluateExemption checks the built-in exemption vocabulary.
func EvaluateExemption(kind DisruptionKind, reason string, noticeDays *int, altOfferHours *float64) ExemptionOutcome {
	// the default engine is in-memory, so listing rules cannot fail
	out, _ := NewExemptionEvaluator(defaultEngine).Evaluate(kind, reason, noticeDays, altOfferHours)
	return out
}
