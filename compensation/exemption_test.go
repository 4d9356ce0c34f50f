package compensation

import (
	"testing"

	"github.com/liamcoop/flyclaim/rules"
)

// TestEvaluateExemption covers the vocabulary, its priority order and the cancellation conditions
func TestEvaluateExemption(t *testing.T) {
	testCases := []struct {
		name     string
		kind     DisruptionKind
		reason   string
		notice   *int
		altHours *float64
		want     ExemptionKind // zero means not exempt
	}{
		{"weather", Delay, "Extraordinary WEATHER conditions", nil, nil, ExemptWeather},
		{"cyclone", Delay, "cyclone Biparjoy", nil, nil, ExemptWeather},
		{"storm", Cancellation, "thunderstorm", nil, nil, ExemptWeather},
		{"security", Delay, "security threat", nil, nil, ExemptSecurity},
		{"terrorism", Delay, "Terrorism alert", nil, nil, ExemptSecurity},
		{"atc strike", Delay, "ATC strike in Kolkata", nil, nil, ExemptATCStrike},
		{"air traffic control strike", Delay, "air traffic control strike", nil, nil, ExemptATCStrike},
		{"controllers strike", Delay, "Air traffic controllers strike", nil, nil, ExemptATCStrike},
		{"strike by atc", Cancellation, "strike by ATC staff", nil, nil, ExemptATCStrike},
		{"political instability", Delay, "political instability in region", nil, nil, ExemptPoliticalInstability},
		{"riots", Delay, "riots near airport", nil, nil, ExemptPoliticalInstability},
		{"civil unrest", Delay, "civil unrest", nil, nil, ExemptPoliticalInstability},
		{"dispatch is not atc", Delay, "late aircraft dispatch", nil, nil, 0},
		{"hatch is not atc", Delay, "cargo hatch fault", nil, nil, 0},
		{"mismatch is not atc", Delay, "crew roster mismatch", nil, nil, 0},
		{"atc congestion", Delay, "ATC congestion", nil, nil, 0},
		{"ground staff strike", Delay, "ground staff strike", nil, nil, 0},
		{"brainstorm is not weather", Delay, "ops brainstorm overran", nil, nil, 0},
		{"patriot is not riot", Delay, "Patriot Airways codeshare delay", nil, nil, 0},
		{"insecurity is not security", Delay, "job insecurity among crew", nil, nil, 0},
		{"political rally", Delay, "political rally", nil, nil, 0},
		{"weather beats strike", Delay, "strike during storm", nil, nil, ExemptWeather},
		{"security beats political", Delay, "political security concern", nil, nil, ExemptSecurity},
		{"no reason", Delay, "", nil, nil, 0},
		{"technical fault", Delay, "technical fault", nil, nil, 0},
		{"notice 14 days", Cancellation, "", intp(14), nil, ExemptEarlyNotification},
		{"notice 13 days", Cancellation, "", intp(13), nil, 0},
		{"notice on delay ignored", Delay, "", intp(30), nil, 0},
		{"offer within an hour", Cancellation, "", nil, f64(1.0), ExemptAlternativeOffered},
		{"zero hour offer", Cancellation, "", nil, f64(0), ExemptAlternativeOffered},
		{"offer too late", Cancellation, "", nil, f64(1.01), 0},
		{"short notice falls through to offer", Cancellation, "", intp(3), f64(0.5), ExemptAlternativeOffered},
		{"notice beats offer", Cancellation, "", intp(20), f64(0.5), ExemptEarlyNotification},
		{"text beats notice", Cancellation, "storm", intp(20), nil, ExemptWeather},
		{"zero notice present", Cancellation, "", intp(0), nil, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateExemption(tc.kind, tc.reason, tc.notice, tc.altHours)
			if tc.want == 0 {
				if got.Exempt || got.Kind != nil {
					t.Errorf("EvaluateExemption() = %v, want not exempt", got.Kind)
				}
				return
			}
			if !got.Exempt || got.Kind == nil {
				t.Fatalf("EvaluateExemption() not exempt, want %s", tc.want)
			}
			if *got.Kind != tc.want {
				t.Errorf("EvaluateExemption() = %s, want %s", *got.Kind, tc.want)
			}
		})
	}
}

// TestDefaultExemptionRulesValid verifies the built-in rules pass validation
func TestDefaultExemptionRulesValid(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range DefaultExemptionRules() {
		if err := rules.ValidateRule(r); err != nil {
			t.Errorf("rule %s invalid: %v", r.ID, err)
		}
		if _, err := ParseExemptionKind(r.Outcome); err != nil {
			t.Errorf("rule %s has unknown outcome %s", r.ID, r.Outcome)
		}
		if seen[r.ID] {
			t.Errorf("duplicate rule ID %s", r.ID)
		}
		seen[r.ID] = true
	}
}

// TestSeedDefaultRules verifies seeding adds only missing rules
func TestSeedDefaultRules(t *testing.T) {
	store := rules.NewInMemoryRuleStore(DefaultExemptionRules()[0])
	engine, err := rules.NewEngine(store)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	added, err := SeedDefaultRules(engine)
	if err != nil {
		t.Fatalf("SeedDefaultRules() failed: %v", err)
	}
	if want := len(DefaultExemptionRules()) - 1; added != want {
		t.Errorf("added %d rules, want %d", added, want)
	}

	added, err = SeedDefaultRules(engine)
	if err != nil || added != 0 {
		t.Errorf("second seed added %d rules (err %v), want 0", added, err)
	}
}

// TestEvaluatorSkipsUnknownOutcome verifies rules naming no known exemption are ignored
func TestEvaluatorSkipsUnknownOutcome(t *testing.T) {
	engine, err := rules.NewEngine(rules.NewInMemoryRuleStore(
		&rules.Rule{ID: "bogus", Name: "Bogus", Expression: `true`, Outcome: "volcano", Priority: 1, Active: true},
		&rules.Rule{ID: "weather", Name: "Weather", Expression: `reason.contains("fog")`, Outcome: "weather", Priority: 2, Active: true},
	))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	ev := NewExemptionEvaluator(engine)
	got, err := ev.Evaluate(Delay, "fog", nil, nil)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !got.Exempt || *got.Kind != ExemptWeather {
		t.Errorf("Evaluate() = %+v, want weather", got)
	}

	got, _ = ev.Evaluate(Delay, "clear skies", nil, nil)
	if got.Exempt {
		t.Error("unknown outcome should not exempt")
	}
}

// TestEnumText covers parsing and text marshalling of the closed enums
func TestEnumText(t *testing.T) {
	k, err := ParseDisruptionKind(" Denied_Boarding ")
	if err != nil || k != DeniedBoarding {
		t.Errorf("ParseDisruptionKind() = %v, %v", k, err)
	}
	if _, err := ParseDisruptionKind("diverted"); err == nil {
		t.Error("unknown kind should be rejected")
	}

	var c Category
	if err := c.UnmarshalText([]byte("domestic_medium")); err != nil || c != DomesticMedium {
		t.Errorf("UnmarshalText() = %v, %v", c, err)
	}
	if _, err := Category(0).MarshalText(); err == nil {
		t.Error("zero category should not marshal")
	}

	b, err := ExemptATCStrike.MarshalText()
	if err != nil || string(b) != "atc_strike" {
		t.Errorf("MarshalText() = %s, %v", b, err)
	}
}
