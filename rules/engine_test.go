package rules

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func facts(kind, reason string) map[string]any {
	return map[string]any{
		FactKind:          kind,
		FactReason:        reason,
		FactHasNotice:     false,
		FactNoticeDays:    int64(0),
		FactHasAltOffer:   false,
		FactAltOfferHours: 0.0,
	}
}

func newTestEngine(t *testing.T, seed ...*Rule) *Engine {
	t.Helper()
	engine, err := NewEngine(NewInMemoryRuleStore(seed...))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return engine
}

// TestNewEngineCompilesExistingRules verifies active rules are compiled on construction
func TestNewEngineCompilesExistingRules(t *testing.T) {
	engine := newTestEngine(t,
		&Rule{ID: "weather", Name: "Weather", Expression: `reason.contains("weather")`, Outcome: "weather", Priority: 10, Active: true},
		&Rule{ID: "inactive", Name: "Inactive", Expression: `true`, Outcome: "security", Priority: 1, Active: false},
	)

	result, err := engine.Evaluate("weather", facts("delay", "bad weather"))
	if err != nil {
		t.Fatalf("Evaluate() failed for pre-compiled rule: %v", err)
	}
	if !result.Matched {
		t.Error("weather rule should match")
	}

	if _, err := engine.Evaluate("inactive", facts("delay", "")); err == nil {
		t.Error("inactive rule should not be compiled")
	}
}

// TestNewEngineRejectsBrokenSeed verifies construction fails when a stored rule does not compile
func TestNewEngineRejectsBrokenSeed(t *testing.T) {
	store := NewInMemoryRuleStore(&Rule{ID: "broken", Name: "Broken", Expression: `reason.contains(`, Outcome: "weather", Active: true})

	if _, err := NewEngine(store); err == nil {
		t.Fatal("NewEngine() should fail for an uncompilable rule")
	}
}

// TestCompileRule covers valid and invalid expressions against the fact environment
func TestCompileRule(t *testing.T) {
	engine := newTestEngine(t)

	testCases := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{"Simple boolean", `true`, false},
		{"String contains", `reason.contains("storm")`, false},
		{"Kind and int", `kind == "cancellation" && has_notice && notice_days >= 14`, false},
		{"Double comparison", `has_alt_offer && alt_offer_hours <= 1.0`, false},
		{"Syntax error", `reason.contains(`, true},
		{"Undeclared variable", `passenger.age > 18`, true},
		{"Non-boolean", `notice_days + 1`, true},
		{"String result", `reason`, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.CompileRule("test-rule", tc.expression)
			if tc.wantErr && err == nil {
				t.Errorf("CompileRule(%q) should return error", tc.expression)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("CompileRule(%q) failed: %v", tc.expression, err)
			}
		})
	}
}

// TestEvaluateAllPriorityOrder verifies results come back in ascending priority
func TestEvaluateAllPriorityOrder(t *testing.T) {
	engine := newTestEngine(t,
		&Rule{ID: "c", Name: "C", Expression: `true`, Outcome: "political_instability", Priority: 30, Active: true},
		&Rule{ID: "a", Name: "A", Expression: `true`, Outcome: "weather", Priority: 10, Active: true},
		&Rule{ID: "b", Name: "B", Expression: `false`, Outcome: "security", Priority: 20, Active: true},
	)

	results, err := engine.EvaluateAll(facts("delay", ""))
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, id := range want {
		if results[i].RuleID != id {
			t.Errorf("results[%d] = %s, want %s", i, results[i].RuleID, id)
		}
	}
	if results[1].Matched {
		t.Error("rule b should not match")
	}
}

// TestFirstMatch verifies the lowest-priority matching rule wins
func TestFirstMatch(t *testing.T) {
	engine := newTestEngine(t,
		&Rule{ID: "weather", Name: "Weather", Expression: `reason.contains("weather")`, Outcome: "weather", Priority: 10, Active: true},
		&Rule{ID: "strike", Name: "Strike", Expression: `reason.contains("strike")`, Outcome: "atc_strike", Priority: 30, Active: true},
	)

	testCases := []struct {
		name    string
		reason  string
		outcome string
	}{
		{"only strike", "atc strike", "atc_strike"},
		{"both terms", "strike during bad weather", "weather"},
		{"no match", "technical fault", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := engine.FirstMatch(facts("delay", tc.reason), nil)
			if err != nil {
				t.Fatalf("FirstMatch() failed: %v", err)
			}
			if tc.outcome == "" {
				if res != nil {
					t.Errorf("FirstMatch() = %s, want no match", res.Outcome)
				}
				return
			}
			if res == nil {
				t.Fatalf("FirstMatch() = nil, want %s", tc.outcome)
			}
			if res.Outcome != tc.outcome {
				t.Errorf("FirstMatch() = %s, want %s", res.Outcome, tc.outcome)
			}
		})
	}
}

// TestFirstMatchSkipsFailingRule verifies a rule failing at runtime is treated as no match
func TestFirstMatchSkipsFailingRule(t *testing.T) {
	engine := newTestEngine(t,
		&Rule{ID: "needs-reason", Name: "Needs reason", Expression: `reason.contains("storm")`, Outcome: "weather", Priority: 1, Active: true},
		&Rule{ID: "fallback", Name: "Fallback", Expression: `kind == "delay"`, Outcome: "security", Priority: 2, Active: true},
	)

	// reason missing from facts: first rule errors, second still evaluates
	f := facts("delay", "")
	delete(f, FactReason)

	res, err := engine.FirstMatch(f, nil)
	if err != nil {
		t.Fatalf("FirstMatch() failed: %v", err)
	}
	if res == nil || res.RuleID != "fallback" {
		t.Fatalf("FirstMatch() = %+v, want fallback", res)
	}

	results, _ := engine.EvaluateAll(f)
	if results[0].Error == nil {
		t.Error("EvaluateAll() should report the evaluation error of the first rule")
	}
}

// TestEngineAddRule verifies rules are validated, compiled and become visible to evaluation
func TestEngineAddRule(t *testing.T) {
	engine := newTestEngine(t)

	rule := &Rule{ID: "fog", Name: "Fog", Expression: `reason.contains("fog")`, Outcome: "weather", Priority: 5, Active: true}
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	res, err := engine.FirstMatch(facts("delay", "dense fog"), nil)
	if err != nil {
		t.Fatalf("FirstMatch() failed: %v", err)
	}
	if res == nil || res.RuleID != "fog" {
		t.Fatal("added rule should be evaluated")
	}

	if err := engine.AddRule(rule); err == nil {
		t.Error("AddRule() should reject a duplicate ID")
	}
}

// TestEngineAddRuleValidation verifies invalid rules never reach the store
func TestEngineAddRuleValidation(t *testing.T) {
	store := NewInMemoryRuleStore()
	engine, err := NewEngine(store)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	testCases := []struct {
		name string
		rule *Rule
	}{
		{"bad expression", &Rule{ID: "bad", Name: "Bad", Expression: `reason.contains(`, Outcome: "weather", Active: true}},
		{"missing outcome", &Rule{ID: "no-outcome", Name: "No outcome", Expression: `true`, Active: true}},
		{"negative priority", &Rule{ID: "neg", Name: "Neg", Expression: `true`, Outcome: "weather", Priority: -1, Active: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := engine.AddRule(tc.rule); err == nil {
				t.Error("AddRule() should fail")
			}
			if _, err := store.Get(tc.rule.ID); err == nil {
				t.Error("invalid rule should not be stored")
			}
		})
	}
}

// TestEngineUpdateAndDeleteRule verifies mutations invalidate the cached rule list
func TestEngineUpdateAndDeleteRule(t *testing.T) {
	engine := newTestEngine(t,
		&Rule{ID: "weather", Name: "Weather", Expression: `reason.contains("weather")`, Outcome: "weather", Priority: 10, Active: true},
	)

	updated := &Rule{ID: "weather", Name: "Weather", Expression: `reason.contains("monsoon")`, Outcome: "weather", Priority: 10, Active: true}
	if err := engine.UpdateRule(updated); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}

	res, _ := engine.FirstMatch(facts("delay", "monsoon rains"), nil)
	if res == nil {
		t.Fatal("updated expression should match")
	}

	if err := engine.DeleteRule("weather"); err != nil {
		t.Fatalf("DeleteRule() failed: %v", err)
	}
	res, _ = engine.FirstMatch(facts("delay", "monsoon rains"), nil)
	if res != nil {
		t.Error("deleted rule should not match")
	}

	if err := engine.DeleteRule("weather"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("DeleteRule() error = %v, want ErrRuleNotFound", err)
	}
}

// TestEngineConcurrentEvaluate verifies evaluation is safe alongside rule mutations
func TestEngineConcurrentEvaluate(t *testing.T) {
	engine := newTestEngine(t,
		&Rule{ID: "weather", Name: "Weather", Expression: `reason.contains("weather")`, Outcome: "weather", Priority: 10, Active: true},
	)

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := engine.FirstMatch(facts("delay", "weather"), nil); err != nil {
				errs <- err
			}
		}()
		go func(i int) {
			defer wg.Done()
			r := &Rule{ID: fmt.Sprintf("rule-%d", i), Name: "Concurrent", Expression: `false`, Outcome: "security", Priority: 100 + i, Active: true}
			if err := engine.AddRule(r); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}
}

// TestEnginesSharingStoreAgree verifies a rule added or changed through one
// engine is evaluated by another engine over the same store and cache
func TestEnginesSharingStoreAgree(t *testing.T) {
	store := NewInMemoryRuleStore()
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	first, err := NewEngineWithCache(store, cache)
	if err != nil {
		t.Fatalf("NewEngineWithCache() failed: %v", err)
	}
	second, err := NewEngineWithCache(store, cache)
	if err != nil {
		t.Fatalf("NewEngineWithCache() failed: %v", err)
	}

	fog := &Rule{ID: "fog", Name: "Fog", Expression: `reason.contains("fog")`, Outcome: "weather", Priority: 5, Active: true}
	if err := first.AddRule(fog); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	for name, engine := range map[string]*Engine{"first": first, "second": second} {
		res, err := engine.FirstMatch(facts("delay", "dense fog"), nil)
		if err != nil {
			t.Fatalf("%s: FirstMatch() failed: %v", name, err)
		}
		if res == nil || res.RuleID != "fog" {
			t.Errorf("%s: FirstMatch() = %+v, want fog", name, res)
		}
	}

	// the second engine holds a program for the old expression
	smog := &Rule{ID: "fog", Name: "Fog", Expression: `reason.contains("smog")`, Outcome: "weather", Priority: 5, Active: true}
	if err := first.UpdateRule(smog); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}

	res, err := second.FirstMatch(facts("delay", "dense fog"), nil)
	if err != nil {
		t.Fatalf("FirstMatch() failed: %v", err)
	}
	if res != nil {
		t.Errorf("FirstMatch() = %+v, want the updated expression to apply", res)
	}
	res, _ = second.FirstMatch(facts("delay", "smog over the city"), nil)
	if res == nil || res.RuleID != "fog" {
		t.Errorf("FirstMatch() = %+v, want fog", res)
	}
}

// TestEvaluateReportsTrace verifies single-rule evaluation returns the observed values
func TestEvaluateReportsTrace(t *testing.T) {
	engine := newTestEngine(t,
		&Rule{ID: "long_notice", Name: "Long notice", Expression: `has_notice && notice_days >= 14`, Outcome: "early_notification", Priority: 1, Active: true},
		&Rule{ID: "off", Name: "Off", Expression: `true`, Outcome: "security", Priority: 2, Active: false},
	)

	f := facts("cancellation", "")
	f[FactHasNotice] = true
	f[FactNoticeDays] = int64(20)

	res, err := engine.Evaluate("long_notice", f)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !res.Matched {
		t.Error("rule should match")
	}
	if len(res.Trace) == 0 {
		t.Fatal("Evaluate() returned no trace")
	}
	found := false
	for _, v := range res.Trace {
		if v == int64(20) {
			found = true
		}
	}
	if !found {
		t.Errorf("trace %v does not record notice_days", res.Trace)
	}

	if _, err := engine.Evaluate("off", f); !errors.Is(err, ErrRuleInactive) {
		t.Errorf("Evaluate() error = %v, want ErrRuleInactive", err)
	}
	if _, err := engine.Evaluate("missing", f); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Evaluate() error = %v, want ErrRuleNotFound", err)
	}
}
