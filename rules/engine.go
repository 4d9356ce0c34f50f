package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/interpreter"
)

// Fact names available to rule expressions.
const (
	FactKind          = "kind"
	FactReason        = "reason"
	FactHasNotice     = "has_notice"
	FactNoticeDays    = "notice_days"
	FactHasAltOffer   = "has_alt_offer"
	FactAltOfferHours = "alt_offer_hours"
)

// costLimit bounds a single evaluation so a stored expression cannot run away.
const costLimit = 1000000

// Engine manages the CEL environment and rule compilation/evaluation.
// It is safe for concurrent use. Engines sharing a store and cache (one per
// replica) compile rules added or changed elsewhere on first evaluation.
type Engine struct {
	env      *cel.Env
	store    RuleStore
	cache    RulesCache         // cache for active rules list
	programs map[string]program // ruleID -> compiled program
	mu       sync.RWMutex
}

// program is a compiled rule together with the expression it came from.
type program struct {
	expression string
	prog       cel.Program
}

// NewEnv returns the CEL environment declaring the disruption facts.
func NewEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(FactKind, cel.StringType),
		cel.Variable(FactReason, cel.StringType),
		cel.Variable(FactHasNotice, cel.BoolType),
		cel.Variable(FactNoticeDays, cel.IntType),
		cel.Variable(FactHasAltOffer, cel.BoolType),
		cel.Variable(FactAltOfferHours, cel.DoubleType),
	)
}

// NewEngine creates a rules engine over the disruption fact environment
// with an in-memory cache.
func NewEngine(store RuleStore) (*Engine, error) {
	return NewEngineWithCache(store, NewInMemoryRulesCache(DefaultCacheConfig()))
}

// NewEngineWithCache creates a rules engine using the given cache for the
// active rules list. All active rules are compiled up front.
func NewEngineWithCache(store RuleStore, cache RulesCache) (*Engine, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	en := &Engine{
		env:      env,
		store:    store,
		cache:    cache,
		programs: make(map[string]program),
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	return en, nil
}

// CompileRule compiles a single rule expression to a CEL program and caches it.
// Expressions must be boolean.
func (en *Engine) CompileRule(ruleID, expression string) error {
	_, err := en.compile(ruleID, expression)
	return err
}

func (en *Engine) compile(ruleID, expression string) (cel.Program, error) {
	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("compile error: expression must be boolean, got %s", ast.OutputType())
	}

	prog, err := en.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	en.mu.Lock()
	en.programs[ruleID] = program{expression: expression, prog: prog}
	en.mu.Unlock()

	return prog, nil
}

// programFor returns the compiled program for rule, compiling it when this
// engine has not seen the rule's current expression yet.
func (en *Engine) programFor(rule *Rule) (cel.Program, error) {
	en.mu.RLock()
	p, ok := en.programs[rule.ID]
	en.mu.RUnlock()

	if ok && p.expression == rule.Expression {
		return p.prog, nil
	}
	prog, err := en.compile(rule.ID, rule.Expression)
	if err != nil {
		return nil, fmt.Errorf("rule %s does not compile: %w", rule.ID, err)
	}
	return prog, nil
}

// CompileAllRules compiles all active rules from the store and
// repopulates the cache.
func (en *Engine) CompileAllRules() error {
	rules, err := en.store.ListActive()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if err := en.CompileRule(rule.ID, rule.Expression); err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
	}

	en.cache.Set(rules)

	return nil
}

// AddRule validates, compiles and stores a new rule.
func (en *Engine) AddRule(r *Rule) error {
	if err := ValidateRule(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	// Check existence first so an existing program is not overwritten
	if _, err := en.store.Get(r.ID); err == nil {
		return fmt.Errorf("rule %s: %w", r.ID, ErrRuleExists)
	}

	if err := en.CompileRule(r.ID, r.Expression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if err := en.store.Add(r); err != nil {
		en.mu.Lock()
		delete(en.programs, r.ID)
		en.mu.Unlock()
		return err
	}

	en.cache.Invalidate()

	return nil
}

// UpdateRule validates and recompiles an existing rule before storing it.
func (en *Engine) UpdateRule(r *Rule) error {
	if err := ValidateRule(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if err := en.CompileRule(r.ID, r.Expression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if err := en.store.Update(r); err != nil {
		return err
	}

	en.cache.Invalidate()

	return nil
}

// DeleteRule removes a rule from the store and compiled programs.
func (en *Engine) DeleteRule(ruleID string) error {
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.programs, ruleID)
	en.mu.Unlock()

	en.cache.Invalidate()

	return nil
}

// Rules returns the active rules in evaluation order.
func (en *Engine) Rules() ([]*Rule, error) {
	rules := en.cache.Get()
	if rules == nil {
		var err error
		rules, err = en.store.ListActive()
		if err != nil {
			return nil, err
		}
		en.cache.Set(rules)
	}
	return sortByPriority(rules), nil
}

// Rule returns the stored rule with the given ID, active or not.
func (en *Engine) Rule(ruleID string) (*Rule, error) {
	return en.store.Get(ruleID)
}

// Evaluate evaluates a single active rule against the provided facts.
func (en *Engine) Evaluate(ruleID string, facts map[string]any) (*EvaluationResult, error) {
	rule, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		return nil, fmt.Errorf("rule %s: %w", ruleID, ErrRuleInactive)
	}

	result := en.evaluate(rule, facts)
	return result, result.Error
}

// EvaluateAll evaluates all active rules in priority order. A rule that
// fails to evaluate is reported in its result and does not stop the others.
func (en *Engine) EvaluateAll(facts map[string]any) ([]*EvaluationResult, error) {
	rules, err := en.Rules()
	if err != nil {
		return nil, err
	}

	results := make([]*EvaluationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, en.evaluate(rule, facts))
	}

	return results, nil
}

// FirstMatch returns the result of the first rule, in priority order, whose
// expression holds for facts. Rules rejected by accept are skipped without
// being evaluated; a nil accept takes every rule. It returns nil when no
// rule matches. Rules that fail to evaluate count as not matching.
func (en *Engine) FirstMatch(facts map[string]any, accept func(*Rule) bool) (*EvaluationResult, error) {
	rules, err := en.Rules()
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if accept != nil && !accept(rule) {
			continue
		}
		if res := en.evaluate(rule, facts); res.Matched {
			return res, nil
		}
	}
	return nil, nil
}

func (en *Engine) evaluate(rule *Rule, facts map[string]any) *EvaluationResult {
	result := &EvaluationResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Outcome:  rule.Outcome,
	}

	prog, err := en.programFor(rule)
	if err != nil {
		result.Error = err
		return result
	}

	out, details, err := prog.Eval(facts)
	if err != nil {
		result.Error = err
		return result
	}

	// Non-boolean output counts as no match
	if b, ok := out.Value().(bool); ok {
		result.Matched = b
	}
	if details != nil {
		result.Trace = traceValues(details.State())
	}

	return result
}

// traceValues flattens CEL evaluation state into the value observed for
// each evaluated sub-expression, keyed by expression ID.
func traceValues(state interpreter.EvalState) map[int64]any {
	if state == nil {
		return nil
	}
	ids := state.IDs()
	trace := make(map[int64]any, len(ids))
	for _, id := range ids {
		if v, ok := state.Value(id); ok && v != nil {
			if err, isErr := v.Value().(error); isErr {
				trace[id] = err.Error()
				continue
			}
			trace[id] = v.Value()
		}
	}
	return trace
}

func sortByPriority(rules []*Rule) []*Rule {
	ordered := make([]*Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}
