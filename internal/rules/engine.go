// Package rules implements the fixed fraud rules and the CEL engine for operator-defined rules.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// Engine is the CEL-based engine for custom rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new custom rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with transaction and profile variables
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("city", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("avg_amount", cel.DoubleType),
		cel.Variable("std_amount", cel.DoubleType),
		cel.Variable("trust_score", cel.DoubleType),
		cel.Variable("txn_count", cel.IntType),
		cel.Variable("velocity_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds everything a custom rule may look at.
type EvaluateInput struct {
	Tx            *domain.Transaction
	Profile       *domain.UserProfile
	VelocityCount int64
}

// EvaluateAll evaluates all loaded rules in parallel and returns the ids
// of the rules that matched, sorted by id.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) []string {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 || input == nil || input.Tx == nil {
		return nil
	}

	activation := buildActivation(input)

	matched := make([]bool, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			matched[idx] = evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()

	var ids []string
	for i, ok := range matched {
		if ok {
			ids = append(ids, rules[i].Config.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func buildActivation(input *EvaluateInput) map[string]any {
	tx := input.Tx

	var country, city string
	if tx.Location != nil {
		country = strings.TrimSpace(tx.Location.Country)
		city = strings.TrimSpace(tx.Location.City)
	}

	activation := map[string]any{
		"amount":         tx.AmountFloat(),
		"currency":       tx.Currency,
		"channel":        strings.ToUpper(tx.Channel),
		"merchant":       strings.ToLower(tx.MerchantCategory),
		"country":        strings.ToLower(country),
		"city":           city,
		"hour":           int64(tx.Timestamp.UTC().Hour()),
		"direction":      string(tx.Direction),
		"avg_amount":     0.0,
		"std_amount":     0.0,
		"trust_score":    domain.DefaultTrustScore,
		"txn_count":      int64(0),
		"velocity_count": input.VelocityCount,
	}

	if p := input.Profile; p != nil {
		activation["avg_amount"] = p.AmountStats.Avg
		activation["std_amount"] = p.AmountStats.Std
		activation["trust_score"] = p.TrustScore
		activation["txn_count"] = p.RiskStats.TotalTxnCount
	}

	return activation
}

// evaluateRule runs one program. Evaluation errors count as no match.
func evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) bool {
	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		slog.Debug("custom rule evaluation failed", "rule_id", rule.Config.ID, "error", err)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rule configurations, sorted by id.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// GetRule returns a loaded rule by id.
func (e *Engine) GetRule(id string) (*domain.RuleConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	compiled, ok := e.compiledRules[id]
	if !ok {
		return nil, false
	}
	return compiled.Config, true
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if isFixedRuleID(cfg.ID) {
		return nil, fmt.Errorf("rule id %s is reserved", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func isFixedRuleID(id string) bool {
	switch id {
	case domain.RuleExtremeAmount, domain.RuleVeryHighAmount, domain.RuleNightHighAmount,
		domain.RuleRiskyMerchant, domain.RuleNonDefaultChannel, domain.RuleCrossBorder,
		domain.RuleProfileAmountOutlier:
		return true
	}
	return false
}
