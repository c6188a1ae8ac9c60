package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for a custom rule's CEL expression.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, guarding against cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// programCacheSize bounds the number of compiled programs kept in memory.
const programCacheSize = 512

// Evaluator compiles and runs CEL custom-rule conditions. Compiled
// programs are cached by expression text so a rule list that is
// re-evaluated every request only pays compilation cost once.
type Evaluator struct {
	env   *cel.Env
	cache *programCache
}

// NewEvaluator builds an Evaluator against the policy CEL environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	return &Evaluator{env: env, cache: newProgramCache(programCacheSize)}, nil
}

// Compile parses, type-checks, and builds a runnable program for expr,
// consulting the compiled-program cache first.
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	if prg, ok := e.cache.get(expr); ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	e.cache.put(expr, prg)
	return prg, nil
}

// validateNesting checks that expr does not exceed the maximum allowed
// nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that expr is syntactically valid and within
// the safety limits (length, nesting) before it is ever compiled for
// real evaluation.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}

// Evaluate runs rule's condition against evalCtx's variable bindings,
// bounded by evalTimeout so a pathological expression cannot stall the
// dispatch path.
func (e *Evaluator) Evaluate(ctx context.Context, rule policy.Rule, evalCtx policy.EvaluationContext) (bool, error) {
	prg, err := e.Compile(rule.Condition)
	if err != nil {
		return false, err
	}

	activation := BuildActivation(evalCtx)

	evalCtx2, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx2, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}

var _ policy.RuleEvaluator = (*Evaluator)(nil)

// programCache is a bounded LRU cache of compiled CEL programs keyed by
// expression text.
type programCache struct {
	mu      sync.Mutex
	entries map[string]*programCacheEntry
	head    *programCacheEntry
	tail    *programCacheEntry
	maxSize int
}

type programCacheEntry struct {
	key        string
	prg        cel.Program
	prev, next *programCacheEntry
}

func newProgramCache(maxSize int) *programCache {
	return &programCache{entries: make(map[string]*programCacheEntry, maxSize), maxSize: maxSize}
}

func (c *programCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *programCache) get(key string) (cel.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToHeadLocked(e)
	return e.prg, true
}

func (c *programCache) put(key string, prg cel.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.prg = prg
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &programCacheEntry{key: key, prg: prg}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

func (c *programCache) moveToHeadLocked(e *programCacheEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *programCache) pushHeadLocked(e *programCacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *programCache) unlinkLocked(e *programCacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *programCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
