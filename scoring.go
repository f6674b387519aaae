package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// defaultPriorityRules maps patient-condition tags to their weights.
func defaultPriorityRules() map[string]int {
	return map[string]int{
		"pregnant": 10,
		"fever":    2,
	}
}

// RuleTable maps condition tags (lower-cased) to integer weights. Reads take
// an immutable snapshot, so scoring during a concurrent SetRules sees either
// the old table or the new one, never a mix.
type RuleTable struct {
	rules atomic.Pointer[map[string]int]
}

func NewRuleTable() *RuleTable {
	t := &RuleTable{}
	rules := defaultPriorityRules()
	t.rules.Store(&rules)
	return t
}

// Score sums the weights of the declared tags, matching case-insensitively;
// unknown tags contribute 0. An override that coerces to an integer wins
// outright; a malformed override falls back to the tag sum.
func (t *RuleTable) Score(tags []string, override any) int {
	if v, ok := coerceInt(override); ok {
		return v
	}
	rules := *t.rules.Load()
	score := 0
	for _, tag := range tags {
		score += rules[strings.ToLower(tag)]
	}
	return score
}

// SetRules replaces the whole table. Keys are lower-cased; every value must
// be integer-coercible or the call fails without touching the table.
func (t *RuleTable) SetRules(raw map[string]any) (map[string]int, error) {
	next := make(map[string]int, len(raw))
	for k, v := range raw {
		n, ok := coerceInt(v)
		if !ok {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid rule value for %s", k)}
		}
		next[strings.ToLower(k)] = n
	}
	t.rules.Store(&next)
	return next, nil
}

// Rules returns the current table snapshot. Callers must not mutate it.
func (t *RuleTable) Rules() map[string]int {
	return *t.rules.Load()
}

// coerceInt accepts the integer shapes JSON decoding can produce: numbers
// (truncated), numeric strings, and json.Number.
func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// coerceFloat accepts the numeric shapes JSON decoding can produce.
func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
		return 0, false
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
