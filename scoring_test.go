package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreDefaults(t *testing.T) {
	rules := NewRuleTable()

	assert.Equal(t, 12, rules.Score([]string{"pregnant", "fever"}, nil))
	assert.Equal(t, 10, rules.Score([]string{"PREGNANT"}, nil)) // case-insensitive
	assert.Equal(t, 0, rules.Score([]string{"sprain"}, nil))    // unknown tag
	assert.Equal(t, 0, rules.Score(nil, nil))
}

func TestScoreOverride(t *testing.T) {
	rules := NewRuleTable()

	// Any integer-coercible override wins outright, not additively.
	assert.Equal(t, 5, rules.Score([]string{"pregnant", "fever"}, float64(5)))
	assert.Equal(t, 7, rules.Score(nil, "7"))
	assert.Equal(t, 3, rules.Score(nil, json.Number("3")))

	// A malformed override falls back to the tag sum.
	assert.Equal(t, 12, rules.Score([]string{"pregnant", "fever"}, "not-a-number"))
	assert.Equal(t, 2, rules.Score([]string{"fever"}, []string{"nope"}))
}

func TestSetRulesReplacesTable(t *testing.T) {
	rules := NewRuleTable()

	got, err := rules.SetRules(map[string]any{"Cardiac": float64(20), "burn": "4"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"cardiac": 20, "burn": 4}, got)

	// Replace, not merge: the defaults are gone.
	assert.Equal(t, 0, rules.Score([]string{"pregnant"}, nil))
	assert.Equal(t, 24, rules.Score([]string{"cardiac", "burn"}, nil))
}

func TestSetRulesRejectsBadValues(t *testing.T) {
	rules := NewRuleTable()

	_, err := rules.SetRules(map[string]any{"ok": float64(1), "bad": "zzz"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "bad")

	// The failed call left the previous table intact.
	assert.Equal(t, 10, rules.Score([]string{"pregnant"}, nil))
}

func TestCoerceInt(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want int
		ok   bool
	}{
		{nil, 0, false},
		{5, 5, true},
		{int64(9), 9, true},
		{float64(8.7), 8, true},
		{"42", 42, true},
		{"4.2", 0, false},
		{json.Number("11"), 11, true},
		{true, 0, false},
	} {
		got, ok := coerceInt(tc.in)
		assert.Equal(t, tc.ok, ok, "input %v", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "input %v", tc.in)
		}
	}
}
