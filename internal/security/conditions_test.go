package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionPredicates(t *testing.T) {
	event := &Event{
		Type:   EventSuspiciousRequest,
		Source: Source{IP: "192.168.1.10", UserAgent: "Mozilla/5.0 SQLMap/1.7"},
		Details: map[string]string{
			"path": "/api/v1/payouts",
		},
		Context: Context{RiskScore: 60, PreviousEventCount: 3},
	}

	assert.True(t, Equals("ip", FieldIP, "192.168.1.10").Match(event))
	assert.False(t, Equals("ip", FieldIP, "192.168.1.11").Match(event))

	assert.True(t, Contains("ua", FieldUserAgent, "sqlmap").Match(event), "contains is case-insensitive")
	assert.False(t, Contains("ua", FieldUserAgent, "nikto").Match(event))

	assert.True(t, Contains("path", FieldDetail("path"), "payouts").Match(event))
	assert.False(t, Contains("missing", FieldDetail("absent"), "x").Match(event))

	assert.True(t, GreaterThan("risk", FieldRiskScore, 50).Match(event))
	assert.False(t, GreaterThan("risk", FieldRiskScore, 60).Match(event))
	assert.True(t, LessThan("previous", FieldPreviousCount, 4).Match(event))
}

func TestMatchesCompilesOnce(t *testing.T) {
	cond, err := Matches("ip", FieldIP, `^192\.168\.`)
	require.NoError(t, err)
	assert.True(t, cond.Match(&Event{Source: Source{IP: "192.168.0.1"}}))
	assert.False(t, cond.Match(&Event{Source: Source{IP: "10.0.0.1"}}))

	_, err = Matches("ip", FieldIP, `(`)
	assert.Error(t, err, "invalid patterns are rejected at build time")
}

func TestMatchAllIsConjunction(t *testing.T) {
	event := &Event{Source: Source{IP: "192.168.0.1", UserID: "user-1"}}
	conds := []Condition{
		Equals("ip", FieldIP, "192.168.0.1"),
		Equals("user", FieldUserID, "user-1"),
	}
	assert.True(t, matchAll(conds, event))
	assert.True(t, matchAll(nil, event), "empty conjunction matches everything")

	conds = append(conds, Equals("user", FieldUserID, "someone-else"))
	assert.False(t, matchAll(conds, event))
}

func TestRuleSetValidation(t *testing.T) {
	set := NewRuleSet()
	assert.Error(t, set.Upsert(&Rule{EventType: EventAuthFailure, Threshold: 1}))
	assert.Error(t, set.Upsert(&Rule{ID: "r", Threshold: 1}))
	assert.Error(t, set.Upsert(&Rule{ID: "r", EventType: EventAuthFailure, Threshold: 0}))
	assert.Error(t, set.Upsert(&Rule{ID: "r", EventType: EventAuthFailure, Threshold: 1, Window: -1}))

	require.NoError(t, set.Upsert(&Rule{ID: "r", EventType: EventAuthFailure, Threshold: 1, Enabled: true}))
	rule, ok := set.Get("r")
	require.True(t, ok)
	assert.Equal(t, EventAuthFailure, rule.EventType)

	assert.True(t, set.Delete("r"))
	assert.False(t, set.Delete("r"))
}
