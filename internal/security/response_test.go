package security

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestThrottleExpires(t *testing.T) {
	responder := NewResponder(zap.NewNop(), nil, 0, 0)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	responder.now = func() time.Time { return clock }

	responder.ThrottleIP("1.1.1.1")
	decision := responder.Check("1.1.1.1", "")
	require.False(t, decision.Allowed)
	assert.Equal(t, DefaultIPThrottle, decision.RetryAfter)

	clock = clock.Add(DefaultIPThrottle + time.Second)
	assert.True(t, responder.Check("1.1.1.1", "").Allowed)
}

func TestUserThrottleIndependentOfIP(t *testing.T) {
	responder := NewResponder(zap.NewNop(), nil, 0, 0)
	responder.ThrottleUser("user-1")

	decision := responder.Check("2.2.2.2", "user-1")
	require.False(t, decision.Allowed)
	assert.Equal(t, http.StatusTooManyRequests, decision.Status)
	assert.Equal(t, CodeUserThrottled, decision.Code)

	// same IP, different user passes
	assert.True(t, responder.Check("2.2.2.2", "user-2").Allowed)
	// anonymous requests from that IP pass too
	assert.True(t, responder.Check("2.2.2.2", "").Allowed)
}

func TestBlockWinsOverThrottle(t *testing.T) {
	responder := NewResponder(zap.NewNop(), nil, 0, 0)
	responder.ThrottleIP("3.3.3.3")
	responder.BlockIP("3.3.3.3")

	decision := responder.Check("3.3.3.3", "")
	require.False(t, decision.Allowed)
	assert.Equal(t, http.StatusForbidden, decision.Status)
	assert.Equal(t, CodeIPBlocked, decision.Code)
	assert.Zero(t, decision.RetryAfter)
}

func TestUnblockUnknownSource(t *testing.T) {
	responder := NewResponder(zap.NewNop(), nil, 0, 0)
	assert.False(t, responder.UnblockIP("4.4.4.4"))
	assert.False(t, responder.UnblockUser("nobody"))
}

func TestSweepCountsActiveState(t *testing.T) {
	responder := NewResponder(zap.NewNop(), nil, 0, 0)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	responder.now = func() time.Time { return clock }

	responder.ThrottleIP("5.5.5.5")
	responder.ThrottleUser("user-3")
	responder.BlockIP("6.6.6.6")

	throttles, blocks := responder.Sweep()
	assert.Equal(t, 2, throttles)
	assert.Equal(t, 1, blocks)

	clock = clock.Add(DefaultUserThrottle + time.Second)
	throttles, blocks = responder.Sweep()
	assert.Equal(t, 0, throttles)
	assert.Equal(t, 1, blocks, "blocks survive sweeps")
}

func TestExecuteThrottleUserSkipsAnonymous(t *testing.T) {
	responder := NewResponder(zap.NewNop(), nil, 0, 0)
	rule := &Rule{ID: "r", EventType: EventAuthFailure, Threshold: 1, Response: ActionThrottleUser, Enabled: true}

	responder.Execute(rule, &Event{Type: EventAuthFailure, Source: Source{IP: "7.7.7.7"}})
	throttles, _ := responder.Sweep()
	assert.Equal(t, 0, throttles)

	responder.Execute(rule, &Event{Type: EventAuthFailure, Source: Source{IP: "7.7.7.7", UserID: "user-4"}})
	assert.False(t, responder.Check("7.7.7.7", "user-4").Allowed)
}
