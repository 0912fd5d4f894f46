package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownBlocksInsideWindow(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
	}{
		{"immediately after", last.Add(time.Minute)},
		{"halfway through", last.Add(DefaultCooldownWindow / 2)},
		{"one second before expiry", last.Add(DefaultCooldownWindow - time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := CanRebalance(last, tc.now, DefaultCooldownWindow)
			assert.False(t, ok)
			assert.NotEmpty(t, reason)
			assert.Contains(t, reason, "cooldown active")
		})
	}
}

func TestCooldownAllowsAfterWindow(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ok, reason := CanRebalance(last, last.Add(DefaultCooldownWindow), DefaultCooldownWindow)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, _ = CanRebalance(last, last.Add(30*24*time.Hour), DefaultCooldownWindow)
	assert.True(t, ok)
}

func TestCooldownReasonFormatsRemainingTime(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, reason := CanRebalance(last, last.Add(time.Hour), DefaultCooldownWindow)
	assert.Contains(t, reason, "6d23h")

	_, reason = CanRebalance(last, last.Add(DefaultCooldownWindow-90*time.Minute), DefaultCooldownWindow)
	assert.Contains(t, reason, "1h30m")
}
