package vault

import (
	"fmt"
	"time"
)

// DefaultCooldownWindow is the minimum elapsed time between two successful
// rebalances. It is a hard gate checked before any proposal is attempted,
// independent of risk level, to prevent churn and repeated fee expenditure.
const DefaultCooldownWindow = 7 * 24 * time.Hour

// CanRebalance reports whether the cooldown window has elapsed since the
// last rebalance. When it has not, the returned reason describes the
// remaining wait for observability.
func CanRebalance(lastRebalance, now time.Time, window time.Duration) (bool, string) {
	eligible := lastRebalance.Add(window)
	if now.Before(eligible) {
		remaining := eligible.Sub(now)
		return false, fmt.Sprintf("cooldown active, %s remaining", formatRemaining(remaining))
	}
	return true, ""
}

// formatRemaining renders a duration as "3d4h" / "4h12m" / "12m" for log and
// status output.
func formatRemaining(d time.Duration) string {
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
