package fleet

import (
	"fmt"
	"time"
)

// FormatElapsed renders a duration the way the dashboard shows it: "48m", "1h 38m", "2d 3h".
func FormatElapsed(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}

// LastSeen renders the age of the last update, "never" when there is none.
func LastSeen(d Device, now time.Time) string {
	last, ok := d.LastUpdated.Time()
	if !ok {
		return "never"
	}
	if last.After(now) {
		return "just now"
	}
	return FormatElapsed(now.Sub(last)) + " ago"
}
