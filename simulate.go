package adaptive

import "fmt"

// Defaults for EstimateTransfer callers without measurements
const (
	DefaultLinkKbps = 512
	DefaultLossRate = 0.02
)

// EstimateTransfer predicts the seconds needed to send n bytes over a link
// of kbps kilobits per second losing a share loss of packets. Lost packets
// are resent, so the time grows by 1/(1-loss); loss >= 1 counts as 100x.
func EstimateTransfer(n int64, kbps, loss float64) float64 {
	if n <= 0 || kbps <= 0 {
		return 0
	}
	seconds := float64(n) * 8 / (kbps * 1000)
	multiplier := 100.0
	if loss < 1 {
		multiplier = 1 / (1 - loss)
	}
	return seconds * multiplier
}

// FormatDuration renders seconds as 12.3s, 4.5m or 1.2h.
func FormatDuration(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.1fs", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fh", seconds/3600)
	}
}
