package appwrite

import "time"

// Reconnect delay tiers. The attempt counter resets whenever a socket opens,
// so a flapping server keeps clients on the first tier.
const (
	reconnectDelayFast    = 1 * time.Second
	reconnectDelayShort   = 5 * time.Second
	reconnectDelayLong    = 10 * time.Second
	reconnectDelayMaximum = 60 * time.Second
)

// BackoffDelay returns how long to wait before reconnect attempt n
// (0-indexed).
func BackoffDelay(attempt int) time.Duration {
	switch {
	case attempt < 5:
		return reconnectDelayFast
	case attempt < 15:
		return reconnectDelayShort
	case attempt < 100:
		return reconnectDelayLong
	default:
		return reconnectDelayMaximum
	}
}
