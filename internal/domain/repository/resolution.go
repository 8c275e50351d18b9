package repository

// Resolution is a bar granularity accepted by the history endpoint and
// the /ohlc API.
type Resolution string

const (
	Res1s Resolution = "1s"
	Res1m Resolution = "1m"
	Res5m Resolution = "5m"
	Res1h Resolution = "1h"
)

// IsValidResolution returns true if r is a supported resolution.
func IsValidResolution(r Resolution) bool {
	switch r {
	case Res1s, Res1m, Res5m, Res1h:
		return true
	default:
		return false
	}
}

// DefaultResolution returns the default bar granularity.
func DefaultResolution() Resolution { return Res1m }

// NormalizeResolution converts a raw string to a valid resolution (or default).
func NormalizeResolution(s string) Resolution {
	if s == "" {
		return DefaultResolution()
	}
	r := Resolution(s)
	if IsValidResolution(r) {
		return r
	}
	return DefaultResolution()
}
