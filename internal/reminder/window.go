package reminder

import "time"

// Matches reports whether an event starting at start falls inside the user's
// reminder window at the given instant. The window is centered on the
// configured offset with a fixed tolerance on both sides:
//
//	offset - tolerance <= start - now <= offset + tolerance
//
// The difference is signed, so for small offsets the lower bound goes
// negative and events that have just started still match. That behavior is
// intentional and must not be clamped.
func Matches(now, start time.Time, offsetMinutes int, tolerance time.Duration) bool {
	diff := start.Sub(now)
	center := time.Duration(offsetMinutes) * time.Minute
	return diff >= center-tolerance && diff <= center+tolerance
}
