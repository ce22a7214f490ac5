package reminder

import (
	"testing"
	"time"
)

func TestMatchesWindowBounds(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)
	tol := 2 * time.Minute

	tests := []struct {
		name    string
		start   time.Time
		offset  int
		want    bool
	}{
		{name: "diff equals offset", start: now.Add(15 * time.Minute), offset: 15, want: true},
		{name: "diff at lower bound", start: now.Add(13 * time.Minute), offset: 15, want: true},
		{name: "diff at upper bound", start: now.Add(17 * time.Minute), offset: 15, want: true},
		{name: "diff just below lower bound", start: now.Add(13*time.Minute - time.Second), offset: 15, want: false},
		{name: "diff just above upper bound", start: now.Add(17*time.Minute + time.Second), offset: 15, want: false},
		// Scenarios from the reference behavior.
		{name: "event at 10:10 offset 15", start: time.Date(2024, 5, 1, 10, 10, 0, 0, time.UTC), offset: 15, want: true},
		{name: "event at 10:13 offset 15", start: time.Date(2024, 5, 1, 10, 13, 0, 0, time.UTC), offset: 15, want: false},
		// Small offsets: the lower bound goes negative and catches events
		// that already started. Deliberately not clamped.
		{name: "offset 1 event started 1m ago", start: now.Add(-time.Minute), offset: 1, want: true},
		{name: "offset 1 event started 2m ago", start: now.Add(-2 * time.Minute), offset: 1, want: false},
		{name: "offset 0 event starting now", start: now, offset: 0, want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Matches(now, tt.start, tt.offset, tol); got != tt.want {
				t.Fatalf("Matches(now, %v, %d) = %v, want %v", tt.start, tt.offset, got, tt.want)
			}
		})
	}
}

func TestMatchesMonotonicInTolerance(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)

	// Widening the tolerance can only add matches, never remove them.
	for diffMin := -10; diffMin <= 40; diffMin++ {
		start := now.Add(time.Duration(diffMin) * time.Minute)
		for offset := 0; offset <= 30; offset += 5 {
			narrow := Matches(now, start, offset, 2*time.Minute)
			wide := Matches(now, start, offset, 5*time.Minute)
			if narrow && !wide {
				t.Fatalf("widening tolerance removed a match: diff=%dm offset=%d", diffMin, offset)
			}
		}
	}
}
