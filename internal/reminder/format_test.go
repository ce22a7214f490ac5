package reminder

import (
	"strings"
	"testing"
	"time"

	"planman/internal/calendar"
)

func TestFormatReminderFallbacks(t *testing.T) {
	t.Parallel()
	ev := calendar.Event{
		Start: time.Date(2024, 5, 1, 10, 10, 0, 0, time.UTC),
	}
	msg := FormatReminder(ev)

	if !strings.Contains(msg, "Untitled event") {
		t.Fatalf("expected fallback title, got: %s", msg)
	}
	if !strings.Contains(msg, "No link available") {
		t.Fatalf("expected fallback link marker, got: %s", msg)
	}
	if !strings.Contains(msg, "1 May 2024, 10:10") {
		t.Fatalf("expected formatted start time, got: %s", msg)
	}
}

func TestFormatReminderLinkPreference(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ev   calendar.Event
		want string
	}{
		{
			name: "conferencing link preferred",
			ev:   calendar.Event{JoinLink: "https://meet.example/abc", HTMLLink: "https://cal.example/ev"},
			want: "https://meet.example/abc",
		},
		{
			name: "html link as fallback",
			ev:   calendar.Event{HTMLLink: "https://cal.example/ev"},
			want: "https://cal.example/ev",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.ev.Start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			msg := FormatReminder(tt.ev)
			if !strings.Contains(msg, tt.want) {
				t.Fatalf("expected link %q in: %s", tt.want, msg)
			}
		})
	}
}

func TestFormatReminderEscapesHTML(t *testing.T) {
	t.Parallel()
	ev := calendar.Event{
		Title: "1 < 2 & <b>bold</b>",
		Start: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	msg := FormatReminder(ev)
	if strings.Contains(msg, "<b>bold</b>") {
		t.Fatalf("title was not escaped: %s", msg)
	}
}

func TestFormatStartAllDay(t *testing.T) {
	t.Parallel()
	got := FormatStart(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true)
	if got != "1 May 2024 (all day)" {
		t.Fatalf("FormatStart = %q", got)
	}
}
