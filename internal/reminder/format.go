package reminder

import (
	"fmt"
	"time"

	"planman/internal/calendar"
	"planman/pkg/tgui"
)

const (
	fallbackTitle = "Untitled event"
	fallbackLink  = "No link available"
)

// FormatReminder renders the notification payload for a matched event as
// Telegram HTML. It is a pure function of the event so it can be tested
// without the network. Missing fields fall back to placeholder text; a blank
// title or link never reaches the user.
func FormatReminder(ev calendar.Event) string {
	title := ev.Title
	if title == "" {
		title = fallbackTitle
	}

	var link tgui.H
	switch {
	case ev.JoinLink != "":
		link = tgui.Link("open event", ev.JoinLink)
	case ev.HTMLLink != "":
		link = tgui.Link("open event", ev.HTMLLink)
	default:
		link = tgui.Esc(fallbackLink)
	}

	return fmt.Sprintf("⏰ %s\n\n%s\n%s\n\n%s%s\n\n%s%s",
		tgui.B("Reminder!"),
		tgui.B("Meeting:"),
		tgui.Esc(`"`+title+`"`),
		tgui.B("Time: "), tgui.Esc(FormatStart(ev.Start, ev.AllDay)),
		tgui.B("Link: "), link,
	)
}

// FormatStart renders the normalized UTC start instant for display.
// All-day events show the date only.
func FormatStart(start time.Time, allDay bool) string {
	start = start.UTC()
	if allDay {
		return start.Format("2 January 2006") + " (all day)"
	}
	return start.Format("2 January 2006, 15:04")
}
