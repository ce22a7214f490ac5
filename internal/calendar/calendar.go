// Package calendar provides the event source backing reminders: OAuth consent
// and code exchange, Google Calendar listings, and event normalization.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotAuthorized means no credential is stored for the user.
	ErrNotAuthorized = errors.New("calendar: not authorized")
	// ErrAuthExpired means the stored credential could not be refreshed and
	// the user must re-authorize.
	ErrAuthExpired = errors.New("calendar: authorization expired")
	// ErrInvalidCode means the authorization code exchange was rejected.
	ErrInvalidCode = errors.New("calendar: invalid authorization code")
	// ErrMalformedEvent means an event has a missing or unparseable start.
	ErrMalformedEvent = errors.New("calendar: malformed event")
	// ErrProvider wraps transient calendar API or transport failures.
	ErrProvider = errors.New("calendar: provider failure")
)

// Event is a normalized calendar event. Start is always a comparable UTC
// instant; all-day events resolve to midnight UTC of their date.
type Event struct {
	ID       string
	Title    string
	Start    time.Time
	AllDay   bool
	JoinLink string // conferencing link, if any
	HTMLLink string // generic event page link, if any
}

// Source lists a user's events given their serialized credential. When the
// underlying credential was refreshed during the call, the refreshed
// serialized form is returned so the caller can persist it.
type Source interface {
	// Upcoming returns future events ascending by start time.
	Upcoming(ctx context.Context, token string) (events []Event, refreshed string, err error)
	// Past returns events that started before now, ascending by start time.
	Past(ctx context.Context, token string) (events []Event, refreshed string, err error)
}

// Authorizer drives the /auth flow.
type Authorizer interface {
	AuthURL() string
	// Exchange turns an authorization code into a serialized credential.
	// Rejected codes fail with ErrInvalidCode.
	Exchange(ctx context.Context, code string) (token string, err error)
}

// ParseStart normalizes the two start representations the provider emits: a
// full RFC 3339 timestamp, or a bare date for all-day events (interpreted as
// midnight UTC). Both fields empty means the event is malformed.
func ParseStart(dateTime, date string) (start time.Time, allDay bool, err error) {
	if dateTime != "" {
		t, err := time.Parse(time.RFC3339, dateTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: bad start %q: %v", ErrMalformedEvent, dateTime, err)
		}
		return t.UTC(), false, nil
	}
	if date != "" {
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: bad date %q: %v", ErrMalformedEvent, date, err)
		}
		return t.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: no start time", ErrMalformedEvent)
}

// Reversed returns a copy of events in reverse order. Used to turn the
// provider's ascending listing into a most-recent-first history.
func Reversed(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	return out
}
