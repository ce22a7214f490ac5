package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"planman/pkg/logx"
)

// oobRedirect makes Google display the authorization code for the user to
// paste back into the chat instead of redirecting to a web server.
const oobRedirect = "urn:ietf:wg:oauth:2.0:oob"

type GoogleConfig struct {
	CredentialsFile string
	MaxResults      int64 // cap on upcoming/past listings; default 10
}

// Google implements Source and Authorizer against the Google Calendar API.
type Google struct {
	oauth      *oauth2.Config
	maxResults int64
	log        logx.Logger
}

func NewGoogle(cfg GoogleConfig, log logx.Logger) (*Google, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	oc, err := google.ConfigFromJSON(b, gcal.CalendarEventsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	oc.RedirectURL = oobRedirect
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Google{oauth: oc, maxResults: cfg.MaxResults, log: log}, nil
}

func (g *Google) AuthURL() string {
	return g.oauth.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *Google) Exchange(ctx context.Context, code string) (string, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return "", fmt.Errorf("%w: %s", ErrInvalidCode, rerr.ErrorCode)
		}
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return marshalToken(tok)
}

func (g *Google) Upcoming(ctx context.Context, token string) ([]Event, string, error) {
	return g.list(ctx, token, false)
}

func (g *Google) Past(ctx context.Context, token string) ([]Event, string, error) {
	return g.list(ctx, token, true)
}

func (g *Google) list(ctx context.Context, token string, past bool) ([]Event, string, error) {
	if token == "" {
		return nil, "", ErrNotAuthorized
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(token), &tok); err != nil {
		return nil, "", fmt.Errorf("%w: bad stored credential: %v", ErrAuthExpired, err)
	}

	// The token source refreshes transparently; the refreshed credential is
	// surfaced back to the caller below so it can be persisted.
	ts := g.oauth.TokenSource(ctx, &tok)

	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrProvider, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	call := svc.Events.List("primary").
		MaxResults(g.maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if past {
		call = call.TimeMax(now)
	} else {
		call = call.TimeMin(now)
	}

	res, err := call.Do()
	if err != nil {
		return nil, "", classifyAPIError(err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, it := range res.Items {
		ev, err := normalize(it)
		if err != nil {
			// One bad event must not sink the rest of the listing.
			g.log.Warn("skipping malformed event", logx.String("event_id", it.Id), logx.Err(err))
			continue
		}
		events = append(events, ev)
	}

	refreshed, err := g.refreshedToken(ts, &tok)
	if err != nil {
		g.log.Warn("could not serialize refreshed credential", logx.Err(err))
		refreshed = ""
	}
	return events, refreshed, nil
}

// refreshedToken returns the serialized current token when it differs from
// the stored one, "" otherwise.
func (g *Google) refreshedToken(ts oauth2.TokenSource, stored *oauth2.Token) (string, error) {
	cur, err := ts.Token()
	if err != nil || cur == nil {
		return "", nil
	}
	if cur.AccessToken == stored.AccessToken {
		return "", nil
	}
	return marshalToken(cur)
}

func normalize(it *gcal.Event) (Event, error) {
	if it == nil {
		return Event{}, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	var dateTime, date string
	if it.Start != nil {
		dateTime, date = it.Start.DateTime, it.Start.Date
	}
	start, allDay, err := ParseStart(dateTime, date)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:       it.Id,
		Title:    it.Summary,
		Start:    start,
		AllDay:   allDay,
		JoinLink: it.HangoutLink,
		HTMLLink: it.HtmlLink,
	}, nil
}

func classifyAPIError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		// invalid_grant means the refresh token itself is dead.
		return fmt.Errorf("%w: %s", ErrAuthExpired, rerr.ErrorCode)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 401 {
			return fmt.Errorf("%w: %v", ErrAuthExpired, err)
		}
		return fmt.Errorf("%w: http %d: %v", ErrProvider, gerr.Code, err)
	}
	return fmt.Errorf("%w: %v", ErrProvider, err)
}

func marshalToken(tok *oauth2.Token) (string, error) {
	b, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
