package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"planman/internal/calendar"
	kit "planman/internal/transport"
	"planman/pkg/logx"
	"planman/pkg/tgui"
)

// minAuthCodeLen filters ordinary chatter from pasted authorization codes in
// the plain-text fallback.
const minAuthCodeLen = 20

func (r *Router) registerAll() {
	r.register("start", "greeting and keyboard", r.handleStart)
	r.register("help", "command reference", r.handleHelp)
	r.register("auth", "connect Google Calendar", r.handleAuth)
	r.register("events", "next 10 upcoming events", r.handleEvents)
	r.register("history", "last 10 past events", r.handleHistory)
	r.register("set_reminder", "set reminder offset in minutes", r.handleSetReminder)
	r.fallback = r.handleAuthCode
}

func (r *Router) handleStart(ctx context.Context, req *Request) error {
	name := req.Msg.FromName
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("Hi, %s! 👋\nI'm PlanMan, your Google Calendar assistant.\n\nUse %s to see the command list.",
		tgui.Esc(name), tgui.B("/help"))
	return r.deps.Adapter.SendText(ctx, req.Msg.ChatID, text, &kit.SendOptions{
		ParseMode:          "HTML",
		DisablePreview:     true,
		ReplyMarkupAdapter: r.deps.MenuMarkup,
	})
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	text := tgui.Lines(
		tgui.Raw("📖 "+tgui.B("Commands:").String()),
		tgui.Raw("🔐 /auth — connect your Google Calendar"),
		tgui.Raw("📅 /events — next 10 upcoming meetings"),
		tgui.Raw("📂 /history — last 10 past meetings"),
		tgui.Raw("⚙️ "+tgui.Code("/set_reminder 30").String()+" — remind N minutes before an event"),
	)
	return r.reply(ctx, req.Msg, text.String())
}

func (r *Router) handleAuth(ctx context.Context, req *Request) error {
	url := r.deps.Auth.AuthURL()
	text := fmt.Sprintf("🔗 %s\n\n%s",
		tgui.Link("Authorize with Google", url),
		tgui.I("Then send the confirmation code back to me as a plain message."))
	return r.reply(ctx, req.Msg, text)
}

// handleAuthCode is the plain-text fallback: a sufficiently long non-command
// message is treated as a pasted OAuth authorization code.
func (r *Router) handleAuthCode(ctx context.Context, req *Request) error {
	text := strings.TrimSpace(req.Msg.Text)
	if len(text) <= minAuthCodeLen || strings.HasPrefix(text, "/") {
		return nil
	}

	token, err := r.deps.Auth.Exchange(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, calendar.ErrInvalidCode):
		return r.reply(ctx, req.Msg, "❌ That code was not accepted. Run /auth and try again.")
	default:
		r.log.Warn("auth code exchange failed", logx.Int64("user_id", req.Msg.FromID), logx.Err(err))
		return r.reply(ctx, req.Msg, "⚠️ Google is unreachable right now. Please try again later.")
	}

	if err := r.deps.Store.UpsertToken(ctx, req.Msg.FromID, token); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	r.log.Info("calendar connected", logx.Int64("user_id", req.Msg.FromID))
	return r.reply(ctx, req.Msg, "✅ Authorization successful!")
}

func (r *Router) handleSetReminder(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return r.reply(ctx, req.Msg, "⚠️ Usage: "+tgui.Code("/set_reminder 30").String())
	}
	minutes, err := strconv.Atoi(req.Args[0])
	if err != nil || minutes < 0 {
		return r.reply(ctx, req.Msg, "⚠️ Minutes must be a non-negative number, e.g. "+tgui.Code("/set_reminder 30").String())
	}
	if err := r.deps.Store.SetRemindMinutes(ctx, req.Msg.FromID, minutes); err != nil {
		return fmt.Errorf("saving reminder offset: %w", err)
	}
	return r.reply(ctx, req.Msg, fmt.Sprintf("✅ Saved. I'll remind you %d minutes before each event.", minutes))
}

func (r *Router) handleEvents(ctx context.Context, req *Request) error {
	events, err := r.listEvents(ctx, req, false)
	if err != nil || events == nil {
		return err
	}
	if len(events) == 0 {
		return r.reply(ctx, req.Msg, "No upcoming meetings.")
	}

	var b strings.Builder
	b.WriteString("📅 " + tgui.B("Upcoming meetings:").String() + "\n\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "🔹 %s — %s\n", tgui.Esc(title(ev)), ev.Start.UTC().Format("02.01 15:04"))
	}
	return r.reply(ctx, req.Msg, b.String())
}

func (r *Router) handleHistory(ctx context.Context, req *Request) error {
	events, err := r.listEvents(ctx, req, true)
	if err != nil || events == nil {
		return err
	}
	if len(events) == 0 {
		return r.reply(ctx, req.Msg, "No past meetings yet.")
	}

	// Provider order is ascending; history reads best most-recent-first.
	events = calendar.Reversed(events)

	var b strings.Builder
	b.WriteString("📂 " + tgui.B("Recent meetings:").String() + "\n\n")
	for i, ev := range events {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, ev.Start.UTC().Format("02.01.2006 15:04"), tgui.Esc(title(ev)))
	}
	return r.reply(ctx, req.Msg, b.String())
}

// listEvents handles the shared credential lookup, fetch, token-refresh
// persistence, and user-facing error replies. A nil, nil return means the
// reply was already sent.
func (r *Router) listEvents(ctx context.Context, req *Request, past bool) ([]calendar.Event, error) {
	rec, ok, err := r.deps.Store.Get(ctx, req.Msg.FromID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !ok || rec.Token == "" {
		return nil, r.reply(ctx, req.Msg, "You need to connect your calendar first — run /auth.")
	}

	var (
		events    []calendar.Event
		refreshed string
	)
	if past {
		events, refreshed, err = r.deps.Source.Past(ctx, rec.Token)
	} else {
		events, refreshed, err = r.deps.Source.Upcoming(ctx, rec.Token)
	}
	if refreshed != "" {
		if werr := r.deps.Store.UpsertToken(ctx, req.Msg.FromID, refreshed); werr != nil {
			r.log.Error("persisting refreshed credential failed", logx.Int64("user_id", req.Msg.FromID), logx.Err(werr))
		}
	}
	if err != nil {
		if errors.Is(err, calendar.ErrAuthExpired) || errors.Is(err, calendar.ErrNotAuthorized) {
			return nil, r.reply(ctx, req.Msg, "🔐 Your Google authorization expired. Run /auth to reconnect.")
		}
		r.log.Warn("calendar fetch failed", logx.Int64("user_id", req.Msg.FromID), logx.Err(err))
		return nil, r.reply(ctx, req.Msg, "⚠️ Couldn't reach your calendar. Please try again later.")
	}
	if events == nil {
		events = []calendar.Event{}
	}
	return events, nil
}

func title(ev calendar.Event) string {
	if ev.Title == "" {
		return "Untitled event"
	}
	return ev.Title
}
