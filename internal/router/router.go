// Package router dispatches incoming chat messages to command handlers.
package router

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"planman/internal/calendar"
	"planman/internal/storage"
	kit "planman/internal/transport"
	"planman/pkg/logx"
)

const handlerTimeout = 30 * time.Second

// Deps are the collaborators the handlers act on. MenuMarkup is the
// adapter-specific reply keyboard attached to /start.
type Deps struct {
	Adapter    kit.Adapter
	Store      storage.Store
	Source     calendar.Source
	Auth       calendar.Authorizer
	Log        logx.Logger
	MenuMarkup any
	// BotUsername strips "/cmd@BotName" suffixes in group chats. May be empty.
	BotUsername func() string
}

type Request struct {
	Msg  kit.Message
	Args []string
}

type HandlerFunc func(ctx context.Context, req *Request) error

type command struct {
	name        string
	description string
	handle      HandlerFunc
}

// Router consumes messages from the adapter and runs the matching handler on
// a small worker pool, so one slow command cannot block the update stream.
type Router struct {
	deps Deps
	log  logx.Logger

	commands map[string]command

	// fallback handles plain text (used for OAuth code capture).
	fallback HandlerFunc

	workers int
	jobs    chan func()
	wg      sync.WaitGroup
}

func New(deps Deps) *Router {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		deps:     deps,
		log:      log,
		commands: map[string]command{},
		workers:  4,
		jobs:     make(chan func(), 64),
	}
	r.registerAll()
	return r
}

func (r *Router) register(name, description string, h HandlerFunc) {
	r.commands[name] = command{name: name, description: description, handle: h}
}

// Run consumes messages until ctx is canceled or in closes.
func (r *Router) Run(ctx context.Context, in <-chan kit.Message) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for job := range r.jobs {
				job()
			}
		}()
	}
	defer func() {
		close(r.jobs)
		r.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			r.dispatch(ctx, m)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, m kit.Message) {
	name, args := r.parseCommand(m.Text)

	var h HandlerFunc
	switch {
	case name != "":
		cmd, ok := r.commands[name]
		if !ok {
			return
		}
		h = cmd.handle
	case r.fallback != nil:
		h = r.fallback
	default:
		return
	}

	req := &Request{Msg: m, Args: args}
	job := func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("panic in command handler",
					logx.String("command", name),
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		if err := h(hctx, req); err != nil {
			r.log.Warn("command failed",
				logx.String("command", name),
				logx.Int64("user_id", m.FromID),
				logx.Err(err))
		}
	}

	select {
	case r.jobs <- job:
	default:
		r.log.Warn("command dropped (queue full)", logx.String("command", name), logx.Int64("user_id", m.FromID))
	}
}

// parseCommand splits "/events@PlanManBot arg1 arg2" into ("events",
// ["arg1","arg2"]). Non-command text returns ("", nil).
func (r *Router) parseCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		suffix := name[at+1:]
		if r.deps.BotUsername != nil {
			if me := r.deps.BotUsername(); me != "" && !strings.EqualFold(suffix, me) {
				// Addressed to another bot in the group.
				return "", nil
			}
		}
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}

func (r *Router) reply(ctx context.Context, m kit.Message, text string) error {
	return r.deps.Adapter.SendText(ctx, m.ChatID, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
}
