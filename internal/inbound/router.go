// Package inbound routes chat gateway events to canned commands or to the
// AI backend and sends the result back.
package inbound

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/memohai/qqrelay/internal/imagesearch"
	"github.com/memohai/qqrelay/internal/onebot"
	"github.com/memohai/qqrelay/internal/reconcile"
	"github.com/memohai/qqrelay/internal/session"
)

type replyReconciler interface {
	Reconcile(ctx context.Context, key session.Key, userID, query string) reconcile.Reply
}

type replyDispatcher interface {
	Dispatch(ctx context.Context, target onebot.Target, reply reconcile.Reply) bool
	SendAll(ctx context.Context, target onebot.Target, messages ...string) bool
}

type imageSupplier interface {
	ReturnURL(ctx context.Context) (string, bool)
}

// Command answers an exact message with a canned reply.
type Command struct {
	Trigger string
	// Mention is the QQ mentioned in the reply; empty means the sender.
	Mention   string
	Text      string
	WithImage bool
}

// Result describes what Handle did with an event.
type Result int

const (
	ResultIgnored Result = iota
	ResultCommand
	ResultReplied
)

func (r Result) String() string {
	switch r {
	case ResultCommand:
		return "command"
	case ResultReplied:
		return "replied"
	default:
		return "ignored"
	}
}

type Router struct {
	botQQ      string
	commands   map[string]Command
	reconciler replyReconciler
	dispatcher replyDispatcher
	images     imageSupplier
	locks      *keyLocks
	logger     *slog.Logger
}

func NewRouter(log *slog.Logger, botQQ string, commands []Command, reconciler replyReconciler, dispatcher replyDispatcher, images imageSupplier) *Router {
	if log == nil {
		log = slog.Default()
	}
	table := make(map[string]Command, len(commands))
	for _, c := range commands {
		trigger := strings.TrimSpace(c.Trigger)
		if trigger == "" {
			continue
		}
		table[trigger] = c
	}
	return &Router{
		botQQ:      strings.TrimSpace(botQQ),
		commands:   table,
		reconciler: reconciler,
		dispatcher: dispatcher,
		images:     images,
		locks:      newKeyLocks(),
		logger:     log.With(slog.String("service", "inbound_router")),
	}
}

// Handle processes one event to completion. Messages on the same
// conversation key are handled one at a time, in arrival order.
func (r *Router) Handle(ctx context.Context, ev onebot.Event) Result {
	msg, ok := Normalize(ev, r.botQQ)
	if !ok {
		return ResultIgnored
	}
	key := msg.Key()
	logger := r.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("key", key.String()),
		slog.String("user_id", msg.UserID),
	)
	logger.Info("message received", slog.String("text", truncate(msg.Text, 200)))

	unlock := r.locks.lock(key)
	defer unlock()

	target := msg.Target()
	if cmd, ok := r.commands[strings.TrimSpace(msg.Text)]; ok {
		r.runCommand(ctx, logger, target, msg.UserID, cmd)
		return ResultCommand
	}

	reply := r.reconciler.Reconcile(ctx, key, msg.UserID, msg.Text)
	logger.Info("reply reconciled", slog.String("reply", reply.String()))
	if !r.dispatcher.Dispatch(ctx, target, reply) {
		logger.Warn("reply partially delivered")
	}
	return ResultReplied
}

func (r *Router) runCommand(ctx context.Context, logger *slog.Logger, target onebot.Target, senderID string, cmd Command) {
	mention := cmd.Mention
	if mention == "" {
		mention = senderID
	}
	messages := []string{onebot.Mention(mention, cmd.Text)}
	if cmd.WithImage && r.images != nil {
		if u, ok := r.images.ReturnURL(ctx); ok {
			messages = append(messages, onebot.Image(imagesearch.QuoteURL(u)))
		} else {
			logger.Warn("no image available for command", slog.String("trigger", cmd.Trigger))
		}
	}
	logger.Info("command matched", slog.String("trigger", cmd.Trigger))
	r.dispatcher.SendAll(ctx, target, messages...)
}

// keyLocks hands out one mutex per conversation key and drops it when unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[session.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[session.Key]*keyLock)}
}

func (k *keyLocks) lock(key session.Key) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	// Back off to a rune boundary so the result stays valid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
