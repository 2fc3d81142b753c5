// Package reconcile turns one Coze chat exchange into a single reply made of
// text, image URLs and audio URLs.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/memohai/qqrelay/internal/coze"
	"github.com/memohai/qqrelay/internal/session"
	"github.com/memohai/qqrelay/internal/toolresult"
)

const (
	ImageDoneText     = "image generation complete."
	NoContentText     = "no content returned"
	UnavailableText   = "AI service temporarily unavailable, please try again later"
	unavailablePrefix = "AI service temporarily unavailable: "
	callFailedPrefix  = "AI service call failed: "
)

const (
	DefaultStreamTimeout   = 120 * time.Second
	DefaultFallbackTimeout = 60 * time.Second
)

// failureMarkers in a tool_response abort the stream and trigger the fallback.
var failureMarkers = []string{"biz error", "model has been terminated", "Execute Fail"}

// Reply is the reconciled result of one exchange.
type Reply struct {
	Text   string
	Images []string
	Audios []string
}

type Options struct {
	StreamTimeout   time.Duration
	FallbackTimeout time.Duration
	SessionTTL      time.Duration
}

type Reconciler struct {
	backend         Backend
	store           *session.Store
	logger          *slog.Logger
	streamTimeout   time.Duration
	fallbackTimeout time.Duration
	ttl             time.Duration
	now             func() time.Time
}

func NewReconciler(log *slog.Logger, backend Backend, store *session.Store, opts Options) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{
		backend:         backend,
		store:           store,
		logger:          log.With(slog.String("service", "reconciler")),
		streamTimeout:   opts.StreamTimeout,
		fallbackTimeout: opts.FallbackTimeout,
		ttl:             opts.SessionTTL,
		now:             time.Now,
	}
	if r.streamTimeout <= 0 {
		r.streamTimeout = DefaultStreamTimeout
	}
	if r.fallbackTimeout <= 0 {
		r.fallbackTimeout = DefaultFallbackTimeout
	}
	if r.ttl <= 0 {
		r.ttl = session.DefaultTTL
	}
	return r
}

// exchange is the state accumulated while consuming one stream.
type exchange struct {
	text    string
	images  []string
	audios  []string
	errored bool
}

func (x *exchange) fail(text string) {
	x.errored = true
	x.text = text
}

// Reconcile never returns an error: backend and tool failures end up in Reply.Text.
func (r *Reconciler) Reconcile(ctx context.Context, key session.Key, userID, query string) Reply {
	r.store.SweepExpired(r.now(), r.ttl)
	conversationID, _ := r.store.Get(key)
	logger := r.logger.With(slog.String("key", key.String()), slog.String("user_id", userID))

	x := r.consume(ctx, logger, key, coze.ChatRequest{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          query,
	})

	if len(x.images) > 0 {
		if x.text != "" {
			x.text += "\n\n"
		} else {
			x.text = ImageDoneText + "\n\n"
		}
	}

	if x.errored {
		return r.fallback(ctx, logger, key, userID, query, x.text)
	}

	text := strings.TrimSpace(x.text)
	if text == "" {
		return Reply{Text: NoContentText, Audios: x.audios}
	}
	images, audios := x.images, x.audios
	if len(images) == 0 {
		images, audios = applyInlineLink(text, images, audios)
	}
	return Reply{Text: text, Images: images, Audios: audios}
}

func (r *Reconciler) consume(ctx context.Context, logger *slog.Logger, key session.Key, req coze.ChatRequest) *exchange {
	x := &exchange{}
	streamCtx, cancel := context.WithTimeout(ctx, r.streamTimeout)
	defer cancel()

	stream, err := r.backend.OpenStream(streamCtx, req)
	if err != nil {
		logger.Error("open stream failed", slog.Any("error", err))
		x.fail(callFailedPrefix + err.Error())
		return x
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return x
		}
		if err != nil {
			logger.Error("read stream failed", slog.Any("error", err))
			x.fail(callFailedPrefix + err.Error())
			return x
		}
		if ev.ConversationID != "" {
			r.store.Touch(key, ev.ConversationID, r.now())
		}

		switch ev.Kind {
		case coze.EventMessageDelta:
			if ev.Message != nil && ev.Message.Type == coze.MessageAnswer {
				x.text += ev.Message.Content
			}
		case coze.EventMessageCompleted:
			if ev.Message != nil && r.completed(logger, x, *ev.Message) {
				return x
			}
		case coze.EventChatCompleted:
			if ev.Chat != nil && ev.Chat.Usage != nil {
				logger.Info("chat completed", slog.Int("token_count", ev.Chat.Usage.TokenCount))
			}
			return x
		case coze.EventChatFailed, coze.EventError:
			logger.Error("chat failed", slog.String("kind", ev.Kind.String()), slog.String("error", ev.Err))
			x.fail(callFailedPrefix + ev.Err)
			return x
		case coze.EventDone:
			return x
		}
	}
}

// completed handles a finished message and reports whether to stop the stream.
func (r *Reconciler) completed(logger *slog.Logger, x *exchange, msg coze.Message) bool {
	if msg.Type == coze.MessageFunctionCall {
		logger.Debug("function call", slog.String("content", truncate(msg.Content, 300)))
		return false
	}
	if msg.Type != coze.MessageToolResponse {
		return false
	}

	content := msg.Content
	if hasFailureMarker(content) {
		logger.Warn("tool reported failure", slog.String("content", truncate(content, 300)))
		x.fail(failureText(content))
		return true
	}

	outcome := toolresult.Parse(content)
	switch outcome.Kind {
	case toolresult.KindImage:
		x.images = append(x.images, outcome.Images...)
	case toolresult.KindAudio:
		x.audios = append(x.audios, outcome.Audios...)
	case toolresult.KindError:
		logger.Warn("tool response ignored", slog.String("error", outcome.Error))
	}
	return false
}

func (r *Reconciler) fallback(ctx context.Context, logger *slog.Logger, key session.Key, userID, query, streamed string) Reply {
	conversationID, _ := r.store.Get(key)
	fctx, cancel := context.WithTimeout(ctx, r.fallbackTimeout)
	defer cancel()

	streamed = strings.TrimSpace(streamed)
	if streamed == "" {
		streamed = UnavailableText
	}

	msg, err := r.backend.CreateAndPoll(fctx, coze.ChatRequest{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          query,
	})
	if err != nil {
		logger.Error("fallback request failed", slog.Any("error", err))
		return Reply{Text: streamed}
	}
	if msg.ConversationID != "" {
		r.store.Touch(key, msg.ConversationID, r.now())
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		logger.Warn("fallback returned empty content")
		return Reply{Text: streamed}
	}
	images, audios := applyInlineLink(text, nil, nil)
	return Reply{Text: text, Images: images, Audios: audios}
}

func hasFailureMarker(content string) bool {
	for _, marker := range failureMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// failureText takes the reason after the last "msg=" up to the next comma.
func failureText(content string) string {
	idx := strings.LastIndex(content, "msg=")
	if idx < 0 {
		return UnavailableText
	}
	reason := content[idx+len("msg="):]
	if comma := strings.Index(reason, ","); comma >= 0 {
		reason = reason[:comma]
	}
	return unavailablePrefix + reason
}

// applyInlineLink treats a markdown-style "(https...)" link in text as both an
// image and an audio URL. The audio half is suspect but kept for
// compatibility with replies that relied on it.
func applyInlineLink(text string, images, audios []string) ([]string, []string) {
	link, ok := extractInlineLink(text)
	if !ok {
		return images, audios
	}
	return append(images, link), append(audios, link)
}

func extractInlineLink(text string) (string, bool) {
	start := strings.Index(text, "(https")
	if start < 0 {
		return "", false
	}
	end := strings.Index(text[start:], ")")
	if end < 0 {
		return "", false
	}
	return text[start+1 : start+end], true
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

func (r Reply) String() string {
	return fmt.Sprintf("text=%q images=%d audios=%d", truncate(r.Text, 80), len(r.Images), len(r.Audios))
}
