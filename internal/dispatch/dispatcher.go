// Package dispatch sends a reconciled reply to the chat gateway as a
// sequence of paced messages.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/qqrelay/internal/onebot"
	"github.com/memohai/qqrelay/internal/reconcile"
)

const DefaultPace = 500 * time.Millisecond

type Dispatcher struct {
	sender      onebot.Sender
	pace        time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger
	sleep       func(time.Duration)
}

func NewDispatcher(log *slog.Logger, sender onebot.Sender, pace, sendTimeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if pace < 0 {
		pace = DefaultPace
	}
	if sendTimeout <= 0 {
		sendTimeout = onebot.DefaultSendTimeout
	}
	return &Dispatcher{
		sender:      sender,
		pace:        pace,
		sendTimeout: sendTimeout,
		logger:      log.With(slog.String("service", "dispatcher")),
		sleep:       time.Sleep,
	}
}

// Dispatch sends text, then every image, then the first audio only. A failed
// send is logged and the rest are still attempted; the result is true only if
// every send succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, target onebot.Target, reply reconcile.Reply) bool {
	messages := make([]string, 0, 2+len(reply.Images))
	if reply.Text != "" {
		messages = append(messages, onebot.Mention(target.UserID, reply.Text))
	}
	for _, img := range reply.Images {
		messages = append(messages, onebot.Image(img))
	}
	if len(reply.Audios) > 0 {
		messages = append(messages, onebot.Record(reply.Audios[0]))
	}
	return d.SendAll(ctx, target, messages...)
}

// SendAll sends messages in order with the pacing delay between them.
func (d *Dispatcher) SendAll(ctx context.Context, target onebot.Target, messages ...string) bool {
	ok := true
	for i, msg := range messages {
		if i > 0 {
			d.sleep(d.pace)
		}
		if !d.send(ctx, target, msg) {
			ok = false
		}
	}
	return ok
}

func (d *Dispatcher) send(ctx context.Context, target onebot.Target, message string) bool {
	// Sends outlive the inbound request that triggered them.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()
	if err := d.sender.Send(sendCtx, target, message); err != nil {
		d.logger.Error("send failed",
			slog.String("user_id", target.UserID),
			slog.String("group_id", target.GroupID),
			slog.Any("error", err),
		)
		return false
	}
	return true
}
