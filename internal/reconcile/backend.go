package reconcile

import (
	"context"

	"github.com/memohai/qqrelay/internal/coze"
)

// EventStream yields backend events until io.EOF.
type EventStream interface {
	Next() (coze.Event, error)
	Close() error
}

// Backend is the AI side of one exchange.
type Backend interface {
	OpenStream(ctx context.Context, req coze.ChatRequest) (EventStream, error)
	CreateAndPoll(ctx context.Context, req coze.ChatRequest) (coze.Message, error)
}

// CozeBackend adapts *coze.Client to Backend.
type CozeBackend struct {
	Client *coze.Client
}

func NewCozeBackend(client *coze.Client) *CozeBackend {
	return &CozeBackend{Client: client}
}

func (b *CozeBackend) OpenStream(ctx context.Context, req coze.ChatRequest) (EventStream, error) {
	stream, err := b.Client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (b *CozeBackend) CreateAndPoll(ctx context.Context, req coze.ChatRequest) (coze.Message, error) {
	return b.Client.CreateAndPoll(ctx, req)
}
