// Package coze is a small client for the Coze Open API v3 chat endpoints.
package coze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	CNBaseURL  = "https://api.coze.cn"
	COMBaseURL = "https://api.coze.com"

	defaultRequestTimeout = 30 * time.Second
	defaultPollInterval   = time.Second
	logIDHeader           = "X-Tt-Logid"
)

// Config holds credentials and tuning for Client.
type Config struct {
	BaseURL        string
	APIKey         string
	BotID          string
	SpaceID        string
	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// Client talks to one Coze bot.
type Client struct {
	baseURL      string
	apiKey       string
	botID        string
	spaceID      string
	pollInterval time.Duration
	// httpClient serves the short JSON calls; streamingClient has no
	// overall timeout and relies on the caller's context.
	httpClient      *http.Client
	streamingClient *http.Client
	logger          *slog.Logger
}

func NewClient(log *slog.Logger, cfg Config) *Client {
	if log == nil {
		log = slog.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = CNBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		botID:           cfg.BotID,
		spaceID:         cfg.SpaceID,
		pollInterval:    poll,
		httpClient:      &http.Client{Timeout: timeout},
		streamingClient: &http.Client{},
		logger:          log.With(slog.String("service", "coze_client")),
	}
}

func (c *Client) BotID() string   { return c.botID }
func (c *Client) SpaceID() string { return c.spaceID }
func (c *Client) BaseURL() string { return c.baseURL }

// Stream opens a streaming chat. The returned Stream must be closed.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	httpReq, err := c.newChatRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamingClient.Do(httpReq)
	if err != nil {
		c.logger.Error("coze stream connect failed", slog.String("url", httpReq.URL.String()), slog.Any("error", err))
		return nil, fmt.Errorf("coze stream: %w", err)
	}
	// Coze reports request-level failures as a JSON envelope instead of SSE.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return newStream(resp.Body, resp.Header.Get(logIDHeader)), nil
}

// CreateAndPoll runs a non-streaming chat to completion and returns the
// first answer message.
func (c *Client) CreateAndPoll(ctx context.Context, req ChatRequest) (Message, error) {
	httpReq, err := c.newChatRequest(ctx, req, false)
	if err != nil {
		return Message{}, err
	}
	var chat Chat
	if err := c.doJSON(httpReq, &chat); err != nil {
		return Message{}, fmt.Errorf("create chat: %w", err)
	}
	c.logger.Debug("coze chat created", slog.String("chat_id", chat.ID), slog.String("conversation_id", chat.ConversationID))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for !chat.Status.Terminal() {
		select {
		case <-ctx.Done():
			return Message{}, fmt.Errorf("%w: %w", ErrChatNotReady, ctx.Err())
		case <-ticker.C:
		}
		next, err := c.retrieveChat(ctx, chat.ConversationID, chat.ID)
		if err != nil {
			return Message{}, fmt.Errorf("retrieve chat: %w", err)
		}
		chat = next
	}
	if chat.Status == ChatStatusFailed {
		apiErr := &APIError{Status: http.StatusOK, Msg: "chat failed"}
		if chat.LastError != nil {
			apiErr.Code = chat.LastError.Code
			apiErr.Msg = chat.LastError.Msg
		}
		return Message{}, apiErr
	}

	messages, err := c.listMessages(ctx, chat.ConversationID, chat.ID)
	if err != nil {
		return Message{}, fmt.Errorf("list messages: %w", err)
	}
	if len(messages) == 0 {
		return Message{}, ErrNoMessages
	}
	for _, msg := range messages {
		if msg.Type == MessageAnswer {
			return msg, nil
		}
	}
	return messages[0], nil
}

func (c *Client) newChatRequest(ctx context.Context, req ChatRequest, stream bool) (*http.Request, error) {
	body, err := json.Marshal(wireChatRequest{
		BotID:           c.botID,
		UserID:          req.UserID,
		Stream:          stream,
		AutoSaveHistory: true,
		AdditionalMessages: []wireAdditionalMessage{{
			Role:        "user",
			Type:        "question",
			Content:     req.Query,
			ContentType: "text",
		}},
	})
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/v3/chat"
	if req.ConversationID != "" {
		endpoint += "?" + url.Values{"conversation_id": {req.ConversationID}}.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return httpReq, nil
}

func (c *Client) retrieveChat(ctx context.Context, conversationID, chatID string) (Chat, error) {
	httpReq, err := c.newGetRequest(ctx, "/v3/chat/retrieve", conversationID, chatID)
	if err != nil {
		return Chat{}, err
	}
	var chat Chat
	if err := c.doJSON(httpReq, &chat); err != nil {
		return Chat{}, err
	}
	return chat, nil
}

func (c *Client) listMessages(ctx context.Context, conversationID, chatID string) ([]Message, error) {
	httpReq, err := c.newGetRequest(ctx, "/v3/chat/message/list", conversationID, chatID)
	if err != nil {
		return nil, err
	}
	var wire []wireMessage
	if err := c.doJSON(httpReq, &wire); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(wire))
	for _, m := range wire {
		out = append(out, m.toMessage())
	}
	return out, nil
}

func (c *Client) newGetRequest(ctx context.Context, path, conversationID, chatID string) (*http.Request, error) {
	q := url.Values{"conversation_id": {conversationID}, "chat_id": {chatID}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return httpReq, nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doJSON sends req and decodes the envelope's data into out.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg, LogID: resp.Header.Get(logIDHeader)}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{Status: resp.StatusCode, LogID: resp.Header.Get(logIDHeader)}
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Code != 0 || env.Msg != "") {
		apiErr.Code = env.Code
		apiErr.Msg = env.Msg
	} else {
		apiErr.Msg = truncate(strings.TrimSpace(string(body)), 300)
	}
	return apiErr
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
