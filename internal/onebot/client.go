package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "http://127.0.0.1:5700"
	DefaultSendTimeout = 10 * time.Second
)

var ErrSendFailed = errors.New("onebot: send failed")

// Sender delivers one message to a target.
type Sender interface {
	Send(ctx context.Context, target Target, message string) error
}

// Client calls the gateway's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(log *slog.Logger, baseURL, token string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("service", "onebot_client")),
	}
}

type sendGroupRequest struct {
	GroupID string `json:"group_id"`
	Message string `json:"message"`
}

type sendPrivateRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type apiResponse struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Message string `json:"message"`
	Wording string `json:"wording"`
}

// Send posts to send_group_msg or send_private_msg depending on target.
func (c *Client) Send(ctx context.Context, target Target, message string) error {
	var (
		endpoint string
		payload  any
	)
	if target.IsGroup() {
		endpoint = c.baseURL + "/send_group_msg"
		payload = sendGroupRequest{GroupID: target.GroupID, Message: message}
	} else {
		endpoint = c.baseURL + "/send_private_msg"
		payload = sendPrivateRequest{UserID: target.UserID, Message: message}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out apiResponse
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &out) != nil {
		return nil
	}
	if out.Status == "failed" || out.RetCode != 0 {
		detail := out.Wording
		if detail == "" {
			detail = out.Message
		}
		return fmt.Errorf("%w: retcode %d: %s", ErrSendFailed, out.RetCode, detail)
	}
	return nil
}
