package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/qqrelay/internal/inbound"
	"github.com/memohai/qqrelay/internal/onebot"
)

type recordingRouter struct {
	mu     sync.Mutex
	events []onebot.Event
	ctxErr []error
}

func (r *recordingRouter) Handle(ctx context.Context, ev onebot.Event) inbound.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.ctxErr = append(r.ctxErr, ctx.Err())
	return inbound.ResultReplied
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postCallback(t *testing.T, h *CallbackHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/coze/callback", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Callback(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestCallbackRejectsEmptyEvents(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{}
	h := newCallbackHandler(discardLogger(), router)

	for _, body := range []string{"", "   ", "{}", "null", "{not json", "[1,2]"} {
		rec := postCallback(t, h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.JSONEq(t, `{"status":"error","msg":"empty event"}`, rec.Body.String(), "body %q", body)
	}
	assert.Empty(t, router.events)
}

func TestCallbackAcknowledgesEvents(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{}
	h := newCallbackHandler(discardLogger(), router)

	rec := postCallback(t, h, `{"post_type":"message","message_type":"private","user_id":42,"message":[{"type":"text","data":{"text":"hi"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())

	require.Len(t, router.events, 1)
	assert.Equal(t, "42", router.events[0].UserID.String())
	assert.NoError(t, router.ctxErr[0])
}

func TestCallbackSkipsInvalidButAcknowledges(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{}
	h := newCallbackHandler(discardLogger(), router)

	for _, body := range []string{
		`{"message_type":"private","user_id":42}`,
		`{"post_type":"message","message":"[CQ:at,qq=1] hi"}`,
	} {
		rec := postCallback(t, h, body)
		assert.Equal(t, http.StatusOK, rec.Code, "body %q", body)
		assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())
	}
	assert.Empty(t, router.events)
}

func TestCallbackRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	h := newCallbackHandler(discardLogger(), &recordingRouter{})
	rec := postCallback(t, h, strings.Repeat("x", int(callbackMaxBodyBytes)+1))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestCallbackIgnoresRequestCancellation(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{}
	h := newCallbackHandler(discardLogger(), router)

	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/coze/callback", strings.NewReader(`{"post_type":"notice"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Callback(e.NewContext(req, rec)))

	require.Len(t, router.ctxErr, 1)
	assert.NoError(t, router.ctxErr[0])
}

type fixedCounter int

func (f fixedCounter) Len() int { return int(f) }

func TestPingHandlerRoutes(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewPingHandler(discardLogger(), fixedCounter(3)).Register(e)

	cases := []struct {
		method string
		path   string
		body   string
	}{
		{method: http.MethodGet, path: "/ping", body: `{"status":"ok"}`},
		{method: http.MethodHead, path: "/health"},
		{method: http.MethodGet, path: "/sessions", body: `{"sessions":3}`},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s %s: status %d", tc.method, tc.path, rec.Code)
		}
		if tc.body != "" {
			assert.JSONEq(t, tc.body, rec.Body.String())
		}
	}
}
