package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type routeHandler struct{}

func (routeHandler) Register(e *echo.Echo) {
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	e.GET("/ping", ok)
	e.HEAD("/health", ok)
	e.POST("/coze/callback", ok)
}

func TestShouldSkipAuth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/coze/callback", want: false},
		{path: "/sessions", want: false},
		{path: "/ping/extra", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipAuth(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}

func TestAccessToken(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(log, Options{AccessToken: "secret"}, []Handler{routeHandler{}, nil})

	cases := []struct {
		name   string
		method string
		target string
		auth   string
		want   int
	}{
		{name: "health open", method: http.MethodGet, target: "/ping", want: http.StatusOK},
		{name: "missing token", method: http.MethodPost, target: "/coze/callback", want: http.StatusBadRequest},
		{name: "wrong token", method: http.MethodPost, target: "/coze/callback", auth: "Bearer nope", want: http.StatusUnauthorized},
		{name: "bearer token", method: http.MethodPost, target: "/coze/callback", auth: "Bearer secret", want: http.StatusOK},
		{name: "query token", method: http.MethodPost, target: "/coze/callback?access_token=secret", want: http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		if tc.auth != "" {
			req.Header.Set(echo.HeaderAuthorization, tc.auth)
		}
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: want %d got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestNoTokenLeavesRoutesOpen(t *testing.T) {
	t.Parallel()

	srv := New(nil, Options{}, []Handler{routeHandler{}})
	if srv.addr != defaultAddr {
		t.Fatalf("unexpected addr %q", srv.addr)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/coze/callback", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
