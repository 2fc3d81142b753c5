package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// sessionCounter reports how many conversations are currently tracked.
type sessionCounter interface {
	Len() int
}

type PingHandler struct {
	sessions sessionCounter
	logger   *slog.Logger
}

func NewPingHandler(log *slog.Logger, sessions sessionCounter) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{
		sessions: sessions,
		logger:   log.With(slog.String("handler", "ping")),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
	e.GET("/sessions", h.Sessions)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// Sessions reports the number of live conversations.
func (h *PingHandler) Sessions(c echo.Context) error {
	count := 0
	if h.sessions != nil {
		count = h.sessions.Len()
	}
	return c.JSON(http.StatusOK, map[string]int{
		"sessions": count,
	})
}
