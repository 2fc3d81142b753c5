package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/memohai/qqrelay/internal/inbound"
	"github.com/memohai/qqrelay/internal/onebot"
)

const callbackMaxBodyBytes int64 = 1 << 20

type eventRouter interface {
	Handle(ctx context.Context, ev onebot.Event) inbound.Result
}

// CallbackHandler receives OneBot event reports.
type CallbackHandler struct {
	router   eventRouter
	validate *validator.Validate
	logger   *slog.Logger
}

func NewCallbackHandler(log *slog.Logger, router *inbound.Router) *CallbackHandler {
	return newCallbackHandler(log, router)
}

func newCallbackHandler(log *slog.Logger, router eventRouter) *CallbackHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CallbackHandler{
		router:   router,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.With(slog.String("handler", "coze_callback")),
	}
}

func (h *CallbackHandler) Register(e *echo.Echo) {
	e.POST("/coze/callback", h.Callback)
}

// Callback answers 400 only when there is no usable event. Every other
// outcome is acknowledged so the gateway does not retry.
func (h *CallbackHandler) Callback(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, callbackMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if int64(len(body)) > callbackMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}
	if !isEventObject(body) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"status": "error",
			"msg":    "empty event",
		})
	}
	var ev onebot.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		h.logger.Warn("event not decodable", slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]string{"status": "success"})
	}
	if err := h.validate.Struct(ev); err != nil {
		h.logger.Debug("event ignored", slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]string{"status": "success"})
	}

	result := h.router.Handle(context.WithoutCancel(c.Request().Context()), ev)
	h.logger.Debug("event handled",
		slog.String("post_type", ev.PostType),
		slog.String("result", result.String()),
	)
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// isEventObject reports whether body is a non-empty JSON object.
func isEventObject(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	return len(fields) > 0
}
