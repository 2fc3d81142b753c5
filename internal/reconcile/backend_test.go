package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/qqrelay/internal/coze"
	"github.com/memohai/qqrelay/internal/session"
)

// A stream that stalls after its first delta is cut off by the stream
// timeout, and the reply comes from the non-streaming fallback.
func TestReconcileStalledStreamFallsBack(t *testing.T) {
	t.Parallel()

	fallbackConv := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/chat", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			fallbackConv <- r.URL.Query().Get("conversation_id")
			_, _ = io.WriteString(w, `{"code":0,"data":{"id":"chat-2","conversation_id":"conv-1","status":"in_progress"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event:conversation.message.delta\ndata:{\"conversation_id\":\"conv-1\",\"type\":\"answer\",\"content\":\"partial\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
	mux.HandleFunc("GET /v3/chat/retrieve", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"code":0,"data":{"id":"chat-2","conversation_id":"conv-1","status":"completed"}}`)
	})
	mux.HandleFunc("GET /v3/chat/message/list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"code":0,"data":[{"type":"answer","content":"  fallback answer  "}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := coze.NewClient(log, coze.Config{BaseURL: srv.URL, APIKey: "k", BotID: "bot-1", PollInterval: 5 * time.Millisecond})
	store := session.NewStore()
	rec := NewReconciler(log, NewCozeBackend(client), store, Options{StreamTimeout: 300 * time.Millisecond})

	start := time.Now()
	reply := rec.Reconcile(context.Background(), "user:1", "1", "q")
	elapsed := time.Since(start)

	assert.Equal(t, "fallback answer", reply.Text)
	assert.Empty(t, reply.Images)
	assert.Empty(t, reply.Audios)
	if elapsed < 300*time.Millisecond || elapsed > 5*time.Second {
		t.Fatalf("unexpected elapsed time %v", elapsed)
	}
	select {
	case conv := <-fallbackConv:
		assert.Equal(t, "conv-1", conv)
	default:
		t.Fatal("fallback was not requested")
	}
	got, ok := store.Get("user:1")
	require.True(t, ok)
	assert.Equal(t, "conv-1", got)
}
