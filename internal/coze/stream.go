package coze

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Stream iterates over the events of one streaming chat. Cancel the context
// passed to Client.Stream to abort a blocked Next.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	event   string
	logID   string
	done    bool
}

func newStream(body io.ReadCloser, logID string) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return &Stream{body: body, scanner: scanner, logID: logID}
}

// LogID is the server-side trace id of the request, if any.
func (s *Stream) LogID() string { return s.logID }

// Next returns the next event, or io.EOF once the stream has ended.
func (s *Stream) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			s.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		kind := parseEventKind(s.event)
		if kind == EventDone {
			s.done = true
			return Event{Kind: EventDone}, nil
		}
		if data == "" || data == "[DONE]" {
			continue
		}
		ev, err := decodeEvent(kind, data)
		if err != nil {
			return Event{}, fmt.Errorf("decode %s event: %w", s.event, err)
		}
		if ev.Kind == EventUnknown {
			continue
		}
		return ev, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

func decodeEvent(kind EventKind, data string) (Event, error) {
	switch kind {
	case EventMessageDelta, EventMessageCompleted:
		var wm wireMessage
		if err := json.Unmarshal([]byte(data), &wm); err != nil {
			return Event{}, err
		}
		msg := wm.toMessage()
		return Event{Kind: kind, ConversationID: msg.ConversationID, Message: &msg}, nil
	case EventConversationUpdate, EventChatCompleted, EventChatFailed:
		var chat Chat
		if err := json.Unmarshal([]byte(data), &chat); err != nil {
			return Event{}, err
		}
		ev := Event{Kind: kind, ConversationID: chat.ConversationID, Chat: &chat}
		if kind == EventChatFailed {
			ev.Err = "chat failed"
			if chat.LastError != nil && chat.LastError.Msg != "" {
				ev.Err = chat.LastError.Msg
			}
		}
		return ev, nil
	case EventError:
		var ce ChatError
		if err := json.Unmarshal([]byte(data), &ce); err != nil {
			return Event{Kind: EventError, Err: data}, nil
		}
		msg := ce.Msg
		if msg == "" {
			msg = data
		}
		return Event{Kind: EventError, Err: msg}, nil
	default:
		return Event{}, nil
	}
}
