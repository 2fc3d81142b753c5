package inbound

import (
	"strings"

	"github.com/memohai/qqrelay/internal/onebot"
	"github.com/memohai/qqrelay/internal/session"
)

const (
	imageBlockLabel = "\n\nImage URLs:\n"
	audioBlockLabel = "\n\nAudio URLs:\n"
)

// Message is a normalized inbound chat message.
type Message struct {
	Scope     session.Scope
	UserID    string
	GroupID   string
	Text      string
	Images    []string
	Audios    []string
	Mentioned bool
}

func (m Message) Key() session.Key {
	return session.KeyFor(m.Scope, m.UserID, m.GroupID)
}

func (m Message) Target() onebot.Target {
	t := onebot.Target{UserID: m.UserID}
	if m.Scope == session.ScopeGroup {
		t.GroupID = m.GroupID
	}
	return t
}

// Normalize turns a gateway event into a Message. It reports false for
// events that must not be answered: non-message events, unsupported message
// types, group messages that do not mention botQQ, and empty messages.
func Normalize(ev onebot.Event, botQQ string) (Message, bool) {
	if ev.PostType != "message" {
		return Message{}, false
	}
	scope, ok := session.ScopeOf(ev.MessageType)
	if !ok {
		return Message{}, false
	}
	msg := Message{Scope: scope, UserID: ev.UserID.String()}
	if scope == session.ScopeGroup {
		msg.GroupID = ev.GroupID.String()
	}

	var text strings.Builder
	for _, seg := range ev.Message {
		switch seg.Type {
		case "at":
			if botQQ != "" && seg.Str("qq") == botQQ {
				msg.Mentioned = true
			}
		case "text":
			text.WriteString(seg.Str("text"))
		case "image":
			if u := seg.Str("url"); u != "" {
				msg.Images = append(msg.Images, u)
			}
		case "audio", "record":
			if u := seg.Str("url"); u != "" {
				msg.Audios = append(msg.Audios, u)
			}
		}
	}
	if len(msg.Images) > 0 {
		text.WriteString(imageBlockLabel + strings.Join(msg.Images, "\n"))
	}
	if len(msg.Audios) > 0 {
		text.WriteString(audioBlockLabel + strings.Join(msg.Audios, "\n"))
	}
	msg.Text = text.String()

	if scope == session.ScopeGroup && !msg.Mentioned {
		return Message{}, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Message{}, false
	}
	return msg, true
}
