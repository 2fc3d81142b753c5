package coze

import "strings"

// EventKind is the normalized SSE event name.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventConversationUpdate
	EventMessageDelta
	EventMessageCompleted
	EventChatCompleted
	EventChatFailed
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventConversationUpdate:
		return "conversation_update"
	case EventMessageDelta:
		return "message_delta"
	case EventMessageCompleted:
		return "message_completed"
	case EventChatCompleted:
		return "chat_completed"
	case EventChatFailed:
		return "chat_failed"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

func parseEventKind(name string) EventKind {
	switch strings.TrimSpace(name) {
	case "conversation.chat.created", "conversation.chat.in_progress", "conversation.chat.requires_action":
		return EventConversationUpdate
	case "conversation.message.delta":
		return EventMessageDelta
	case "conversation.message.completed":
		return EventMessageCompleted
	case "conversation.chat.completed":
		return EventChatCompleted
	case "conversation.chat.failed":
		return EventChatFailed
	case "error":
		return EventError
	case "done":
		return EventDone
	default:
		return EventUnknown
	}
}

// MessageType is the normalized tag of a message.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageAnswer
	MessageFunctionCall
	MessageToolResponse
	MessageVerbose
	MessageFollowUp
	MessageQuestion
)

func (t MessageType) String() string {
	switch t {
	case MessageAnswer:
		return "answer"
	case MessageFunctionCall:
		return "function_call"
	case MessageToolResponse:
		return "tool_response"
	case MessageVerbose:
		return "verbose"
	case MessageFollowUp:
		return "follow_up"
	case MessageQuestion:
		return "question"
	default:
		return "unknown"
	}
}

// ParseMessageType accepts both the bare tag ("tool_response") and the
// qualified spelling ("MessageType.TOOL_RESPONSE").
func ParseMessageType(raw string) MessageType {
	tag := strings.TrimSpace(raw)
	tag = strings.TrimPrefix(tag, "MessageType.")
	switch strings.ToLower(tag) {
	case "answer":
		return MessageAnswer
	case "function_call":
		return MessageFunctionCall
	case "tool_response", "tool_output":
		return MessageToolResponse
	case "verbose":
		return MessageVerbose
	case "follow_up":
		return MessageFollowUp
	case "question":
		return MessageQuestion
	default:
		return MessageUnknown
	}
}

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	ChatStatusCreated        ChatStatus = "created"
	ChatStatusInProgress     ChatStatus = "in_progress"
	ChatStatusCompleted      ChatStatus = "completed"
	ChatStatusFailed         ChatStatus = "failed"
	ChatStatusRequiresAction ChatStatus = "requires_action"
	ChatStatusCanceled       ChatStatus = "canceled"
)

// Terminal reports whether polling can stop.
func (s ChatStatus) Terminal() bool {
	switch s {
	case ChatStatusCompleted, ChatStatusFailed, ChatStatusRequiresAction, ChatStatusCanceled:
		return true
	default:
		return false
	}
}

// ChatRequest is one user turn.
type ChatRequest struct {
	UserID         string
	ConversationID string
	Query          string
}

// Message is a decoded chat message.
type Message struct {
	ID             string
	ConversationID string
	ChatID         string
	Role           string
	Type           MessageType
	Content        string
	ContentType    string
}

// Usage is the token accounting attached to a finished chat.
type Usage struct {
	TokenCount  int `json:"token_count"`
	OutputCount int `json:"output_count"`
	InputCount  int `json:"input_count"`
}

// Chat is the chat object returned by create/retrieve and chat.* events.
type Chat struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	BotID          string     `json:"bot_id"`
	Status         ChatStatus `json:"status"`
	LastError      *ChatError `json:"last_error,omitempty"`
	Usage          *Usage     `json:"usage,omitempty"`
}

type ChatError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Event is one normalized stream event. Message is set for message events,
// Chat for chat events; Err carries the message of error/failed events.
type Event struct {
	Kind           EventKind
	ConversationID string
	Message        *Message
	Chat           *Chat
	Err            string
}

type wireMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	ChatID         string `json:"chat_id"`
	BotID          string `json:"bot_id"`
	Role           string `json:"role"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	ContentType    string `json:"content_type"`
}

func (m wireMessage) toMessage() Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ChatID:         m.ChatID,
		Role:           m.Role,
		Type:           ParseMessageType(m.Type),
		Content:        m.Content,
		ContentType:    m.ContentType,
	}
}

type wireAdditionalMessage struct {
	Role        string `json:"role"`
	Type        string `json:"type"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type wireChatRequest struct {
	BotID              string                  `json:"bot_id"`
	UserID             string                  `json:"user_id"`
	Stream             bool                    `json:"stream"`
	AutoSaveHistory    bool                    `json:"auto_save_history"`
	AdditionalMessages []wireAdditionalMessage `json:"additional_messages"`
}
