// Package onebot speaks the OneBot v11 HTTP protocol used by QQ gateways
// such as go-cqhttp and NapCat.
package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a QQ user or group number. Gateways send it as a JSON number or a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("onebot id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Segment is one element of a message array.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Str returns a data field as a string, accepting numbers as well.
func (s Segment) Str(key string) string {
	switch v := s.Data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Event is an inbound OneBot event. Only message events are fully decoded.
type Event struct {
	PostType    string    `json:"post_type" validate:"required"`
	MessageType string    `json:"message_type"`
	SubType     string    `json:"sub_type,omitempty"`
	MessageID   ID        `json:"message_id,omitempty"`
	SelfID      ID        `json:"self_id,omitempty"`
	UserID      ID        `json:"user_id"`
	GroupID     ID        `json:"group_id,omitempty"`
	Message     []Segment `json:"message"`
	RawMessage  string    `json:"raw_message,omitempty"`
}

// Target addresses an outbound message. A non-empty GroupID selects a group send.
type Target struct {
	UserID  string
	GroupID string
}

func (t Target) IsGroup() bool { return t.GroupID != "" }
