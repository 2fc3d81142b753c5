// Package toolresult classifies the raw content of a Coze tool_response message.
package toolresult

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind is the shape of a parsed tool response.
type Kind string

const (
	KindImage   Kind = "image"
	KindAudio   Kind = "audio"
	KindText    Kind = "text"
	KindError   Kind = "error"
	KindUnknown Kind = "unknown"
)

const emptyResponseError = "empty tool response"

// Outcome is the result of Parse. Only the fields matching Kind are set.
type Outcome struct {
	Kind     Kind
	OK       bool
	Images   []string
	Audios   []string
	Text     string
	Error    string
	Duration any
}

// Parse never fails: malformed content maps to an Error or Unknown outcome.
// Error-code detection precedes payload inspection, and image detection
// precedes audio detection.
func Parse(content string) Outcome {
	content = strings.TrimSpace(content)
	if content == "" {
		return Outcome{Kind: KindError, Error: emptyResponseError}
	}
	if strings.HasPrefix(content, "RPCError") {
		return Outcome{Kind: KindError, Error: content}
	}
	if !strings.HasPrefix(content, "{") {
		return Outcome{Kind: KindText, OK: true, Text: content}
	}

	var decoded any
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return Outcome{Kind: KindError, Error: fmt.Sprintf("json decode failed: %v", err)}
	}
	if rest := strings.TrimSpace(content[dec.InputOffset():]); rest != "" {
		return Outcome{Kind: KindError, Error: fmt.Sprintf("json decode failed: unexpected data after value: %q", truncate(rest, 32))}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return Outcome{Kind: KindUnknown, OK: true, Text: content}
	}

	if code, present := obj["code"]; present && !isZeroCode(code) {
		msg, _ := obj["msg"].(string)
		if msg == "" {
			msg = compact(obj)
		}
		return Outcome{Kind: KindError, Error: msg}
	}

	if payload, ok := obj["data"].(map[string]any); ok {
		if inner, ok := payload["data"].(map[string]any); ok {
			if urls := stringList(inner["image_urls"]); len(urls) > 0 {
				return Outcome{Kind: KindImage, OK: true, Images: urls}
			}
		}
		if link, ok := payload["link"].(string); ok && strings.HasPrefix(link, "http") {
			return Outcome{Kind: KindAudio, OK: true, Audios: []string{link}, Duration: payload["duration"]}
		}
	}
	return Outcome{Kind: KindText, OK: true, Text: compact(obj)}
}

func isZeroCode(v any) bool {
	switch code := v.(type) {
	case nil:
		return true
	case json.Number:
		f, err := code.Float64()
		return err == nil && f == 0
	case string:
		return code == "0"
	default:
		return false
	}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		default:
			out = append(out, fmt.Sprint(s))
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func compact(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
