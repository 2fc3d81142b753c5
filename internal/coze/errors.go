package coze

import (
	"errors"
	"fmt"
)

var (
	ErrNoMessages   = errors.New("coze: chat returned no messages")
	ErrChatNotReady = errors.New("coze: chat did not reach a terminal status")
)

// APIError is a non-success response from the Coze Open API.
type APIError struct {
	Status int
	Code   int
	Msg    string
	LogID  string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("coze api error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("coze api error: status=%d msg=%s", e.Status, e.Msg)
}
