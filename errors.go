package appwrite

import (
	"errors"
	"fmt"
)

// Realtime errors.
var (
	ErrNoChannels      = errors.New("realtime: at least one channel is required")
	ErrNilCallback     = errors.New("realtime: callback is required")
	ErrRealtimeClosed  = errors.New("realtime: engine closed")
	ErrMissingProject  = errors.New("realtime: project is not set")
	ErrMissingEndpoint = errors.New("realtime: realtime endpoint is not set")
)

// Exception is an error reported by the Appwrite server, either in a REST
// response body or in a realtime "error" envelope.
type Exception struct {
	Message  string `json:"message"`
	Code     int    `json:"code,omitempty"`
	Type     string `json:"type,omitempty"`
	Response string `json:"-"`
}

func (e *Exception) Error() string {
	switch {
	case e.Type != "" && e.Code != 0:
		return fmt.Sprintf("%s (%d): %s", e.Type, e.Code, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("%d: %s", e.Code, e.Message)
	default:
		return e.Message
	}
}

// CloseError reports that a socket was closed by a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: status = %d and reason = %q", e.Code, e.Reason)
}

// CloseStatus returns the close code carried by err, or CloseUnknown when err
// is not a close frame.
func CloseStatus(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseUnknown
}
