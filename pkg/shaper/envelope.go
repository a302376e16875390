package shaper

import (
	"encoding/json"

	"github.com/morezero/action-gateway/pkg/messages"
)

// Envelope statuses.
const (
	StatusOK    = 0
	StatusError = -1
)

// Envelope is the JSON body returned to asynchronous callers in place of a
// redirect.
type Envelope struct {
	CurrentURL     string            `json:"current_url"`
	ForwardURL     string            `json:"forward_url"`
	SystemMessages messages.Messages `json:"system_messages"`
	Status         int               `json:"status"`
	Output         any               `json:"output"`
}

// NewEnvelope builds an envelope from drained messages and captured output.
// Output that parses as JSON is embedded as a value, anything else as the
// raw string.
func NewEnvelope(currentURL, forwardURL string, msgs messages.Messages, output string) Envelope {
	if msgs.Messages == nil {
		msgs.Messages = []string{}
	}
	if msgs.Errors == nil {
		msgs.Errors = []string{}
	}
	status := StatusOK
	if len(msgs.Errors) > 0 {
		status = StatusError
	}
	return Envelope{
		CurrentURL:     currentURL,
		ForwardURL:     forwardURL,
		SystemMessages: msgs,
		Status:         status,
		Output:         decodeOutput(output),
	}
}

func decodeOutput(raw string) any {
	var v any
	if raw != "" && json.Unmarshal([]byte(raw), &v) == nil {
		return v
	}
	return raw
}
