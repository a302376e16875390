package commsutil

import (
	"encoding/json"
	"fmt"

	comms "github.com/nats-io/nats.go"
)

const codecLogPrefix = "commsutil:codec"

// Header names set on published messages.
const (
	HeaderContentType = "Content-Type"
	HeaderMsgID       = comms.MsgIdHdr
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewMessage builds a JSON message for subject. A non-empty id is set as the
// message id header so JetStream consumers can de-duplicate.
func NewMessage(subject, id string, v any) (*comms.Msg, error) {
	data, err := EncodePayload(v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode payload for %s: %w", codecLogPrefix, subject, err)
	}
	msg := comms.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderContentType, "application/json")
	if id != "" {
		msg.Header.Set(HeaderMsgID, id)
	}
	return msg, nil
}
