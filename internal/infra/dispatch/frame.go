package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"computemesh/internal/domain"
)

type commandFrame struct {
	CommandID string          `json:"command_id"`
	Method    string          `json:"method"`
	URL       string          `json:"url"`
	Data      json.RawMessage `json:"data"`
}

// inboundFrame covers every frame a peer may send: liveness acks carry Type,
// replies carry CommandID with either Result or Error.
type inboundFrame struct {
	Type      string          `json:"type,omitempty"`
	CommandID json.RawMessage `json:"command_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

func encodeCommand(commandID string, cmd domain.Command) ([]byte, error) {
	data := cmd.Data
	if len(bytes.TrimSpace(data)) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(commandFrame{
		CommandID: commandID,
		Method:    cmd.Method,
		URL:       cmd.URL,
		Data:      data,
	})
}

func decodeInbound(raw []byte) (inboundFrame, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return inboundFrame{}, fmt.Errorf("%w: %v", domain.ErrMalformedReply, err)
	}
	return frame, nil
}

// commandID accepts string ids and, leniently, numeric ones.
func (f inboundFrame) commandID() string {
	trimmed := bytes.TrimSpace(f.CommandID)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err == nil {
		return number.String()
	}
	return ""
}
