package agentstream

import (
	"encoding/json"
	"fmt"
)

// chunkEnvelope is the backend's wire wrapper around one message
type chunkEnvelope struct {
	Response *DecodedMessage `json:"response"`
}

// EncodeChunk renders a message in the agent protocol's chunk format.
// It is the inverse of JSONDecoder for well-formed messages and is used by
// mock sources and stream recorders.
func EncodeChunk(msg *DecodedMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("encode chunk: nil message")
	}
	if !msg.Kind.IsValid() {
		return "", fmt.Errorf("encode chunk: unknown message kind %q", msg.Kind)
	}
	data, err := json.Marshal(chunkEnvelope{Response: msg})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chunk: %w", err)
	}
	return string(data), nil
}
