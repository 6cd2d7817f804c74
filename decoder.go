package agentstream

import (
	"encoding/json"
	"fmt"
	"math"
)

// Decoder turns one raw streamed chunk into a structured message.
//
// Contract:
//   - (msg, nil): the chunk decoded into a known message kind
//   - (nil, nil): the chunk is malformed, partial or of an unknown kind (expected, silent)
//   - (nil, err): the decoder itself failed unexpectedly (reported by the session)
type Decoder interface {
	Decode(chunk string) (*DecodedMessage, error)
}

// DecoderFunc adapts a plain function to the Decoder interface.
type DecoderFunc func(chunk string) (*DecodedMessage, error)

// Decode calls f(chunk).
func (f DecoderFunc) Decode(chunk string) (*DecodedMessage, error) {
	return f(chunk)
}

// JSONDecoder decodes chunks in the agent protocol's JSON envelope:
//
//	{"response": {"type": "AI", "text": "...", "origin": [...], "structure": {...}}}
//
// A bare message object carrying a "type" key is accepted too.
type JSONDecoder struct{}

// wireMessage mirrors the backend message shape. Structure is kept loose because
// backends put arbitrary data there alongside the completion fields.
type wireMessage struct {
	Type      MessageKind     `json:"type"`
	Text      string          `json:"text"`
	Origin    []OriginFrame   `json:"origin"`
	Structure json.RawMessage `json:"structure"`
}

// Decode parses the chunk. It never panics: a panic inside parsing is converted
// into a *DecodeError wrapping ErrDecodeFault.
func (JSONDecoder) Decode(chunk string) (msg *DecodedMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = &DecodeError{
				Chunk:  truncateForDisplay(chunk, 80),
				Reason: fmt.Sprintf("panic: %v", r),
				Err:    ErrDecodeFault,
			}
		}
	}()

	return decodeChunk(chunk), nil
}

// Decode decodes a chunk with the default JSONDecoder, folding unexpected
// faults into nil. Use a Session for fault reporting.
func Decode(chunk string) *DecodedMessage {
	msg, err := JSONDecoder{}.Decode(chunk)
	if err != nil {
		return nil
	}
	return msg
}

func decodeChunk(chunk string) *DecodedMessage {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(chunk), &envelope); err != nil {
		return nil
	}

	body, ok := envelope["response"]
	if !ok {
		if _, hasType := envelope["type"]; !hasType {
			return nil
		}
		body = json.RawMessage(chunk)
	}

	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil
	}
	if !wire.Type.IsValid() {
		return nil
	}

	return &DecodedMessage{
		Kind:       wire.Type,
		Text:       wire.Text,
		Origin:     wire.Origin,
		Completion: decodeCompletion(wire.Structure),
	}
}

// decodeCompletion extracts the completion fields from a message's structure.
// Anything that is not an object, or an object without completion fields, yields nil.
func decodeCompletion(raw json.RawMessage) *CompletionSignal {
	if len(raw) == 0 {
		return nil
	}

	var structure map[string]any
	if err := json.Unmarshal(raw, &structure); err != nil || structure == nil {
		return nil
	}

	var signal CompletionSignal
	if total, ok := structure["total_tokens"].(float64); ok && !math.IsNaN(total) {
		tokens := int(total)
		signal.TotalTokens = &tokens
	}
	if ended, ok := structure["tool_end"].(bool); ok {
		signal.ToolEnd = &ended
	}

	if signal.TotalTokens == nil && signal.ToolEnd == nil {
		return nil
	}
	return &signal
}
