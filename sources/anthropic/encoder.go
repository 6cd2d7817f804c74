package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	agentstream "github.com/haowjy/meridian-agentstream"
)

// EventStream is the iteration surface of an Anthropic message stream.
// *ssestream.Stream[anthropic.MessageStreamEventUnion], as returned by
// client.Messages.NewStreaming, satisfies it. Opening the stream is the caller's job.
type EventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

// Encoder converts the events of one Claude message stream into agent-protocol
// chunks attributed to a single agent, so a Claude-backed agent can be tracked
// like any other node of an agent network.
//
// Mapping:
//   - text_delta → AI chunk with the delta text
//   - tool_use block (start + input_json_delta + stop) → AGENT_FRAMEWORK chunk
//     "Invoking: `tool` with `{input}`"
//   - message_stop → final AGENT chunk with total_tokens (input + output), naming
//     only the agent's own frame so its callers stay active
//
// Thinking and signature deltas produce no chunks.
type Encoder struct {
	origin []agentstream.OriginFrame

	inputTokens  int64
	outputTokens int64
	tools        map[int64]*toolCall
}

type toolCall struct {
	name  string
	input strings.Builder
}

// NewEncoder creates an encoder for an agent whose call stack is origin
// (root first, the Claude-backed agent last).
func NewEncoder(origin []agentstream.OriginFrame) (*Encoder, error) {
	if len(origin) == 0 {
		return nil, fmt.Errorf("anthropic encoder requires a non-empty origin stack")
	}
	frames := make([]agentstream.OriginFrame, len(origin))
	copy(frames, origin)
	return &Encoder{
		origin: frames,
		tools:  make(map[int64]*toolCall),
	}, nil
}

// Encode converts one Anthropic stream event into zero or more chunks.
func (e *Encoder) Encode(event anthropic.MessageStreamEventUnion) ([]string, error) {
	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		e.inputTokens = ev.Message.Usage.InputTokens
		e.outputTokens = ev.Message.Usage.OutputTokens
		return nil, nil

	case anthropic.ContentBlockStartEvent:
		if ev.ContentBlock.Type == "tool_use" {
			e.tools[ev.Index] = &toolCall{name: ev.ContentBlock.Name}
		}
		return nil, nil

	case anthropic.ContentBlockDeltaEvent:
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text == "" {
				return nil, nil
			}
			return e.encode(&agentstream.DecodedMessage{
				Kind:   agentstream.KindAI,
				Text:   ev.Delta.Text,
				Origin: e.origin,
			})

		case "input_json_delta":
			if call, ok := e.tools[ev.Index]; ok {
				call.input.WriteString(ev.Delta.PartialJSON)
			}
		}
		return nil, nil

	case anthropic.ContentBlockStopEvent:
		call, ok := e.tools[ev.Index]
		if !ok {
			return nil, nil
		}
		delete(e.tools, ev.Index)

		input := call.input.String()
		if input == "" {
			input = "{}"
		}
		return e.encode(&agentstream.DecodedMessage{
			Kind:   agentstream.KindAgentFramework,
			Text:   fmt.Sprintf("Invoking: `%s` with `%s`", call.name, input),
			Origin: e.origin,
		})

	case anthropic.MessageDeltaEvent:
		if ev.Usage.OutputTokens > 0 {
			e.outputTokens = ev.Usage.OutputTokens
		}
		return nil, nil

	case anthropic.MessageStopEvent:
		total := int(e.inputTokens + e.outputTokens)
		return e.encode(&agentstream.DecodedMessage{
			Kind:       agentstream.KindAgent,
			Origin:     e.origin[len(e.origin)-1:],
			Completion: &agentstream.CompletionSignal{TotalTokens: &total},
		})

	default:
		return nil, nil
	}
}

// Stream encodes every event of stream into a chunk channel suitable for
// Session.Consume. The channel is closed when the stream ends, fails, or ctx is done.
func (e *Encoder) Stream(ctx context.Context, stream EventStream) <-chan agentstream.ChunkEvent {
	events := make(chan agentstream.ChunkEvent, 10)

	go func() {
		defer close(events)

		send := func(event agentstream.ChunkEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- event:
				return true
			}
		}

		for stream.Next() {
			chunks, err := e.Encode(stream.Current())
			if err != nil {
				send(agentstream.ChunkEvent{Err: err})
				return
			}
			for _, chunk := range chunks {
				if !send(agentstream.ChunkEvent{Chunk: chunk}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(agentstream.ChunkEvent{Err: fmt.Errorf("anthropic streaming error: %w", err)})
		}
	}()

	return events
}

func (e *Encoder) encode(msg *agentstream.DecodedMessage) ([]string, error) {
	chunk, err := agentstream.EncodeChunk(msg)
	if err != nil {
		return nil, err
	}
	return []string{chunk}, nil
}
