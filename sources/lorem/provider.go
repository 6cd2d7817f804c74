package lorem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	agentstream "github.com/haowjy/meridian-agentstream"
)

// Network describes a mock agent network: a frontman that delegates to each
// agent in turn. Used for demos and tests without a real orchestration backend.
type Network struct {
	// Frontman is the root agent of every call stack
	Frontman string

	// Delegates are invoked by the frontman, one after another
	Delegates []string

	// Sentences is how many AI text chunks each delegate emits (default 3)
	Sentences int

	// Speed controls the delay between chunks: "instant", "fast", "medium" or "slow"
	Speed string

	// Noise interleaves malformed, unknown-kind and unattributed chunks
	Noise bool
}

// Provider generates agent-protocol chunk streams filled with lorem ipsum text.
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem chunk provider.
func NewProvider() *Provider {
	return &Provider{
		generator: loremgen.New(),
	}
}

// getChunkDelay returns the delay between chunks for a speed name.
// - instant: no delay (tests)
// - fast: 33ms
// - slow: 500ms
// - medium and default: 100ms
func getChunkDelay(speed string) time.Duration {
	switch speed {
	case "instant":
		return 0
	case "fast":
		return 33 * time.Millisecond
	case "slow":
		return 500 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// StreamChunks streams one exchange through the network:
//
//	frontman AI text
//	for each delegate: frontman invocation → delegate AI text → delegate final (total_tokens)
//	frontman final (tool_end)
//
// The channel is closed when the exchange is complete or ctx is done.
func (p *Provider) StreamChunks(ctx context.Context, net *Network) (<-chan agentstream.ChunkEvent, error) {
	if net == nil || net.Frontman == "" {
		return nil, fmt.Errorf("lorem network requires a frontman")
	}
	sentences := net.Sentences
	if sentences <= 0 {
		sentences = 3
	}
	delay := getChunkDelay(net.Speed)

	events := make(chan agentstream.ChunkEvent, 10)

	go func() {
		defer close(events)

		root := agentstream.OriginFrame{Tool: net.Frontman}
		log.Printf("[LOREM] StreamChunks started: frontman=%s, delegates=%d, noise=%v",
			net.Frontman, len(net.Delegates), net.Noise)

		send := func(msg *agentstream.DecodedMessage) bool {
			return p.send(ctx, events, msg, delay)
		}

		if !send(&agentstream.DecodedMessage{
			Kind:   agentstream.KindAI,
			Text:   p.generator.Sentence(5, 12),
			Origin: []agentstream.OriginFrame{root},
		}) {
			return
		}

		for i, delegate := range net.Delegates {
			if net.Noise && !p.emitNoise(ctx, events, delay) {
				return
			}

			invocation := fmt.Sprintf("Invoking: `%s` with `{'inquiry': '%s'}`",
				delegate, strings.ReplaceAll(p.generator.Sentence(4, 8), "'", ""))
			if !send(&agentstream.DecodedMessage{
				Kind:   agentstream.KindAgentFramework,
				Text:   invocation,
				Origin: []agentstream.OriginFrame{root},
			}) {
				return
			}

			frames := []agentstream.OriginFrame{root, {Tool: delegate, InstantiationIndex: i}}
			tokens := 0
			for n := 0; n < sentences; n++ {
				text := p.generator.Sentence(5, 15)
				tokens += len(strings.Fields(text))
				if !send(&agentstream.DecodedMessage{
					Kind:   agentstream.KindAI,
					Text:   text,
					Origin: frames,
				}) {
					return
				}
			}

			if !send(&agentstream.DecodedMessage{
				Kind:       agentstream.KindAgent,
				Text:       "Got result: " + p.generator.Sentence(3, 6),
				Origin:     []agentstream.OriginFrame{{Tool: delegate, InstantiationIndex: i}},
				Completion: &agentstream.CompletionSignal{TotalTokens: &tokens},
			}) {
				return
			}
		}

		ended := true
		send(&agentstream.DecodedMessage{
			Kind:       agentstream.KindAgent,
			Text:       p.generator.Paragraph(1, 2),
			Origin:     []agentstream.OriginFrame{root},
			Completion: &agentstream.CompletionSignal{ToolEnd: &ended},
		})
		log.Printf("[LOREM] StreamChunks complete: frontman=%s", net.Frontman)
	}()

	return events, nil
}

// emitNoise sends chunks the tracker must tolerate: a JSON object split
// mid-way, an unknown message kind and an unattributed log line.
func (p *Provider) emitNoise(ctx context.Context, events chan<- agentstream.ChunkEvent, delay time.Duration) bool {
	noise := []string{
		`{"response": {"type": "AI", "text": "` + p.generator.Word(3, 8),
		`{"response": {"type": "TELEMETRY", "text": "heartbeat"}}`,
		`{"response": {"type": "LEGACY_LOGS", "text": "` + p.generator.Word(3, 8) + `", "origin": []}}`,
	}
	for _, chunk := range noise {
		if !p.emit(ctx, events, chunk, delay) {
			return false
		}
	}
	return true
}

// send encodes msg and emits it. An encoding failure is delivered as the
// stream's error event and ends the stream.
func (p *Provider) send(ctx context.Context, events chan<- agentstream.ChunkEvent, msg *agentstream.DecodedMessage, delay time.Duration) bool {
	chunk, err := agentstream.EncodeChunk(msg)
	if err != nil {
		select {
		case <-ctx.Done():
		case events <- agentstream.ChunkEvent{Err: err}:
		}
		return false
	}
	return p.emit(ctx, events, chunk, delay)
}

func (p *Provider) emit(ctx context.Context, events chan<- agentstream.ChunkEvent, chunk string, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- agentstream.ChunkEvent{Chunk: chunk}:
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return true
}
