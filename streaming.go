package agentstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// MaxChunkSize is the largest single chunk ReadChunks accepts (1MB).
const MaxChunkSize = 1024 * 1024

// ChunkEvent is one item delivered to a session by a chunk source.
// Exactly one of Chunk or Err is meaningful.
type ChunkEvent struct {
	// Chunk is one raw streamed chunk, consumed once and not retained
	Chunk string

	// Err reports a failure in the source; the stream ends after it
	Err error
}

// ReadChunks splits a recorded stream into chunks, one per line, in order.
// Lines may be plain JSON (JSONL) or server-sent events: "data: " prefixes are
// stripped, blank lines and ":" comments are skipped, and "[DONE]" ends the stream.
// The returned channel is closed when the reader is exhausted, fails, or ctx is done.
func ReadChunks(ctx context.Context, r io.Reader) <-chan ChunkEvent {
	events := make(chan ChunkEvent, 10)

	go func() {
		defer close(events)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxChunkSize)

		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")

			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "data:") {
				line = strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			}
			if line == "[DONE]" {
				return
			}

			select {
			case <-ctx.Done():
				return
			case events <- ChunkEvent{Chunk: line}:
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case <-ctx.Done():
			case events <- ChunkEvent{Err: fmt.Errorf("error reading chunk stream: %w", err)}:
			}
		}
	}()

	return events
}
