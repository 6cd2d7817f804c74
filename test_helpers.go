package agentstream

import "strconv"

// Test helper functions shared across test files

func intPtr(i int) *int {
	return &i
}

func boolPtr(b bool) *bool {
	return &b
}

func frames(tools ...string) []OriginFrame {
	out := make([]OriginFrame, len(tools))
	for i, tool := range tools {
		out[i] = OriginFrame{Tool: tool}
	}
	return out
}

// mustChunk encodes a message or panics; for test fixtures only.
func mustChunk(msg *DecodedMessage) string {
	chunk, err := EncodeChunk(msg)
	if err != nil {
		panic(err)
	}
	return chunk
}

// sequentialIDs returns an ID generator yielding conv-1, conv-2, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "conv-" + strconv.Itoa(n)
	}
}
