package agentstream

import "strings"

// OriginFrame is one entry of a message's call stack.
// InstantiationIndex distinguishes concurrent instances of the same agent.
type OriginFrame struct {
	// Tool is the agent identifier
	Tool string `json:"tool"`

	// InstantiationIndex distinguishes parallel invocations of the same tool
	InstantiationIndex int `json:"instantiation_index"`
}

// CompletionSignal marks a message as the last one for the agent that produced it.
// Either field being set is enough.
//
// Backend mapping: the message's "structure" object.
//   - total_tokens: token usage reported when an agent finishes its turn
//   - tool_end: explicit end-of-tool flag
type CompletionSignal struct {
	// TotalTokens is the token-usage total reported at the end of a turn (optional)
	TotalTokens *int `json:"total_tokens,omitempty"`

	// ToolEnd is an explicit "tool ended" flag (optional)
	ToolEnd *bool `json:"tool_end,omitempty"`
}

// IsFinal returns true if the signal carries a usage total or a true end flag
func (c *CompletionSignal) IsFinal() bool {
	if c == nil {
		return false
	}
	if c.TotalTokens != nil {
		return true
	}
	return c.ToolEnd != nil && *c.ToolEnd
}

// DecodedMessage is the structured form of one streamed chunk.
// A nil *DecodedMessage means the chunk carried nothing decodable.
type DecodedMessage struct {
	// Kind is one of the known message kinds
	Kind MessageKind `json:"type"`

	// Text is the free-form payload, which may itself encode JSON
	Text string `json:"text,omitempty"`

	// Origin is the call stack from the root agent to the emitting agent.
	// Empty for boilerplate and log lines.
	Origin []OriginFrame `json:"origin,omitempty"`

	// Completion is present on the last message of an agent's turn
	Completion *CompletionSignal `json:"structure,omitempty"`
}

// HasOrigin returns true if the message is attributed to at least one agent
func (m *DecodedMessage) HasOrigin() bool {
	return m != nil && len(m.Origin) > 0
}

// IsFinal reports whether this message ends the emitting agent's turn.
// Besides the structured completion signal, text starting with legacyPrefix
// counts as final. An empty prefix disables the text check.
func (m *DecodedMessage) IsFinal(legacyPrefix string) bool {
	if m == nil {
		return false
	}
	if m.Completion.IsFinal() {
		return true
	}
	return legacyPrefix != "" && strings.HasPrefix(m.Text, legacyPrefix)
}

// Tools returns the set of non-empty tool identifiers named in the origin stack
func (m *DecodedMessage) Tools() map[string]struct{} {
	tools := make(map[string]struct{}, len(m.Origin))
	for _, frame := range m.Origin {
		if frame.Tool == "" {
			continue
		}
		tools[frame.Tool] = struct{}{}
	}
	return tools
}

// Frontman returns the root (depth zero) agent of the call stack, or "" if none
func (m *DecodedMessage) Frontman() string {
	if !m.HasOrigin() {
		return ""
	}
	return m.Origin[0].Tool
}

// Caption returns a short caption for the message text, and false when the
// extracted caption is not worth displaying.
func (m *DecodedMessage) Caption(x *CaptionExtractor) (string, bool) {
	if m == nil {
		return "", false
	}
	caption := x.Extract(m.Text)
	if !x.IsMeaningful(caption) {
		return "", false
	}
	return caption, true
}
