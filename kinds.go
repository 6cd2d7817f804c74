package agentstream

// MessageKind identifies the kind of a decoded agent-protocol message.
// The set is closed: kinds outside it are treated as undecodable.
type MessageKind string

// Known message kinds
const (
	// KindAI is text produced by a model on behalf of an agent
	KindAI MessageKind = "AI"

	// KindAgent is a message emitted by an agent itself (invocations, results)
	KindAgent MessageKind = "AGENT"

	// KindAgentFramework is a message emitted by the orchestration framework
	KindAgentFramework MessageKind = "AGENT_FRAMEWORK"

	// KindLegacyLogs carries old-style log lines
	KindLegacyLogs MessageKind = "LEGACY_LOGS"

	// KindUnknown is an explicitly unclassified message
	KindUnknown MessageKind = "UNKNOWN"
)

// String returns the string representation of the message kind
func (k MessageKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is in the known set
func (k MessageKind) IsValid() bool {
	switch k {
	case KindAI, KindAgent, KindAgentFramework, KindLegacyLogs, KindUnknown:
		return true
	default:
		return false
	}
}

// IsActivity returns true if messages of this kind open or extend a conversation
// when they are not final.
func (k MessageKind) IsActivity() bool {
	switch k {
	case KindAI, KindAgent, KindAgentFramework:
		return true
	default:
		return false
	}
}
