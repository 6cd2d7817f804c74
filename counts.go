package agentstream

// AgentCounts maps an agent identifier to the number of times it has appeared
// in any decoded message's call stack during one session. It is a visit
// histogram, not a concurrency gauge: counts never decrease within a session.
type AgentCounts map[string]int

// UpdateCounts returns a new AgentCounts with every frame's tool incremented by one.
// Frames are not deduplicated, so an agent named twice in one stack counts twice.
// The input map is not modified.
func UpdateCounts(counts AgentCounts, frames []OriginFrame) AgentCounts {
	next := counts.Clone()
	for _, frame := range frames {
		next[frame.Tool]++
	}
	return next
}

// Clone returns an independent copy. Cloning nil yields an empty, non-nil map.
func (c AgentCounts) Clone() AgentCounts {
	out := make(AgentCounts, len(c))
	for tool, n := range c {
		out[tool] = n
	}
	return out
}

// Get returns the count for tool, or zero if it has never been seen
func (c AgentCounts) Get(tool string) int {
	return c[tool]
}
