package agentstream

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AgentConversation is one tracked thread of agent activity.
// A retained conversation always has at least one active agent.
// Conversations are immutable once published in a Registry.
type AgentConversation struct {
	// ID is an opaque unique identifier
	ID string

	// StartedAt is when the first activity of this thread was seen
	StartedAt time.Time

	agents map[string]struct{}
}

// Agents returns the active agent identifiers in sorted order
func (c *AgentConversation) Agents() []string {
	out := make([]string, 0, len(c.agents))
	for tool := range c.agents {
		out = append(out, tool)
	}
	sort.Strings(out)
	return out
}

// Has returns true if tool is active in this conversation
func (c *AgentConversation) Has(tool string) bool {
	_, ok := c.agents[tool]
	return ok
}

// Len returns the number of active agents
func (c *AgentConversation) Len() int {
	return len(c.agents)
}

func (c *AgentConversation) intersects(tools map[string]struct{}) bool {
	for tool := range tools {
		if c.Has(tool) {
			return true
		}
	}
	return false
}

// withAgents returns a copy of c with tools added.
func (c *AgentConversation) withAgents(tools map[string]struct{}) *AgentConversation {
	next := &AgentConversation{ID: c.ID, StartedAt: c.StartedAt, agents: make(map[string]struct{}, len(c.agents)+len(tools))}
	for tool := range c.agents {
		next.agents[tool] = struct{}{}
	}
	for tool := range tools {
		next.agents[tool] = struct{}{}
	}
	return next
}

// withoutAgents returns a copy of c with tools removed.
func (c *AgentConversation) withoutAgents(tools map[string]struct{}) *AgentConversation {
	next := &AgentConversation{ID: c.ID, StartedAt: c.StartedAt, agents: make(map[string]struct{}, len(c.agents))}
	for tool := range c.agents {
		if _, retired := tools[tool]; !retired {
			next.agents[tool] = struct{}{}
		}
	}
	return next
}

// Registry is the ordered list of active conversations, oldest first.
// A nil Registry is the Idle sentinel; the state machine never produces an
// empty non-nil Registry.
type Registry []*AgentConversation

// IsIdle returns true if no conversation is active
func (r Registry) IsIdle() bool {
	return len(r) == 0
}

// ActiveAgents returns the union of active agents across all conversations, sorted
func (r Registry) ActiveAgents() []string {
	seen := make(map[string]struct{})
	for _, conv := range r {
		for tool := range conv.agents {
			seen[tool] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for tool := range seen {
		out = append(out, tool)
	}
	sort.Strings(out)
	return out
}

// IsActive returns true if tool is active in any conversation
func (r Registry) IsActive(tool string) bool {
	for _, conv := range r {
		if conv.Has(tool) {
			return true
		}
	}
	return false
}

func normalizeRegistry(r Registry) Registry {
	if len(r) == 0 {
		return nil
	}
	return r
}

// TrackerState is the complete per-session state folded over decoded messages.
type TrackerState struct {
	Counts        AgentCounts
	Conversations Registry
}

// StateMachine applies decoded messages to a TrackerState.
// Apply is a pure fold: it never mutates the state it is given.
type StateMachine struct {
	legacyPrefix string
	now          func() time.Time
	newID        func() string
}

// NewStateMachine creates a state machine. A nil clock uses time.Now and a nil
// ID generator uses random UUIDs.
func NewStateMachine(cfg CompletionConfig, now func() time.Time, newID func() string) *StateMachine {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &StateMachine{
		legacyPrefix: cfg.LegacyResultPrefix,
		now:          now,
		newID:        newID,
	}
}

// Apply returns the state after processing m.
//
// Transition rules:
//  1. a nil message or one without an origin stack changes nothing
//  2. otherwise every frame is counted
//  3. a final AGENT message retires the agents it names from every conversation,
//     dropping conversations left empty
//  4. any other activity (AI, AGENT_FRAMEWORK, non-final AGENT) merges its agents
//     into the newest conversation when they share an agent, or opens a new one
func (sm *StateMachine) Apply(state TrackerState, m *DecodedMessage) TrackerState {
	if !m.HasOrigin() {
		return state
	}

	next := TrackerState{
		Counts:        UpdateCounts(state.Counts, m.Origin),
		Conversations: state.Conversations,
	}

	tools := m.Tools()
	switch {
	case m.Kind == KindAgent && m.IsFinal(sm.legacyPrefix):
		next.Conversations = sm.retire(state.Conversations, tools)
	case m.Kind.IsActivity():
		next.Conversations = sm.activate(state.Conversations, tools)
	}
	return next
}

func (sm *StateMachine) retire(reg Registry, tools map[string]struct{}) Registry {
	if len(tools) == 0 {
		return reg
	}
	next := make(Registry, 0, len(reg))
	for _, conv := range reg {
		if !conv.intersects(tools) {
			next = append(next, conv)
			continue
		}
		if remaining := conv.withoutAgents(tools); remaining.Len() > 0 {
			next = append(next, remaining)
		}
	}
	return normalizeRegistry(next)
}

func (sm *StateMachine) activate(reg Registry, tools map[string]struct{}) Registry {
	if len(tools) == 0 {
		return reg
	}

	if n := len(reg); n > 0 && reg[n-1].intersects(tools) {
		next := make(Registry, n)
		copy(next, reg)
		next[n-1] = reg[n-1].withAgents(tools)
		return next
	}

	conv := &AgentConversation{ID: sm.newID(), StartedAt: sm.now(), agents: make(map[string]struct{}, len(tools))}
	for tool := range tools {
		conv.agents[tool] = struct{}{}
	}
	next := make(Registry, len(reg), len(reg)+1)
	copy(next, reg)
	return append(next, conv)
}
