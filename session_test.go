package agentstream

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

type recordingReporter struct {
	contexts []string
	errs     []error
}

func (r *recordingReporter) Report(context string, err error) {
	r.contexts = append(r.contexts, context)
	r.errs = append(r.errs, err)
}

func newTestSession(opts ...Option) (*Session, *recordingReporter) {
	reporter := &recordingReporter{}
	base := []Option{
		WithReporter(reporter),
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(sequentialIDs()),
	}
	return NewSession(append(base, opts...)...), reporter
}

func TestSession_SingleAIChunk(t *testing.T) {
	s, _ := newTestSession()
	s.OnStreamingStarted()

	ok := s.OnChunkReceived(`{"response":{"type":"AI","text":"Processing...","origin":[{"tool":"agent1","instantiation_index":0}]}}`)
	if !ok {
		t.Fatal("OnChunkReceived() = false, want true")
	}
	if got := s.AgentCounts().Get("agent1"); got != 1 {
		t.Errorf("agentCounts[agent1] = %d, want 1", got)
	}
	if !s.CurrentConversations().IsActive("agent1") {
		t.Error("expected a conversation containing agent1")
	}
}

func TestSession_EmptyOriginIsNoOp(t *testing.T) {
	s, _ := newTestSession()
	s.OnStreamingStarted()

	ok := s.OnChunkReceived(`{"response":{"type":"AI","text":"boilerplate","origin":[]}}`)
	if !ok {
		t.Fatal("OnChunkReceived() = false, want true")
	}
	if !s.CurrentConversations().IsIdle() {
		t.Error("expected registry to stay idle")
	}
	if len(s.AgentCounts()) != 0 {
		t.Errorf("expected no counts, got %v", s.AgentCounts())
	}
}

func TestSession_FinalRetiresOneOfTwo(t *testing.T) {
	s, _ := newTestSession()
	s.OnStreamingStarted()

	s.OnChunkReceived(`{"response":{"type":"AI","text":"start","origin":[{"tool":"agent1","instantiation_index":0},{"tool":"agent2","instantiation_index":0}]}}`)
	s.OnChunkReceived(`{"type":"AGENT","origin":[{"tool":"agent1","instantiation_index":0}],"structure":{"total_tokens":100}}`)

	convs := s.CurrentConversations()
	if convs.IsIdle() {
		t.Fatal("registry should not be idle")
	}
	if convs.IsActive("agent1") {
		t.Error("agent1 should be retired")
	}
	if !convs.IsActive("agent2") {
		t.Error("agent2 should remain active")
	}
}

func TestSession_FinalOfOnlyAgentGoesIdle(t *testing.T) {
	s, _ := newTestSession()
	s.OnStreamingStarted()

	s.OnChunkReceived(`{"response":{"type":"AI","text":"start","origin":[{"tool":"agent1","instantiation_index":0}]}}`)
	s.OnChunkReceived(`{"type":"AGENT","origin":[{"tool":"agent1","instantiation_index":0}],"structure":{"total_tokens":100}}`)

	if convs := s.CurrentConversations(); convs != nil {
		t.Errorf("expected idle sentinel, got %d conversations", len(convs))
	}
}

func TestSession_RepeatedFinalDoesNotResurrect(t *testing.T) {
	s, _ := newTestSession()
	finalChunk := `{"type":"AGENT","origin":[{"tool":"agent1"}],"structure":{"total_tokens":100}}`

	s.OnChunkReceived(`{"response":{"type":"AI","origin":[{"tool":"agent1"},{"tool":"agent2"}]}}`)
	s.OnChunkReceived(finalChunk)
	first := s.CurrentConversations()
	s.OnChunkReceived(finalChunk)
	second := s.CurrentConversations()

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("conversations: %d then %d, want 1 and 1", len(first), len(second))
	}
	if !reflect.DeepEqual(first[0].Agents(), second[0].Agents()) || first[0].ID != second[0].ID {
		t.Errorf("repeated final changed state: %v → %v", first[0].Agents(), second[0].Agents())
	}
}

func TestSession_MalformedChunks(t *testing.T) {
	s, reporter := newTestSession()
	s.OnStreamingStarted()
	s.OnChunkReceived(mustChunk(activity(KindAI, "a")))
	before := s.Snapshot()

	for _, chunk := range []string{
		`{"response":{"type":"AI","te`,
		`not json at all`,
		`{"response":{"type":"MYSTERY","origin":[{"tool":"x"}]}}`,
		``,
	} {
		if !s.OnChunkReceived(chunk) {
			t.Errorf("OnChunkReceived(%q) = false, want true", chunk)
		}
	}

	after := s.Snapshot()
	if !reflect.DeepEqual(before.Counts, after.Counts) {
		t.Errorf("counts changed: %v → %v", before.Counts, after.Counts)
	}
	if !reflect.DeepEqual(agentsOf(before.Conversations), agentsOf(after.Conversations)) {
		t.Error("conversations changed on malformed input")
	}
	if len(reporter.errs) != 0 {
		t.Errorf("malformed chunks should be silent, got reports: %v", reporter.errs)
	}
}

func TestSession_DecodeFault(t *testing.T) {
	tests := []struct {
		name    string
		decoder Decoder
	}{
		{
			name: "decoder returns error",
			decoder: DecoderFunc(func(string) (*DecodedMessage, error) {
				return nil, errors.New("codec exploded")
			}),
		},
		{
			name: "decoder panics",
			decoder: DecoderFunc(func(string) (*DecodedMessage, error) {
				panic("nil map write")
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			s, reporter := newTestSession(WithDecoder(DecoderFunc(func(chunk string) (*DecodedMessage, error) {
				calls++
				if calls == 1 {
					return JSONDecoder{}.Decode(chunk)
				}
				return tt.decoder.Decode(chunk)
			})))

			s.OnChunkReceived(mustChunk(activity(KindAI, "a")))
			before := s.Snapshot()

			if s.OnChunkReceived(mustChunk(activity(KindAI, "b"))) {
				t.Error("OnChunkReceived() = true, want false on decode fault")
			}
			if len(reporter.errs) != 1 {
				t.Fatalf("expected 1 report, got %d", len(reporter.errs))
			}
			if !IsDecodeFault(reporter.errs[0]) {
				t.Errorf("reported error %v is not a decode fault", reporter.errs[0])
			}
			if reporter.contexts[0] != "decode chunk" {
				t.Errorf("report context = %q", reporter.contexts[0])
			}

			after := s.Snapshot()
			if !reflect.DeepEqual(before.Counts, after.Counts) || s.CurrentConversations().IsActive("b") {
				t.Error("state changed after decode fault")
			}
			if s.IsProcessing() {
				t.Error("processing flag left set after fault")
			}
		})
	}
}

func TestSession_TransitionFaultIsNoOp(t *testing.T) {
	s, reporter := newTestSession()
	s.OnChunkReceived(mustChunk(activity(KindAI, "a")))

	// A machine without a clock panics when it opens a conversation.
	s.machine = &StateMachine{newID: sequentialIDs()}

	if !s.OnChunkReceived(mustChunk(activity(KindAI, "zzz"))) {
		t.Error("transition faults should not fail the chunk")
	}
	if len(reporter.errs) != 1 || !errors.Is(reporter.errs[0], ErrTransitionFault) {
		t.Fatalf("expected one transition fault report, got %v", reporter.errs)
	}
	if s.CurrentConversations().IsActive("zzz") || s.AgentCounts().Get("zzz") != 0 {
		t.Error("state changed after transition fault")
	}
}

func TestSession_ReporterMayReadSession(t *testing.T) {
	tests := []struct {
		name    string
		decoder Decoder
		broken  bool
	}{
		{
			name: "decode fault",
			decoder: DecoderFunc(func(string) (*DecodedMessage, error) {
				panic("decoder bug")
			}),
		},
		{
			name:    "transition fault",
			decoder: JSONDecoder{},
			broken:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s *Session
			var seen []Snapshot
			s = NewSession(
				WithDecoder(tt.decoder),
				WithReporter(ReporterFunc(func(string, error) {
					seen = append(seen, s.Snapshot())
					_ = s.AgentCounts()
					_ = s.CurrentConversations()
				})),
			)
			if tt.broken {
				s.machine = &StateMachine{newID: sequentialIDs()}
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				s.OnChunkReceived(mustChunk(activity(KindAI, "a")))
			}()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("OnChunkReceived blocked while the reporter read the session")
			}
			if len(seen) != 1 {
				t.Fatalf("reporter called %d times, want 1", len(seen))
			}
			if !seen[0].Conversations.IsIdle() || len(seen[0].Counts) != 0 {
				t.Errorf("reporter saw changed state: %+v", seen[0])
			}
		})
	}
}

func TestSession_StreamingComplete(t *testing.T) {
	s, _ := newTestSession()
	s.OnStreamingStarted()
	s.OnChunkReceived(mustChunk(activity(KindAI, "a", "b")))

	for i := 0; i < 2; i++ {
		s.OnStreamingComplete()
		snap := s.Snapshot()
		if !snap.Conversations.IsIdle() || snap.Conversations != nil {
			t.Errorf("call %d: registry not idle", i+1)
		}
		if len(snap.Counts) != 0 {
			t.Errorf("call %d: counts not empty: %v", i+1, snap.Counts)
		}
		if snap.Processing || s.IsProcessing() {
			t.Errorf("call %d: still processing", i+1)
		}
	}
}

func TestSession_ChunksAfterCompleteAreIgnored(t *testing.T) {
	s, _ := newTestSession()
	s.OnStreamingStarted()
	s.OnStreamingComplete()

	if !s.OnChunkReceived(mustChunk(activity(KindAI, "late"))) {
		t.Error("late chunk should be acknowledged")
	}
	if !s.CurrentConversations().IsIdle() || len(s.AgentCounts()) != 0 {
		t.Error("late chunk changed state")
	}

	s.OnStreamingStarted()
	s.OnChunkReceived(mustChunk(activity(KindAI, "fresh")))
	if !s.CurrentConversations().IsActive("fresh") {
		t.Error("restarted session should accept chunks")
	}
}

func TestSession_StreamingStartedResets(t *testing.T) {
	s, _ := newTestSession()
	s.OnChunkReceived(mustChunk(activity(KindAI, "a")))
	s.OnStreamingStarted()

	if !s.CurrentConversations().IsIdle() || len(s.AgentCounts()) != 0 {
		t.Error("OnStreamingStarted should reset state")
	}
	if !s.IsProcessing() {
		t.Error("OnStreamingStarted should mark the session processing")
	}
	s.OnChunkReceived(`{}`)
	if s.IsProcessing() {
		t.Error("processing should clear once a chunk settles")
	}
}

func TestSession_CountsMonotonic(t *testing.T) {
	s, _ := newTestSession()
	s.OnStreamingStarted()

	chunks := []string{
		mustChunk(activity(KindAI, "root")),
		mustChunk(activity(KindAgentFramework, "root", "child")),
		mustChunk(final("child")),
		`garbage`,
		mustChunk(activity(KindAI, "root", "other")),
		mustChunk(final("root", "other")),
	}

	prev := AgentCounts{}
	for _, chunk := range chunks {
		s.OnChunkReceived(chunk)
		snap := s.Snapshot()
		checkInvariants(t, snap.Conversations)
		for tool, n := range prev {
			if snap.Counts.Get(tool) < n {
				t.Fatalf("count for %s decreased from %d to %d", tool, n, snap.Counts.Get(tool))
			}
		}
		prev = snap.Counts
	}
	if prev.Get("root") != 4 {
		t.Errorf("root count = %d, want 4", prev.Get("root"))
	}
	if !s.CurrentConversations().IsIdle() {
		t.Error("all agents finished; expected idle")
	}
}

func TestSession_SnapshotsAreIndependent(t *testing.T) {
	s, _ := newTestSession()
	s.OnChunkReceived(mustChunk(activity(KindAI, "a")))

	counts := s.AgentCounts()
	counts["a"] = 99
	if s.AgentCounts().Get("a") != 1 {
		t.Error("mutating a counts snapshot leaked into the session")
	}

	convs := s.CurrentConversations()
	convs[0] = nil
	if s.CurrentConversations()[0] == nil {
		t.Error("mutating a registry snapshot leaked into the session")
	}
}

func TestSession_Subscribe(t *testing.T) {
	s, _ := newTestSession()
	updates, cancel := s.Subscribe()

	s.OnStreamingStarted()
	s.OnChunkReceived(mustChunk(activity(KindAI, "a")))
	s.OnStreamingComplete()
	cancel()
	if n := s.broker.Len(); n != 0 {
		t.Errorf("broker has %d subscribers after cancel, want 0", n)
	}

	var snaps []Snapshot
	for snap := range updates {
		snaps = append(snaps, snap)
	}
	if len(snaps) != 3 {
		t.Fatalf("received %d snapshots, want 3", len(snaps))
	}
	if !snaps[0].Processing || !snaps[0].Conversations.IsIdle() {
		t.Errorf("start snapshot = %+v", snaps[0])
	}
	if snaps[1].Processing || !snaps[1].Conversations.IsActive("a") {
		t.Errorf("chunk snapshot = %+v", snaps[1])
	}
	if !snaps[2].Conversations.IsIdle() || len(snaps[2].Counts) != 0 {
		t.Errorf("complete snapshot = %+v", snaps[2])
	}
}

func TestSession_Consume(t *testing.T) {
	s, _ := newTestSession()
	updates, cancel := s.Subscribe()
	defer cancel()

	events := make(chan ChunkEvent, 4)
	events <- ChunkEvent{Chunk: mustChunk(activity(KindAI, "a", "b"))}
	events <- ChunkEvent{Chunk: mustChunk(final("a"))}
	close(events)

	if err := s.Consume(context.Background(), events); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	var sawB bool
	for len(updates) > 0 {
		snap := <-updates
		if snap.Conversations.IsActive("b") && !snap.Conversations.IsActive("a") {
			sawB = true
		}
	}
	if !sawB {
		t.Error("expected a snapshot with only b active")
	}
	if !s.CurrentConversations().IsIdle() {
		t.Error("Consume should complete the session")
	}
}

func TestSession_ConsumeSourceError(t *testing.T) {
	s, reporter := newTestSession()
	sourceErr := errors.New("connection reset")

	events := make(chan ChunkEvent, 1)
	events <- ChunkEvent{Err: sourceErr}

	err := s.Consume(context.Background(), events)
	if !errors.Is(err, sourceErr) {
		t.Fatalf("Consume() error = %v, want %v", err, sourceErr)
	}
	if len(reporter.errs) != 1 || reporter.contexts[0] != "read chunk" {
		t.Errorf("expected one read chunk report, got %v", reporter.contexts)
	}
}

func TestSession_ConsumeCancelled(t *testing.T) {
	s, _ := newTestSession()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Consume(ctx, make(chan ChunkEvent))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Consume() error = %v, want context.Canceled", err)
	}
}

func TestSession_ReplayRecording(t *testing.T) {
	recording := strings.Join([]string{
		"data: " + mustChunk(activity(KindAI, "Frontman")),
		"",
		": keep-alive",
		"data: " + mustChunk(activity(KindAgentFramework, "Frontman", "Weather")),
		"data: {\"response\": {\"type\": \"AI\", \"te",
		"data: " + mustChunk(final("Weather")),
		"data: [DONE]",
		"data: " + mustChunk(activity(KindAI, "Ignored")),
	}, "\n")

	s, _ := newTestSession()
	updates, cancel := s.Subscribe()
	defer cancel()

	if err := s.Consume(context.Background(), ReadChunks(context.Background(), strings.NewReader(recording))); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	var last Snapshot
	for len(updates) > 0 {
		snap := <-updates
		if !snap.Conversations.IsIdle() {
			last = snap
		}
	}
	if got := last.Conversations.ActiveAgents(); !reflect.DeepEqual(got, []string{"Frontman"}) {
		t.Errorf("active agents before completion = %v, want [Frontman]", got)
	}
	if last.Counts.Get("Weather") != 2 || last.Counts.Get("Ignored") != 0 {
		t.Errorf("counts = %v", last.Counts)
	}
}

func TestSession_IndependentInstances(t *testing.T) {
	a, _ := newTestSession()
	b, _ := newTestSession()

	a.OnChunkReceived(mustChunk(activity(KindAI, "only-a")))

	if b.CurrentConversations().IsActive("only-a") || b.AgentCounts().Get("only-a") != 0 {
		t.Error("sessions share state")
	}
}
