package agentstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type sessionPhase int

const (
	phaseStreaming sessionPhase = iota
	phaseComplete
)

// Snapshot is an immutable view of a session's state, published to subscribers
// after every mutation.
type Snapshot struct {
	// Counts is the per-agent invocation histogram
	Counts AgentCounts

	// Conversations is nil when no conversation is active
	Conversations Registry

	// Processing is true while a chunk is being handled
	Processing bool
}

// Session tracks one streaming exchange with an agent network.
//
// Lifecycle:
//
//	s := agentstream.NewSession()
//	s.OnStreamingStarted()
//	for chunk := range chunks { s.OnChunkReceived(chunk) }
//	s.OnStreamingComplete()
//
// Chunks must be delivered in the order the transport received them; the
// session has no sequence numbers and cannot repair reordering. Each session
// owns its state: run one Session per concurrent stream.
type Session struct {
	mu         sync.RWMutex
	state      TrackerState
	phase      sessionPhase
	processing atomic.Bool

	cfg      *Config
	decoder  Decoder
	reporter Reporter
	machine  *StateMachine
	captions *CaptionExtractor
	broker   *Broker[Snapshot]

	now   func() time.Time
	newID func() string
}

// Option configures a Session.
type Option func(*Session)

// WithConfig replaces the embedded default configuration
func WithConfig(cfg *Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// WithDecoder replaces the default JSONDecoder
func WithDecoder(d Decoder) Option {
	return func(s *Session) { s.decoder = d }
}

// WithReporter sets the error-observability sink (default: LogReporter)
func WithReporter(r Reporter) Option {
	return func(s *Session) { s.reporter = r }
}

// WithClock sets the clock used for conversation start times
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithIDGenerator sets the conversation ID generator
func WithIDGenerator(newID func() string) Option {
	return func(s *Session) { s.newID = newID }
}

// NewSession creates a session ready to receive chunks, as if
// OnStreamingStarted had just been called.
func NewSession(opts ...Option) *Session {
	s := &Session{}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		s.cfg = DefaultConfig()
	}
	if s.decoder == nil {
		s.decoder = JSONDecoder{}
	}
	if s.reporter == nil {
		s.reporter = LogReporter{}
	}
	s.machine = NewStateMachine(s.cfg.Completion, s.now, s.newID)
	s.captions = NewCaptionExtractor(s.cfg.Caption)
	s.broker = NewBroker[Snapshot](s.cfg.Broadcast.SubscriberBuffer)
	s.state = TrackerState{Counts: AgentCounts{}}
	return s
}

// OnStreamingStarted resets counts and conversations and accepts chunks again.
func (s *Session) OnStreamingStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = TrackerState{Counts: AgentCounts{}}
	s.phase = phaseStreaming
	s.processing.Store(true)
	s.publishLocked()
}

// OnChunkReceived decodes chunk and applies it to the session state.
//
// It returns true for every handled chunk, including malformed chunks and
// chunks without an origin stack, which change nothing. It returns false only
// when the decoder failed unexpectedly; the fault is reported and the state is
// left unchanged. Chunks arriving after OnStreamingComplete are ignored.
//
// Faults are reported after the session lock is released, so a Reporter may
// read the session.
func (s *Session) OnChunkReceived(chunk string) bool {
	handled, where, err := s.receive(chunk)
	if err != nil {
		s.reporter.Report(where, err)
	}
	return handled
}

// receive applies chunk under the lock and returns the fault to report, if any.
func (s *Session) receive(chunk string) (handled bool, where string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == phaseComplete {
		return true, "", nil
	}

	s.processing.Store(true)
	defer func() {
		s.processing.Store(false)
		s.publishLocked()
	}()

	msg, err := s.decode(chunk)
	if err != nil {
		return false, "decode chunk", err
	}

	next, err := s.apply(msg)
	if err != nil {
		return true, "apply message", err
	}
	s.state = next
	return true, "", nil
}

// OnStreamingComplete forces the session idle and clears counts. It is
// idempotent; chunks received afterwards are ignored until the next
// OnStreamingStarted.
func (s *Session) OnStreamingComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = TrackerState{Counts: AgentCounts{}}
	s.phase = phaseComplete
	s.processing.Store(false)
	s.publishLocked()
}

// Consume drives the session from a chunk source: it starts the session,
// applies chunks in arrival order and completes the session when the source
// closes, fails, or ctx is done. Source errors are reported and returned.
func (s *Session) Consume(ctx context.Context, events <-chan ChunkEvent) error {
	s.OnStreamingStarted()
	defer s.OnStreamingComplete()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Err != nil {
				s.reporter.Report("read chunk", event.Err)
				return event.Err
			}
			s.OnChunkReceived(event.Chunk)
		}
	}
}

// AgentCounts returns a copy of the invocation histogram
func (s *Session) AgentCounts() AgentCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Counts.Clone()
}

// CurrentConversations returns the active conversations, or nil when idle
func (s *Session) CurrentConversations() Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRegistry(s.state.Conversations)
}

// IsProcessing returns true while a chunk is being handled
func (s *Session) IsProcessing() bool {
	return s.processing.Load()
}

// Snapshot returns the current state as one consistent view
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel of snapshots published after every mutation and
// a cancel function that closes it. Slow subscribers miss snapshots.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	return s.broker.Subscribe()
}

// Captions returns the caption extractor configured for this session
func (s *Session) Captions() *CaptionExtractor {
	return s.captions
}

func (s *Session) decode(chunk string) (msg *DecodedMessage, err error) {
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

	msg, err = s.decoder.Decode(chunk)
	if err != nil && !errors.Is(err, ErrDecodeFault) {
		err = &DecodeError{
			Chunk:  truncateForDisplay(chunk, 80),
			Reason: err.Error(),
			Err:    ErrDecodeFault,
		}
	}
	return msg, err
}

func (s *Session) apply(msg *DecodedMessage) (next TrackerState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTransitionFault, r)
		}
	}()
	return s.machine.Apply(s.state, msg), nil
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Counts:        s.state.Counts.Clone(),
		Conversations: cloneRegistry(s.state.Conversations),
		Processing:    s.processing.Load(),
	}
}

func (s *Session) publishLocked() {
	s.broker.Publish(s.snapshotLocked())
}

func cloneRegistry(r Registry) Registry {
	if r.IsIdle() {
		return nil
	}
	out := make(Registry, len(r))
	copy(out, r)
	return out
}
