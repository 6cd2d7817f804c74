package agentstream

import (
	"errors"
	"fmt"
	"log"
)

// Sentinel errors for common failure modes.
// These can be checked with errors.Is().
var (
	// ErrDecodeFault indicates the decoder itself failed, as opposed to cleanly
	// rejecting a malformed chunk.
	ErrDecodeFault = errors.New("agentstream: unexpected decode fault")

	// ErrTransitionFault indicates the state machine hit an internal fault while
	// applying a message. The session state is left unchanged.
	ErrTransitionFault = errors.New("agentstream: state transition fault")

	// ErrInvalidConfig indicates the tracker configuration is unusable.
	ErrInvalidConfig = errors.New("agentstream: invalid config")
)

// DecodeError represents an unexpected failure inside a Decoder.
type DecodeError struct {
	Chunk  string // Chunk being decoded (truncated for display)
	Reason string // Human-readable explanation
	Err    error  // Wrapped error (usually ErrDecodeFault)
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode chunk %q: %s (%v)", e.Chunk, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode chunk %q: %s", e.Chunk, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field  string // The config field that failed validation
	Value  any    // The invalid value
	Reason string // Human-readable explanation
	Err    error  // Wrapped error (usually ErrInvalidConfig)
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config field '%s' (value: %v): %s (%v)", e.Field, e.Value, e.Reason, e.Err)
	}
	return fmt.Sprintf("config field '%s' (value: %v): %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsDecodeFault checks if an error came from a failing decoder.
func IsDecodeFault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDecodeFault) {
		return true
	}

	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

// IsInvalidConfig checks if an error indicates a bad configuration.
func IsInvalidConfig(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidConfig) {
		return true
	}

	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// Reporter is the error-observability sink. Report is called whenever the
// session catches a fault it recovers from.
type Reporter interface {
	Report(context string, err error)
}

// ReporterFunc adapts a plain function to the Reporter interface.
type ReporterFunc func(context string, err error)

// Report calls f(context, err).
func (f ReporterFunc) Report(context string, err error) {
	f(context, err)
}

// LogReporter writes faults to the standard logger.
type LogReporter struct{}

// Report logs the fault with its context.
func (LogReporter) Report(context string, err error) {
	log.Printf("[TRACKER] %s: %v", context, err)
}

// truncateForDisplay shortens s to at most n bytes for error messages.
func truncateForDisplay(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
