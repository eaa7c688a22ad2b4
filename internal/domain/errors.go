package domain

import "errors"

// Error taxonomy. Ingestion-path errors are recoverable by skipping the
// affected document or rebuilding the index; generation-path errors degrade
// the turn with a visible notice instead of failing it.
var (
	// ErrEmbedding reports embedding-provider unavailability.
	ErrEmbedding = errors.New("embedding provider error")
	// ErrDimensionMismatch rejects a vector whose length does not match the
	// index dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrIndexVersionMismatch rejects a snapshot built by a different
	// embedding model.
	ErrIndexVersionMismatch = errors.New("index snapshot built by different embedding model")
	// ErrGenerationTimeout reports a generation call cancelled after the
	// configured timeout.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrAuth marks authentication failures; never retried.
	ErrAuth = errors.New("authentication rejected")
	// ErrBadRequest marks malformed requests; never retried.
	ErrBadRequest = errors.New("malformed request")
	// ErrTranscription reports a failed speech-to-text call.
	ErrTranscription = errors.New("transcription failed")
	// ErrSynthesis reports a failed text-to-speech call.
	ErrSynthesis = errors.New("speech synthesis failed")
)

// ConfigError is fatal at startup: bad parameters that make the session
// impossible to construct.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// NewConfigError builds a ConfigError with the given reason.
func NewConfigError(reason string) *ConfigError {
	return &ConfigError{Reason: reason}
}
