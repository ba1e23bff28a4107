package types

import "errors"

// ErrorKind names a conceptual error category from the engine's error
// handling design. Compare with errors.Is against the sentinel values
// below, not against Kind directly, so wrapped errors still match.
type ErrorKind string

const (
	KindEmbeddingShapeMismatch    ErrorKind = "embedding_shape_mismatch"
	KindEmbeddingProviderError    ErrorKind = "embedding_provider_error"
	KindLlmClassificationUnavailable ErrorKind = "llm_classification_unavailable"
	KindVectorIndexCorrupt        ErrorKind = "vector_index_corrupt"
	KindWriterContention          ErrorKind = "writer_contention"
	KindWatcherAlreadyRunning     ErrorKind = "watcher_already_running"
	KindCancelled                 ErrorKind = "cancelled"
	KindShutdown                  ErrorKind = "shutdown"
	KindConfigError               ErrorKind = "config_error"
	KindValidationError           ErrorKind = "validation_error"
)

// EngineError wraps an underlying error with a conceptual Kind so callers
// can branch on category without depending on a specific message.
type EngineError struct {
	Kind ErrorKind
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewError wraps err (which may be nil) with kind.
func NewError(kind ErrorKind, err error) *EngineError {
	return &EngineError{Kind: kind, Err: err}
}

// Is reports whether target is an *EngineError with the same Kind, so
// errors.Is(err, types.NewError(types.KindShutdown, nil)) matches any
// wrapped shutdown error regardless of its underlying cause.
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Sentinel instances for errors.Is comparisons, e.g.
// errors.Is(err, types.ErrCancelled).
var (
	ErrCancelled             = NewError(KindCancelled, nil)
	ErrShutdown              = NewError(KindShutdown, nil)
	ErrWatcherAlreadyRunning = NewError(KindWatcherAlreadyRunning, nil)
	ErrVectorIndexCorrupt    = NewError(KindVectorIndexCorrupt, nil)
)
