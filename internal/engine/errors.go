package engine

import (
	"errors"
	"fmt"

	"github.com/engramkit/engram/internal/similarity"
)

// Error kinds. Callers match them with errors.Is. Chat adapter failures
// during LLM compression and episode summarization are returned wrapping
// the adapter's own error rather than one of these kinds.
var (
	// ErrInvalid marks malformed input: empty agent, bad character,
	// oversize text, bad timestamp, ill-formed claim, unknown enum value.
	ErrInvalid = errors.New("invalid input")

	// ErrCapacityExceeded marks the memory limit or a batch size limit.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotFound marks a failed id lookup.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation against state that no longer admits
	// it, such as resolving an already-resolved conflict.
	ErrConflict = errors.New("conflict")

	// ErrDimensionMismatch is re-exported from the similarity package.
	ErrDimensionMismatch = similarity.ErrDimensionMismatch

	// ErrStorage wraps adapter I/O failures.
	ErrStorage = errors.New("storage error")

	// ErrAdapterMissing marks an operation that needs an embedding or chat
	// adapter that was not provided.
	ErrAdapterMissing = errors.New("adapter missing")

	// ErrLLMParse marks a chat adapter response that did not conform to the
	// expected structure.
	ErrLLMParse = errors.New("llm parse error")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
