package ot

import "errors"

// Contract violations reported by the engine. Callers match them with
// errors.Is; the returned errors wrap these with the offending lengths.
var (
	// ErrLengthMismatch: Apply's input length differs from the base length,
	// or its output length differs from the target length.
	ErrLengthMismatch = errors.New("ot: length mismatch")

	// ErrOutOfBounds: a retain or delete runs past the end of the input.
	ErrOutOfBounds = errors.New("ot: out of bounds")

	// ErrIncompleteConsumption: the entries of an operation do not consume
	// exactly its declared base length.
	ErrIncompleteConsumption = errors.New("ot: incomplete consumption")

	// ErrBaseLengthMismatch: Transform called on operations with different
	// base lengths.
	ErrBaseLengthMismatch = errors.New("ot: base length mismatch")

	// ErrChainLengthMismatch: Compose called where a's target length is not
	// b's base length.
	ErrChainLengthMismatch = errors.New("ot: chain length mismatch")

	// ErrInvalidRange: a builder was asked for an edit outside [0, docLen].
	ErrInvalidRange = errors.New("ot: invalid range")

	// ErrMalformedOperation: decoded or hand-built input does not match the
	// operation schema.
	ErrMalformedOperation = errors.New("ot: malformed operation")
)

// Errors raised by the stateful wrappers (Document, Client).
var (
	ErrRevisionTooOld     = errors.New("ot: revision predates retained history")
	ErrInvalidRevision    = errors.New("ot: invalid revision")
	ErrNoPendingOperation = errors.New("ot: no operation awaiting acknowledgement")
	ErrNothingToUndo      = errors.New("ot: nothing to undo")
	ErrNothingToRedo      = errors.New("ot: nothing to redo")
)
