package ot

import "fmt"

// Engine abstracts the OT collaboration algorithm.
// Different algorithms (Jupiter, Wave, etc.) implement this interface.
type Engine interface {
	// TransformIncoming transforms a client operation against the
	// operations committed since the revision the client based it on.
	// Returns the operation transformed to apply at the current server state.
	TransformIncoming(op TextOperation, concurrent []TextOperation) (TextOperation, error)
}

// JupiterEngine implements the Jupiter OT algorithm.
// It sequentially transforms the incoming operation against each
// server operation the client hasn't seen. Committed operations win
// insert ties.
type JupiterEngine struct{}

func (e *JupiterEngine) TransformIncoming(op TextOperation, concurrent []TextOperation) (TextOperation, error) {
	transformed := op
	for i, committed := range concurrent {
		var err error
		transformed, err = Transform(transformed, committed, Right)
		if err != nil {
			return TextOperation{}, fmt.Errorf("transform against concurrent[%d]: %w", i, err)
		}
	}
	return transformed, nil
}
