package ot

import "fmt"

// UndoManager keeps undo and redo stacks of inverse operations for one
// editor. Remote operations must be fed to Transform so the stacks stay
// applicable to the current document.
type UndoManager struct {
	limit int
	undo  []TextOperation
	redo  []TextOperation
}

// NewUndoManager returns a manager keeping at most limit undo steps.
// limit <= 0 means unbounded.
func NewUndoManager(limit int) *UndoManager {
	return &UndoManager{limit: limit}
}

func (u *UndoManager) CanUndo() bool { return len(u.undo) > 0 }
func (u *UndoManager) CanRedo() bool { return len(u.redo) > 0 }

// Record registers a local edit op applied to before. With merge set the
// edit joins the previous undo step, so typing a word undoes as one.
// Recording clears the redo stack.
func (u *UndoManager) Record(op TextOperation, before string, merge bool) error {
	inv, err := Invert(op, before)
	if err != nil {
		return fmt.Errorf("record undo step: %w", err)
	}
	u.redo = nil
	if merge && len(u.undo) > 0 {
		top := len(u.undo) - 1
		merged, err := Compose(inv, u.undo[top])
		if err != nil {
			return fmt.Errorf("merge undo step: %w", err)
		}
		u.undo[top] = merged
		return nil
	}
	u.undo = append(u.undo, inv)
	if u.limit > 0 && len(u.undo) > u.limit {
		u.undo = u.undo[len(u.undo)-u.limit:]
	}
	return nil
}

// Undo pops the latest step and returns the operation to apply to doc, the
// current document. The step moves to the redo stack.
func (u *UndoManager) Undo(doc string) (TextOperation, error) {
	if len(u.undo) == 0 {
		return TextOperation{}, ErrNothingToUndo
	}
	op := u.undo[len(u.undo)-1]
	inv, err := Invert(op, doc)
	if err != nil {
		return TextOperation{}, fmt.Errorf("undo: %w", err)
	}
	u.undo = u.undo[:len(u.undo)-1]
	u.redo = append(u.redo, inv)
	return op, nil
}

// Redo pops the latest undone step and returns the operation to apply to
// doc, the current document.
func (u *UndoManager) Redo(doc string) (TextOperation, error) {
	if len(u.redo) == 0 {
		return TextOperation{}, ErrNothingToRedo
	}
	op := u.redo[len(u.redo)-1]
	inv, err := Invert(op, doc)
	if err != nil {
		return TextOperation{}, fmt.Errorf("redo: %w", err)
	}
	u.redo = u.redo[:len(u.redo)-1]
	u.undo = append(u.undo, inv)
	return op, nil
}

// Transform rebases both stacks over a remote operation that was just
// applied to the document.
func (u *UndoManager) Transform(remote TextOperation) error {
	var err error
	if u.undo, err = transformStack(u.undo, remote); err != nil {
		return fmt.Errorf("transform undo stack: %w", err)
	}
	if u.redo, err = transformStack(u.redo, remote); err != nil {
		return fmt.Errorf("transform redo stack: %w", err)
	}
	return nil
}

// transformStack walks from the top, where entries apply to the current
// document, down to older entries, carrying the remote operation along.
func transformStack(stack []TextOperation, remote TextOperation) ([]TextOperation, error) {
	out := make([]TextOperation, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		entry, carried, err := TransformPair(stack[i], remote)
		if err != nil {
			return nil, err
		}
		out[i] = entry
		remote = carried
	}
	return out, nil
}
