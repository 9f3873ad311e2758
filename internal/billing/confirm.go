package billing

import "context"

// Prompt describes the destructive action awaiting an explicit accept.
type Prompt struct {
	Action  string
	Subject string
	Message string
}

// ConfirmationGate blocks until the user accepts or declines. The mutating
// call must only be issued after Confirm returns true.
type ConfirmationGate interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// GateFunc adapts a function to ConfirmationGate.
type GateFunc func(ctx context.Context, prompt Prompt) (bool, error)

// Confirm implements ConfirmationGate.
func (f GateFunc) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}

// StaticGate answers every prompt with the same decision. HTTP callers use it
// to carry the accept flag the client collected before submitting.
type StaticGate bool

// Confirm implements ConfirmationGate.
func (g StaticGate) Confirm(ctx context.Context, _ Prompt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return bool(g), nil
}

// Await runs the gate and converts a decline into ErrDeclined.
func Await(ctx context.Context, gate ConfirmationGate, prompt Prompt) error {
	if gate == nil {
		return ErrDeclined
	}
	ok, err := gate.Confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}
