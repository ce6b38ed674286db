package device

import (
	"context"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// Focuser drives a motorised focuser.
type Focuser struct {
	*base
}

// NewFocuser creates a focuser adapter over caller.
func NewFocuser(caller rpc.Caller) *Focuser {
	f := &Focuser{base: newBase(KindFocuser, caller)}
	f.watch(nil)
	return f
}

// AbsolutePosition returns the current step position.
func (f *Focuser) AbsolutePosition(ctx context.Context) (int64, error) {
	return f.integer(ctx, "focuser_get_absolute_position", "absolute_position")
}

// MaxAbsolutePosition returns the highest reachable step position.
func (f *Focuser) MaxAbsolutePosition(ctx context.Context) (int64, error) {
	return f.integer(ctx, "focuser_get_max_absolute_position", "max_absolute_position")
}

// CurrentTemperature returns the focuser's probe temperature in °C.
func (f *Focuser) CurrentTemperature(ctx context.Context) (float64, error) {
	return f.number(ctx, "focuser_get_current_temperature", "current_temperature")
}

// IsMoving reports whether a move is in progress.
func (f *Focuser) IsMoving(ctx context.Context) (bool, error) {
	return f.boolean(ctx, "focuser_is_moving", "is_moving")
}

// Stop halts any move in progress.
func (f *Focuser) Stop(ctx context.Context) error {
	return f.bare(ctx, "focuser_stop")
}

// MoveAbsolute starts a move to pos. It does not wait for the move to
// finish; poll IsMoving for that.
func (f *Focuser) MoveAbsolute(ctx context.Context, pos int64) error {
	if pos < 0 {
		return ErrOutOfRange
	}
	f.log().Debug("focuser move", "position", pos)
	return f.caller.Command(ctx, "focuser_move_absolute_position", map[string]any{"absolute_position": pos})
}
