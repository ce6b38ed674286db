package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// positionMoving is the position the wheel reports while rotating.
const positionMoving = -1

// FilterWheel drives a filter wheel.
type FilterWheel struct {
	*base
}

// NewFilterWheel creates a filter wheel adapter over caller.
func NewFilterWheel(caller rpc.Caller) *FilterWheel {
	w := &FilterWheel{base: newBase(KindFilterWheel, caller)}
	w.watch(nil)
	return w
}

// Position returns the zero-based filter slot, or -1 while moving.
func (w *FilterWheel) Position(ctx context.Context) (int, error) {
	f, err := w.number(ctx, "filterwheel_get_position", "filter_position")
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Names returns the configured filter names in slot order.
func (w *FilterWheel) Names(ctx context.Context) ([]string, error) {
	v, err := w.caller.GetValue(ctx, "filterwheel_get_filter_names", "filter_names", rpc.KindList)
	if err != nil {
		return nil, err
	}
	items, _ := v.List()
	names := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.Text()
		if !ok {
			s = item.String()
		}
		names = append(names, s)
	}
	return names, nil
}

// NumPositions returns the number of filter slots.
func (w *FilterWheel) NumPositions(ctx context.Context) (int, error) {
	names, err := w.Names(ctx)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// SetPosition starts rotating to slot pos. It does not wait for the wheel
// to settle; poll IsMoving for that.
func (w *FilterWheel) SetPosition(ctx context.Context, pos int) error {
	n, err := w.NumPositions(ctx)
	if err != nil {
		return err
	}
	if pos < 0 || pos >= n {
		return fmt.Errorf("%w: filter position %d of %d", ErrOutOfRange, pos, n)
	}
	return w.caller.SetValue(ctx, "filterwheel_move_position", "filter_position", pos)
}

// PositionName returns the name of the filter in place.
func (w *FilterWheel) PositionName(ctx context.Context) (string, error) {
	names, err := w.Names(ctx)
	if err != nil {
		return "", err
	}
	pos, err := w.Position(ctx)
	if err != nil {
		return "", err
	}
	if pos < 0 || pos >= len(names) {
		return "", fmt.Errorf("%w: filter position %d of %d", ErrOutOfRange, pos, len(names))
	}
	return names[pos], nil
}

// SetPositionName starts rotating to the slot holding the named filter.
func (w *FilterWheel) SetPositionName(ctx context.Context, name string) error {
	names, err := w.Names(ctx)
	if err != nil {
		return err
	}
	for i, n := range names {
		if n == name {
			return w.caller.SetValue(ctx, "filterwheel_move_position", "filter_position", i)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownFilter, name)
}

// IsMoving reports whether the wheel is rotating.
func (w *FilterWheel) IsMoving(ctx context.Context) (bool, error) {
	pos, err := w.Position(ctx)
	if err != nil {
		return false, err
	}
	return pos == positionMoving, nil
}
