package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// Mount drives an equatorial or alt-az telescope mount.
// Right ascension is in decimal hours, declination and alt/az in degrees.
type Mount struct {
	*base
}

// NewMount creates a mount adapter over caller.
func NewMount(caller rpc.Caller) *Mount {
	m := &Mount{base: newBase(KindMount, caller)}
	m.watch(nil)
	return m
}

// CanPark reports whether the mount supports parking.
func (m *Mount) CanPark(ctx context.Context) (bool, error) {
	return m.boolean(ctx, "mount_can_park", "can_park")
}

// IsParked reports whether the mount is at its park position.
func (m *Mount) IsParked(ctx context.Context) (bool, error) {
	return m.boolean(ctx, "mount_at_park", "at_park")
}

// PositionAltAz returns altitude and azimuth.
func (m *Mount) PositionAltAz(ctx context.Context) (alt, az float64, err error) {
	return m.pair(ctx, "mount_get_altaz", "alt", "az")
}

// PositionRADec returns right ascension and declination.
func (m *Mount) PositionRADec(ctx context.Context) (ra, dec float64, err error) {
	return m.pair(ctx, "mount_get_radec", "ra", "dec")
}

// PierSide returns the side of pier as reported by the driver.
func (m *Mount) PierSide(ctx context.Context) (string, error) {
	return m.text(ctx, "mount_pier_side", "pier_side")
}

// IsSlewing reports whether a slew is in progress.
func (m *Mount) IsSlewing(ctx context.Context) (bool, error) {
	return m.boolean(ctx, "mount_is_slewing", "is_slewing")
}

// AbortSlew stops any slew in progress.
func (m *Mount) AbortSlew(ctx context.Context) error {
	return m.caller.Command(ctx, "mount_abort_slew", nil)
}

// Park moves the mount to its park position.
func (m *Mount) Park(ctx context.Context) error {
	return m.caller.Command(ctx, "mount_park", nil)
}

// Unpark releases the mount from park.
func (m *Mount) Unpark(ctx context.Context) error {
	return m.caller.Command(ctx, "mount_unpark", nil)
}

// Slew starts a slew to ra/dec.
func (m *Mount) Slew(ctx context.Context, ra, dec float64) error {
	if err := checkRADec(ra, dec); err != nil {
		return err
	}
	m.log().Info("mount slew", "ra", ra, "dec", dec)
	return m.caller.Command(ctx, "mount_slew_radec", map[string]any{"ra": ra, "dec": dec})
}

// Sync tells the mount it is pointing at ra/dec.
func (m *Mount) Sync(ctx context.Context, ra, dec float64) error {
	if err := checkRADec(ra, dec); err != nil {
		return err
	}
	return m.caller.Command(ctx, "mount_sync_radec", map[string]any{"ra": ra, "dec": dec})
}

// Tracking reports whether sidereal tracking is on.
func (m *Mount) Tracking(ctx context.Context) (bool, error) {
	return m.boolean(ctx, "mount_get_tracking", "tracking")
}

// SetTracking switches tracking and reads the state back. It returns
// ErrTrackingNotApplied when the mount reports something else.
func (m *Mount) SetTracking(ctx context.Context, on bool) error {
	if err := m.caller.SetValue(ctx, "mount_set_tracking", "tracking", on); err != nil {
		return err
	}
	got, err := m.Tracking(ctx)
	if err != nil {
		return err
	}
	if got != on {
		m.log().Warn("tracking not applied", "requested", on, "reported", got)
		return fmt.Errorf("%w: requested %t, mount reports %t", ErrTrackingNotApplied, on, got)
	}
	return nil
}

func checkRADec(ra, dec float64) error {
	if ra < 0 || ra >= 24 {
		return fmt.Errorf("%w: ra %.4f", ErrOutOfRange, ra)
	}
	if dec < -90 || dec > 90 {
		return fmt.Errorf("%w: dec %.4f", ErrOutOfRange, dec)
	}
	return nil
}
