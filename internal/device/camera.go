package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// Frame is a region of interest on the sensor, in binned pixels.
type Frame struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// wire is the [x, y, width, height] form the server expects.
func (f Frame) wire() []int {
	return []int{f.X, f.Y, f.Width, f.Height}
}

// exposure tracks the most recent take_image request.
type exposure struct {
	id       int64
	complete bool
	err      error
}

// Camera drives an imaging camera.
//
// Binning and frame are cached locally and sent with every exposure, the
// way the server expects them.
type Camera struct {
	*base

	mu          sync.Mutex
	frameWidth  int
	frameHeight int
	binning     int
	roi         *Frame
	current     *exposure
}

// NewCamera creates a camera adapter over caller.
func NewCamera(caller rpc.Caller) *Camera {
	c := &Camera{
		base:    newBase(KindCamera, caller),
		binning: 1,
	}
	c.watch(c.onEvent)
	return c
}

// onEvent picks up the reply to the outstanding exposure. It runs on the
// connection goroutine, so it only claims what has already arrived.
func (c *Camera) onEvent(ev rpc.Event) {
	if ev.Name != rpc.EventResponse {
		return
	}

	c.mu.Lock()
	exp := c.current
	if exp == nil || exp.id != ev.RequestID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	resp, ok := c.caller.Claim(ev.RequestID)
	if !ok {
		return
	}

	complete, err := exposureStatus(resp)
	if err != nil {
		c.log().Error("exposure failed", "id", ev.RequestID, "error", err)
	} else {
		c.log().Debug("exposure reply", "id", ev.RequestID, "complete", complete)
	}

	c.mu.Lock()
	if c.current == exp {
		exp.complete = complete
		exp.err = err
	}
	c.mu.Unlock()
}

func exposureStatus(resp *rpc.Response) (bool, error) {
	if err := resp.Err(); err != nil {
		return false, fmt.Errorf("take_image: %w", err)
	}
	done, ok := resp.Get("complete").Bool()
	if !ok {
		return false, fmt.Errorf("%w: take_image reply has no completion flag", ErrBadResult)
	}
	return done, nil
}

// StartExposure queues an exposure of the given length in seconds using
// the cached binning and frame. It returns once the command is queued.
func (c *Camera) StartExposure(_ context.Context, seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("%w: exposure %.3fs", ErrOutOfRange, seconds)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var roi any
	if c.roi != nil {
		roi = c.roi.wire()
	}
	params := map[string]any{
		"params": map[string]any{
			"exposure": seconds,
			"binning":  c.binning,
			"roi":      roi,
		},
	}
	id, err := c.caller.Submit("take_image", params)
	if err != nil {
		c.log().Error("failed to start exposure", "error", err)
		return err
	}
	c.current = &exposure{id: id}
	c.log().Info("exposure started", "id", id, "seconds", seconds, "binning", c.binning)
	return nil
}

// CheckExposure reports whether the last exposure has completed. A failed
// exposure returns its error.
func (c *Camera) CheckExposure() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return false, ErrNoExposure
	}
	return c.current.complete, c.current.err
}

// SaveImage asks the server to write the last image to path.
func (c *Camera) SaveImage(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty file name", ErrOutOfRange)
	}
	return c.caller.Command(ctx, "save_image", map[string]any{"filename": path})
}

// Settings refreshes frame size, binning and frame from get_camera_info.
// Fields absent from the reply are left unchanged.
func (c *Camera) Settings(ctx context.Context) error {
	res, err := c.result(ctx, "get_camera_info")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if size, ok := res.Get("framesize").List(); ok {
		if len(size) != 2 {
			return fmt.Errorf("%w: framesize has %d elements", ErrBadResult, len(size))
		}
		w, okW := size[0].Number()
		h, okH := size[1].Number()
		if !okW || !okH {
			return fmt.Errorf("%w: framesize is not numeric", ErrBadResult)
		}
		c.frameWidth, c.frameHeight = int(w), int(h)
	}
	if bin, ok := res.Get("binning").Int(); ok && bin >= 1 {
		c.applyBinningLocked(int(bin))
	}
	if roi, ok := res.Get("roi").List(); ok && len(roi) == 4 {
		var vals [4]int
		for i, v := range roi {
			n, ok := v.Number()
			if !ok {
				return fmt.Errorf("%w: roi is not numeric", ErrBadResult)
			}
			vals[i] = int(n)
		}
		c.roi = &Frame{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	}
	return nil
}

// Size returns the full sensor size, fetching settings if not yet known.
func (c *Camera) Size(ctx context.Context) (width, height int, err error) {
	if err := c.ensureSize(ctx); err != nil {
		return 0, 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameWidth, c.frameHeight, nil
}

// Binning returns the cached binning factor.
func (c *Camera) Binning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binning
}

// SetBinning caches the binning factor and resets the frame to the full
// binned sensor.
func (c *Camera) SetBinning(ctx context.Context, bin int) error {
	if bin < 1 {
		return fmt.Errorf("%w: binning %d", ErrOutOfRange, bin)
	}
	if err := c.ensureSize(ctx); err != nil {
		c.log().Error("unable to get camera settings", "error", err)
		return err
	}
	c.mu.Lock()
	c.applyBinningLocked(bin)
	c.mu.Unlock()
	return nil
}

func (c *Camera) applyBinningLocked(bin int) {
	c.binning = bin
	if c.frameWidth > 0 && c.frameHeight > 0 {
		c.roi = &Frame{Width: c.frameWidth / bin, Height: c.frameHeight / bin}
	}
}

// Frame returns the cached region of interest, if any.
func (c *Camera) Frame() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roi == nil {
		return Frame{}, false
	}
	return *c.roi, true
}

// SetFrame caches a region of interest for the next exposure.
func (c *Camera) SetFrame(f Frame) error {
	if f.X < 0 || f.Y < 0 || f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: frame %+v", ErrOutOfRange, f)
	}
	c.mu.Lock()
	c.roi = &f
	c.mu.Unlock()
	return nil
}

func (c *Camera) ensureSize(ctx context.Context) error {
	c.mu.Lock()
	known := c.frameWidth > 0 && c.frameHeight > 0
	c.mu.Unlock()
	if known {
		return nil
	}
	if err := c.Settings(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frameWidth <= 0 || c.frameHeight <= 0 {
		return ErrNoFrameSize
	}
	return nil
}
