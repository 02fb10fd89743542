package picam

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aDifferentJT/rpi-cam-control/internal/gsthal"
	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
	"github.com/aDifferentJT/rpi-cam-control/internal/pipeline"
)

// Backend selects which hardware driver serves the camera.
type Backend int

const (
	// BackendAuto uses GStreamer when the runtime is available and falls
	// back to the simulated driver with a warning.
	BackendAuto Backend = iota
	// BackendGStreamer requires the GStreamer runtime, failing fast when
	// it is missing.
	BackendGStreamer
	// BackendSim always uses the in-process simulated driver.
	BackendSim
)

func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendGStreamer:
		return "gstreamer"
	case BackendSim:
		return "sim"
	default:
		return "unknown"
	}
}

// ParseBackend maps a configuration string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "auto":
		return BackendAuto, nil
	case "gstreamer", "gst":
		return BackendGStreamer, nil
	case "sim", "simulated":
		return BackendSim, nil
	default:
		return BackendAuto, fmt.Errorf("picam: unknown backend %q", s)
	}
}

// Camera implements FrameSource over one capture session: one camera
// stage, one encoder stage, one pulling consumer.
type Camera struct {
	ctl     *pipeline.Controller
	driver  hal.Driver
	backend Backend
}

// New creates a camera over the requested backend with fail-fast
// validation.
//
// Zero-valued Config fields take their documented defaults before
// validation. Hardware admission (bitrate ceilings, macroblock
// throughput) happens later during Initialize, because it depends on the
// negotiated level.
//
// Returns an error if validation fails or the requested backend is not
// available.
func New(cfg Config, backend Backend) (*Camera, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, err := resolveDriver(backend)
	if err != nil {
		return nil, err
	}

	slog.Info("picam: camera created",
		"backend", driver.Name(),
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"framerate", cfg.Framerate,
		"codec", cfg.Codec.String(),
	)
	return newCameraWithDriver(driver, cfg, backend), nil
}

func resolveDriver(backend Backend) (hal.Driver, error) {
	switch backend {
	case BackendSim:
		return hal.NewSim(), nil

	case BackendGStreamer:
		drv, err := gsthal.NewDriver()
		if err != nil {
			return nil, fmt.Errorf("picam: gstreamer backend: %w", err)
		}
		return drv, nil

	default:
		drv, err := gsthal.NewDriver()
		if err != nil {
			slog.Warn("picam: gstreamer not available, using simulated driver", "error", err)
			return hal.NewSim(), nil
		}
		return drv, nil
	}
}

// newCameraWithDriver wires a camera over an already-constructed driver.
// Tests use it to inject a prepared simulated driver.
func newCameraWithDriver(driver hal.Driver, cfg Config, backend Backend) *Camera {
	return &Camera{
		ctl:     pipeline.NewController(driver, cfg),
		driver:  driver,
		backend: backend,
	}
}

// Backend reports which backend was requested at construction.
func (c *Camera) Backend() Backend { return c.backend }

// Initialize implements FrameSource.
func (c *Camera) Initialize() error { return c.ctl.Initialize() }

// Start implements FrameSource.
func (c *Camera) Start() error { return c.ctl.Start() }

// Pull implements FrameSource.
func (c *Camera) Pull(ctx context.Context) (Frame, error) { return c.ctl.Pull(ctx) }

// Stop implements FrameSource.
func (c *Camera) Stop() error { return c.ctl.Stop() }

// Shutdown implements FrameSource. It also closes the underlying driver;
// the camera cannot be reused afterwards.
func (c *Camera) Shutdown() error {
	err := c.ctl.Shutdown()
	if cerr := c.driver.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Err implements FrameSource.
func (c *Camera) Err() error { return c.ctl.Err() }

// Stats implements FrameSource.
func (c *Camera) Stats() CaptureStats { return c.ctl.Stats() }

// EffectiveConfig returns the configuration after hardware admission:
// clamped bitrate, upgraded level. Before Initialize it returns the
// normalized input configuration.
func (c *Camera) EffectiveConfig() Config { return c.ctl.EffectiveConfig() }
