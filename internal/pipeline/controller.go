package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// State is the controller's position in the bring-up sequence. Transitions
// are linear; any failure unwinds to StateDestroyed.
type State int

const (
	StateUninitialized State = iota
	StateCaptureCreated
	StateCaptureConfigured
	StateCaptureEnabled
	StateEncodeCreated
	StateEncodeConfigured
	StateEncodeEnabled
	StateConnected
	StatePoolPrimed
	StateCapturing
	StateStopping
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCaptureCreated:
		return "capture-created"
	case StateCaptureConfigured:
		return "capture-configured"
	case StateCaptureEnabled:
		return "capture-enabled"
	case StateEncodeCreated:
		return "encode-created"
	case StateEncodeConfigured:
		return "encode-configured"
	case StateEncodeEnabled:
		return "encode-enabled"
	case StateConnected:
		return "connected"
	case StatePoolPrimed:
		return "pool-primed"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// undoStep releases one acquired resource. Steps are pushed in acquisition
// order and run in reverse, so a failure at any point unwinds exactly the
// subset already acquired.
type undoStep struct {
	name string
	fn   func() error
}

// Controller owns the hardware pipeline lifecycle: ordered construction
// through StatePoolPrimed, capture start/stop, and teardown. All lifecycle
// methods serialize on one mutex; only Pull and Stats are safe to call
// concurrently with them.
type Controller struct {
	queue *FrameQueue

	mu        sync.Mutex
	driver    hal.Driver
	cfg       Config
	effective Config
	state     State
	undo      []undoStep

	cam  hal.Stage
	enc  hal.Stage
	conn hal.Connection
	pool hal.Pool

	videoPort hal.Port
	encOut    hal.Port
	bridge    *Bridge

	startedAt time.Time
}

// NewController creates a controller for one capture session. The config
// must already be normalized and validated.
func NewController(driver hal.Driver, cfg Config) *Controller {
	capacity := cfg.QueueCapacity
	if cfg.QueuePolicy == PolicyUnbounded {
		capacity = 0
	}
	return &Controller{
		queue:     NewFrameQueue(capacity, cfg.QueuePolicy),
		driver:    driver,
		cfg:       cfg,
		effective: cfg,
		state:     StateUninitialized,
	}
}

func (c *Controller) push(name string, fn func() error) {
	c.undo = append(c.undo, undoStep{name: name, fn: fn})
}

// unwindLocked releases acquired resources in reverse order. Individual
// step failures are logged and do not stop the unwind.
func (c *Controller) unwindLocked() {
	for i := len(c.undo) - 1; i >= 0; i-- {
		step := c.undo[i]
		if err := step.fn(); err != nil {
			slog.Warn("picam: teardown step failed", "step", step.name, "error", err)
		}
	}
	c.undo = nil
	c.cam, c.enc, c.conn, c.pool = nil, nil, nil, nil
	c.videoPort, c.encOut = nil, nil
}

// Initialize walks the bring-up sequence: capture stage, encode stage,
// tunnel, buffer pool, callback registration and buffer priming. The first
// failure rolls back everything already acquired and leaves the controller
// destroyed; there is no retry, hardware resources are not idempotent to
// recreate mid-failure.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return fmt.Errorf("picam: initialize from state %s", c.state)
	}

	fail := func(step string, err error) error {
		slog.Error("picam: initialization failed, rolling back", "step", step, "error", err)
		c.unwindLocked()
		c.state = StateDestroyed
		return fmt.Errorf("picam: %s: %w", step, err)
	}

	cam, err := c.driver.CreateStage(hal.StageCapture)
	if err != nil {
		return fail("creating capture stage", err)
	}
	c.cam = cam
	c.push("destroy capture stage", cam.Destroy)
	c.state = StateCaptureCreated

	if err := configureCaptureStage(cam, c.cfg); err != nil {
		return fail("configuring capture stage", err)
	}
	c.state = StateCaptureConfigured

	if err := cam.Enable(); err != nil {
		return fail("enabling capture stage", err)
	}
	c.push("disable capture stage", cam.Disable)
	c.state = StateCaptureEnabled

	enc, err := c.driver.CreateStage(hal.StageEncode)
	if err != nil {
		return fail("creating encode stage", err)
	}
	c.enc = enc
	c.push("destroy encode stage", enc.Destroy)
	c.state = StateEncodeCreated

	eff, err := configureEncodeStage(enc, c.cfg)
	if err != nil {
		return fail("configuring encode stage", err)
	}
	c.effective = eff
	c.state = StateEncodeConfigured

	if err := enc.Enable(); err != nil {
		return fail("enabling encode stage", err)
	}
	c.push("disable encode stage", enc.Disable)
	c.state = StateEncodeEnabled

	c.videoPort = cam.Outputs()[hal.CapturePortVideo]
	conn, err := c.driver.Connect(c.videoPort, enc.Inputs()[0], hal.ConnTunnelled|hal.ConnAllocOnInput)
	if err != nil {
		return fail("creating stage connection", err)
	}
	c.conn = conn
	c.push("destroy stage connection", conn.Destroy)

	if err := conn.Enable(); err != nil {
		return fail("enabling stage connection", err)
	}
	c.state = StateConnected

	c.encOut = enc.Outputs()[0]
	pool, err := c.encOut.CreatePool(c.encOut.BufferCount(), c.encOut.BufferSize())
	if err != nil {
		return fail("creating buffer pool", err)
	}
	c.pool = pool
	c.push("destroy buffer pool", func() error { pool.Destroy(); return nil })

	c.bridge = NewBridge(c.queue, pool)
	if err := c.encOut.Enable(c.bridge.OnBufferDone); err != nil {
		return fail("enabling encoder output port", err)
	}
	c.push("disable encoder output port", c.encOut.Disable)

	// Prime the hardware with every pool buffer. Failures here degrade
	// throughput but do not abort; the pool itself was the fatal part.
	for i := 0; i < pool.Size(); i++ {
		buf, err := pool.Get()
		if err != nil {
			slog.Warn("picam: priming stopped early", "primed", i, "error", err)
			break
		}
		if err := c.encOut.Submit(buf); err != nil {
			slog.Warn("picam: priming submit failed", "buffer", i, "error", err)
			buf.Release()
		}
	}
	c.state = StatePoolPrimed

	slog.Info("picam: pipeline initialized",
		"driver", c.driver.Name(),
		"width", c.effective.Width, "height", c.effective.Height,
		"framerate", c.effective.Framerate,
		"codec", c.effective.Codec.String(),
		"bitrate", c.effective.Bitrate,
		"level", c.effective.Level.String(),
		"pool_buffers", pool.Size(), "buffer_size", c.encOut.BufferSize())
	return nil
}

// Start turns capture on. Valid only from StatePoolPrimed.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePoolPrimed {
		return fmt.Errorf("picam: start from state %s", c.state)
	}
	if err := c.videoPort.SetParam(hal.ParamCapture, true); err != nil {
		return fmt.Errorf("picam: starting capture: %w", err)
	}
	c.startedAt = time.Now()
	c.state = StateCapturing
	slog.Info("picam: capture started")
	return nil
}

// Stop turns capture off, disables the encoder output port and closes the
// queue. Pending Pulls drain queued frames and then see ErrStopped. Calling
// Stop outside StateCapturing is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCapturing {
		return nil
	}
	c.stopCaptureLocked()
	c.state = StateStopping
	slog.Info("picam: capture stopped")
	return nil
}

func (c *Controller) stopCaptureLocked() {
	if err := c.videoPort.SetParam(hal.ParamCapture, false); err != nil {
		slog.Warn("picam: disabling capture parameter failed", "error", err)
	}
	if err := c.encOut.Disable(); err != nil {
		slog.Warn("picam: disabling encoder output port failed", "error", err)
	}
	c.queue.Close()
}

// Shutdown tears the whole pipeline down in reverse acquisition order.
// Idempotent: any state is accepted, repeated calls are no-ops.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDestroyed:
		return nil
	case StateUninitialized:
		c.state = StateDestroyed
		c.queue.Close()
		return nil
	case StateCapturing:
		c.stopCaptureLocked()
	}

	c.queue.Close()
	c.unwindLocked()
	c.state = StateDestroyed
	slog.Info("picam: pipeline shut down")
	return nil
}

// Pull blocks until a frame is available, capture stops, or ctx ends.
// Frames arrive in exactly the order the encoder completed them.
func (c *Controller) Pull(ctx context.Context) (Frame, error) {
	return c.queue.Pull(ctx)
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EffectiveConfig returns the configuration actually in force, with any
// admission clamps and level upgrades applied.
func (c *Controller) EffectiveConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effective
}

// Err surfaces failures raised on threads that cannot return errors: the
// bridge's abort condition first, then the driver's own health, polled by
// the controlling loop.
func (c *Controller) Err() error {
	c.mu.Lock()
	bridge := c.bridge
	driver := c.driver
	c.mu.Unlock()

	if bridge != nil {
		if err := bridge.Err(); err != nil {
			return err
		}
	}
	if h, ok := driver.(hal.Health); ok {
		return h.Err()
	}
	return nil
}

// Stats assembles a point-in-time snapshot of the session.
func (c *Controller) Stats() CaptureStats {
	c.mu.Lock()
	state := c.state
	bridge := c.bridge
	pool := c.pool
	startedAt := c.startedAt
	c.mu.Unlock()

	s := CaptureStats{
		State:      state.String(),
		QueueDepth: c.queue.Len(),
	}
	s.FramesDropped = c.queue.Dropped()

	if bridge != nil {
		bc := bridge.Counters()
		s.FramesDelivered = bc.Delivered
		s.BytesDelivered = bc.BytesDelivered
		s.KeyFrames = bc.KeyFrames
		s.Callbacks = bc.Callbacks
		s.Resubmissions = bc.Resubmissions
		s.PoolExhaustions = bc.PoolExhaustions
		s.SubmitFailures = bc.SubmitFailures
		s.EmptyBuffers = bc.EmptyBuffers
		s.SideInfoBuffers = bc.SideInfoBuffers
		s.LastFrameAt = bridge.LastFrameAt()
	}
	if pool != nil {
		s.PoolSize = pool.Size()
		s.PoolFree = pool.Free()
	}
	if total := s.FramesDelivered + s.FramesDropped; total > 0 {
		s.DropRate = float64(s.FramesDropped) / float64(total)
	}
	if !startedAt.IsZero() {
		s.Uptime = time.Since(startedAt)
		if secs := s.Uptime.Seconds(); secs > 0 {
			s.ActualFPS = float64(s.FramesDelivered) / secs
		}
	}
	return s
}
