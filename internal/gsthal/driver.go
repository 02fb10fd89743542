// Package gsthal implements the hardware driver contract on top of
// GStreamer via go-gst. On a Raspberry Pi the capture stage resolves to
// libcamerasrc and the encode stage to the V4L2 stateful encoder, the same
// ISP and VideoCore silicon the legacy firmware pipeline drove; on
// development machines both fall back to software elements.
//
// Mapping notes. GStreamer negotiates its own buffer strides, so committed
// formats use the crop dimensions rather than the aligned ones. Encoder
// tuning parameters translate to element properties where the selected
// element exposes them; a parameter the element cannot express is logged
// and skipped rather than failed, since which element serves a stage is a
// host detail the caller cannot see. The buffer pool is a credit pool:
// samples are only delivered while the host keeps buffers submitted, and
// arrive on GStreamer's streaming thread exactly like firmware completion
// callbacks.
package gsthal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// Driver is the production hal.Driver over a single GStreamer pipeline.
type Driver struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	capture  *gstStage
	encode   *gstStage
	epoch    time.Time
	running  bool
	closed   bool
	busErr   error

	stopMonitor chan struct{}
	monitorWG   sync.WaitGroup
}

// NewDriver initializes GStreamer, verifies it is usable and creates the
// pipeline that will host both stages.
func NewDriver() (*Driver, error) {
	gst.Init(nil)

	// Fail fast when the runtime is missing rather than at first capture.
	probe, err := gst.NewElement("fakesrc")
	if err != nil {
		return nil, fmt.Errorf("gsthal: gstreamer not available: %w", err)
	}
	probe.SetState(gst.StateNull)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gsthal: creating pipeline: %w", err)
	}

	return &Driver{pipeline: pipeline}, nil
}

func (d *Driver) Name() string { return "gstreamer" }

// CreateStage implements hal.Driver. One capture and one encode stage per
// driver; the pipeline hosts exactly one capture chain.
func (d *Driver) CreateStage(kind hal.StageKind) (hal.Stage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("gsthal: driver closed")
	}

	switch kind {
	case hal.StageCapture:
		if d.capture != nil {
			return nil, errors.New("gsthal: capture stage already exists")
		}
		st, err := newCaptureStage(d)
		if err != nil {
			return nil, err
		}
		d.capture = st
		return st, nil

	case hal.StageEncode:
		if d.encode != nil {
			return nil, errors.New("gsthal: encode stage already exists")
		}
		st, err := newEncodeStage(d)
		if err != nil {
			return nil, err
		}
		d.encode = st
		return st, nil

	default:
		return nil, fmt.Errorf("gsthal: unknown stage kind %d", kind)
	}
}

// Connect implements hal.Driver. The tunnel is realized by adding both
// stages' element chains to the pipeline and linking them on Enable.
func (d *Driver) Connect(out, in hal.Port, flags hal.ConnectionFlags) (hal.Connection, error) {
	op, ok := out.(*gstPort)
	if !ok || op.dir != hal.DirOutput {
		return nil, errors.New("gsthal: connect requires a gstreamer output port")
	}
	ip, ok := in.(*gstPort)
	if !ok || ip.dir != hal.DirInput {
		return nil, errors.New("gsthal: connect requires a gstreamer input port")
	}
	return &gstConnection{driver: d, out: op, in: ip}, nil
}

// Close implements hal.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.stopStreaming()
	return d.pipeline.SetState(gst.StateNull)
}

// Err implements hal.Health: the first asynchronous pipeline error seen on
// the bus, surfaced to the polling control loop.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busErr
}

func (d *Driver) setBusErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busErr == nil {
		d.busErr = err
	}
}

// startStreaming moves the pipeline to PLAYING and begins bus monitoring.
// Called when the capture toggle goes on.
func (d *Driver) startStreaming() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.epoch = time.Now()
	d.stopMonitor = make(chan struct{})
	stop := d.stopMonitor
	d.mu.Unlock()

	if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("gsthal: starting pipeline: %w", err)
	}

	// Wait briefly for the transition before declaring the stream live.
	bus := d.pipeline.GetPipelineBus()
	msg := bus.TimedPop(5 * time.Second)
	if msg != nil && msg.Type() == gst.MessageStateChanged {
		_, newState := msg.ParseStateChanged()
		if newState == gst.StatePlaying {
			slog.Info("gsthal: pipeline reached PLAYING state")
		}
	}

	d.monitorWG.Add(1)
	go d.monitorBus(stop)
	return nil
}

// stopStreaming halts the pipeline and the bus monitor. Safe to call when
// nothing is running.
func (d *Driver) stopStreaming() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopMonitor)
	d.mu.Unlock()

	d.monitorWG.Wait()
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		slog.Warn("gsthal: stopping pipeline failed", "error", err)
	}
}

// monitorBus watches the pipeline bus until stopped. Errors and premature
// end-of-stream land in the driver health slot; the streaming thread
// cannot return them to anyone directly.
func (d *Driver) monitorBus(stop chan struct{}) {
	defer d.monitorWG.Done()

	bus := d.pipeline.GetPipelineBus()
	for {
		select {
		case <-stop:
			return
		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}
			switch msg.Type() {
			case gst.MessageEOS:
				slog.Error("gsthal: unexpected end of stream")
				d.setBusErr(errors.New("gsthal: pipeline reported end of stream"))
				return

			case gst.MessageError:
				gerr := msg.ParseError()
				slog.Error("gsthal: pipeline error",
					"error", gerr.Error(), "debug", gerr.DebugString())
				d.setBusErr(fmt.Errorf("gsthal: pipeline error: %s", gerr.Error()))
				return

			case gst.MessageStateChanged:
				if msg.Source() == d.pipeline.GetName() {
					old, next := msg.ParseStateChanged()
					slog.Debug("gsthal: pipeline state changed", "from", old, "to", next)
				}
			}
		}
	}
}

// now is the stream clock: monotonic time since capture started.
func (d *Driver) now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch.IsZero() {
		return -1
	}
	return time.Since(d.epoch)
}

// gstConnection links the capture chain into the encode chain when
// enabled. GStreamer owns buffer transfer along the linked elements, which
// is exactly the tunnelled zero-copy contract.
type gstConnection struct {
	driver *Driver
	out    *gstPort
	in     *gstPort

	mu      sync.Mutex
	enabled bool
}

func (c *gstConnection) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return nil
	}

	capture := c.out.stage
	encode := c.in.stage

	elements := append(append([]*gst.Element{}, capture.elements...), encode.elements...)
	c.driver.pipeline.AddMany(elements...)
	if err := gst.ElementLinkMany(elements...); err != nil {
		return fmt.Errorf("gsthal: linking capture to encoder: %w", err)
	}

	c.enabled = true
	slog.Debug("gsthal: stages linked",
		"capture", capture.describe(), "encode", encode.describe())
	return nil
}

func (c *gstConnection) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	return nil
}
