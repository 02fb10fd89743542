package gsthal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

type portRole int

const (
	rolePreview portRole = iota
	roleVideo
	roleStill
	roleEncodeIn
	roleEncodeOut
)

type gstStage struct {
	driver *Driver
	kind   hal.StageKind
	name   string

	// Link-ordered element chain this stage contributes to the pipeline.
	elements []*gst.Element

	source  *gst.Element
	srcCaps *gst.Element

	encoder        *gst.Element
	encoderFactory string
	parse          *gst.Element
	encCaps        *gst.Element
	appsink        *app.Sink

	inputs  []*gstPort
	outputs []*gstPort

	mu        sync.Mutex
	enabled   bool
	destroyed bool
}

// newCaptureStage builds the source side: libcamerasrc on a Pi, with a
// videotestsrc fallback for development machines without the camera stack.
func newCaptureStage(d *Driver) (*gstStage, error) {
	st := &gstStage{driver: d, kind: hal.StageCapture, name: "gst.camera"}

	source, err := gst.NewElement("libcamerasrc")
	if err != nil {
		slog.Warn("gsthal: libcamerasrc not available, using videotestsrc", "error", err)
		source, err = gst.NewElement("videotestsrc")
		if err != nil {
			return nil, fmt.Errorf("gsthal: creating capture source: %w", err)
		}
		source.SetProperty("is-live", true)
	}
	st.source = source

	srcCaps, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("gsthal: creating capture capsfilter: %w", err)
	}
	st.srcCaps = srcCaps

	st.elements = []*gst.Element{source, srcCaps}
	st.outputs = []*gstPort{
		newGstPort(d, st, "camera:out:preview", hal.DirOutput, rolePreview),
		newGstPort(d, st, "camera:out:video", hal.DirOutput, roleVideo),
		newGstPort(d, st, "camera:out:still", hal.DirOutput, roleStill),
	}
	return st, nil
}

// newEncodeStage builds the sink side of the chain up to the appsink. The
// encoder element itself is chosen at format commit time, once the target
// codec is known.
func newEncodeStage(d *Driver) (*gstStage, error) {
	st := &gstStage{driver: d, kind: hal.StageEncode, name: "gst.encoder"}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gsthal: creating appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	st.appsink = sink

	st.inputs = []*gstPort{newGstPort(d, st, "encoder:in", hal.DirInput, roleEncodeIn)}
	st.outputs = []*gstPort{newGstPort(d, st, "encoder:out", hal.DirOutput, roleEncodeOut)}

	out := st.outputs[0]
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return onNewSample(s, out)
		},
	})
	return st, nil
}

func (st *gstStage) Kind() hal.StageKind { return st.kind }
func (st *gstStage) Name() string        { return st.name }

func (st *gstStage) Inputs() []hal.Port {
	out := make([]hal.Port, len(st.inputs))
	for i, p := range st.inputs {
		out[i] = p
	}
	return out
}

func (st *gstStage) Outputs() []hal.Port {
	out := make([]hal.Port, len(st.outputs))
	for i, p := range st.outputs {
		out[i] = p
	}
	return out
}

func (st *gstStage) SetParam(p hal.Param, value any) error {
	switch p {
	case hal.ParamCameraNum:
		// libcamerasrc selects cameras by name, not index; the single-camera
		// case needs nothing.
		slog.Debug("gsthal: camera selection left to libcamera", "index", value)
	case hal.ParamSensorMode:
		slog.Debug("gsthal: sensor mode left to libcamera negotiation", "mode", value)
	case hal.ParamCameraConfig:
		// Preview circuit depth and timestamp mode are firmware details
		// with no GStreamer equivalent.
	default:
		slog.Debug("gsthal: stage parameter ignored", "param", string(p))
	}
	return nil
}

func (st *gstStage) Enable() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return fmt.Errorf("gsthal: %s already destroyed", st.name)
	}
	st.enabled = true
	return nil
}

func (st *gstStage) Disable() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.enabled = false
	return nil
}

func (st *gstStage) Destroy() error {
	st.mu.Lock()
	if st.destroyed {
		st.mu.Unlock()
		return nil
	}
	st.destroyed = true
	st.mu.Unlock()

	for _, p := range st.inputs {
		p.Disable()
	}
	for _, p := range st.outputs {
		p.Disable()
	}
	return nil
}

func (st *gstStage) describe() string {
	names := ""
	for i, el := range st.elements {
		if i > 0 {
			names += " ! "
		}
		if f := el.GetFactory(); f != nil {
			names += f.GetName()
		} else {
			names += el.GetName()
		}
	}
	return names
}

// --- port ---

type gstPort struct {
	driver *Driver
	stage  *gstStage
	name   string
	dir    hal.PortDirection
	role   portRole

	mu        sync.Mutex
	format    hal.VideoFormat
	committed bool
	bufCount  int
	bufSize   int
	countMin  int
	countRec  int
	sizeMin   int
	sizeRec   int
	params    map[hal.Param]any
	profile   string
	level     string
	enabled   bool
	cb        hal.CompletionFunc
	credits   []*gstBuffer
	starved   uint64
}

func newGstPort(d *Driver, st *gstStage, name string, dir hal.PortDirection, role portRole) *gstPort {
	return &gstPort{
		driver: d,
		stage:  st,
		name:   name,
		dir:    dir,
		role:   role,
		params: make(map[hal.Param]any),
	}
}

func (p *gstPort) Name() string                 { return p.name }
func (p *gstPort) Direction() hal.PortDirection { return p.dir }

func (p *gstPort) Format() hal.VideoFormat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

func (p *gstPort) SetFormat(f hal.VideoFormat) {
	p.mu.Lock()
	p.format = f
	p.mu.Unlock()
}

// CommitFormat realizes the negotiated format in the element chain: caps
// on the capture side, encoder element selection and sizing advice on the
// encode side. Preview and still ports accept their formats without any
// pipeline effect during video capture.
func (p *gstPort) CommitFormat() error {
	p.mu.Lock()
	format := p.format
	p.mu.Unlock()

	switch p.role {
	case roleVideo:
		// Negotiate on the crop size; GStreamer pads strides itself.
		width, height := format.Crop.Width, format.Crop.Height
		if width == 0 || height == 0 {
			width, height = format.Width, format.Height
		}
		rate := format.FrameRate
		if rate.Num <= 0 {
			rate = hal.Rational{Num: 30, Den: 1}
		}
		capsStr := fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=%d/%d",
			width, height, rate.Num, rate.Den)
		p.stage.srcCaps.SetProperty("caps", gst.NewCapsFromString(capsStr))
		slog.Debug("gsthal: capture caps committed", "caps", capsStr)

		p.mu.Lock()
		p.committed = true
		p.countMin, p.countRec = 1, 2
		p.sizeMin, p.sizeRec = 128, 128
		p.mu.Unlock()
		return nil

	case roleEncodeOut:
		if err := p.stage.buildEncoderChain(format); err != nil {
			return err
		}

		sizeRec := format.Crop.Width * format.Crop.Height / 4
		if sizeRec < 65536 {
			sizeRec = 65536
		}
		p.mu.Lock()
		p.committed = true
		p.countMin, p.countRec = 1, 4
		p.sizeMin, p.sizeRec = 4096, sizeRec
		if p.bufCount == 0 {
			p.bufCount = p.countRec
		}
		if p.bufSize == 0 {
			p.bufSize = p.sizeRec
		}
		p.mu.Unlock()
		return nil

	default:
		p.mu.Lock()
		p.committed = true
		p.mu.Unlock()
		return nil
	}
}

// buildEncoderChain picks the encoder elements for the committed codec:
// V4L2 hardware encoders first, software fallbacks after, the same
// hardware-then-software chain the rest of the pipeline uses.
func (st *gstStage) buildEncoderChain(format hal.VideoFormat) error {
	if st.encoder != nil {
		return nil
	}

	switch format.Encoding {
	case hal.EncodingMJPEG:
		encoder, err := gst.NewElement("v4l2jpegenc")
		if err != nil {
			slog.Warn("gsthal: v4l2jpegenc not available, using jpegenc", "error", err)
			encoder, err = gst.NewElement("jpegenc")
			if err != nil {
				return fmt.Errorf("gsthal: creating mjpeg encoder: %w", err)
			}
			st.encoderFactory = "jpegenc"
		} else {
			st.encoderFactory = "v4l2jpegenc"
		}
		st.encoder = encoder

		encCaps, err := gst.NewElement("capsfilter")
		if err != nil {
			return fmt.Errorf("gsthal: creating encoder capsfilter: %w", err)
		}
		encCaps.SetProperty("caps", gst.NewCapsFromString("image/jpeg"))
		st.encCaps = encCaps

		st.elements = []*gst.Element{st.encoder, st.encCaps, st.appsink.Element}

	default: // H.264
		encoder, err := gst.NewElement("v4l2h264enc")
		if err != nil {
			slog.Warn("gsthal: v4l2h264enc not available, using x264enc", "error", err)
			encoder, err = gst.NewElement("x264enc")
			if err != nil {
				return fmt.Errorf("gsthal: creating h264 encoder: %w", err)
			}
			encoder.SetProperty("tune", "zerolatency")
			st.encoderFactory = "x264enc"
		} else {
			st.encoderFactory = "v4l2h264enc"
		}
		st.encoder = encoder

		if format.Bitrate > 0 {
			st.applyBitrate(format.Bitrate)
		}

		parse, err := gst.NewElement("h264parse")
		if err != nil {
			return fmt.Errorf("gsthal: creating h264parse: %w", err)
		}
		st.parse = parse

		encCaps, err := gst.NewElement("capsfilter")
		if err != nil {
			return fmt.Errorf("gsthal: creating encoder capsfilter: %w", err)
		}
		st.encCaps = encCaps
		st.outputs[0].applyH264Caps()

		st.elements = []*gst.Element{st.encoder, st.parse, st.encCaps, st.appsink.Element}
	}

	slog.Info("gsthal: encoder chain built",
		"encoder", st.encoderFactory, "codec", string(format.Encoding))
	return nil
}

func (st *gstStage) applyBitrate(bitsPerSecond int) {
	switch st.encoderFactory {
	case "x264enc":
		// x264enc takes kbit/s.
		st.encoder.SetProperty("bitrate", uint(bitsPerSecond/1000))
	default:
		// The V4L2 encoders take bitrate through extra-controls; defaults
		// serve until that is wired.
		slog.Debug("gsthal: bitrate left at encoder default",
			"encoder", st.encoderFactory, "requested", bitsPerSecond)
	}
}

// applyH264Caps locks the byte-stream output format, plus profile and
// level once those parameters arrive.
func (p *gstPort) applyH264Caps() {
	p.mu.Lock()
	profile, level := p.profile, p.level
	p.mu.Unlock()

	capsStr := "video/x-h264,stream-format=byte-stream,alignment=au"
	if profile != "" {
		capsStr += ",profile=" + profile
	}
	if level != "" {
		capsStr += ",level=(string)" + level
	}
	p.stage.encCaps.SetProperty("caps", gst.NewCapsFromString(capsStr))
	slog.Debug("gsthal: encoder caps applied", "caps", capsStr)
}

func (p *gstPort) BufferCount() int { p.mu.Lock(); defer p.mu.Unlock(); return p.bufCount }
func (p *gstPort) BufferSize() int  { p.mu.Lock(); defer p.mu.Unlock(); return p.bufSize }

func (p *gstPort) SetBufferCount(n int) { p.mu.Lock(); p.bufCount = n; p.mu.Unlock() }
func (p *gstPort) SetBufferSize(n int)  { p.mu.Lock(); p.bufSize = n; p.mu.Unlock() }

func (p *gstPort) BufferCountMin() int         { p.mu.Lock(); defer p.mu.Unlock(); return p.countMin }
func (p *gstPort) BufferCountRecommended() int { p.mu.Lock(); defer p.mu.Unlock(); return p.countRec }
func (p *gstPort) BufferSizeMin() int          { p.mu.Lock(); defer p.mu.Unlock(); return p.sizeMin }
func (p *gstPort) BufferSizeRecommended() int  { p.mu.Lock(); defer p.mu.Unlock(); return p.sizeRec }

// SetParam maps the hardware parameter onto whatever the selected elements
// expose. A parameter the element family cannot express is logged and
// accepted; which encoder serves the stage is not the caller's concern.
func (p *gstPort) SetParam(param hal.Param, value any) error {
	p.mu.Lock()
	p.params[param] = value
	p.mu.Unlock()

	switch param {
	case hal.ParamCapture:
		on, _ := value.(bool)
		if on {
			return p.driver.startStreaming()
		}
		p.driver.stopStreaming()
		return nil

	case hal.ParamFPSRange:
		// The committed caps already carry the exact rate.
		slog.Debug("gsthal: fps range noted", "range", fmt.Sprint(value))
		return nil

	case hal.ParamIntraPeriod:
		n, _ := value.(int)
		if p.stage.encoderFactory == "x264enc" && n > 0 {
			p.stage.encoder.SetProperty("key-int-max", uint(n))
		} else {
			slog.Debug("gsthal: intra period left at encoder default", "frames", n)
		}
		return nil

	case hal.ParamQPInitial, hal.ParamQPMin, hal.ParamQPMax:
		n, _ := value.(int)
		if p.stage.encoderFactory == "x264enc" {
			switch param {
			case hal.ParamQPInitial:
				p.stage.encoder.SetProperty("quantizer", uint(n))
			case hal.ParamQPMin:
				p.stage.encoder.SetProperty("qp-min", uint(n))
			case hal.ParamQPMax:
				p.stage.encoder.SetProperty("qp-max", uint(n))
			}
		} else {
			slog.Debug("gsthal: quantisation left at encoder default", "param", string(param), "value", n)
		}
		return nil

	case hal.ParamProfileLevel:
		pl, ok := value.(hal.ProfileLevel)
		if !ok {
			return fmt.Errorf("gsthal: profile-level wants hal.ProfileLevel, got %T", value)
		}
		p.mu.Lock()
		p.profile, p.level = pl.Profile, pl.Level
		p.mu.Unlock()
		if p.stage.encCaps != nil {
			p.applyH264Caps()
		}
		return nil

	case hal.ParamInlineHeaders:
		on, _ := value.(bool)
		if p.stage.parse != nil {
			interval := 0
			if on {
				// Repeat SPS/PPS ahead of every IDR.
				interval = -1
			}
			p.stage.parse.SetProperty("config-interval", interval)
		}
		return nil

	case hal.ParamSPSTiming:
		slog.Debug("gsthal: sps timing not expressible, skipped")
		return nil

	case hal.ParamIntraRefresh:
		ir, ok := value.(hal.IntraRefreshConfig)
		if !ok {
			return fmt.Errorf("gsthal: intra-refresh wants hal.IntraRefreshConfig, got %T", value)
		}
		if p.stage.encoderFactory == "x264enc" {
			p.stage.encoder.SetProperty("intra-refresh", ir.Mode != "")
		} else {
			slog.Debug("gsthal: intra refresh left at encoder default", "mode", ir.Mode)
		}
		return nil

	default:
		slog.Debug("gsthal: port parameter noted", "param", string(param))
		return nil
	}
}

func (p *gstPort) GetParam(param hal.Param) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.params[param]; ok {
		return v, nil
	}
	if param == hal.ParamIntraRefresh {
		return hal.IntraRefreshConfig{}, nil
	}
	return nil, fmt.Errorf("gsthal: parameter %s not set", param)
}

func (p *gstPort) Enable(cb hal.CompletionFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return fmt.Errorf("gsthal: port %s already enabled", p.name)
	}
	p.enabled = true
	p.cb = cb
	return nil
}

func (p *gstPort) Disable() error {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return nil
	}
	p.enabled = false
	credits := p.credits
	p.credits = nil
	p.mu.Unlock()

	for _, buf := range credits {
		buf.Release()
	}
	return nil
}

func (p *gstPort) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Submit hands a buffer to the port as delivery credit: the next encoded
// sample is written into it and completed through the callback.
func (p *gstPort) Submit(buf hal.Buffer) error {
	gb, ok := buf.(*gstBuffer)
	if !ok {
		return errors.New("gsthal: foreign buffer submitted")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return fmt.Errorf("gsthal: port %s not enabled", p.name)
	}
	p.credits = append(p.credits, gb)
	return nil
}

func (p *gstPort) CreatePool(count, size int) (hal.Pool, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("gsthal: invalid pool geometry %dx%d", count, size)
	}
	pool := &gstPool{}
	pool.free = make([]*gstBuffer, 0, count)
	for i := 0; i < count; i++ {
		pool.free = append(pool.free, &gstBuffer{pool: pool, data: make([]byte, size)})
	}
	pool.total = count
	return pool, nil
}

// takeCredit pops one submitted buffer, or nil when the host has fallen
// behind and the sample must be dropped.
func (p *gstPort) takeCredit() (*gstBuffer, hal.CompletionFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled || len(p.credits) == 0 {
		p.starved++
		return nil, nil
	}
	buf := p.credits[0]
	p.credits = p.credits[1:]
	return buf, p.cb
}

// --- pool and buffers ---

type gstPool struct {
	mu        sync.Mutex
	free      []*gstBuffer
	total     int
	destroyed bool
}

func (pl *gstPool) Get() (hal.Buffer, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.destroyed {
		return nil, errors.New("gsthal: pool destroyed")
	}
	if len(pl.free) == 0 {
		return nil, hal.ErrPoolExhausted
	}
	buf := pl.free[len(pl.free)-1]
	pl.free = pl.free[:len(pl.free)-1]
	buf.held = true
	return buf, nil
}

func (pl *gstPool) Size() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.total
}

func (pl *gstPool) Free() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.free)
}

func (pl *gstPool) Destroy() {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.destroyed = true
}

type gstBuffer struct {
	pool *gstPool

	data   []byte
	length int
	flags  hal.BufferFlags
	pts    time.Duration
	held   bool
}

func (b *gstBuffer) fill(payload []byte, flags hal.BufferFlags, pts time.Duration) {
	if len(payload) > len(b.data) {
		// Oversized access unit; regrow rather than truncate the stream.
		b.data = make([]byte, len(payload))
	}
	copy(b.data, payload)
	b.length = len(payload)
	b.flags = flags
	b.pts = pts
}

func (b *gstBuffer) Map() []byte            { return b.data[:b.length] }
func (b *gstBuffer) Unmap()                 {}
func (b *gstBuffer) Length() int            { return b.length }
func (b *gstBuffer) Flags() hal.BufferFlags { return b.flags }
func (b *gstBuffer) PTS() time.Duration     { return b.pts }

func (b *gstBuffer) Release() {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if !b.held {
		return
	}
	b.held = false
	if !b.pool.destroyed {
		b.pool.free = append(b.pool.free, b)
	}
}
