package hal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolExhausted is returned by Pool.Get when every buffer is out in
// circulation.
var ErrPoolExhausted = errors.New("hal: buffer pool exhausted")

// SimOp names a driver operation the simulator can be scripted to fail.
type SimOp string

const (
	SimCreateCapture       SimOp = "create-capture"
	SimCreateEncode        SimOp = "create-encode"
	SimCommitCaptureFormat SimOp = "commit-capture-format"
	SimCommitEncodeFormat  SimOp = "commit-encode-format"
	SimEnableCapture       SimOp = "enable-capture"
	SimEnableEncode        SimOp = "enable-encode"
	SimConnect             SimOp = "connect"
	SimEnableConnection    SimOp = "enable-connection"
	SimCreatePool          SimOp = "create-pool"
	SimEnablePort          SimOp = "enable-port"
	SimSubmit              SimOp = "submit"
)

// SimCounters is a snapshot of resource accounting inside the simulator.
// Tests use it to prove that every acquisition is balanced by a release
// after rollback or shutdown.
type SimCounters struct {
	StagesCreated        int
	StagesDestroyed      int
	StagesEnabled        int
	StagesDisabled       int
	ConnectionsCreated   int
	ConnectionsDestroyed int
	PoolsCreated         int
	PoolsDestroyed       int
	PortsEnabled         int
	PortsDisabled        int
	BuffersSubmitted     int
	Callbacks            int
}

// Balanced reports whether every created resource has been destroyed and
// every enable has a matching disable.
func (c SimCounters) Balanced() bool {
	return c.StagesCreated == c.StagesDestroyed &&
		c.StagesEnabled == c.StagesDisabled &&
		c.ConnectionsCreated == c.ConnectionsDestroyed &&
		c.PoolsCreated == c.PoolsDestroyed &&
		c.PortsEnabled == c.PortsDisabled
}

type simInject int

const (
	injectEmpty simInject = iota
	injectSideInfo
	injectShortMap
)

// Sim is a software Driver that synthesizes an encoded stream in-process.
//
// It models the hardware contract faithfully: frames are only produced
// while the host keeps buffers submitted to the encoder output port, the
// completion callback runs on the simulator's own producer goroutine, and
// every create/enable has a matching destroy/disable counter.
//
// Failure injection (FailOn, FailSetParam, FailGetParam) makes any
// bring-up step fail deterministically, which is how the rollback paths
// are tested without hardware.
type Sim struct {
	mu            sync.Mutex
	counters      SimCounters
	failOps       map[SimOp]bool
	failSetParams map[Param]bool
	failGetParams map[Param]bool
	injects       []simInject
	frameInterval time.Duration
	gop           int
	closed        bool
}

// NewSim creates a simulator producing a keyframe every 30 frames at the
// committed capture frame rate.
func NewSim() *Sim {
	return &Sim{
		failOps:       make(map[SimOp]bool),
		failSetParams: make(map[Param]bool),
		failGetParams: make(map[Param]bool),
		gop:           30,
		frameInterval: -1, // derive from committed format
	}
}

func (s *Sim) Name() string { return "sim" }

// FailOn scripts op to fail with an injected error on every call.
func (s *Sim) FailOn(op SimOp) {
	s.mu.Lock()
	s.failOps[op] = true
	s.mu.Unlock()
}

// FailSetParam scripts SetParam(p) to fail on every call.
func (s *Sim) FailSetParam(p Param) {
	s.mu.Lock()
	s.failSetParams[p] = true
	s.mu.Unlock()
}

// FailGetParam scripts GetParam(p) to fail on every call.
func (s *Sim) FailGetParam(p Param) {
	s.mu.Lock()
	s.failGetParams[p] = true
	s.mu.Unlock()
}

// SetFrameInterval overrides the pacing of the producer goroutine. Zero
// produces as fast as buffers circulate; the default derives the interval
// from the committed capture frame rate.
func (s *Sim) SetFrameInterval(d time.Duration) {
	s.mu.Lock()
	s.frameInterval = d
	s.mu.Unlock()
}

// InjectEmpty makes the producer emit one zero-length buffer before the
// next access unit.
func (s *Sim) InjectEmpty() { s.inject(injectEmpty) }

// InjectSideInfo makes the producer emit one codec-side-info-only buffer
// before the next access unit.
func (s *Sim) InjectSideInfo() { s.inject(injectSideInfo) }

// InjectShortMap makes the next access unit map fewer bytes than its
// reported length, triggering the consumer's integrity check.
func (s *Sim) InjectShortMap() { s.inject(injectShortMap) }

func (s *Sim) inject(k simInject) {
	s.mu.Lock()
	s.injects = append(s.injects, k)
	s.mu.Unlock()
}

// Counters returns a snapshot of the resource accounting.
func (s *Sim) Counters() SimCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Sim) opErr(op SimOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps[op] {
		return fmt.Errorf("hal: sim: injected failure on %s", op)
	}
	return nil
}

// CreateStage implements Driver.
func (s *Sim) CreateStage(kind StageKind) (Stage, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("hal: sim: driver closed")
	}

	switch kind {
	case StageCapture:
		if err := s.opErr(SimCreateCapture); err != nil {
			return nil, err
		}
	case StageEncode:
		if err := s.opErr(SimCreateEncode); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("hal: sim: unknown stage kind %d", kind)
	}

	st := &simStage{sim: s, kind: kind, params: make(map[Param]any)}
	switch kind {
	case StageCapture:
		st.name = "sim.camera"
		st.outputs = []*simPort{
			newSimPort(s, st, "camera:out:preview", DirOutput),
			newSimPort(s, st, "camera:out:video", DirOutput),
			newSimPort(s, st, "camera:out:still", DirOutput),
		}
	case StageEncode:
		st.name = "sim.encoder"
		st.inputs = []*simPort{newSimPort(s, st, "encoder:in", DirInput)}
		st.outputs = []*simPort{newSimPort(s, st, "encoder:out", DirOutput)}
	}

	s.mu.Lock()
	s.counters.StagesCreated++
	s.mu.Unlock()

	slog.Debug("hal: sim stage created", "kind", kind.String(), "name", st.name)
	return st, nil
}

// Connect implements Driver.
func (s *Sim) Connect(out, in Port, flags ConnectionFlags) (Connection, error) {
	if err := s.opErr(SimConnect); err != nil {
		return nil, err
	}

	op, ok := out.(*simPort)
	if !ok || op.dir != DirOutput {
		return nil, errors.New("hal: sim: connect requires a sim output port")
	}
	ip, ok := in.(*simPort)
	if !ok || ip.dir != DirInput {
		return nil, errors.New("hal: sim: connect requires a sim input port")
	}

	conn := &simConnection{sim: s, out: op, in: ip, flags: flags}
	op.mu.Lock()
	op.conn = conn
	op.mu.Unlock()

	s.mu.Lock()
	s.counters.ConnectionsCreated++
	s.mu.Unlock()

	return conn, nil
}

// Close implements Driver.
func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// --- stage ---

type simStage struct {
	sim     *Sim
	kind    StageKind
	name    string
	inputs  []*simPort
	outputs []*simPort

	mu        sync.Mutex
	params    map[Param]any
	enabled   bool
	destroyed bool
}

func (st *simStage) Kind() StageKind { return st.kind }
func (st *simStage) Name() string    { return st.name }

func (st *simStage) Inputs() []Port  { return portSlice(st.inputs) }
func (st *simStage) Outputs() []Port { return portSlice(st.outputs) }

func portSlice(ps []*simPort) []Port {
	out := make([]Port, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

func (st *simStage) SetParam(p Param, value any) error {
	st.sim.mu.Lock()
	fail := st.sim.failSetParams[p]
	st.sim.mu.Unlock()
	if fail {
		return fmt.Errorf("hal: sim: injected failure setting %s", p)
	}

	st.mu.Lock()
	st.params[p] = value
	st.mu.Unlock()
	return nil
}

func (st *simStage) Enable() error {
	op := SimEnableCapture
	if st.kind == StageEncode {
		op = SimEnableEncode
	}
	if err := st.sim.opErr(op); err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return fmt.Errorf("hal: sim: %s already destroyed", st.name)
	}
	if st.enabled {
		return nil
	}
	st.enabled = true

	st.sim.mu.Lock()
	st.sim.counters.StagesEnabled++
	st.sim.mu.Unlock()
	return nil
}

func (st *simStage) Disable() error {
	st.mu.Lock()
	if !st.enabled {
		st.mu.Unlock()
		return nil
	}
	st.enabled = false
	st.mu.Unlock()

	st.sim.mu.Lock()
	st.sim.counters.StagesDisabled++
	st.sim.mu.Unlock()
	return nil
}

func (st *simStage) Destroy() error {
	st.mu.Lock()
	if st.destroyed {
		st.mu.Unlock()
		return nil
	}
	st.destroyed = true
	st.mu.Unlock()

	// A destroyed stage takes its ports with it.
	for _, p := range st.inputs {
		p.Disable()
	}
	for _, p := range st.outputs {
		p.Disable()
	}

	st.sim.mu.Lock()
	st.sim.counters.StagesDestroyed++
	st.sim.mu.Unlock()
	return nil
}

// --- connection ---

type simConnection struct {
	sim   *Sim
	out   *simPort
	in    *simPort
	flags ConnectionFlags

	mu        sync.Mutex
	enabled   bool
	destroyed bool
}

func (c *simConnection) Enable() error {
	if err := c.sim.opErr(SimEnableConnection); err != nil {
		return err
	}
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
	return nil
}

func (c *simConnection) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.enabled = false
	c.mu.Unlock()

	c.out.mu.Lock()
	c.out.conn = nil
	c.out.mu.Unlock()

	c.sim.mu.Lock()
	c.sim.counters.ConnectionsDestroyed++
	c.sim.mu.Unlock()
	return nil
}

func (c *simConnection) isEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// --- port ---

const simSubmitQueue = 128

type simPort struct {
	sim   *Sim
	stage *simStage
	name  string
	dir   PortDirection

	mu        sync.Mutex
	format    VideoFormat
	committed bool
	bufCount  int
	bufSize   int
	countMin  int
	countRec  int
	sizeMin   int
	sizeRec   int
	params    map[Param]any
	conn      *simConnection
	enabled   bool
	cb        CompletionFunc
	submitted chan *simBuffer

	producing   bool
	stopProduce chan struct{}
	produceWG   sync.WaitGroup
}

func newSimPort(s *Sim, st *simStage, name string, dir PortDirection) *simPort {
	return &simPort{
		sim:    s,
		stage:  st,
		name:   name,
		dir:    dir,
		params: make(map[Param]any),
	}
}

func (p *simPort) Name() string             { return p.name }
func (p *simPort) Direction() PortDirection { return p.dir }

func (p *simPort) Format() VideoFormat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

func (p *simPort) SetFormat(f VideoFormat) {
	p.mu.Lock()
	p.format = f
	p.mu.Unlock()
}

func (p *simPort) CommitFormat() error {
	op := SimCommitCaptureFormat
	if p.stage.kind == StageEncode {
		op = SimCommitEncodeFormat
	}
	if err := p.sim.opErr(op); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.committed = true

	// Commit publishes the driver's sizing advice for the new format.
	switch p.stage.kind {
	case StageCapture:
		p.countMin, p.countRec = 1, 2
		p.sizeMin, p.sizeRec = 128, 128
	case StageEncode:
		p.countMin, p.countRec = 1, 4
		p.sizeMin, p.sizeRec = 4096, 65536
	}
	if p.bufCount == 0 {
		p.bufCount = p.countRec
	}
	if p.bufSize == 0 {
		p.bufSize = p.sizeRec
	}
	return nil
}

func (p *simPort) BufferCount() int { p.mu.Lock(); defer p.mu.Unlock(); return p.bufCount }
func (p *simPort) BufferSize() int  { p.mu.Lock(); defer p.mu.Unlock(); return p.bufSize }

func (p *simPort) SetBufferCount(n int) { p.mu.Lock(); p.bufCount = n; p.mu.Unlock() }
func (p *simPort) SetBufferSize(n int)  { p.mu.Lock(); p.bufSize = n; p.mu.Unlock() }

func (p *simPort) BufferCountMin() int         { p.mu.Lock(); defer p.mu.Unlock(); return p.countMin }
func (p *simPort) BufferCountRecommended() int { p.mu.Lock(); defer p.mu.Unlock(); return p.countRec }
func (p *simPort) BufferSizeMin() int          { p.mu.Lock(); defer p.mu.Unlock(); return p.sizeMin }
func (p *simPort) BufferSizeRecommended() int  { p.mu.Lock(); defer p.mu.Unlock(); return p.sizeRec }

func (p *simPort) SetParam(param Param, value any) error {
	p.sim.mu.Lock()
	fail := p.sim.failSetParams[param]
	p.sim.mu.Unlock()
	if fail {
		return fmt.Errorf("hal: sim: injected failure setting %s", param)
	}

	p.mu.Lock()
	p.params[param] = value
	p.mu.Unlock()

	if param == ParamCapture {
		on, _ := value.(bool)
		p.setCapture(on)
	}
	return nil
}

func (p *simPort) GetParam(param Param) (any, error) {
	p.sim.mu.Lock()
	fail := p.sim.failGetParams[param]
	p.sim.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("hal: sim: injected failure reading %s", param)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.params[param]; ok {
		return v, nil
	}
	if param == ParamIntraRefresh {
		return IntraRefreshConfig{}, nil
	}
	return nil, fmt.Errorf("hal: sim: parameter %s not set", param)
}

func (p *simPort) Enable(cb CompletionFunc) error {
	if err := p.sim.opErr(SimEnablePort); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return fmt.Errorf("hal: sim: port %s already enabled", p.name)
	}
	p.enabled = true
	p.cb = cb
	p.submitted = make(chan *simBuffer, simSubmitQueue)

	p.sim.mu.Lock()
	p.sim.counters.PortsEnabled++
	p.sim.mu.Unlock()
	return nil
}

func (p *simPort) Disable() error {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return nil
	}
	p.enabled = false
	submitted := p.submitted
	p.submitted = nil
	p.mu.Unlock()

	p.stopProducer()

	// Buffers still queued on the port go home to their pool.
	if submitted != nil {
	drain:
		for {
			select {
			case buf := <-submitted:
				buf.Release()
			default:
				break drain
			}
		}
	}

	p.sim.mu.Lock()
	p.sim.counters.PortsDisabled++
	p.sim.mu.Unlock()
	return nil
}

func (p *simPort) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *simPort) Submit(buf Buffer) error {
	if err := p.sim.opErr(SimSubmit); err != nil {
		return err
	}

	sb, ok := buf.(*simBuffer)
	if !ok {
		return errors.New("hal: sim: foreign buffer submitted")
	}

	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return fmt.Errorf("hal: sim: port %s not enabled", p.name)
	}
	submitted := p.submitted
	p.mu.Unlock()

	select {
	case submitted <- sb:
	default:
		return fmt.Errorf("hal: sim: port %s submit queue full", p.name)
	}

	p.sim.mu.Lock()
	p.sim.counters.BuffersSubmitted++
	p.sim.mu.Unlock()
	return nil
}

func (p *simPort) CreatePool(count, size int) (Pool, error) {
	if err := p.sim.opErr(SimCreatePool); err != nil {
		return nil, err
	}
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("hal: sim: invalid pool geometry %dx%d", count, size)
	}

	pool := &simPool{sim: p.sim}
	pool.free = make([]*simBuffer, 0, count)
	for i := 0; i < count; i++ {
		pool.free = append(pool.free, &simBuffer{pool: pool, data: make([]byte, size)})
	}
	pool.total = count

	p.sim.mu.Lock()
	p.sim.counters.PoolsCreated++
	p.sim.mu.Unlock()
	return pool, nil
}

// setCapture reacts to the capture toggle on the camera video port by
// starting or stopping the producer on the tunnelled encoder's output.
func (p *simPort) setCapture(on bool) {
	target := p.encoderOutput()
	if target == nil {
		if on {
			slog.Debug("hal: sim capture toggled with no enabled tunnel, nothing to produce")
		}
		return
	}
	if on {
		target.startProducer(p.Format().FrameRate)
	} else {
		target.stopProducer()
	}
}

// encoderOutput walks the tunnel from this camera port to the encoder's
// first output port, if the connection is enabled.
func (p *simPort) encoderOutput() *simPort {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil || !conn.isEnabled() {
		return nil
	}
	enc := conn.in.stage
	if len(enc.outputs) == 0 {
		return nil
	}
	return enc.outputs[0]
}

func (p *simPort) startProducer(rate Rational) {
	p.mu.Lock()
	if p.producing || !p.enabled {
		p.mu.Unlock()
		return
	}
	p.producing = true
	p.stopProduce = make(chan struct{})
	stop := p.stopProduce
	submitted := p.submitted

	p.sim.mu.Lock()
	interval := p.sim.frameInterval
	gop := p.sim.gop
	p.sim.mu.Unlock()

	if v, ok := p.params[ParamIntraPeriod]; ok {
		if n, ok := v.(int); ok && n > 0 {
			gop = n
		}
	}
	p.mu.Unlock()

	frameDur := 33 * time.Millisecond
	if rate.Num > 0 && rate.Den > 0 {
		frameDur = time.Duration(int64(time.Second) * int64(rate.Den) / int64(rate.Num))
	}
	if interval < 0 {
		interval = frameDur
	}

	p.produceWG.Add(1)
	go p.produce(stop, submitted, interval, frameDur, gop)
}

func (p *simPort) stopProducer() {
	p.mu.Lock()
	if !p.producing {
		p.mu.Unlock()
		return
	}
	p.producing = false
	close(p.stopProduce)
	p.mu.Unlock()

	p.produceWG.Wait()
}

// produce is the simulated hardware thread: it fills submitted buffers with
// synthetic access units and hands them back through the completion
// callback. No frame is produced without a buffer, exactly like the real
// encoder.
func (p *simPort) produce(stop chan struct{}, submitted chan *simBuffer, interval, frameDur time.Duration, gop int) {
	defer p.produceWG.Done()

	var seq uint64
	sentConfig := false

	for {
		if interval > 0 {
			select {
			case <-stop:
				return
			case <-time.After(interval):
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}

		var buf *simBuffer
		select {
		case <-stop:
			return
		case buf = <-submitted:
		}

		// Config always leads the stream; injections apply afterwards.
		p.sim.mu.Lock()
		var kind simInject = -1
		if sentConfig && len(p.sim.injects) > 0 {
			kind = p.sim.injects[0]
			p.sim.injects = p.sim.injects[1:]
		}
		p.sim.counters.Callbacks++
		p.sim.mu.Unlock()

		switch kind {
		case injectEmpty:
			buf.fill(nil, 0, FlagFrameEnd, -1)
		case injectSideInfo:
			au := synthNALU(naluSEI, seq, 32)
			buf.fill(au, len(au), FlagCodecSideInfo|FlagFrameEnd, -1)
		default:
			if !sentConfig {
				au := synthConfig()
				buf.fill(au, len(au), FlagConfig|FlagFrameEnd, -1)
				sentConfig = true
			} else {
				flags := FlagFrameEnd
				nalu := byte(naluNonIDR)
				if gop > 0 && seq%uint64(gop) == 0 {
					flags |= FlagKeyFrame
					nalu = naluIDR
				}
				au := synthNALU(nalu, seq, 64)
				pts := time.Duration(seq) * frameDur
				buf.fill(au, len(au), flags, pts)
				if kind == injectShortMap {
					buf.short = true
				}
				seq++
			}
		}

		cb := p.callback()
		if cb == nil {
			buf.Release()
			return
		}
		cb(p, buf)
	}
}

func (p *simPort) callback() CompletionFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return nil
	}
	return p.cb
}

// Synthetic Annex-B payloads. Single-byte NALU headers with valid type
// fields so downstream classification sees a plausible H.264 stream.
const (
	naluNonIDR = 0x41 // type 1, nal_ref_idc 2
	naluIDR    = 0x65 // type 5
	naluSEI    = 0x06 // type 6
	naluSPS    = 0x67 // type 7
	naluPPS    = 0x68 // type 8
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

func synthNALU(header byte, seq uint64, size int) []byte {
	au := make([]byte, 0, len(annexBStartCode)+1+8+size)
	au = append(au, annexBStartCode...)
	au = append(au, header)
	for shift := 56; shift >= 0; shift -= 8 {
		au = append(au, byte(seq>>shift))
	}
	for i := 0; i < size; i++ {
		au = append(au, byte(i))
	}
	return au
}

func synthConfig() []byte {
	cfg := make([]byte, 0, 24)
	cfg = append(cfg, annexBStartCode...)
	cfg = append(cfg, naluSPS, 0x64, 0x00, 0x28, 0xac, 0x2b, 0x40)
	cfg = append(cfg, annexBStartCode...)
	cfg = append(cfg, naluPPS, 0xee, 0x38, 0x80)
	return cfg
}

// --- pool and buffers ---

type simPool struct {
	sim *Sim

	mu        sync.Mutex
	free      []*simBuffer
	total     int
	destroyed bool
}

func (pl *simPool) Get() (Buffer, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.destroyed {
		return nil, errors.New("hal: sim: pool destroyed")
	}
	if len(pl.free) == 0 {
		return nil, ErrPoolExhausted
	}
	buf := pl.free[len(pl.free)-1]
	pl.free = pl.free[:len(pl.free)-1]
	buf.held = true
	return buf, nil
}

func (pl *simPool) Size() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.total
}

func (pl *simPool) Free() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.free)
}

func (pl *simPool) Destroy() {
	pl.mu.Lock()
	if pl.destroyed {
		pl.mu.Unlock()
		return
	}
	pl.destroyed = true
	pl.mu.Unlock()

	pl.sim.mu.Lock()
	pl.sim.counters.PoolsDestroyed++
	pl.sim.mu.Unlock()
}

type simBuffer struct {
	pool *simPool

	data   []byte
	length int
	flags  BufferFlags
	pts    time.Duration
	short  bool
	held   bool
}

func (b *simBuffer) fill(payload []byte, length int, flags BufferFlags, pts time.Duration) {
	copy(b.data, payload)
	b.length = length
	if length > len(b.data) {
		b.length = len(b.data)
	}
	b.flags = flags
	b.pts = pts
	b.short = false
}

func (b *simBuffer) Map() []byte {
	if b.short && b.length > 4 {
		return b.data[:b.length-4]
	}
	return b.data[:b.length]
}

func (b *simBuffer) Unmap() {}

func (b *simBuffer) Length() int        { return b.length }
func (b *simBuffer) Flags() BufferFlags { return b.flags }
func (b *simBuffer) PTS() time.Duration { return b.pts }

func (b *simBuffer) Release() {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if !b.held {
		return
	}
	b.held = false
	b.short = false
	if !b.pool.destroyed {
		b.pool.free = append(b.pool.free, b)
	}
}
