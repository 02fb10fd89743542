package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

func testConfig() Config {
	return Config{Width: 640, Height: 480}.Normalize()
}

// newSimController builds a controller over an unthrottled simulator so
// tests never wait on frame pacing.
func newSimController(cfg Config) (*Controller, *hal.Sim) {
	sim := hal.NewSim()
	sim.SetFrameInterval(0)
	return NewController(sim, cfg), sim
}

func pullOne(t *testing.T, c *Controller) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := c.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	return f
}

// --- Test 1: Full Lifecycle ---

// Scenario:
// 1. Initialize walks the bring-up to pool-primed with both stages, the
//    tunnel, the pool and the callback port accounted for.
// 2. Start begins delivery; the first frame is codec config, the second a
//    keyframe, sequence numbers are consecutive.
// 3. Stop drains, Shutdown balances every counter.
func TestControllerLifecycle(t *testing.T) {
	c, sim := newSimController(testConfig())

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := c.State(); got != StatePoolPrimed {
		t.Fatalf("state after Initialize = %s, want %s", got, StatePoolPrimed)
	}

	cnt := sim.Counters()
	if cnt.StagesCreated != 2 || cnt.StagesEnabled != 2 {
		t.Errorf("stages created/enabled = %d/%d, want 2/2", cnt.StagesCreated, cnt.StagesEnabled)
	}
	if cnt.ConnectionsCreated != 1 || cnt.PoolsCreated != 1 || cnt.PortsEnabled != 1 {
		t.Errorf("connections/pools/ports = %d/%d/%d, want 1/1/1",
			cnt.ConnectionsCreated, cnt.PoolsCreated, cnt.PortsEnabled)
	}
	poolSize := c.Stats().PoolSize
	if poolSize == 0 || cnt.BuffersSubmitted != poolSize {
		t.Errorf("primed %d buffers into pool of %d, want full priming", cnt.BuffersSubmitted, poolSize)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := c.State(); got != StateCapturing {
		t.Fatalf("state after Start = %s, want %s", got, StateCapturing)
	}

	first := pullOne(t, c)
	if !first.CodecConfig {
		t.Errorf("first frame not codec config: %+v", first)
	}
	second := pullOne(t, c)
	if !second.KeyFrame {
		t.Errorf("second frame not a keyframe: %+v", second)
	}
	third := pullOne(t, c)
	if first.Seq != 1 || second.Seq != 2 || third.Seq != 3 {
		t.Errorf("sequence = %d,%d,%d, want 1,2,3", first.Seq, second.Seq, third.Seq)
	}
	if len(second.Data) == 0 || second.TraceID == "" {
		t.Errorf("frame missing payload or trace id: %+v", second)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := c.State(); got != StateStopping {
		t.Errorf("state after Stop = %s, want %s", got, StateStopping)
	}

	// Drain whatever completed before the stop, then ErrStopped.
	for i := 0; i < 10_000; i++ {
		_, err := c.Pull(context.Background())
		if errors.Is(err, ErrStopped) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected Pull error while draining: %v", err)
		}
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := c.State(); got != StateDestroyed {
		t.Errorf("state after Shutdown = %s, want %s", got, StateDestroyed)
	}
	if cnt := sim.Counters(); !cnt.Balanced() {
		t.Errorf("counters not balanced after Shutdown: %+v", cnt)
	}
	t.Logf("✅ Lifecycle: pool-primed → capturing → stopping → destroyed, counters balanced")
}

// --- Test 2: Misuse ---

func TestControllerMisuse(t *testing.T) {
	c, _ := newSimController(testConfig())

	if err := c.Start(); err == nil {
		t.Error("Start before Initialize should fail")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop before Initialize = %v, want nil no-op", err)
	}

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := c.Initialize(); err == nil {
		t.Error("second Initialize should fail")
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Errorf("repeated Shutdown = %v, want nil", err)
	}
	if _, err := c.Pull(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Pull after Shutdown = %v, want ErrStopped", err)
	}
}

// --- Test 3: Macroblock Rejection ---

// Scenario: 1080p at 70fps exceeds the level 4.2 throughput ceiling.
// Initialize must fail with ErrConfigRejected, leave nothing allocated,
// and a following Shutdown must be a pure no-op.
func TestControllerMacroblockRejection(t *testing.T) {
	cfg := Config{Width: 1920, Height: 1080, Framerate: 70}.Normalize()
	c, sim := newSimController(cfg)

	err := c.Initialize()
	if !errors.Is(err, ErrConfigRejected) {
		t.Fatalf("Initialize error = %v, want ErrConfigRejected", err)
	}
	if got := c.State(); got != StateDestroyed {
		t.Errorf("state after rejection = %s, want %s", got, StateDestroyed)
	}

	cnt := sim.Counters()
	if !cnt.Balanced() {
		t.Errorf("counters not balanced after rejection: %+v", cnt)
	}
	if cnt.StagesCreated != 2 {
		t.Errorf("stages created before rejection = %d, want 2", cnt.StagesCreated)
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown after rejection failed: %v", err)
	}
	if after := sim.Counters(); after != cnt {
		t.Errorf("Shutdown after rejection touched resources: %+v != %+v", after, cnt)
	}
	t.Logf("✅ Rejection rolled back both stages, Shutdown was a no-op")
}

// --- Test 4: Effective Configuration ---

// Contract: bitrate clamps and level upgrades applied during admission are
// observable through EffectiveConfig.
func TestControllerEffectiveConfig(t *testing.T) {
	cfg := Config{Width: 1920, Height: 1080, Framerate: 30, Bitrate: 30_000_000}.Normalize()
	c, _ := newSimController(cfg)
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := c.EffectiveConfig().Bitrate; got != 25_000_000 {
		t.Errorf("effective bitrate = %d, want 25000000", got)
	}
	c.Shutdown()

	cfg = Config{Width: 1920, Height: 1080, Framerate: 40}.Normalize()
	c, _ = newSimController(cfg)
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := c.EffectiveConfig().Level; got != Level42 {
		t.Errorf("effective level = %s, want 4.2", got)
	}
	if got := c.EffectiveConfig().Framerate; got != 40 {
		t.Errorf("effective framerate = %d, want 40 untouched", got)
	}
	c.Shutdown()
}

// --- Test 5: Failure At Every Step ---

// Scenario: each bring-up step is made to fail in turn. Every failure must
// surface an error, unwind to destroyed with balanced counters, and leave
// Shutdown a no-op.
func TestControllerStepFailures(t *testing.T) {
	steps := []struct {
		name string
		arm  func(*hal.Sim)
		cfg  func(*Config)
	}{
		{"create capture stage", func(s *hal.Sim) { s.FailOn(hal.SimCreateCapture) }, nil},
		{"camera config param", func(s *hal.Sim) { s.FailSetParam(hal.ParamCameraConfig) }, nil},
		{"camera format commit", func(s *hal.Sim) { s.FailOn(hal.SimCommitCaptureFormat) }, nil},
		{"capture enable", func(s *hal.Sim) { s.FailOn(hal.SimEnableCapture) }, nil},
		{"create encode stage", func(s *hal.Sim) { s.FailOn(hal.SimCreateEncode) }, nil},
		{"encoder format commit", func(s *hal.Sim) { s.FailOn(hal.SimCommitEncodeFormat) }, nil},
		{"intra period param", func(s *hal.Sim) { s.FailSetParam(hal.ParamIntraPeriod) },
			func(c *Config) { c.IntraPeriod = 60 }},
		{"quantisation param", func(s *hal.Sim) { s.FailSetParam(hal.ParamQPInitial) },
			func(c *Config) { c.QP = 26 }},
		{"profile level param", func(s *hal.Sim) { s.FailSetParam(hal.ParamProfileLevel) }, nil},
		{"intra refresh param", func(s *hal.Sim) { s.FailSetParam(hal.ParamIntraRefresh) },
			func(c *Config) { c.IntraRefresh = IntraRefreshCyclic }},
		{"encode enable", func(s *hal.Sim) { s.FailOn(hal.SimEnableEncode) }, nil},
		{"connection create", func(s *hal.Sim) { s.FailOn(hal.SimConnect) }, nil},
		{"connection enable", func(s *hal.Sim) { s.FailOn(hal.SimEnableConnection) }, nil},
		{"pool create", func(s *hal.Sim) { s.FailOn(hal.SimCreatePool) }, nil},
		{"output port enable", func(s *hal.Sim) { s.FailOn(hal.SimEnablePort) }, nil},
	}

	for _, step := range steps {
		cfg := testConfig()
		if step.cfg != nil {
			step.cfg(&cfg)
			cfg = cfg.Normalize()
		}
		c, sim := newSimController(cfg)
		step.arm(sim)

		if err := c.Initialize(); err == nil {
			t.Errorf("%s: Initialize succeeded, want failure", step.name)
			c.Shutdown()
			continue
		}
		if got := c.State(); got != StateDestroyed {
			t.Errorf("%s: state = %s, want destroyed", step.name, got)
		}
		cnt := sim.Counters()
		if !cnt.Balanced() {
			t.Errorf("%s: counters not balanced: %+v", step.name, cnt)
		}
		if err := c.Shutdown(); err != nil {
			t.Errorf("%s: Shutdown after failure = %v, want nil", step.name, err)
		}
		if after := sim.Counters(); after != cnt {
			t.Errorf("%s: Shutdown touched resources after rollback", step.name)
		}
	}
	t.Logf("✅ All %d step failures rolled back cleanly", len(steps))
}

// --- Test 6: Soft Parameter Failures ---

// Contract: inline headers, SPS timing and the intra-refresh read are
// tuning niceties; their failure degrades with a warning instead of
// aborting the bring-up.
func TestControllerSoftFailures(t *testing.T) {
	cfg := testConfig()
	cfg.InlineHeaders = true
	cfg.SPSTiming = true
	cfg.IntraRefresh = IntraRefreshCyclic

	c, sim := newSimController(cfg)
	sim.FailSetParam(hal.ParamInlineHeaders)
	sim.FailSetParam(hal.ParamSPSTiming)
	sim.FailGetParam(hal.ParamIntraRefresh)

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed on soft parameters: %v", err)
	}
	if got := c.State(); got != StatePoolPrimed {
		t.Errorf("state = %s, want pool-primed", got)
	}
	c.Shutdown()
}

// --- Test 7: Buffer Accounting ---

// Scenario: capture runs through normal, zero-length and side-info-only
// completions. Every callback recycles its buffer and resubmits one, so
// resubmissions equal callbacks and the pool is whole again after Stop.
func TestControllerBufferAccounting(t *testing.T) {
	c, sim := newSimController(testConfig())
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	sim.InjectEmpty()
	sim.InjectSideInfo()
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		pullOne(t, c)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	s := c.Stats()
	if s.EmptyBuffers != 1 || s.SideInfoBuffers != 1 {
		t.Errorf("empty/side-info = %d/%d, want 1/1", s.EmptyBuffers, s.SideInfoBuffers)
	}
	if s.Callbacks == 0 || s.Callbacks != s.Resubmissions {
		t.Errorf("callbacks %d != resubmissions %d", s.Callbacks, s.Resubmissions)
	}
	if s.PoolExhaustions != 0 || s.SubmitFailures != 0 {
		t.Errorf("exhaustions/submit failures = %d/%d, want 0/0", s.PoolExhaustions, s.SubmitFailures)
	}
	if s.PoolFree != s.PoolSize {
		t.Errorf("pool free %d of %d after Stop, want all home", s.PoolFree, s.PoolSize)
	}

	c.Shutdown()
	t.Logf("✅ Accounting: %d callbacks, %d resubmissions, pool whole", s.Callbacks, s.Resubmissions)
}

// --- Test 8: One Thousand Frames ---

// Scenario: unbounded queue, unthrottled producer, concurrent consumer.
// 1000 pulls yield sequence numbers 1..1000 with no loss, duplication or
// deadlock.
func TestControllerThousandFrames(t *testing.T) {
	cfg := testConfig()
	cfg.QueuePolicy = PolicyUnbounded
	cfg.QueueCapacity = 0

	c, sim := newSimController(cfg)
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const total = 1000
	for want := uint64(1); want <= total; want++ {
		f, err := c.Pull(ctx)
		if err != nil {
			t.Fatalf("Pull %d failed: %v", want, err)
		}
		if f.Seq != want {
			t.Fatalf("seq %d, want %d: frames lost or duplicated", f.Seq, want)
		}
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if cnt := sim.Counters(); !cnt.Balanced() {
		t.Errorf("counters not balanced: %+v", cnt)
	}
	t.Logf("✅ %d frames delivered in order under concurrency", total)
}

// --- Test 9: Integrity Abort ---

// Scenario: one buffer maps short. The bridge must not deliver it, must
// flag the session through Err, and the flag must be visible to a polling
// loop.
func TestControllerIntegrityAbort(t *testing.T) {
	c, sim := newSimController(testConfig())
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pullOne(t, c)

	sim.InjectShortMap()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := c.Err(); err != nil {
			if !errors.Is(err, ErrIntegrity) {
				t.Fatalf("Err() = %v, want ErrIntegrity", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("integrity violation never surfaced through Err")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Shutdown()
	t.Logf("✅ Integrity violation surfaced via polled Err")
}

// --- Test 10: Stats Snapshot ---

func TestControllerStats(t *testing.T) {
	c, _ := newSimController(testConfig())
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		pullOne(t, c)
	}

	s := c.Stats()
	if s.State != "capturing" {
		t.Errorf("stats state = %q, want capturing", s.State)
	}
	if s.FramesDelivered < 3 {
		t.Errorf("frames delivered = %d, want >= 3", s.FramesDelivered)
	}
	if s.BytesDelivered == 0 {
		t.Error("bytes delivered = 0")
	}
	if s.PoolSize == 0 {
		t.Error("pool size = 0")
	}
	if s.Callbacks < s.FramesDelivered {
		t.Errorf("callbacks %d < delivered %d", s.Callbacks, s.FramesDelivered)
	}
	if s.LastFrameAt.IsZero() {
		t.Error("last frame time unset")
	}

	c.Shutdown()
	if got := c.Stats().State; got != "destroyed" {
		t.Errorf("stats state after shutdown = %q, want destroyed", got)
	}
}
