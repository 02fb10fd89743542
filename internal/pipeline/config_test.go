package pipeline

import (
	"errors"
	"testing"
	"time"
)

// --- Test 1: Defaults ---

// Contract: zero-valued fields take the documented defaults; a nonzero QP
// with zero bitrate means VBR and must not pull in the bitrate default.
func TestNormalizeDefaults(t *testing.T) {
	c := Config{}.Normalize()

	if c.Width != 1920 || c.Height != 1080 {
		t.Errorf("default dimensions = %dx%d, want 1920x1080", c.Width, c.Height)
	}
	if c.Framerate != 30 {
		t.Errorf("default framerate = %d, want 30", c.Framerate)
	}
	if c.Bitrate != 17_000_000 {
		t.Errorf("default bitrate = %d, want 17000000", c.Bitrate)
	}
	if c.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("default queue capacity = %d, want %d", c.QueueCapacity, DefaultQueueCapacity)
	}

	vbr := Config{QP: 26}.Normalize()
	if vbr.Bitrate != 0 {
		t.Errorf("VBR config got bitrate default %d, want 0", vbr.Bitrate)
	}

	unbounded := Config{QueuePolicy: PolicyUnbounded}.Normalize()
	if unbounded.QueueCapacity != 0 {
		t.Errorf("unbounded policy got capacity %d, want 0", unbounded.QueueCapacity)
	}
}

// --- Test 2: Validation ---

func TestValidateRejects(t *testing.T) {
	base := Config{}.Normalize()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"width too small", func(c *Config) { c.Width = 8 }},
		{"width too large", func(c *Config) { c.Width = 8192 }},
		{"height too small", func(c *Config) { c.Height = 8 }},
		{"framerate zero", func(c *Config) { c.Framerate = 0 }},
		{"framerate too high", func(c *Config) { c.Framerate = 240 }},
		{"negative bitrate", func(c *Config) { c.Bitrate = -1 }},
		{"qp out of range", func(c *Config) { c.QP = 60 }},
		{"negative intra period", func(c *Config) { c.IntraPeriod = -1 }},
		{"negative camera", func(c *Config) { c.CameraIndex = -1 }},
		{"negative sensor mode", func(c *Config) { c.SensorMode = -2 }},
		{"negative shutter", func(c *Config) { c.ShutterSpeed = -time.Second }},
		{"negative queue capacity", func(c *Config) { c.QueueCapacity = -5 }},
	}
	for _, tc := range cases {
		c := base
		tc.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	if err := base.Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

// --- Test 3: Macroblock Rate ---

// 1080p at 30fps sits just under the level 4 ceiling: 120 * 68 * 30.
func TestMacroblockRate(t *testing.T) {
	c := Config{Width: 1920, Height: 1080, Framerate: 30}
	if got := c.MacroblockRate(); got != 244800 {
		t.Errorf("MacroblockRate() = %d, want 244800", got)
	}
	if got := c.AlignedWidth(); got != 1920 {
		t.Errorf("AlignedWidth() = %d, want 1920", got)
	}
	if got := c.AlignedHeight(); got != 1088 {
		t.Errorf("AlignedHeight() = %d, want 1088", got)
	}
}

// --- Test 4: Admission ---

// Scenario: bitrate clamps to the ceiling of the requested level before
// any level upgrade; throughput over the level 4 ceiling upgrades to 4.2;
// throughput over the 4.2 ceiling is rejected outright.
func TestAdmit(t *testing.T) {
	clamped, err := admit(Config{Width: 1920, Height: 1080, Framerate: 30, Bitrate: 30_000_000, Level: Level4})
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if clamped.Bitrate != maxBitrateLevel4 {
		t.Errorf("level 4 bitrate = %d, want %d", clamped.Bitrate, maxBitrateLevel4)
	}

	high, err := admit(Config{Width: 1920, Height: 1080, Framerate: 30, Bitrate: 30_000_000, Level: Level42})
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if high.Bitrate != 30_000_000 {
		t.Errorf("level 4.2 bitrate = %d, want 30000000 untouched", high.Bitrate)
	}

	upgraded, err := admit(Config{Width: 1920, Height: 1080, Framerate: 40, Bitrate: 17_000_000, Level: Level4})
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if upgraded.Level != Level42 {
		t.Errorf("level after 40fps 1080p = %s, want 4.2", upgraded.Level)
	}

	_, err = admit(Config{Width: 1920, Height: 1080, Framerate: 70, Bitrate: 17_000_000, Level: Level4})
	if !errors.Is(err, ErrConfigRejected) {
		t.Errorf("70fps 1080p admit error = %v, want ErrConfigRejected", err)
	}

	mjpeg, err := admit(Config{Width: 1920, Height: 1080, Framerate: 70, Bitrate: 30_000_000, Codec: CodecMJPEG})
	if err != nil {
		t.Fatalf("mjpeg admit failed: %v", err)
	}
	if mjpeg.Bitrate != maxBitrateMJPEG {
		t.Errorf("mjpeg bitrate = %d, want %d", mjpeg.Bitrate, maxBitrateMJPEG)
	}
	t.Logf("✅ Admission: clamp, upgrade and rejection all observed")
}

// --- Test 5: Shutter Bands ---

// Contract: exposures over 6s map to the slow band, over 1s to the middle
// band, at or under 1s no range constraint applies.
func TestShutterFPSRange(t *testing.T) {
	if _, ok := shutterFPSRange(0); ok {
		t.Error("no shutter speed should mean no fps range")
	}
	if _, ok := shutterFPSRange(time.Second); ok {
		t.Error("1s shutter should mean no fps range")
	}

	mid, ok := shutterFPSRange(2 * time.Second)
	if !ok || mid.Low.Num != 167 || mid.High.Num != 999 {
		t.Errorf("2s shutter band = %+v ok=%v, want [167/1000, 999/1000]", mid, ok)
	}

	slow, ok := shutterFPSRange(7 * time.Second)
	if !ok || slow.Low.Num != 5 || slow.High.Num != 166 {
		t.Errorf("7s shutter band = %+v ok=%v, want [5/1000, 166/1000]", slow, ok)
	}
}

// --- Test 6: Preview Frames ---

func TestPreviewFrames(t *testing.T) {
	cases := []struct{ fps, want int }{
		{25, 3},
		{30, 3},
		{40, 4},
		{60, 6},
	}
	for _, c := range cases {
		if got := previewFrames(c.fps); got != c.want {
			t.Errorf("previewFrames(%d) = %d, want %d", c.fps, got, c.want)
		}
	}
}

// --- Test 7: Parse Helpers ---

func TestParseHelpers(t *testing.T) {
	if c, err := ParseCodec("mjpeg"); err != nil || c != CodecMJPEG {
		t.Errorf("ParseCodec(mjpeg) = %v, %v", c, err)
	}
	if _, err := ParseCodec("vp9"); err == nil {
		t.Error("ParseCodec(vp9) should fail")
	}
	if p, err := ParseProfile("baseline"); err != nil || p != ProfileBaseline {
		t.Errorf("ParseProfile(baseline) = %v, %v", p, err)
	}
	if l, err := ParseLevel("4.2"); err != nil || l != Level42 {
		t.Errorf("ParseLevel(4.2) = %v, %v", l, err)
	}
	if m, err := ParseIntraRefresh("cyclicrows"); err != nil || m != IntraRefreshCyclicRows {
		t.Errorf("ParseIntraRefresh(cyclicrows) = %v, %v", m, err)
	}
	if m, err := ParseIntraRefresh(""); err != nil || m != IntraRefreshNone {
		t.Errorf("ParseIntraRefresh(empty) = %v, %v", m, err)
	}
}
