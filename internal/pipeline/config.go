package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// Hardware geometry and throughput limits of the VideoCore encode path.
const (
	widthAlign  = 32
	heightAlign = 16

	minDimension = 16
	maxDimension = 4096

	// Camera video port never runs with fewer than this many buffers.
	videoOutputBuffers = 3

	// Macroblock throughput ceilings (macroblocks per second). Crossing
	// the first auto-upgrades the level to 4.2; crossing the second is a
	// hard rejection.
	maxMacroblocksLevel4  = 245760
	maxMacroblocksLevel42 = 522240

	// Bitrate ceilings per level tier, bits per second.
	maxBitrateLevel4  = 25_000_000
	maxBitrateLevel42 = 62_500_000
	maxBitrateMJPEG   = 25_000_000
)

// Defaults applied by Normalize.
const (
	DefaultWidth     = 1920
	DefaultHeight    = 1080
	DefaultFramerate = 30
	DefaultBitrate   = 17_000_000

	// DefaultQueueCapacity bounds the frame queue when the caller does
	// not choose a bound. One second of video at the default frame rate.
	DefaultQueueCapacity = 30
)

// Config is the immutable parameter record for one capture session. It is
// consumed during stage configuration and never mutated after capture
// starts; clamps and upgrades applied during admission are visible through
// the controller's EffectiveConfig.
type Config struct {
	Width     int
	Height    int
	Framerate int

	// Bitrate in bits per second. Zero together with a nonzero QP selects
	// variable-bitrate mode; zero with QP 0 takes the default.
	Bitrate int

	Codec   Codec
	Profile Profile
	Level   Level

	// IntraPeriod is the keyframe interval in frames, 0 for the encoder
	// default.
	IntraPeriod int

	// QP fixes the quantisation parameter (initial, minimum and maximum
	// all set to this value). 0 leaves rate control to the bitrate.
	QP int

	InlineHeaders bool
	SPSTiming     bool
	IntraRefresh  IntraRefreshMode

	CameraIndex int
	SensorMode  int

	// ShutterSpeed selects the exposure duration. Long exposures constrain
	// the achievable frame-rate range.
	ShutterSpeed time.Duration

	QueueCapacity int
	QueuePolicy   QueuePolicy
}

// Normalize fills in defaults for zero-valued fields.
func (c Config) Normalize() Config {
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.Framerate == 0 {
		c.Framerate = DefaultFramerate
	}
	if c.Bitrate == 0 && c.QP == 0 {
		c.Bitrate = DefaultBitrate
	}
	if c.QueueCapacity == 0 && c.QueuePolicy != PolicyUnbounded {
		c.QueueCapacity = DefaultQueueCapacity
	}
	return c
}

// Validate rejects parameters no driver could accept. Hardware-dependent
// limits (throughput, bitrate ceilings) are checked later during admission.
func (c Config) Validate() error {
	if c.Width < minDimension || c.Width > maxDimension {
		return fmt.Errorf("picam: width %d out of range [%d, %d]", c.Width, minDimension, maxDimension)
	}
	if c.Height < minDimension || c.Height > maxDimension {
		return fmt.Errorf("picam: height %d out of range [%d, %d]", c.Height, minDimension, maxDimension)
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		return fmt.Errorf("picam: framerate %d out of range [1, 120]", c.Framerate)
	}
	if c.Bitrate < 0 {
		return fmt.Errorf("picam: negative bitrate %d", c.Bitrate)
	}
	if c.QP != 0 && (c.QP < 1 || c.QP > 51) {
		return fmt.Errorf("picam: quantisation parameter %d out of range [1, 51]", c.QP)
	}
	if c.IntraPeriod < 0 {
		return fmt.Errorf("picam: negative intra period %d", c.IntraPeriod)
	}
	if c.CameraIndex < 0 {
		return fmt.Errorf("picam: negative camera index %d", c.CameraIndex)
	}
	if c.SensorMode < 0 {
		return fmt.Errorf("picam: negative sensor mode %d", c.SensorMode)
	}
	if c.ShutterSpeed < 0 {
		return fmt.Errorf("picam: negative shutter speed %v", c.ShutterSpeed)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("picam: negative queue capacity %d", c.QueueCapacity)
	}
	return nil
}

// AlignedWidth is the buffer width after hardware alignment.
func (c Config) AlignedWidth() int { return hal.AlignUp(c.Width, widthAlign) }

// AlignedHeight is the buffer height after hardware alignment.
func (c Config) AlignedHeight() int { return hal.AlignUp(c.Height, heightAlign) }

// MacroblockRate is the encoder throughput this configuration demands, in
// 16x16 macroblocks per second.
func (c Config) MacroblockRate() int {
	return hal.AlignUp(c.Width, 16) / 16 * (hal.AlignUp(c.Height, 16) / 16) * c.Framerate
}

// admit applies the hardware admission rules and returns the effective
// configuration: bitrate clamped to the ceiling of the requested level,
// then the level auto-upgraded to 4.2 when macroblock throughput exceeds
// the level 4 ceiling. Throughput beyond the 4.2 ceiling is rejected.
func admit(c Config) (Config, error) {
	if c.Codec == CodecMJPEG {
		if c.Bitrate > maxBitrateMJPEG {
			slog.Warn("picam: bitrate above mjpeg ceiling, clamping",
				"requested", c.Bitrate, "ceiling", maxBitrateMJPEG)
			c.Bitrate = maxBitrateMJPEG
		}
		return c, nil
	}

	ceiling := maxBitrateLevel42
	if c.Level == Level4 {
		ceiling = maxBitrateLevel4
	}
	if c.Bitrate > ceiling {
		slog.Warn("picam: bitrate above level ceiling, clamping",
			"requested", c.Bitrate, "ceiling", ceiling, "level", c.Level.String())
		c.Bitrate = ceiling
	}

	mbs := c.MacroblockRate()
	if mbs > maxMacroblocksLevel42 {
		return c, fmt.Errorf("%w: macroblock rate %d exceeds level 4.2 ceiling %d",
			ErrConfigRejected, mbs, maxMacroblocksLevel42)
	}
	if mbs > maxMacroblocksLevel4 && c.Level != Level42 {
		slog.Warn("picam: macroblock rate needs level 4.2, upgrading",
			"rate", mbs, "level4_ceiling", maxMacroblocksLevel4)
		c.Level = Level42
	}
	return c, nil
}

// shutterFPSRange maps a long exposure onto the frame-rate band the sensor
// can sustain at that shutter speed. The second return is false when no
// range constraint applies.
func shutterFPSRange(shutter time.Duration) (hal.RationalRange, bool) {
	switch {
	case shutter > 6*time.Second:
		return hal.RationalRange{
			Low:  hal.Rational{Num: 5, Den: 1000},
			High: hal.Rational{Num: 166, Den: 1000},
		}, true
	case shutter > time.Second:
		return hal.RationalRange{
			Low:  hal.Rational{Num: 167, Den: 1000},
			High: hal.Rational{Num: 999, Den: 1000},
		}, true
	default:
		return hal.RationalRange{}, false
	}
}

// previewFrames derives how many frames the camera keeps in its preview
// circuit: three at 30fps and below, one more per 10fps above that.
func previewFrames(framerate int) int {
	extra := (framerate - 30) / 10
	if extra < 0 {
		extra = 0
	}
	return 3 + extra
}
