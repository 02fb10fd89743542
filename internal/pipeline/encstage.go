package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// configureEncodeStage applies the encoder setup and returns the effective
// configuration after admission: bitrate clamped to the level ceiling and
// the level upgraded when macroblock throughput demands it. Throughput
// beyond the hardware ceiling fails with ErrConfigRejected.
//
// Optional tuning parameters (inline headers, SPS timing) degrade to a
// warning when the driver refuses them; everything else is fatal.
func configureEncodeStage(st hal.Stage, cfg Config) (Config, error) {
	eff, err := admit(cfg)
	if err != nil {
		return cfg, err
	}

	in := st.Inputs()[0]
	out := st.Outputs()[0]

	// Output format starts as a copy of the input side, then takes the
	// target codec. The output frame rate is left to the tunnel.
	format := in.Format()
	switch eff.Codec {
	case CodecMJPEG:
		format.Encoding = hal.EncodingMJPEG
	default:
		format.Encoding = hal.EncodingH264
	}
	format.Bitrate = eff.Bitrate
	format.FrameRate = hal.Rational{Num: 0, Den: 1}
	out.SetFormat(format)

	if err := out.CommitFormat(); err != nil {
		return eff, fmt.Errorf("committing encoder output format: %w", err)
	}

	// Hardware-recommended sizing, floored at the driver minimums.
	count := out.BufferCountRecommended()
	if count < out.BufferCountMin() {
		count = out.BufferCountMin()
	}
	size := out.BufferSizeRecommended()
	if size < out.BufferSizeMin() {
		size = out.BufferSizeMin()
	}
	out.SetBufferCount(count)
	out.SetBufferSize(size)

	if eff.Codec != CodecH264 {
		return eff, nil
	}

	if eff.IntraPeriod > 0 {
		if err := out.SetParam(hal.ParamIntraPeriod, eff.IntraPeriod); err != nil {
			return eff, fmt.Errorf("setting intra period: %w", err)
		}
	}

	if eff.QP > 0 {
		for _, p := range []hal.Param{hal.ParamQPInitial, hal.ParamQPMin, hal.ParamQPMax} {
			if err := out.SetParam(p, eff.QP); err != nil {
				return eff, fmt.Errorf("setting %s: %w", p, err)
			}
		}
	}

	pl := hal.ProfileLevel{Profile: eff.Profile.String(), Level: eff.Level.String()}
	if err := out.SetParam(hal.ParamProfileLevel, pl); err != nil {
		return eff, fmt.Errorf("setting profile %s level %s: %w", pl.Profile, pl.Level, err)
	}

	if err := out.SetParam(hal.ParamInlineHeaders, eff.InlineHeaders); err != nil {
		slog.Warn("picam: inline headers not applied", "error", err)
	}
	if err := out.SetParam(hal.ParamSPSTiming, eff.SPSTiming); err != nil {
		slog.Warn("picam: sps timing not applied", "error", err)
	}

	if eff.IntraRefresh != IntraRefreshNone {
		// Read the driver's current refresh tuning so unrelated fields
		// survive the mode change; a failed read falls back to zeroes.
		ir := hal.IntraRefreshConfig{}
		if v, err := out.GetParam(hal.ParamIntraRefresh); err != nil {
			slog.Warn("picam: reading intra refresh defaults failed, using zeroes", "error", err)
		} else if cur, ok := v.(hal.IntraRefreshConfig); ok {
			ir = cur
		}
		ir.Mode = eff.IntraRefresh.String()
		if err := out.SetParam(hal.ParamIntraRefresh, ir); err != nil {
			return eff, fmt.Errorf("setting intra refresh %s: %w", ir.Mode, err)
		}
	}

	return eff, nil
}
