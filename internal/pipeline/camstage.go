package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// configureCaptureStage applies the full camera setup: camera selection,
// sensor mode, stills/preview sizing, per-port formats and the frame-rate
// band derived from the shutter speed.
//
// Dimensions are aligned to the hardware's stride requirements; the crop
// carries the exact requested size so alignment padding never leaks
// downstream.
func configureCaptureStage(st hal.Stage, cfg Config) error {
	if err := st.SetParam(hal.ParamCameraNum, cfg.CameraIndex); err != nil {
		return fmt.Errorf("selecting camera %d: %w", cfg.CameraIndex, err)
	}
	if err := st.SetParam(hal.ParamSensorMode, cfg.SensorMode); err != nil {
		return fmt.Errorf("selecting sensor mode %d: %w", cfg.SensorMode, err)
	}

	cc := hal.CameraConfig{
		MaxStillsWidth:   cfg.Width,
		MaxStillsHeight:  cfg.Height,
		MaxPreviewWidth:  cfg.Width,
		MaxPreviewHeight: cfg.Height,
		PreviewFrames:    previewFrames(cfg.Framerate),
		UseSTCTimestamps: true,
	}
	if err := st.SetParam(hal.ParamCameraConfig, cc); err != nil {
		return fmt.Errorf("applying camera config: %w", err)
	}

	format := hal.VideoFormat{
		Encoding:        hal.EncodingOpaque,
		EncodingVariant: hal.EncodingI420,
		Width:           cfg.AlignedWidth(),
		Height:          cfg.AlignedHeight(),
		Crop:            hal.Rect{Width: cfg.Width, Height: cfg.Height},
		FrameRate:       hal.Rational{Num: cfg.Framerate, Den: 1},
	}

	outputs := st.Outputs()
	preview := outputs[hal.CapturePortPreview]
	video := outputs[hal.CapturePortVideo]
	still := outputs[hal.CapturePortStill]

	preview.SetFormat(format)
	video.SetFormat(format)

	// The still port stays configured but idle during video capture.
	stillFormat := format
	stillFormat.FrameRate = hal.Rational{Num: 0, Den: 1}
	still.SetFormat(stillFormat)

	if band, ok := shutterFPSRange(cfg.ShutterSpeed); ok {
		slog.Info("picam: long exposure constrains frame rate",
			"shutter", cfg.ShutterSpeed.String(), "low", band.Low.String(), "high", band.High.String())
		if err := preview.SetParam(hal.ParamFPSRange, band); err != nil {
			return fmt.Errorf("applying preview fps range: %w", err)
		}
		if err := video.SetParam(hal.ParamFPSRange, band); err != nil {
			return fmt.Errorf("applying video fps range: %w", err)
		}
	}

	for _, port := range []hal.Port{preview, video, still} {
		if err := port.CommitFormat(); err != nil {
			return fmt.Errorf("committing format on %s: %w", port.Name(), err)
		}
	}

	if video.BufferCount() < videoOutputBuffers {
		video.SetBufferCount(videoOutputBuffers)
	}
	return nil
}
