package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	picam "github.com/aDifferentJT/rpi-cam-control"
	"github.com/aDifferentJT/rpi-cam-control/internal/config"
	"github.com/aDifferentJT/rpi-cam-control/internal/telemetry"
)

const (
	defaultConfigPath = "config/picam.yaml"

	// abortPollInterval is how often the session health flag is checked.
	abortPollInterval = 100 * time.Millisecond
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logger. Logs go to stderr because stdout may carry
	// the bitstream.
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting picam daemon",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}

	slog.Info("picam daemon stopped successfully")
}

func run(cfg *config.Config) error {
	camCfg, err := cfg.ToCameraConfig()
	if err != nil {
		return err
	}
	backend, err := picam.ParseBackend(cfg.Backend)
	if err != nil {
		return err
	}

	cam, err := picam.New(camCfg, backend)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(cfg.Output.Path)
	if err != nil {
		return err
	}

	if err := cam.Initialize(); err != nil {
		closeOut()
		return err
	}
	if err := cam.Start(); err != nil {
		cam.Shutdown()
		closeOut()
		return err
	}

	eff := cam.EffectiveConfig()
	slog.Info("capture started",
		"resolution", fmt.Sprintf("%dx%d", eff.Width, eff.Height),
		"framerate", eff.Framerate,
		"codec", eff.Codec.String(),
		"bitrate", eff.Bitrate,
		"level", eff.Level.String(),
		"output", cfg.Output.Path,
		"note", "frames will arrive asynchronously once the pipeline is live",
	)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Optional telemetry; failure to reach the broker never blocks capture
	var emitter *telemetry.Emitter
	if cfg.MQTT.Broker != "" {
		emitter = telemetry.New(telemetry.Options{
			Broker:      cfg.MQTT.Broker,
			InstanceID:  cfg.InstanceID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Interval:    cfg.StatsInterval(),
		})
		if err := emitter.Connect(ctx); err != nil {
			slog.Warn("telemetry unavailable, continuing without", "error", err)
			emitter = nil
		} else {
			emitter.Run(ctx, cam.Stats)
		}
	}

	// Abort watchdog: session health is a polled flag, not a Pull error
	abortChan := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(abortPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cam.Err(); err != nil {
					abortChan <- err
					return
				}
			}
		}
	}()

	// Writer loop: pull access units, append to the output
	writeDone := make(chan error, 1)
	go func() {
		writeDone <- writeFrames(ctx, cam, out)
	}()

	// Wait for shutdown signal, session abort, or writer exit
	var runErr error
	writerFinished := false
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
	case runErr = <-abortChan:
		slog.Error("capture session aborted", "error", runErr)
	case runErr = <-writeDone:
		writerFinished = true
		if runErr != nil {
			slog.Error("output writer failed", "error", runErr)
		}
	}

	// Graceful shutdown: stop capture, let the writer drain the queue
	slog.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout())
	if err := cam.Stop(); err != nil {
		slog.Warn("stop failed", "error", err)
	}
	if !writerFinished {
		select {
		case werr := <-writeDone:
			if werr != nil && runErr == nil {
				runErr = werr
			}
		case <-time.After(cfg.ShutdownTimeout()):
			slog.Warn("output writer did not drain in time")
		}
	}
	cancel()

	if emitter != nil {
		emitter.Close()
	}

	stats := cam.Stats()
	if err := cam.Shutdown(); err != nil {
		slog.Error("shutdown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if err := closeOut(); err != nil {
		slog.Error("closing output failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	slog.Info("capture session finished",
		"frames_delivered", stats.FramesDelivered,
		"bytes_delivered", stats.BytesDelivered,
		"key_frames", stats.KeyFrames,
		"frames_dropped", stats.FramesDropped,
		"drop_rate", fmt.Sprintf("%.2f%%", stats.DropRate*100),
		"actual_fps", fmt.Sprintf("%.2f", stats.ActualFPS),
		"uptime", stats.Uptime.Round(time.Millisecond),
	)
	return runErr
}

// writeFrames pulls access units and appends them to the output until
// capture stops or the context is cancelled. Concatenated access units
// form a valid Annex-B (or MJPEG) stream.
func writeFrames(ctx context.Context, cam *picam.Camera, w io.Writer) error {
	for {
		frame, err := cam.Pull(ctx)
		if err != nil {
			if errors.Is(err, picam.ErrStopped) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if _, err := w.Write(frame.Data); err != nil {
			return fmt.Errorf("writing frame %d: %w", frame.Seq, err)
		}
	}
}

// openOutput resolves the output path: "-" streams to stdout, anything
// else creates a file behind a large buffered writer.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening output %s: %w", path, err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	closer := func() error {
		if err := bw.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return bw, closer, nil
}
