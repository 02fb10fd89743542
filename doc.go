// Package picam provides hardware-accelerated video capture and encoding
// for Raspberry Pi cameras.
//
// The package drives the camera and the video encoder as two hardware
// stages joined by a zero-copy tunnel, delivering encoded H.264 or MJPEG
// access units to a single pulling consumer. It replaces the classic
// firmware capture stack (raspivid and friends) with a Go-native engine:
// ordered bring-up with automatic rollback, fixed buffer pools with strict
// ownership, and a bounded delivery queue that never blocks the hardware
// callback thread.
//
// # Quick Start
//
// The simplest way to capture encoded video:
//
//	cfg := picam.Config{
//	    Width:     1920,
//	    Height:    1080,
//	    Framerate: 30,
//	    Bitrate:   17_000_000,
//	}
//
//	cam, err := picam.New(cfg, picam.BackendAuto)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cam.Shutdown()
//
//	if err := cam.Initialize(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cam.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	for {
//	    frame, err := cam.Pull(ctx)
//	    if err != nil {
//	        break // picam.ErrStopped after Stop, or ctx cancelled
//	    }
//	    // frame.Data holds one Annex-B access unit
//	    writeFrame(frame)
//	}
//
// # Architecture
//
// Three layers make up the engine:
//
//   - picam (this package): the public surface. Camera owns one capture
//     session end to end.
//   - internal/pipeline: the capture engine. The Controller walks the
//     bring-up state machine, the Bridge moves completed buffers off the
//     driver callback thread, and the FrameQueue hands frames to Pull in
//     completion order.
//   - internal/hal: the driver contract (stages, ports, connections,
//     pools, completion callbacks) with two implementations: a GStreamer
//     driver for real hardware and a simulated driver for development and
//     tests.
//
// # Lifecycle
//
// A Camera moves strictly forward through its lifecycle:
//
//	New -> Initialize -> Start -> Stop -> Shutdown
//
// Initialize performs the full ordered bring-up: create and configure the
// capture stage, create and configure the encoder, connect them, size and
// prime the buffer pool, enable delivery. A failure at any step rolls back
// every completed step in reverse order and returns the cause; no partial
// session survives. Stop halts frame production and drains nothing: frames
// already queued remain pullable until Pull returns ErrStopped. Shutdown
// tears the whole session down and is idempotent.
//
// # Frame Delivery
//
// The encoder delivers buffers on its own callback thread. The engine
// copies each access unit out of driver memory, stamps it with a sequence
// number and trace ID, and queues it for the consumer. The queue is
// bounded (default one second of video); when the consumer falls behind,
// the oldest frame is dropped first so latency stays bounded. Drops are
// counted, never silent. Pull blocks until a frame, context cancellation,
// or end of capture.
//
// Delivered data is always a complete access unit: SPS/PPS configuration
// units are delivered with CodecConfig set, keyframes with KeyFrame set.
// Writing Data segments back to back yields a valid Annex-B bitstream.
//
// # Backends
//
// Three backends are supported via New:
//
//   - BackendAuto (default): uses GStreamer when the runtime is present,
//     otherwise falls back to the simulated driver with a warning.
//   - BackendGStreamer: requires the GStreamer runtime, fails fast.
//   - BackendSim: always simulates. Deterministic, suitable for tests.
//
// # Configuration
//
// Config covers the encode path the hardware exposes: resolution and
// frame rate, bitrate or fixed-QP rate control, H.264 profile and level,
// keyframe interval, inline SPS/PPS, intra refresh, and shutter-driven
// frame-rate bands. Zero values take documented defaults (1080p30 at
// 17 Mbit/s high/4.0). Settings the hardware cannot honor are clamped or
// upgraded with a warning where safe, and rejected with ErrConfigRejected
// where not; the result of admission is visible through EffectiveConfig.
package picam
