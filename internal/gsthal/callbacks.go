package gsthal

import (
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// onNewSample runs on GStreamer's streaming thread for every encoded
// sample. It pulls the sample, classifies the access unit, fills one
// submitted buffer and completes it through the port callback. Without a
// submitted buffer the sample is dropped, which is the credit contract:
// delivery only happens at the rate the host returns buffers.
func onNewSample(sink *app.Sink, port *gstPort) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// Graceful degradation: skip sample instead of terminating stream.
		slog.Warn("gsthal: failed to pull sample from appsink, skipping")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gsthal: failed to get buffer from sample, skipping")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gsthal: empty sample received")
		return gst.FlowOK
	}

	var flags hal.BufferFlags
	if port.Format().Encoding == hal.EncodingMJPEG {
		// Every JPEG is self-contained.
		flags = hal.FlagFrameEnd | hal.FlagKeyFrame
	} else {
		flags = classifyAccessUnit(data)
	}
	pts := port.driver.now()

	credit, cb := port.takeCredit()
	if credit == nil {
		buffer.Unmap()
		slog.Debug("gsthal: no submitted buffer, dropping sample", "bytes", len(data))
		return gst.FlowOK
	}

	// Copy out before unmapping; GStreamer reuses the sample buffer.
	credit.fill(data, flags, pts)
	buffer.Unmap()

	cb(port, credit)
	return gst.FlowOK
}
