// Package pipeline drives the ordered bring-up, frame delivery, and
// teardown of the capture and encode stages behind a hal.Driver.
//
// The package is the core of the capture engine: the Controller walks the
// hardware lifecycle state machine, the Bridge moves completed buffers from
// the driver's callback thread into the FrameQueue, and the FrameQueue
// hands frames to a single pulling consumer in completion order.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Messages carry the public package prefix because the
// root package re-exports them unchanged.
var (
	// ErrStopped is returned by Pull once capture has stopped and every
	// remaining frame has been drained.
	ErrStopped = errors.New("picam: capture stopped")

	// ErrConfigRejected reports a configuration beyond hardware limits,
	// such as a macroblock throughput above the encoder's ceiling.
	ErrConfigRejected = errors.New("picam: configuration rejected")

	// ErrIntegrity reports a completed buffer whose mapped byte count did
	// not match its reported length. It aborts the capture session and is
	// surfaced through Err, never through Pull.
	ErrIntegrity = errors.New("picam: buffer integrity violation")
)

// Frame is one compressed access unit delivered by the encoder, with the
// payload copied out of driver memory so the caller owns it outright.
type Frame struct {
	// Seq numbers delivered frames from 1, in completion order.
	Seq uint64

	// PTS is the presentation timestamp stamped by the capture stage.
	// Negative when the driver delivered the buffer unstamped.
	PTS time.Duration

	// Timestamp is the host wall-clock time of delivery.
	Timestamp time.Time

	// Data holds the encoded bitstream bytes for this access unit.
	Data []byte

	// KeyFrame marks an IDR access unit.
	KeyFrame bool

	// CodecConfig marks out-of-band parameter sets (SPS/PPS) delivered
	// as stream bytes.
	CodecConfig bool

	// TraceID uniquely identifies this frame for log correlation.
	TraceID string
}

// Codec selects the output encoding.
type Codec int

const (
	CodecH264 Codec = iota
	CodecMJPEG
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecMJPEG:
		return "mjpeg"
	default:
		return "unknown"
	}
}

// ParseCodec maps a configuration string to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "h264", "H264":
		return CodecH264, nil
	case "mjpeg", "MJPEG":
		return CodecMJPEG, nil
	default:
		return CodecH264, fmt.Errorf("picam: unknown codec %q", s)
	}
}

// Profile selects the H.264 profile. The zero value is the recommended
// high profile.
type Profile int

const (
	ProfileHigh Profile = iota
	ProfileBaseline
	ProfileMain
)

func (p Profile) String() string {
	switch p {
	case ProfileHigh:
		return "high"
	case ProfileBaseline:
		return "baseline"
	case ProfileMain:
		return "main"
	default:
		return "unknown"
	}
}

// ParseProfile maps a configuration string to a Profile.
func ParseProfile(s string) (Profile, error) {
	switch s {
	case "high":
		return ProfileHigh, nil
	case "baseline":
		return ProfileBaseline, nil
	case "main":
		return ProfileMain, nil
	default:
		return ProfileHigh, fmt.Errorf("picam: unknown profile %q", s)
	}
}

// Level selects the H.264 level tier, which bounds bitrate and macroblock
// throughput.
type Level int

const (
	Level4 Level = iota
	Level41
	Level42
)

func (l Level) String() string {
	switch l {
	case Level4:
		return "4"
	case Level41:
		return "4.1"
	case Level42:
		return "4.2"
	default:
		return "unknown"
	}
}

// ParseLevel maps a configuration string to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "4", "4.0":
		return Level4, nil
	case "4.1":
		return Level41, nil
	case "4.2":
		return Level42, nil
	default:
		return Level4, fmt.Errorf("picam: unknown h264 level %q", s)
	}
}

// IntraRefreshMode selects how the encoder spreads intra macroblocks
// instead of emitting whole keyframes.
type IntraRefreshMode int

const (
	IntraRefreshNone IntraRefreshMode = iota
	IntraRefreshCyclic
	IntraRefreshAdaptive
	IntraRefreshBoth
	IntraRefreshCyclicRows
)

func (m IntraRefreshMode) String() string {
	switch m {
	case IntraRefreshNone:
		return "none"
	case IntraRefreshCyclic:
		return "cyclic"
	case IntraRefreshAdaptive:
		return "adaptive"
	case IntraRefreshBoth:
		return "both"
	case IntraRefreshCyclicRows:
		return "cyclicrows"
	default:
		return "unknown"
	}
}

// ParseIntraRefresh maps a configuration string to an IntraRefreshMode.
func ParseIntraRefresh(s string) (IntraRefreshMode, error) {
	switch s {
	case "", "none":
		return IntraRefreshNone, nil
	case "cyclic":
		return IntraRefreshCyclic, nil
	case "adaptive":
		return IntraRefreshAdaptive, nil
	case "both":
		return IntraRefreshBoth, nil
	case "cyclicrows":
		return IntraRefreshCyclicRows, nil
	default:
		return IntraRefreshNone, fmt.Errorf("picam: unknown intra refresh mode %q", s)
	}
}

// QueuePolicy decides what happens when the frame queue is full. The
// producer side runs on the driver's callback thread and must never block,
// so blocking is not offered.
type QueuePolicy int

const (
	// PolicyDropOldest evicts the oldest queued frame to admit the new
	// one. Keeps latency bounded, the usual choice for live streams.
	PolicyDropOldest QueuePolicy = iota

	// PolicyDropNewest discards the incoming frame when full.
	PolicyDropNewest

	// PolicyUnbounded never drops; memory grows if the consumer stalls.
	PolicyUnbounded
)

func (p QueuePolicy) String() string {
	switch p {
	case PolicyDropOldest:
		return "drop-oldest"
	case PolicyDropNewest:
		return "drop-newest"
	case PolicyUnbounded:
		return "unbounded"
	default:
		return "unknown"
	}
}

// ParseQueuePolicy maps a configuration string to a QueuePolicy.
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch s {
	case "", "drop-oldest":
		return PolicyDropOldest, nil
	case "drop-newest":
		return PolicyDropNewest, nil
	case "unbounded":
		return PolicyUnbounded, nil
	default:
		return PolicyDropOldest, fmt.Errorf("picam: unknown queue policy %q", s)
	}
}

// CaptureStats is a point-in-time snapshot of the capture session.
type CaptureStats struct {
	State string `json:"state"`

	FramesDelivered uint64  `json:"frames_delivered"`
	BytesDelivered  uint64  `json:"bytes_delivered"`
	KeyFrames       uint64  `json:"key_frames"`
	FramesDropped   uint64  `json:"frames_dropped"`
	DropRate        float64 `json:"drop_rate"`
	ActualFPS       float64 `json:"actual_fps"`

	QueueDepth int `json:"queue_depth"`
	PoolSize   int `json:"pool_size"`
	PoolFree   int `json:"pool_free"`

	Callbacks       uint64 `json:"callbacks"`
	Resubmissions   uint64 `json:"resubmissions"`
	PoolExhaustions uint64 `json:"pool_exhaustions"`
	SubmitFailures  uint64 `json:"submit_failures"`
	EmptyBuffers    uint64 `json:"empty_buffers"`
	SideInfoBuffers uint64 `json:"side_info_buffers"`

	LastFrameAt time.Time     `json:"last_frame_at"`
	Uptime      time.Duration `json:"uptime"`
}
