package picam

import "github.com/aDifferentJT/rpi-cam-control/internal/pipeline"

// Public API - Re-export pipeline types as stable contract

// Frame is one compressed access unit with its delivery metadata.
type Frame = pipeline.Frame

// Config is the parameter record for one capture session.
type Config = pipeline.Config

// CaptureStats is a point-in-time snapshot of the capture session.
type CaptureStats = pipeline.CaptureStats

// Codec selects the output encoding.
type Codec = pipeline.Codec

const (
	CodecH264  = pipeline.CodecH264
	CodecMJPEG = pipeline.CodecMJPEG
)

// Profile selects the H.264 profile.
type Profile = pipeline.Profile

const (
	ProfileHigh     = pipeline.ProfileHigh
	ProfileBaseline = pipeline.ProfileBaseline
	ProfileMain     = pipeline.ProfileMain
)

// Level selects the H.264 level tier.
type Level = pipeline.Level

const (
	Level4  = pipeline.Level4
	Level41 = pipeline.Level41
	Level42 = pipeline.Level42
)

// IntraRefreshMode selects periodic intra refresh instead of whole
// keyframes.
type IntraRefreshMode = pipeline.IntraRefreshMode

const (
	IntraRefreshNone       = pipeline.IntraRefreshNone
	IntraRefreshCyclic     = pipeline.IntraRefreshCyclic
	IntraRefreshAdaptive   = pipeline.IntraRefreshAdaptive
	IntraRefreshBoth       = pipeline.IntraRefreshBoth
	IntraRefreshCyclicRows = pipeline.IntraRefreshCyclicRows
)

// QueuePolicy decides what happens when the frame queue is full.
type QueuePolicy = pipeline.QueuePolicy

const (
	PolicyDropOldest = pipeline.PolicyDropOldest
	PolicyDropNewest = pipeline.PolicyDropNewest
	PolicyUnbounded  = pipeline.PolicyUnbounded
)

// Defaults applied by Config.Normalize.
const (
	DefaultWidth         = pipeline.DefaultWidth
	DefaultHeight        = pipeline.DefaultHeight
	DefaultFramerate     = pipeline.DefaultFramerate
	DefaultBitrate       = pipeline.DefaultBitrate
	DefaultQueueCapacity = pipeline.DefaultQueueCapacity
)

// Public API errors - Re-export pipeline errors as stable contract
var (
	// ErrStopped is returned by Pull once capture has stopped and every
	// remaining frame has been drained.
	ErrStopped = pipeline.ErrStopped

	// ErrConfigRejected reports a configuration beyond hardware limits.
	ErrConfigRejected = pipeline.ErrConfigRejected

	// ErrIntegrity reports a buffer whose payload did not survive the
	// driver handoff intact. Surfaced through Err, never through Pull.
	ErrIntegrity = pipeline.ErrIntegrity
)

// ParseCodec maps a configuration string to a Codec.
func ParseCodec(s string) (Codec, error) { return pipeline.ParseCodec(s) }

// ParseProfile maps a configuration string to a Profile.
func ParseProfile(s string) (Profile, error) { return pipeline.ParseProfile(s) }

// ParseLevel maps a configuration string to a Level.
func ParseLevel(s string) (Level, error) { return pipeline.ParseLevel(s) }

// ParseIntraRefresh maps a configuration string to an IntraRefreshMode.
func ParseIntraRefresh(s string) (IntraRefreshMode, error) {
	return pipeline.ParseIntraRefresh(s)
}

// ParseQueuePolicy maps a configuration string to a QueuePolicy.
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	return pipeline.ParseQueuePolicy(s)
}
