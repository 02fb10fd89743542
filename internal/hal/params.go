package hal

// Param names a driver parameter. Keys are applied per stage (component
// scope) or per port; each key documents the value type it expects.
type Param string

const (
	// ParamCameraNum selects the physical camera by index (int, stage scope).
	ParamCameraNum Param = "camera-num"
	// ParamSensorMode forces a sensor readout mode, 0 = auto (int, stage scope).
	ParamSensorMode Param = "sensor-mode"
	// ParamCameraConfig applies the capture-wide configuration (CameraConfig,
	// stage scope).
	ParamCameraConfig Param = "camera-config"
	// ParamFPSRange bounds the frame rate for long exposures (RationalRange,
	// video port scope).
	ParamFPSRange Param = "fps-range"
	// ParamCapture toggles frame production on the video port (bool).
	ParamCapture Param = "capture"
	// ParamIntraPeriod sets the keyframe interval in frames (int, encoder
	// output scope).
	ParamIntraPeriod Param = "intra-period"
	// ParamQPInitial, ParamQPMin and ParamQPMax set the quantisation
	// parameters for VBR-style rate control (int, encoder output scope).
	ParamQPInitial Param = "qp-initial"
	ParamQPMin     Param = "qp-min"
	ParamQPMax     Param = "qp-max"
	// ParamProfileLevel sets the H.264 profile and level together
	// (ProfileLevel, encoder output scope).
	ParamProfileLevel Param = "profile-level"
	// ParamInlineHeaders requests SPS/PPS before every keyframe (bool,
	// encoder output scope).
	ParamInlineHeaders Param = "inline-headers"
	// ParamSPSTiming requests VUI timing information in the SPS (bool,
	// encoder output scope).
	ParamSPSTiming Param = "sps-timing"
	// ParamIntraRefresh configures periodic intra refresh
	// (IntraRefreshConfig, encoder output scope; readable).
	ParamIntraRefresh Param = "intra-refresh"
)

// CameraConfig is the capture-wide configuration applied before the stage
// is enabled.
type CameraConfig struct {
	MaxStillsWidth   int
	MaxStillsHeight  int
	MaxPreviewWidth  int
	MaxPreviewHeight int

	// PreviewFrames is the number of in-flight preview/video frames the
	// firmware keeps, derived from the frame rate.
	PreviewFrames int

	// UseSTCTimestamps selects raw system-time-clock buffer timestamps.
	UseSTCTimestamps bool
}

// ProfileLevel carries the H.264 profile and level in their canonical
// lower-case spellings ("baseline", "main", "high"; "4", "4.1", "4.2").
type ProfileLevel struct {
	Profile string
	Level   string
}

// IntraRefreshConfig configures periodic intra refresh. Mode is one of
// "cyclic", "adaptive", "both" or "cyclicrows"; the remaining fields are
// driver tuning values preserved across a read-modify-write.
type IntraRefreshConfig struct {
	Mode   string
	CirMBs int
	PirMBs int
	AirMBs int
	AirRef int
}
