// Package hal defines the hardware abstraction the capture pipeline is built
// against: components (stages) with ports, tunnelled connections between
// ports, buffer pools, and completion callbacks.
//
// The contract mirrors the VideoCore multimedia component model so that the
// pipeline layer can express camera/encoder bring-up, buffer circulation and
// teardown without knowing which backend drives it. Two drivers exist:
//
//   - gsthal.Driver: the production backend over GStreamer (libcamera source
//     and the V4L2 stateful encoder on a Raspberry Pi)
//   - Sim: an in-process software backend that synthesizes encoded output,
//     used on development machines and throughout the test suite
//
// All driver methods are called from the pipeline's goroutine except
// CompletionFunc, which the driver invokes from its own delivery thread.
package hal

import "time"

// StageKind selects which hardware component a stage wraps.
type StageKind int

const (
	// StageCapture is the camera component (one input-less stage with
	// preview, video and still output ports).
	StageCapture StageKind = iota
	// StageEncode is the video encoder component (one input, one output).
	StageEncode
)

func (k StageKind) String() string {
	switch k {
	case StageCapture:
		return "capture"
	case StageEncode:
		return "encode"
	default:
		return "unknown"
	}
}

// PortDirection distinguishes input from output ports.
type PortDirection int

const (
	DirInput PortDirection = iota
	DirOutput
)

// Well-known output port indexes on the capture stage.
const (
	CapturePortPreview = 0
	CapturePortVideo   = 1
	CapturePortStill   = 2
)

// BufferFlags carries the per-buffer metadata reported by the encoder.
type BufferFlags uint32

const (
	// FlagFrameEnd marks the last buffer of an access unit.
	FlagFrameEnd BufferFlags = 1 << iota
	// FlagKeyFrame marks an IDR access unit.
	FlagKeyFrame
	// FlagConfig marks out-of-band codec configuration (SPS/PPS). These are
	// stream bytes and are delivered to the consumer.
	FlagConfig
	// FlagCodecSideInfo marks buffers that carry only side information
	// (e.g. motion vectors), not picture data. Never delivered.
	FlagCodecSideInfo
)

// Has reports whether all bits in mask are set.
func (f BufferFlags) Has(mask BufferFlags) bool {
	return f&mask == mask
}

// Buffer is a single-owner buffer header circulating between the host and
// the driver. Ownership transfers on Submit (host to driver) and on the
// completion callback (driver to host); Release returns the header to its
// pool.
type Buffer interface {
	// Map exposes the payload for host access. The returned slice is only
	// valid until Unmap.
	Map() []byte
	Unmap()

	// Length is the valid byte count the producer reported. It may be
	// smaller than the mapped capacity.
	Length() int

	Flags() BufferFlags

	// PTS is the presentation timestamp, or a negative duration when the
	// producer did not stamp the buffer.
	PTS() time.Duration

	// Release returns the buffer header to the pool it was allocated from.
	Release()
}

// Pool is a fixed-size set of buffer headers tied to a port.
type Pool interface {
	// Get takes a free buffer from the pool. Returns an error when every
	// buffer is out in circulation.
	Get() (Buffer, error)

	// Size is the total number of buffers in the pool.
	Size() int

	// Free is the number of buffers currently available to Get.
	Free() int

	Destroy()
}

// CompletionFunc is invoked by the driver when the port has finished with a
// buffer. It runs on the driver's delivery thread and must not block.
type CompletionFunc func(port Port, buf Buffer)

// Port is one endpoint of a stage.
type Port interface {
	Name() string
	Direction() PortDirection

	// Format returns the port's current format. Mutate the copy and pass it
	// to SetFormat, then CommitFormat to make it effective.
	Format() VideoFormat
	SetFormat(VideoFormat)
	CommitFormat() error

	// Buffer sizing. The driver reports minimum and recommended values
	// after a format commit; the host picks the working count and size.
	BufferCount() int
	SetBufferCount(n int)
	BufferSize() int
	SetBufferSize(n int)
	BufferCountMin() int
	BufferCountRecommended() int
	BufferSizeMin() int
	BufferSizeRecommended() int

	// SetParam applies a port-scope parameter. Param documents the value
	// type each key expects.
	SetParam(p Param, value any) error

	// GetParam reads back a port-scope parameter.
	GetParam(p Param) (any, error)

	// Enable activates the port for buffer traffic, registering cb to
	// receive completed buffers. Only meaningful on ports the host
	// exchanges buffers with; tunnelled ports are driven by their
	// connection.
	Enable(cb CompletionFunc) error
	Disable() error
	Enabled() bool

	// Submit hands a buffer to the port for filling. Ownership passes to
	// the driver until the completion callback returns it.
	Submit(buf Buffer) error

	// CreatePool allocates count buffers of size bytes tied to this port.
	CreatePool(count, size int) (Pool, error)
}

// Stage is a hardware component with ports.
type Stage interface {
	Kind() StageKind
	Name() string
	Inputs() []Port
	Outputs() []Port

	// SetParam applies a component-scope parameter (camera selection,
	// sensor configuration).
	SetParam(p Param, value any) error

	// Enable commits the component after its ports are configured.
	Enable() error
	Disable() error
	Destroy() error
}

// ConnectionFlags select how a connection moves buffers.
type ConnectionFlags uint32

const (
	// ConnTunnelled keeps buffer traffic inside the driver; the host never
	// sees buffers on tunnelled ports.
	ConnTunnelled ConnectionFlags = 1 << iota
	// ConnAllocOnInput makes the consuming port own the buffer allocation.
	ConnAllocOnInput
)

// Connection joins an output port to an input port.
//
// Connect creates the connection disabled; Enable starts it. A connection
// that fails to enable must still be destroyed by the caller.
type Connection interface {
	Enable() error
	Destroy() error
}

// Driver creates stages and connections.
type Driver interface {
	Name() string
	CreateStage(kind StageKind) (Stage, error)
	Connect(out, in Port, flags ConnectionFlags) (Connection, error)
	Close() error
}

// Health is optionally implemented by drivers that detect asynchronous
// failures (e.g. a dead element on the streaming thread). A nil result
// means the driver considers itself healthy.
type Health interface {
	Err() error
}
