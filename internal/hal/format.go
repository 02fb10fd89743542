package hal

import "fmt"

// Encoding identifies a media encoding on a port, using the four-character
// codes the VideoCore firmware speaks.
type Encoding string

const (
	// EncodingOpaque is the zero-copy GPU-resident format used on tunnelled
	// links between the camera and the encoder.
	EncodingOpaque Encoding = "OPQV"
	// EncodingI420 is planar YUV 4:2:0, the variant carried inside opaque buffers.
	EncodingI420 Encoding = "I420"
	// EncodingH264 is an H.264 Annex-B byte stream.
	EncodingH264 Encoding = "H264"
	// EncodingMJPEG is a motion-JPEG stream.
	EncodingMJPEG Encoding = "MJPG"
)

// Rational is an exact frame-rate fraction (e.g. 30/1, 166/1000).
type Rational struct {
	Num int
	Den int
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// RationalRange bounds the frame rate the capture hardware may choose when
// exposure time dominates the frame interval.
type RationalRange struct {
	Low  Rational
	High Rational
}

// Rect is a crop region in pixels, relative to the buffer origin.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// VideoFormat is the negotiated media format of a port.
//
// Width and Height are the padded buffer dimensions the hardware works in;
// Crop is the exact region the caller asked for. Committing a format makes
// it effective on the port (see Port.CommitFormat).
type VideoFormat struct {
	Encoding        Encoding
	EncodingVariant Encoding
	Width           int
	Height          int
	Crop            Rect
	FrameRate       Rational
	Bitrate         int
}

// AlignUp rounds v up to the next multiple of align. align must be a power
// of two.
func AlignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
