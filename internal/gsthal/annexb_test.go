package gsthal

import (
	"testing"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// au builds an Annex-B access unit from NALU header bytes, giving each
// NALU a few payload bytes so it looks like real stream data.
func au(headers ...byte) []byte {
	var out []byte
	for _, h := range headers {
		out = append(out, 0x00, 0x00, 0x00, 0x01, h, 0xDE, 0xAD, 0xBE, 0xEF)
	}
	return out
}

// --- Test 1: IDR Classification ---

// Contract: an access unit containing an IDR slice is a keyframe, even
// when parameter sets ride in front of the slice.
func TestClassifyIDR(t *testing.T) {
	flags := classifyAccessUnit(au(0x65))
	if !flags.Has(hal.FlagFrameEnd | hal.FlagKeyFrame) {
		t.Errorf("bare IDR: got flags %b, want frame-end|keyframe", flags)
	}
	if flags.Has(hal.FlagConfig) {
		t.Errorf("bare IDR: config flag must not be set")
	}

	// SPS+PPS+IDR in one access unit: still a keyframe, not config.
	flags = classifyAccessUnit(au(0x67, 0x68, 0x65))
	if !flags.Has(hal.FlagFrameEnd | hal.FlagKeyFrame) {
		t.Errorf("SPS+PPS+IDR: got flags %b, want frame-end|keyframe", flags)
	}
	if flags.Has(hal.FlagConfig) {
		t.Errorf("SPS+PPS+IDR: config flag must not be set")
	}

	t.Logf("✅ IDR access units classified as keyframes")
}

// --- Test 2: Delta Frame Classification ---

// Contract: a non-IDR slice is a plain frame: frame-end only, no
// keyframe, config or side-info bits.
func TestClassifyDelta(t *testing.T) {
	flags := classifyAccessUnit(au(0x41))
	if flags != hal.FlagFrameEnd {
		t.Errorf("delta frame: got flags %b, want frame-end only", flags)
	}

	// SEI ahead of the slice does not demote it to side information.
	flags = classifyAccessUnit(au(0x06, 0x41))
	if flags != hal.FlagFrameEnd {
		t.Errorf("SEI+delta: got flags %b, want frame-end only", flags)
	}

	t.Logf("✅ delta frames classified as plain frames")
}

// --- Test 3: Parameter Set Classification ---

// Contract: an access unit of only SPS/PPS is codec configuration. The
// encoder emits these once at startup and the consumer needs them to
// initialize a decoder.
func TestClassifyConfig(t *testing.T) {
	flags := classifyAccessUnit(au(0x67, 0x68))
	if !flags.Has(hal.FlagFrameEnd | hal.FlagConfig) {
		t.Errorf("SPS+PPS: got flags %b, want frame-end|config", flags)
	}
	if flags.Has(hal.FlagKeyFrame) {
		t.Errorf("SPS+PPS: keyframe flag must not be set")
	}

	t.Logf("✅ parameter sets classified as codec config")
}

// --- Test 4: SEI-Only Classification ---

// Contract: an access unit of only SEI NALUs is codec side information,
// which the pipeline counts and discards.
func TestClassifySideInfo(t *testing.T) {
	flags := classifyAccessUnit(au(0x06))
	if !flags.Has(hal.FlagFrameEnd | hal.FlagCodecSideInfo) {
		t.Errorf("SEI only: got flags %b, want frame-end|side-info", flags)
	}
	if flags.Has(hal.FlagKeyFrame) || flags.Has(hal.FlagConfig) {
		t.Errorf("SEI only: got flags %b, keyframe/config must not be set", flags)
	}

	t.Logf("✅ SEI-only access units classified as side information")
}

// --- Test 5: Degenerate Input ---

// Contract: data with no recognizable NALUs still reports frame-end and
// nothing else; classification never panics on garbage.
func TestClassifyGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {0xFF, 0xFF, 0xFF}, {0x00, 0x00}} {
		flags := classifyAccessUnit(data)
		if flags != hal.FlagFrameEnd {
			t.Errorf("garbage %v: got flags %b, want frame-end only", data, flags)
		}
	}

	t.Logf("✅ degenerate input handled")
}
