package gsthal

import (
	"github.com/Eyevinn/mp4ff/avc"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// classifyAccessUnit derives buffer flags from the NAL units of one H.264
// Annex-B access unit. h264parse aligns samples on access-unit boundaries,
// so every sample carries FlagFrameEnd. An access unit with an IDR slice is
// a keyframe even when SPS/PPS ride in front of it; parameter sets alone
// are codec configuration; SEI alone is side information.
func classifyAccessUnit(data []byte) hal.BufferFlags {
	flags := hal.FlagFrameEnd

	var hasVCL, hasIDR, hasParamSet, hasSEI bool
	for _, nalu := range avc.ExtractNalusFromByteStream(data) {
		if len(nalu) == 0 {
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_IDR:
			hasVCL = true
			hasIDR = true
		case avc.NALU_NON_IDR:
			hasVCL = true
		case avc.NALU_SPS, avc.NALU_PPS:
			hasParamSet = true
		case avc.NALU_SEI:
			hasSEI = true
		}
	}

	switch {
	case hasIDR:
		flags |= hal.FlagKeyFrame
	case hasVCL:
		// Delta frame, no extra flags.
	case hasParamSet:
		flags |= hal.FlagConfig
	case hasSEI:
		flags |= hal.FlagCodecSideInfo
	}
	return flags
}
