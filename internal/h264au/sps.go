package h264au

import "fmt"

// SPS holds the subset of sequence-parameter-set fields useful to a
// client deciding how to configure a hardware decoder.
type SPS struct {
	ProfileIDC    byte
	ConstraintSet byte
	LevelIDC      byte
	Width         int
	Height        int

	// CodecString is the RFC 6381 "avc1.PPCCLL" string (profile,
	// constraint flags, level, each as two hex digits) browsers use to
	// query decoder support before attaching a MediaSource.
	CodecString string
}

// profilesWithChromaInfo lists profile_idc values whose SPS carries the
// extended chroma/bit-depth/scaling fields. The appliance's encoder is
// pinned to constrained baseline (66), which does not, but the parser
// stays generic so it tolerates a differently configured encoder.
var profilesWithChromaInfo = map[byte]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// parseSPS parses a SPS NAL unit (including its 1-byte NAL header) into
// profile/level and frame dimensions. It returns an error only if the
// bitstream is too short to contain a header; malformed deeper fields
// degrade to zero values rather than erroring, since only profile/level
// and dimensions are load-bearing for the caller.
func parseSPS(nal []byte) (*SPS, error) {
	if len(nal) < 4 {
		return nil, fmt.Errorf("h264au: SPS NAL too short (%d bytes)", len(nal))
	}

	profileIDC := nal[1]
	constraintSet := nal[2]
	levelIDC := nal[3]

	rbsp := stripEmulationPrevention(nal[4:])
	r := newBitReader(rbsp)

	r.ue() // seq_parameter_set_id

	chromaFormatIDC := uint32(1)
	if profilesWithChromaInfo[profileIDC] {
		chromaFormatIDC = r.ue()
		if chromaFormatIDC == 3 {
			r.u(1) // separate_colour_plane_flag
		}
		r.ue()    // bit_depth_luma_minus8
		r.ue()    // bit_depth_chroma_minus8
		r.u(1)    // qpprime_y_zero_transform_bypass_flag
		if r.u(1) != 0 { // seq_scaling_matrix_present_flag
			n := 8
			if chromaFormatIDC == 3 {
				n = 12
			}
			for i := 0; i < n; i++ {
				if r.u(1) != 0 { // seq_scaling_list_present_flag[i]
					skipScalingList(r, sizeOfScalingList(i))
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	picOrderCntType := r.ue()
	switch picOrderCntType {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.u(1) // delta_pic_order_always_zero_flag
		r.se() // offset_for_non_ref_pic
		r.se() // offset_for_top_to_bottom_field
		n := r.ue()
		for i := uint32(0); i < n; i++ {
			r.se() // offset_for_ref_frame[i]
		}
	}

	r.ue() // max_num_ref_frames
	r.u(1) // gaps_in_frame_num_value_allowed_flag

	picWidthInMbsMinus1 := r.ue()
	picHeightInMapUnitsMinus1 := r.ue()
	frameMbsOnlyFlag := r.u(1)
	if frameMbsOnlyFlag == 0 {
		r.u(1) // mb_adaptive_frame_field_flag
	}
	r.u(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if r.u(1) != 0 { // frame_cropping_flag
		cropLeft = r.ue()
		cropRight = r.ue()
		cropTop = r.ue()
		cropBottom = r.ue()
	}

	width := int((picWidthInMbsMinus1+1)*16) - cropUnitX(chromaFormatIDC)*int(cropLeft+cropRight)

	frameHeightInMbs := (2 - int(frameMbsOnlyFlag)) * int(picHeightInMapUnitsMinus1+1)
	height := frameHeightInMbs*16 - cropUnitY(chromaFormatIDC, frameMbsOnlyFlag)*int(cropTop+cropBottom)

	return &SPS{
		ProfileIDC:    profileIDC,
		ConstraintSet: constraintSet,
		LevelIDC:      levelIDC,
		Width:         width,
		Height:        height,
		CodecString:   fmt.Sprintf("avc1.%02x%02x%02x", profileIDC, constraintSet, levelIDC),
	}, nil
}

func cropUnitX(chromaFormatIDC uint32) int {
	if chromaFormatIDC == 0 {
		return 1
	}
	return 2
}

func cropUnitY(chromaFormatIDC uint32, frameMbsOnlyFlag uint32) int {
	factor := 2 - int(frameMbsOnlyFlag)
	if chromaFormatIDC == 0 {
		return factor
	}
	return 2 * factor
}

func sizeOfScalingList(i int) int {
	if i < 6 {
		return 16
	}
	return 64
}

// skipScalingList advances r past one scaling_list() as specified in
// section 7.3.2.1.1.1; only its bit length matters here, not its values.
func skipScalingList(r *bitReader, size int) {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			deltaScale := r.se()
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}
