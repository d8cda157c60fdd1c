// Package h264au splits an H.264 Annex-B bitstream into access units (one
// decodable picture's worth of NAL units each) and extracts SPS
// profile/level/dimension information, mirroring what the client-side
// demuxer must do before handing data to a hardware decoder.
package h264au

// NALType is the low 5 bits of a NAL unit's header byte.
type NALType byte

const (
	NALNonIDR NALType = 1
	NALIDR    NALType = 5
	NALSEI    NALType = 6
	NALSPS    NALType = 7
	NALPPS    NALType = 8
	NALAUD    NALType = 9
)

// NALUnit is one NAL, header byte included, start code excluded.
type NALUnit struct {
	Type NALType
	Data []byte
}

func (n NALUnit) isVCL() bool {
	return n.Type == NALNonIDR || n.Type == NALIDR
}

// AccessUnit is one decodable picture: its NAL units in wire order, plus
// convenience fields a client typically wants immediately.
type AccessUnit struct {
	NALs       []NALUnit
	IsKeyframe bool
	SPS        *SPS
}

// newAccessUnit classifies nals and drops AUD/SEI before assigning the
// result to AccessUnit.NALs; neither carries picture data a client needs.
func newAccessUnit(nals []NALUnit) AccessUnit {
	au := AccessUnit{NALs: make([]NALUnit, 0, len(nals))}
	for _, n := range nals {
		switch n.Type {
		case NALIDR:
			au.IsKeyframe = true
		case NALSPS:
			if sps, err := parseSPS(n.Data); err == nil {
				au.SPS = sps
			}
		}
		if n.Type == NALAUD || n.Type == NALSEI {
			continue
		}
		au.NALs = append(au.NALs, n)
	}
	return au
}

// Demuxer splits an Annex-B byte stream into access units.
//
// In its default mode (Lenient == false) it trusts the sender's wire
// contract -- each call to Push carries exactly one complete access
// unit's NAL units, matching the appliance's "one encoder output per
// WebSocket message" framing -- and returns that access unit without any
// cross-call buffering or Exp-Golomb boundary detection. This is the
// cheaper mode and the one the browser client should use against this
// appliance's actual wire format.
//
// Setting Lenient trades that assumption for robustness to arbitrary
// chunking: Push may be called with byte ranges that split NAL units or
// even start codes mid-sequence, and a new access unit is detected by
// decoding first_mb_in_slice from each VCL NAL's slice header, per the
// H.264 rule that a VCL NAL with first_mb_in_slice == 0 starts a new
// picture. Use this mode against any H.264 source that does not guarantee
// one message per access unit.
type Demuxer struct {
	Lenient bool

	carry    []byte // Lenient mode: bytes since the last NAL that might still be growing
	building []NALUnit
	haveVCL  bool
}

// New creates a Demuxer in the default (non-Lenient) mode.
func New() *Demuxer {
	return &Demuxer{}
}

// Push feeds data into the demuxer. In the default mode it returns
// exactly one AccessUnit built from every NAL found in data (or nil if
// data contains no start code). In Lenient mode it returns zero or more
// access units completed by this call; bytes that might belong to a NAL
// still being written by a later Push are buffered internally.
func (d *Demuxer) Push(data []byte) []AccessUnit {
	if !d.Lenient {
		nals := scanNALs(data)
		if len(nals) == 0 {
			return nil
		}
		return []AccessUnit{newAccessUnit(nals)}
	}

	full := make([]byte, 0, len(d.carry)+len(data))
	full = append(full, d.carry...)
	full = append(full, data...)

	codes := findStartCodes(full)
	if len(codes) == 0 {
		d.carry = full
		return nil
	}

	// Every NAL but the last is known-complete (terminated by the next
	// start code); the last one might still be growing, so it and
	// anything after it becomes the new carry.
	nals := make([]NALUnit, 0, len(codes)-1)
	for i := 0; i < len(codes)-1; i++ {
		nal := full[codes[i].payloadStart:codes[i+1].codeStart]
		if len(nal) > 0 {
			nals = append(nals, NALUnit{Type: NALType(nal[0] & 0x1f), Data: nal})
		}
	}
	last := codes[len(codes)-1]
	d.carry = append([]byte(nil), full[last.codeStart:]...)

	return d.assemble(nals)
}

// Flush finalizes any NAL left in the carry buffer (there is no further
// data to prove it complete) and returns the access unit being
// assembled, if any. A no-op in the default mode, since Push never
// leaves anything buffered there.
func (d *Demuxer) Flush() *AccessUnit {
	if !d.Lenient {
		return nil
	}
	if len(d.carry) > 0 {
		nals := scanNALs(d.carry)
		d.carry = nil
		d.assemble(nals)
	}
	if len(d.building) == 0 {
		return nil
	}
	au := newAccessUnit(d.building)
	d.building = nil
	d.haveVCL = false
	return &au
}

func (d *Demuxer) assemble(nals []NALUnit) []AccessUnit {
	var completed []AccessUnit
	for _, n := range nals {
		if n.isVCL() && d.haveVCL && isNewPicture(n) {
			completed = append(completed, newAccessUnit(d.building))
			d.building = nil
			d.haveVCL = false
		}
		if n.isVCL() {
			d.haveVCL = true
		}
		d.building = append(d.building, n)
	}
	return completed
}

// isNewPicture decodes just enough of a VCL NAL's slice header --
// first_mb_in_slice -- to tell whether it starts a new picture.
func isNewPicture(n NALUnit) bool {
	if len(n.Data) < 2 {
		return false
	}
	rbsp := stripEmulationPrevention(n.Data[1:])
	r := newBitReader(rbsp)
	return r.ue() == 0
}

type startCode struct {
	codeStart    int
	payloadStart int
}

func findStartCodes(data []byte) []startCode {
	var codes []startCode
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				codes = append(codes, startCode{i, i + 3})
				i += 3
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				codes = append(codes, startCode{i, i + 4})
				i += 4
				continue
			}
		}
		i++
	}
	return codes
}

// scanNALs splits data on Annex-B start codes (00 00 01 or 00 00 00 01)
// into individual NAL units, each tagged with its type.
func scanNALs(data []byte) []NALUnit {
	codes := findStartCodes(data)
	nals := make([]NALUnit, 0, len(codes))
	for i, c := range codes {
		end := len(data)
		if i+1 < len(codes) {
			end = codes[i+1].codeStart
		}
		nal := data[c.payloadStart:end]
		if len(nal) == 0 {
			continue
		}
		nals = append(nals, NALUnit{Type: NALType(nal[0] & 0x1f), Data: nal})
	}
	return nals
}
