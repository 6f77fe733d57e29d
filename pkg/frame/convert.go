package frame

import (
	"encoding/binary"

	"github.com/qemuweb/sidecar/pkg/protocol"
)

// Convert returns a new frame with the payload transcoded to target.
// Converting a frame to its own format returns a deep copy. The only
// supported conversions are rgba ↔ rgb565; any other pair fails with an
// *UnsupportedConversionError.
func (f *Frame) Convert(target protocol.FrameFormat) (*Frame, error) {
	if f.Meta.Format == target {
		return f.Clone(), nil
	}

	var data []byte
	switch {
	case f.Meta.Format == protocol.FormatRGBA && target == protocol.FormatRGB565:
		data = rgbaToRGB565(f.Data)
	case f.Meta.Format == protocol.FormatRGB565 && target == protocol.FormatRGBA:
		data = rgb565ToRGBA(f.Data)
	default:
		return nil, &UnsupportedConversionError{From: f.Meta.Format, To: target}
	}

	meta := f.Meta
	meta.Format = target
	return New(meta, data)
}

// rgbaToRGB565 packs 8-bit RGBA pixels into 5-6-5 little-endian words.
// Alpha is discarded.
func rgbaToRGB565(src []byte) []byte {
	out := make([]byte, 0, len(src)/4*2)
	for i := 0; i+4 <= len(src); i += 4 {
		r := uint16(src[i])
		g := uint16(src[i+1])
		b := uint16(src[i+2])
		packed := (r>>3)<<11 | (g>>2)<<5 | (b >> 3)
		out = binary.LittleEndian.AppendUint16(out, packed)
	}
	return out
}

// rgb565ToRGBA unpacks 5-6-5 little-endian words into 8-bit RGBA pixels.
// Each component is widened by replicating its top bits into the low bits;
// alpha is always fully opaque.
func rgb565ToRGBA(src []byte) []byte {
	out := make([]byte, 0, len(src)/2*4)
	for i := 0; i+2 <= len(src); i += 2 {
		packed := binary.LittleEndian.Uint16(src[i:])
		r := uint8(packed >> 11 & 0x1F)
		g := uint8(packed >> 5 & 0x3F)
		b := uint8(packed & 0x1F)
		out = append(out, r<<3|r>>2, g<<2|g>>4, b<<3|b>>2, 255)
	}
	return out
}
