package frame

import (
	"errors"
	"testing"

	"github.com/qemuweb/sidecar/pkg/protocol"
)

func testMeta(format protocol.FrameFormat, w, h uint32) protocol.FrameMetadata {
	return protocol.FrameMetadata{
		Sequence:  0,
		Timestamp: 0,
		Width:     w,
		Height:    h,
		Format:    format,
		Keyframe:  true,
	}
}

func TestNew(t *testing.T) {
	f, err := New(testMeta(protocol.FormatRGBA, 2, 2), make([]byte, 16))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(f.Data) != 16 {
		t.Errorf("Data length = %d, want 16", len(f.Data))
	}
}

func TestNewSizeMismatch(t *testing.T) {
	tests := []struct {
		name     string
		format   protocol.FrameFormat
		size     int
		expected int
	}{
		{"rgba_short", protocol.FormatRGBA, 8, 16},
		{"rgba_long", protocol.FormatRGBA, 17, 16},
		{"rgb565_short", protocol.FormatRGB565, 7, 8},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(testMeta(tc.format, 2, 2), make([]byte, tc.size))
			var sm *SizeMismatchError
			if !errors.As(err, &sm) {
				t.Fatalf("New() error = %v, want *SizeMismatchError", err)
			}
			if sm.Expected != tc.expected || sm.Actual != tc.size {
				t.Errorf("SizeMismatch = {%d %d}, want {%d %d}", sm.Expected, sm.Actual, tc.expected, tc.size)
			}
		})
	}
}

func TestNewVariableSizeFormats(t *testing.T) {
	// No fixed bytes-per-pixel: any payload length is accepted.
	if _, err := New(testMeta(protocol.FormatCompressed, 2, 2), make([]byte, 3)); err != nil {
		t.Errorf("compressed frame rejected: %v", err)
	}
	if _, err := New(testMeta(protocol.FormatYUV420, 2, 2), make([]byte, 5)); err != nil {
		t.Errorf("yuv420 frame rejected: %v", err)
	}
}

func TestNewInvalidDimensions(t *testing.T) {
	_, err := New(testMeta(protocol.FormatRGBA, 0, 2), nil)
	var id *InvalidDimensionsError
	if !errors.As(err, &id) {
		t.Fatalf("New() error = %v, want *InvalidDimensionsError", err)
	}
}

func TestConvertIdentity(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	f, err := New(testMeta(protocol.FormatRGB565, 2, 2), data)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := f.Convert(protocol.FormatRGB565)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if &got.Data[0] == &f.Data[0] {
		t.Error("identity conversion must copy, not alias")
	}
	for i := range data {
		if got.Data[i] != data[i] {
			t.Fatalf("identity conversion changed payload at %d", i)
		}
	}
}

func TestConvertWhiteRGBAToRGB565(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = 255
	}
	f, err := New(testMeta(protocol.FormatRGBA, 2, 2), data)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := f.Convert(protocol.FormatRGB565)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if len(got.Data) != 8 {
		t.Fatalf("payload length = %d, want 8", len(got.Data))
	}
	for i := 0; i < len(got.Data); i += 2 {
		if got.Data[i] != 0xFF || got.Data[i+1] != 0xFF {
			t.Errorf("word %d = %02x%02x, want ffff", i/2, got.Data[i+1], got.Data[i])
		}
	}
	if got.Meta.Format != protocol.FormatRGB565 {
		t.Errorf("Format = %q, want rgb565", got.Meta.Format)
	}
	if got.Meta.Width != 2 || got.Meta.Height != 2 {
		t.Error("conversion must preserve dimensions")
	}
}

func TestConvertRoundTripLossy(t *testing.T) {
	// Values whose low bits are lost by 5/6-bit quantization.
	data := []byte{
		13, 77, 201, 9,
		255, 0, 128, 200,
		1, 2, 3, 4,
		250, 251, 252, 0,
	}
	f, err := New(testMeta(protocol.FormatRGBA, 2, 2), data)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rgb565, err := f.Convert(protocol.FormatRGB565)
	if err != nil {
		t.Fatalf("Convert(rgb565) error = %v", err)
	}
	back, err := rgb565.Convert(protocol.FormatRGBA)
	if err != nil {
		t.Fatalf("Convert(rgba) error = %v", err)
	}

	identical := true
	for i := 0; i < len(data); i += 4 {
		if back.Data[i] != data[i] || back.Data[i+1] != data[i+1] || back.Data[i+2] != data[i+2] {
			identical = false
		}
		if back.Data[i+3] != 255 {
			t.Errorf("pixel %d alpha = %d, want 255", i/4, back.Data[i+3])
		}
	}
	if identical {
		t.Error("round trip restored RGB exactly; quantization should be lossy for these values")
	}
}

func TestConvertUnsupported(t *testing.T) {
	pairs := []struct {
		from, to protocol.FrameFormat
	}{
		{protocol.FormatRGBA, protocol.FormatYUV420},
		{protocol.FormatRGB565, protocol.FormatCompressed},
		{protocol.FormatYUV420, protocol.FormatRGBA},
		{protocol.FormatCompressed, protocol.FormatRGB565},
		{protocol.FormatYUV420, protocol.FormatCompressed},
	}

	for _, tc := range pairs {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			f, err := New(testMeta(tc.from, 2, 2), make([]byte, expectedLen(tc.from)))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			_, err = f.Convert(tc.to)
			var uc *UnsupportedConversionError
			if !errors.As(err, &uc) {
				t.Fatalf("Convert() error = %v, want *UnsupportedConversionError", err)
			}
			if uc.From != tc.from || uc.To != tc.to {
				t.Errorf("UnsupportedConversion = {%s %s}, want {%s %s}", uc.From, uc.To, tc.from, tc.to)
			}
		})
	}
}

func expectedLen(f protocol.FrameFormat) int {
	if bpp, ok := f.BytesPerPixel(); ok {
		return 4 * bpp
	}
	return 6
}

func TestWidening(t *testing.T) {
	// 0xFFFF unpacks to pure white; 0x0000 to opaque black.
	f, err := New(testMeta(protocol.FormatRGB565, 2, 1), []byte{0xFF, 0xFF, 0x00, 0x00})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := f.Convert(protocol.FormatRGBA)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	want := []byte{255, 255, 255, 255, 0, 0, 0, 255}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Errorf("byte %d = %d, want %d", i, got.Data[i], want[i])
		}
	}
}
