// Package frame provides the frame value type, pixel-format conversion
// between uncompressed layouts, and the fixed-capacity ring buffer used to
// hold in-flight frames per connection.
package frame

import (
	"fmt"

	"github.com/qemuweb/sidecar/pkg/protocol"
)

// InvalidDimensionsError reports non-positive frame dimensions.
type InvalidDimensionsError struct {
	Width  uint32
	Height uint32
}

func (e *InvalidDimensionsError) Error() string {
	return fmt.Sprintf("frame: invalid dimensions %dx%d", e.Width, e.Height)
}

// SizeMismatchError reports a payload whose length disagrees with the
// declared format and dimensions.
type SizeMismatchError struct {
	Expected int
	Actual   int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("frame: buffer size mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// UnsupportedConversionError reports a format pair with no conversion path.
type UnsupportedConversionError struct {
	From protocol.FrameFormat
	To   protocol.FrameFormat
}

func (e *UnsupportedConversionError) Error() string {
	return fmt.Sprintf("frame: unsupported format conversion: %s -> %s", e.From, e.To)
}

// Frame is an immutable frame value: metadata plus raw pixel data.
// Construction validates the payload against the declared format; Convert
// produces a new Frame and never mutates in place.
type Frame struct {
	Meta protocol.FrameMetadata
	Data []byte
}

// New constructs a Frame, validating dimensions and, for fixed
// bytes-per-pixel formats, the payload length.
func New(meta protocol.FrameMetadata, data []byte) (*Frame, error) {
	if meta.Width == 0 || meta.Height == 0 {
		return nil, &InvalidDimensionsError{Width: meta.Width, Height: meta.Height}
	}
	if bpp, fixed := meta.Format.BytesPerPixel(); fixed {
		expected := int(meta.Width) * int(meta.Height) * bpp
		if len(data) != expected {
			return nil, &SizeMismatchError{Expected: expected, Actual: len(data)}
		}
	}
	return &Frame{Meta: meta, Data: data}, nil
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &Frame{Meta: f.Meta, Data: data}
}
