package protocol

// Mode is the sidecar operating mode.
type Mode string

const (
	ModeLocal    Mode = "local"    // In-process rendering, frames stay on the host
	ModeRemote   Mode = "remote"   // Frames forwarded to a remote endpoint
	ModeDisabled Mode = "disabled" // Frame relay off
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeLocal, ModeRemote, ModeDisabled:
		return true
	}
	return false
}

// FrameFormat identifies the pixel layout of a frame payload.
type FrameFormat string

const (
	FormatRGBA       FrameFormat = "rgba"       // 4 bytes/pixel, R G B A, 8 bits each
	FormatRGB565     FrameFormat = "rgb565"     // 2 bytes/pixel, 5-6-5 packing, little-endian
	FormatYUV420     FrameFormat = "yuv420"     // Planar YUV, variable size
	FormatCompressed FrameFormat = "compressed" // Opaque compressed bitstream
)

// Valid reports whether f is a known frame format.
func (f FrameFormat) Valid() bool {
	switch f {
	case FormatRGBA, FormatRGB565, FormatYUV420, FormatCompressed:
		return true
	}
	return false
}

// BytesPerPixel returns the fixed per-pixel size for f. The second return
// is false for formats whose payload size is not a function of dimensions
// (yuv420, compressed).
func (f FrameFormat) BytesPerPixel() (int, bool) {
	switch f {
	case FormatRGBA:
		return 4, true
	case FormatRGB565:
		return 2, true
	}
	return 0, false
}

// ConnectionState is the lifecycle state of one sidecar connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// FrameMetadata describes a frame without its pixel data.
type FrameMetadata struct {
	// Sequence is the monotonically increasing frame number.
	Sequence uint64 `json:"sequence"`

	// Timestamp is the capture time in milliseconds.
	Timestamp float64 `json:"timestamp"`

	// Width and Height are the frame dimensions in pixels.
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`

	// Format is the pixel layout of the payload.
	Format FrameFormat `json:"format"`

	// Keyframe is true for a complete image, false for a delta.
	Keyframe bool `json:"keyframe"`
}

// Config carries per-connection sidecar settings. Optional fields are
// pointers so that absent values are omitted on the wire rather than
// serialized as nulls.
type Config struct {
	// Mode is the operating mode.
	Mode Mode `json:"mode"`

	// TargetFPS is the desired frame rate.
	TargetFPS *uint32 `json:"targetFps,omitempty"`

	// PreferredFormat is the format the client would like frames in.
	PreferredFormat *FrameFormat `json:"preferredFormat,omitempty"`

	// RemoteURL is the WebSocket URL used in remote mode.
	RemoteURL *string `json:"remoteUrl,omitempty"`

	// EnableCompression enables payload compression in remote mode.
	EnableCompression *bool `json:"enableCompression,omitempty"`

	// RingBufferSize is the per-connection frame buffer capacity.
	RingBufferSize *int `json:"ringBufferSize,omitempty"`
}

// DefaultConfig returns the config applied to a fresh connection.
func DefaultConfig() *Config {
	fps := uint32(60)
	format := FormatRGBA
	compress := false
	ring := 4
	return &Config{
		Mode:              ModeLocal,
		TargetFPS:         &fps,
		PreferredFormat:   &format,
		EnableCompression: &compress,
		RingBufferSize:    &ring,
	}
}

// Stats is a point-in-time snapshot of per-connection counters, serialized
// as JSON in stats reports.
type Stats struct {
	FramesReceived   uint64  `json:"framesReceived"`
	FramesDropped    uint64  `json:"framesDropped"`
	AvgLatency       float64 `json:"avgLatency"`
	CurrentFPS       float64 `json:"currentFps"`
	BytesTransferred uint64  `json:"bytesTransferred"`
}
