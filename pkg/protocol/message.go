package protocol

import "encoding/json"

// Type is the discriminator distinguishing message variants.
type Type string

// Client → server message types.
const (
	TypeSetMode   Type = "setMode"
	TypeSetFormat Type = "setFormat"
	TypeFrame     Type = "frame"
	TypePing      Type = "ping"
)

// Server → client message types.
const (
	TypeModeAck   Type = "modeAck"
	TypeFormatAck Type = "formatAck"
	TypeFrameAck  Type = "frameAck"
	TypePong      Type = "pong"
	TypeError     Type = "error"
)

// Message is a decoded control message. Exactly one concrete type backs
// each discriminator value.
type Message interface {
	// Type returns the discriminator for this message.
	Type() Type
}

// SetMode selects the sidecar operating mode for a connection.
type SetMode struct {
	Mode   Mode    `json:"mode"`
	Config *Config `json:"config,omitempty"`
}

// SetFormat negotiates the frame format and dimensions for a connection.
type SetFormat struct {
	Format FrameFormat `json:"format"`
	Width  uint32      `json:"width"`
	Height uint32      `json:"height"`
}

// FrameAnnounce announces a frame whose pixel data follows as a separate
// binary message on the same connection.
type FrameAnnounce struct {
	Metadata FrameMetadata `json:"metadata"`
}

// Ping is a latency probe. Timestamp is echoed back verbatim in the Pong.
type Ping struct {
	Timestamp float64 `json:"timestamp"`
}

// ModeAck acknowledges a SetMode.
type ModeAck struct {
	Mode    Mode    `json:"mode"`
	Success bool    `json:"success"`
	Error   *string `json:"error,omitempty"`
}

// FormatAck acknowledges a SetFormat.
type FormatAck struct {
	Format  FrameFormat `json:"format"`
	Success bool        `json:"success"`
}

// FrameAck notifies a client of a delivered frame.
type FrameAck struct {
	Sequence uint64  `json:"sequence"`
	Latency  float64 `json:"latency"`
}

// Pong answers a Ping. Timestamp is the echoed client timestamp;
// ServerTime is the server clock in milliseconds at response time.
type Pong struct {
	Timestamp  float64 `json:"timestamp"`
	ServerTime float64 `json:"serverTime"`
}

// ErrorMessage reports a request-scoped failure to the client.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (SetMode) Type() Type       { return TypeSetMode }
func (SetFormat) Type() Type     { return TypeSetFormat }
func (FrameAnnounce) Type() Type { return TypeFrame }
func (Ping) Type() Type          { return TypePing }
func (ModeAck) Type() Type       { return TypeModeAck }
func (FormatAck) Type() Type     { return TypeFormatAck }
func (FrameAck) Type() Type      { return TypeFrameAck }
func (Pong) Type() Type          { return TypePong }
func (ErrorMessage) Type() Type  { return TypeError }

// envelope is the wire-level shape of every control message. All fields
// beyond the discriminator are pointers so the decoder can distinguish
// absent from zero, and so encoding omits fields foreign to the tag.
type envelope struct {
	Type Type `json:"type"`

	Mode     *Mode          `json:"mode,omitempty"`
	Config   *Config        `json:"config,omitempty"`
	Format   *FrameFormat   `json:"format,omitempty"`
	Width    *uint32        `json:"width,omitempty"`
	Height   *uint32        `json:"height,omitempty"`
	Metadata *FrameMetadata `json:"metadata,omitempty"`

	Timestamp  *float64 `json:"timestamp,omitempty"`
	ServerTime *float64 `json:"serverTime,omitempty"`

	Success  *bool    `json:"success,omitempty"`
	Error    *string  `json:"error,omitempty"`
	Sequence *uint64  `json:"sequence,omitempty"`
	Latency  *float64 `json:"latency,omitempty"`
	Code     *string  `json:"code,omitempty"`
	Message  *string  `json:"message,omitempty"`
}

// Encode serializes a message to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.Type()}

	switch msg := m.(type) {
	case *SetMode:
		env.Mode = &msg.Mode
		env.Config = msg.Config
	case *SetFormat:
		env.Format = &msg.Format
		env.Width = &msg.Width
		env.Height = &msg.Height
	case *FrameAnnounce:
		env.Metadata = &msg.Metadata
	case *Ping:
		env.Timestamp = &msg.Timestamp
	case *ModeAck:
		env.Mode = &msg.Mode
		env.Success = &msg.Success
		env.Error = msg.Error
	case *FormatAck:
		env.Format = &msg.Format
		env.Success = &msg.Success
	case *FrameAck:
		env.Sequence = &msg.Sequence
		env.Latency = &msg.Latency
	case *Pong:
		env.Timestamp = &msg.Timestamp
		env.ServerTime = &msg.ServerTime
	case *ErrorMessage:
		env.Code = &msg.Code
		env.Message = &msg.Message
	default:
		return nil, errorf("cannot encode message type %q", m.Type())
	}

	return json.Marshal(&env)
}

// Decode parses a JSON control message, failing closed on unknown
// discriminators or missing required fields.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errorf("malformed envelope: %v", err)
	}
	if env.Type == "" {
		return nil, &ProtocolError{Reason: `missing discriminator field "type"`}
	}

	switch env.Type {
	case TypeSetMode:
		if env.Mode == nil {
			return nil, errMissing(env.Type, "mode")
		}
		if !env.Mode.Valid() {
			return nil, errorf("setMode: unknown mode %q", *env.Mode)
		}
		return &SetMode{Mode: *env.Mode, Config: env.Config}, nil

	case TypeSetFormat:
		if env.Format == nil {
			return nil, errMissing(env.Type, "format")
		}
		if !env.Format.Valid() {
			return nil, errorf("setFormat: unknown format %q", *env.Format)
		}
		if env.Width == nil {
			return nil, errMissing(env.Type, "width")
		}
		if env.Height == nil {
			return nil, errMissing(env.Type, "height")
		}
		return &SetFormat{Format: *env.Format, Width: *env.Width, Height: *env.Height}, nil

	case TypeFrame:
		if env.Metadata == nil {
			return nil, errMissing(env.Type, "metadata")
		}
		if !env.Metadata.Format.Valid() {
			return nil, errorf("frame: unknown format %q", env.Metadata.Format)
		}
		return &FrameAnnounce{Metadata: *env.Metadata}, nil

	case TypePing:
		if env.Timestamp == nil {
			return nil, errMissing(env.Type, "timestamp")
		}
		return &Ping{Timestamp: *env.Timestamp}, nil

	case TypeModeAck:
		if env.Mode == nil {
			return nil, errMissing(env.Type, "mode")
		}
		if env.Success == nil {
			return nil, errMissing(env.Type, "success")
		}
		return &ModeAck{Mode: *env.Mode, Success: *env.Success, Error: env.Error}, nil

	case TypeFormatAck:
		if env.Format == nil {
			return nil, errMissing(env.Type, "format")
		}
		if env.Success == nil {
			return nil, errMissing(env.Type, "success")
		}
		return &FormatAck{Format: *env.Format, Success: *env.Success}, nil

	case TypeFrameAck:
		if env.Sequence == nil {
			return nil, errMissing(env.Type, "sequence")
		}
		if env.Latency == nil {
			return nil, errMissing(env.Type, "latency")
		}
		return &FrameAck{Sequence: *env.Sequence, Latency: *env.Latency}, nil

	case TypePong:
		if env.Timestamp == nil {
			return nil, errMissing(env.Type, "timestamp")
		}
		if env.ServerTime == nil {
			return nil, errMissing(env.Type, "serverTime")
		}
		return &Pong{Timestamp: *env.Timestamp, ServerTime: *env.ServerTime}, nil

	case TypeError:
		if env.Code == nil {
			return nil, errMissing(env.Type, "code")
		}
		if env.Message == nil {
			return nil, errMissing(env.Type, "message")
		}
		return &ErrorMessage{Code: *env.Code, Message: *env.Message}, nil
	}

	return nil, errorf("unknown message type %q", env.Type)
}
