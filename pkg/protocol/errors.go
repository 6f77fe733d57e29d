package protocol

import "fmt"

// ProtocolError reports a malformed or undecodable control message.
type ProtocolError struct {
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return "protocol: " + e.Reason
}

func errorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

func errMissing(msgType Type, field string) *ProtocolError {
	return errorf("%s: missing required field %q", msgType, field)
}
