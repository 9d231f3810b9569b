package codec

import "fmt"

// maxRawInError bounds how much of a bad frame is echoed into logs.
const maxRawInError = 256

// CodecError reports a frame that does not match the wire schema.
type CodecError struct {
	Reason string
	Raw    []byte
}

func (e *CodecError) Error() string {
	raw := e.Raw
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError]
	}
	return fmt.Sprintf("codec: %s (frame %q)", e.Reason, raw)
}

func codecErrorf(raw []byte, format string, args ...any) *CodecError {
	return &CodecError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}

type fieldError string

func (e fieldError) Error() string { return string(e) }

const (
	errMissingSequence = fieldError("missing sequence")
	errBadBatchID      = fieldError("batch id must be a string or integer")
)

func errBadSequence(n any) error {
	return fmt.Errorf("sequence must be a positive integer, got %v", n)
}
