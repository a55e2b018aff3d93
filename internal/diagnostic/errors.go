package diagnostic

import "fmt"

type ParseErrorKind int

const (
	// KindCorruptedInput indicates the backend reported the file's
	// contents were invalid or unreadable.
	KindCorruptedInput ParseErrorKind = iota

	// KindUnsupportedCodec indicates the backend recognised the container
	// but had no decoder for one of it's streams.
	KindUnsupportedCodec

	// KindNoStreams indicates the diagnostic text contained no stream
	// markers at all.
	KindNoStreams
)

// ParseError is raised when diagnostic text cannot be turned into a
// metadata record. The kind drives a distinct, actionable user-facing
// message rather than a generic failure.
type ParseError struct {
	Kind    ParseErrorKind
	Message string
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("failed to parse diagnostic output: %s", err.Message)
}

func (kind ParseErrorKind) String() string {
	switch kind {
	case KindCorruptedInput:
		return "CORRUPTED_INPUT"
	case KindUnsupportedCodec:
		return "UNSUPPORTED_CODEC"
	case KindNoStreams:
		return "NO_STREAMS"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", kind)
	}
}

// UserFacingMessage renders the actionable message for each error kind.
func (err *ParseError) UserFacingMessage() string {
	switch err.Kind {
	case KindCorruptedInput:
		return "The file appears to be corrupted or is not a valid media file."
	case KindUnsupportedCodec:
		return "The file uses a codec this tool cannot decode."
	case KindNoStreams:
		return "No media streams could be found in this file."
	default:
		return err.Message
	}
}
