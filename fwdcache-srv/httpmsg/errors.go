package httpmsg

import "fmt"

// ErrorKind classifies why a message could not be parsed.
type ErrorKind int

const (
	// MalformedStartLine means the request or status line has the wrong shape.
	MalformedStartLine ErrorKind = iota + 1
	// MalformedHeader means a header line lacks a colon or has a bad value.
	MalformedHeader
	// IncompleteMessage means the input ended before the message did.
	IncompleteMessage
	// InvalidStatusCode means the status code is outside 100-599.
	InvalidStatusCode
	// HeaderTooLarge means the header block exceeded the configured limit.
	HeaderTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedStartLine:
		return "malformed start line"
	case MalformedHeader:
		return "malformed header"
	case IncompleteMessage:
		return "incomplete message"
	case InvalidStatusCode:
		return "invalid status code"
	case HeaderTooLarge:
		return "header too large"
	default:
		return "parse error"
	}
}

// ParseError is returned by every parsing entry point in this package.
type ParseError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is matches any ParseError of the same kind, so errors.Is(err, ErrMalformedHeader)
// works regardless of the detail text.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMalformedStartLine = &ParseError{Kind: MalformedStartLine}
	ErrMalformedHeader    = &ParseError{Kind: MalformedHeader}
	ErrIncompleteMessage  = &ParseError{Kind: IncompleteMessage}
	ErrInvalidStatusCode  = &ParseError{Kind: InvalidStatusCode}
	ErrHeaderTooLarge     = &ParseError{Kind: HeaderTooLarge}
)

func parseErr(kind ErrorKind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
