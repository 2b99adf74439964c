package proxy

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/codefionn/fwdcache/fwdcache-srv/httpmsg"
)

// Error represents a proxy-specific error with a code and description
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a new Error with the given code and description
func NewProxyError(code, description string, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Cause:       cause,
	}
}

// Proxy Error Codes
const (
	// Request Parsing Errors (E1000-E1999)
	ErrCodeMalformedRequest  = "E1001"
	ErrCodeMalformedResponse = "E1002"
	ErrCodeRequestTooLarge   = "E1003"

	// Policy Errors (E2000-E2999)
	ErrCodeSelfLoopDetected   = "E2001"
	ErrCodeInvalidTunnelPort  = "E2002"
	ErrCodeInvalidAuthority   = "E2003"
	ErrCodeInvalidTarget      = "E2004"
	ErrCodeMissingHost        = "E2005"
	ErrCodeMethodNotSupported = "E2006"
	ErrCodeBlocklistMatch     = "E2007"

	// Connection and Network Errors (E3000-E3999)
	ErrCodeDNSResolutionFailed = "E3001"
	ErrCodeConnectionRefused   = "E3002"
	ErrCodeConnectionTimeout   = "E3003"
	ErrCodeUpstreamReadTimeout = "E3004"
	ErrCodeDialFailed          = "E3005"
	ErrCodeNetworkUnreachable  = "E3006"
	ErrCodeUpstreamWriteFailed = "E3007"
	ErrCodeUpstreamReadFailed  = "E3008"
	ErrCodeSOCKS5DialerFailed  = "E3009"

	// Internal and System Errors (E9900-E9999)
	ErrCodeInternalError           = "E9901"
	ErrCodeConcurrencyLimitReached = "E9902"
)

// ErrorDescriptions maps error codes to human-readable descriptions.
var ErrorDescriptions = map[string]string{
	ErrCodeMalformedRequest:  "Malformed HTTP request",
	ErrCodeMalformedResponse: "Malformed HTTP response from origin server",
	ErrCodeRequestTooLarge:   "Request header section exceeds the size limit",

	ErrCodeSelfLoopDetected:   "Self-loop detected",
	ErrCodeInvalidTunnelPort:  "invalid port",
	ErrCodeInvalidAuthority:   "invalid authority form",
	ErrCodeInvalidTarget:      "invalid request target",
	ErrCodeMissingHost:        "missing Host header",
	ErrCodeMethodNotSupported: "Method not supported",
	ErrCodeBlocklistMatch:     "Host is blocked by proxy policy",

	ErrCodeDNSResolutionFailed: "could not resolve host",
	ErrCodeConnectionRefused:   "Connection refused by origin server",
	ErrCodeConnectionTimeout:   "Connection to origin server timed out",
	ErrCodeUpstreamReadTimeout: "Origin server did not respond in time",
	ErrCodeDialFailed:          "Failed to connect to origin server",
	ErrCodeNetworkUnreachable:  "Network unreachable",
	ErrCodeUpstreamWriteFailed: "Failed to send request to origin server",
	ErrCodeUpstreamReadFailed:  "Failed to read response from origin server",
	ErrCodeSOCKS5DialerFailed:  "Failed to create SOCKS5 dialer",

	ErrCodeInternalError:           "Internal proxy error",
	ErrCodeConcurrencyLimitReached: "Too many concurrent connections",
}

// GetErrorDescription returns the description for a given error code
func GetErrorDescription(code string) string {
	if desc, exists := ErrorDescriptions[code]; exists {
		return desc
	}
	return "Unknown error code"
}

func codeOf(err error) (string, bool) {
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		return proxyErr.Code, true
	}
	return "", false
}

func codeInRange(err error, lo, hi string) bool {
	code, ok := codeOf(err)
	return ok && code >= lo && code < hi
}

// IsParseError reports whether err stems from an unparsable message,
// either coded by the proxy or raised by httpmsg.
func IsParseError(err error) bool {
	return codeInRange(err, "E1000", "E2000") || httpmsg.IsParseError(err)
}

// IsPolicyError checks if the error is a refusal by proxy policy
func IsPolicyError(err error) bool {
	return codeInRange(err, "E2000", "E3000")
}

// IsNetworkError checks if the error is connection-related
func IsNetworkError(err error) bool {
	return codeInRange(err, "E3000", "E4000")
}

// IsInternalError checks if the error is internal
func IsInternalError(err error) bool {
	return codeInRange(err, "E9900", "E9999")
}

// StatusForError maps err to the status code sent to the client.
func StatusForError(err error) int {
	code, ok := codeOf(err)
	if !ok {
		if httpmsg.IsParseError(err) {
			return 400
		}
		return 502
	}
	switch code {
	case ErrCodeMalformedResponse:
		return 502
	case ErrCodeSelfLoopDetected:
		return 421
	case ErrCodeBlocklistMatch:
		return 403
	case ErrCodeConnectionTimeout, ErrCodeUpstreamReadTimeout:
		return 504
	case ErrCodeConcurrencyLimitReached:
		return 503
	}
	switch {
	case IsParseError(err), IsPolicyError(err):
		return 400
	default:
		return 502
	}
}

// detailForError returns the human-readable text placed in an error body.
func detailForError(err error) string {
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		return proxyErr.Description
	}
	if httpmsg.IsParseError(err) {
		return GetErrorDescription(ErrCodeMalformedRequest) + ": " + err.Error()
	}
	return GetErrorDescription(ErrCodeInternalError)
}

// NewErrorResponse builds the plain-text response sent for a failed
// request. It announces Connection: close; callers keeping the client
// connection open override that header.
func NewErrorResponse(statusCode int, detail string) *httpmsg.Response {
	reason := httpmsg.StatusText(statusCode)
	body := []byte(fmt.Sprintf("Error %d: %s\n\n%s", statusCode, reason, detail))
	return &httpmsg.Response{
		Version:    "HTTP/1.1",
		StatusCode: statusCode,
		Reason:     reason,
		Headers: httpmsg.Headers{
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
			{Name: "Content-Length", Value: strconv.Itoa(len(body))},
			{Name: "Connection", Value: "close"},
		},
		Body: body,
	}
}

// ErrorResponseFor classifies err and builds the matching error response.
func ErrorResponseFor(err error) *httpmsg.Response {
	resp := NewErrorResponse(StatusForError(err), detailForError(err))
	if code, ok := codeOf(err); ok {
		resp.Headers.Add("X-Proxy-Error", code)
	}
	return resp
}
