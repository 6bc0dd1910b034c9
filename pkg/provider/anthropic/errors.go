package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/dolmetscher/pkg/api"
)

// maxErrorBody bounds how much of a non-2xx upstream body is kept.
const maxErrorBody = 64 << 10

// UpstreamHTTPError is a non-2xx upstream answer received before any
// translation happened. It is relayed to the client unchanged.
type UpstreamHTTPError struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// Error implements the error interface.
func (e *UpstreamHTTPError) Error() string {
	if msg := e.upstreamMessage(); msg != "" {
		return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

// HTTPStatus returns the upstream status code.
func (e *UpstreamHTTPError) HTTPStatus() int { return e.StatusCode }

// ContentType returns the upstream Content-Type.
func (e *UpstreamHTTPError) ContentType() string { return e.Header.Get("Content-Type") }

// ResponseBody returns the upstream body bytes.
func (e *UpstreamHTTPError) ResponseBody() []byte { return e.Body }

func (e *UpstreamHTTPError) upstreamMessage() string {
	var body ErrorBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}
	return body.Error.Message
}

// newUpstreamHTTPError captures resp without translating it. The body is
// read up to maxErrorBody and closed.
func newUpstreamHTTPError(resp *http.Response) *UpstreamHTTPError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UpstreamHTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
}

// StreamErrorKind classifies a failure after the stream has started.
type StreamErrorKind string

const (
	// StreamMalformed is a data line whose payload is not valid JSON.
	StreamMalformed StreamErrorKind = "malformed"
	// StreamUpstream is an error event sent by the upstream.
	StreamUpstream StreamErrorKind = "upstream"
	// StreamProtocol is an event that violates the event ordering.
	StreamProtocol StreamErrorKind = "protocol"
	// StreamTruncated is a stream that ended before message_stop.
	StreamTruncated StreamErrorKind = "truncated"
)

// StreamError ends a stream without the terminal [DONE] frame.
type StreamError struct {
	Kind    StreamErrorKind
	Type    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	msg := fmt.Sprintf("stream %s", e.Kind)
	if e.Type != "" {
		msg += " (" + e.Type + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StreamError) Unwrap() error { return e.Err }

// APIError renders the failure for the downstream error frame.
func (e *StreamError) APIError() *api.APIError {
	msg := e.Message
	if msg == "" {
		msg = e.Error()
	}
	if e.Type != "" {
		msg = e.Type + ": " + msg
	}
	return api.NewStreamError(string(e.Kind), msg)
}

func protocolError(format string, args ...any) *StreamError {
	return &StreamError{Kind: StreamProtocol, Message: fmt.Sprintf(format, args...)}
}

// mapNetworkError converts a transport-level failure into a 502-class APIError.
func mapNetworkError(err error) *api.APIError {
	return api.NewUpstreamUnavailableError(fmt.Sprintf("upstream connection error: %s", err.Error()))
}

// IsStreamError reports whether err is a StreamError of the given kind.
func IsStreamError(err error, kind StreamErrorKind) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Kind == kind
}
