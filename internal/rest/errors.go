package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrTransport        = errors.New("transport failure")
	ErrServer           = errors.New("server error")
	ErrAuthentication   = errors.New("authentication failed")
	ErrUnsupportedLocal = errors.New("operation not supported by resource")
	ErrMethodNotAllowed = errors.New("method not allowed by server")
)

// TransportError wraps a failure to reach the server.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ServerError is a non-2xx answer. Message comes from the JSON error body
// when there is one, else from the status line.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *ServerError) Is(target error) bool { return target == ErrServer }

// AuthenticationError is a 401 answer to a checked exchange.
type AuthenticationError struct {
	Err *ServerError
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Err.Message
}

func (e *AuthenticationError) Unwrap() error        { return e.Err }
func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// UnsupportedOperationError is raised before any network call when a method
// is requested on a resource that does not declare it. It denotes a
// programming error in the caller.
type UnsupportedOperationError struct {
	Method string
	URL    string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s is not supported on %s", e.Method, e.URL)
}

func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupportedLocal }

// MethodNotAllowedError is raised when the server's advertised capabilities
// exclude a method the resource declares.
type MethodNotAllowedError struct {
	Method  string
	URL     string
	Allowed Method
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("server does not allow %s on %s (allowed: %s)", e.Method, e.URL, e.Allowed)
}

func (e *MethodNotAllowedError) Is(target error) bool { return target == ErrMethodNotAllowed }

type errorBody struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func newServerError(resp Response) *ServerError {
	return &ServerError{StatusCode: resp.StatusCode, Message: errorMessage(resp)}
}

func errorMessage(resp Response) string {
	var body errorBody
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &body) == nil {
		if body.Error != nil && strings.TrimSpace(body.Error.Message) != "" {
			return body.Error.Message
		}
		if strings.TrimSpace(body.Message) != "" {
			return body.Message
		}
	}
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
