// Package errs defines the relay's error taxonomy and the single table that maps it to
// HTTP status codes.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConfiguration   Kind = "configuration"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindUpstreamHTTP    Kind = "upstream_http"
	KindUpstreamFormat  Kind = "upstream_format"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindInternal        Kind = "internal"
)

// Error is the typed error carried through the relay.
type Error struct {
	Kind    Kind
	Message string
	// UpstreamStatus is the HTTP status returned by the upstream API, if any.
	UpstreamStatus int
	Details        map[string]string
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports missing or malformed caller input.
func Validation(message string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// Configuration reports missing server-side configuration such as the upstream secret.
func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// UpstreamTimeout wraps a deadline expiry on the upstream call.
func UpstreamTimeout(err error) *Error {
	return &Error{Kind: KindUpstreamTimeout, Message: "upstream request timed out", Err: err}
}

// UpstreamHTTP reports a non-success upstream status.
func UpstreamHTTP(status int, body string) *Error {
	return &Error{
		Kind:           KindUpstreamHTTP,
		Message:        upstreamMessage(status),
		UpstreamStatus: status,
		Err:            fmt.Errorf("upstream status %d: %s", status, body),
	}
}

// UpstreamUnavailable reports a transport failure reaching the upstream API.
func UpstreamUnavailable(err error) *Error {
	return &Error{
		Kind:           KindUpstreamHTTP,
		Message:        "upstream unavailable",
		UpstreamStatus: http.StatusServiceUnavailable,
		Err:            err,
	}
}

// UpstreamFormat reports an upstream payload missing the expected fields.
func UpstreamFormat(message string, err error) *Error {
	return &Error{Kind: KindUpstreamFormat, Message: message, Err: err}
}

// NotFound reports an unknown resource id.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Conflict reports a request that collides with work already in progress.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func upstreamMessage(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "upstream authentication failed"
	case status == http.StatusTooManyRequests:
		return "upstream rate limited"
	case status >= 500:
		return "upstream unavailable"
	default:
		return fmt.Sprintf("upstream request failed with status %d", status)
	}
}

// KindOf classifies any error, including store sentinels and context errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindUpstreamTimeout
	default:
		return KindInternal
	}
}

// HTTPStatus is the only mapping from error kinds to transport status codes.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamFormat:
		return http.StatusBadGateway
	case KindUpstreamHTTP:
		var e *Error
		errors.As(err, &e)
		switch {
		case e.UpstreamStatus == http.StatusTooManyRequests:
			return http.StatusTooManyRequests
		case e.UpstreamStatus >= 500:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the stable, caller-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	switch KindOf(err) {
	case KindNotFound:
		return "conversation not found"
	case KindUpstreamTimeout:
		return "upstream request timed out"
	default:
		return "internal server error"
	}
}

// DetailsOf returns validation details, if any.
func DetailsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
