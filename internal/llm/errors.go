package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type ErrorKind int

const (
	KindAPIKeyMissing ErrorKind = iota
	KindRequestFailed
	KindResponseError
	KindInvalidResponse
	KindContentBlocked
	KindInvalidProvider
)

func (k ErrorKind) String() string {
	switch k {
	case KindAPIKeyMissing:
		return "ApiKeyMissing"
	case KindRequestFailed:
		return "RequestFailed"
	case KindResponseError:
		return "ResponseError"
	case KindInvalidResponse:
		return "InvalidResponse"
	case KindContentBlocked:
		return "ContentBlocked"
	case KindInvalidProvider:
		return "InvalidProvider"
	default:
		return "Unknown"
	}
}

// suffix is appended to a provider's error prefix to build Error.Code.
func (k ErrorKind) suffix() string {
	switch k {
	case KindAPIKeyMissing:
		return "api_key_missing"
	case KindRequestFailed:
		return "request_failed"
	case KindResponseError:
		return "response_error"
	case KindInvalidResponse:
		return "invalid_response"
	case KindContentBlocked:
		return "content_blocked"
	case KindInvalidProvider:
		return "invalid_provider"
	default:
		return "error"
	}
}

// Error is returned by the gateway for every failed rewrite call.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Code       string
	StatusCode int
	// Reason is the provider block reason for KindContentBlocked.
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func IsKind(err error, kind ErrorKind) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind == kind
	}
	return false
}

func newProviderError(p Provider, kind ErrorKind, message string) *Error {
	return &Error{
		Kind:     kind,
		Provider: p.DisplayName(),
		Code:     p.ErrorPrefix() + "_" + kind.suffix(),
		Message:  message,
	}
}

func invalidResponseError(p Provider) *Error {
	return newProviderError(p, KindInvalidResponse, fmt.Sprintf("Invalid response structure from %s API.", p.DisplayName()))
}

func contentBlockedError(p Provider, reason string) *Error {
	e := newProviderError(p, KindContentBlocked, fmt.Sprintf("Content blocked by %s: %s", p.DisplayName(), reason))
	e.Reason = reason
	return e
}

// ErrInvalidProvider builds the error for a provider id missing from the registry.
func ErrInvalidProvider(name string) *Error {
	return &Error{
		Kind:     KindInvalidProvider,
		Provider: name,
		Code:     "invalid_api_provider",
		Message:  fmt.Sprintf("Invalid or unsupported API provider %q.", name),
	}
}

const maxRawErrorBody = 200

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// rawErrorSnippet strips markup from an error body and caps it at 200 characters.
func rawErrorSnippet(body []byte) string {
	text := strings.TrimSpace(tagPattern.ReplaceAllString(string(body), ""))
	runes := []rune(text)
	if len(runes) > maxRawErrorBody {
		runes = runes[:maxRawErrorBody]
	}
	return string(runes)
}
