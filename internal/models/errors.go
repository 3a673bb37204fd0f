package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes for structured error handling.
const (
	ErrCodeConfig     = "CONFIG_ERROR"
	ErrCodeTransport  = "TRANSPORT_ERROR"
	ErrCodeBackend    = "BACKEND_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodePermission = "PERMISSION_DENIED"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeExhausted  = "COMPLETION_EXHAUSTED"
	ErrCodeUnknown    = "UNKNOWN"
)

// Sentinel errors
var (
	ErrEmptyMessage      = errors.New("message has no text and no attachment")
	ErrNoSession         = errors.New("no active session")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrClosed            = errors.New("closed")
	ErrStale             = errors.New("result no longer current")
)

// ConfigurationError reports a missing or malformed setting.
// It is fatal to the attempted operation, not to the process.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration invalid: %s: %s", e.Field, e.Reason)
}

// TransportError is a network failure calling a backend.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, redactURL(e.URL), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendError is a non-success status or an unusable response body.
type BackendError struct {
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend error: %s", e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.StatusCode, e.Message)
}

// IsAuth reports whether the backend rejected the credential.
func (e *BackendError) IsAuth() bool {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "api key") || strings.Contains(msg, "permission") ||
		strings.Contains(msg, "referer") || strings.Contains(msg, "credential")
}

// NotFoundError reports an expected remote record that is absent.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// PermissionError reports an identity that may not use the console.
type PermissionError struct {
	UID    string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s: %s", e.UID, e.Reason)
}

// ValidationError reports operator input that cannot be stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExhaustedError is returned when every completion candidate failed.
// Attempts are in candidate order, one per candidate.
type ExhaustedError struct {
	Attempts []CandidateError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("all %d completion candidates failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// AuthFailure reports whether any candidate failed on the credential.
func (e *ExhaustedError) AuthFailure() bool {
	for _, a := range e.Attempts {
		var be *BackendError
		if errors.As(a.Err, &be) && be.IsAuth() {
			return true
		}
	}
	return false
}

// Last returns the final attempt's error.
func (e *ExhaustedError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// ErrorCode classifies an error for display and logging.
func ErrorCode(err error) string {
	var (
		cfgErr  *ConfigurationError
		exhErr  *ExhaustedError
		nfErr   *NotFoundError
		permErr *PermissionError
		valErr  *ValidationError
		beErr   *BackendError
		trErr   *TransportError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return ErrCodeConfig
	case errors.As(err, &exhErr):
		return ErrCodeExhausted
	case errors.As(err, &nfErr):
		return ErrCodeNotFound
	case errors.As(err, &permErr):
		return ErrCodePermission
	case errors.As(err, &valErr):
		return ErrCodeValidation
	case errors.As(err, &beErr):
		return ErrCodeBackend
	case errors.As(err, &trErr):
		return ErrCodeTransport
	default:
		return ErrCodeUnknown
	}
}

// DescribeCompletionFailure renders a completion error as inline text
// for the operator.
func DescribeCompletionFailure(err error) string {
	var (
		cfgErr *ConfigurationError
		exhErr *ExhaustedError
	)

	switch {
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("Assistente indisponível: credencial inválida ou não configurada (%s).", cfgErr.Reason)
	case errors.As(err, &exhErr):
		detail := ""
		if last := exhErr.Last(); last != nil {
			detail = last.Error()
		}
		if exhErr.AuthFailure() {
			return fmt.Sprintf("Assistente indisponível: a credencial foi recusada. Verifique se a chave da API permite este cliente (referrers). Detalhe: %s", detail)
		}
		return fmt.Sprintf("Assistente indisponível: nenhum modelo respondeu após %d tentativas. Detalhe: %s", len(exhErr.Attempts), detail)
	default:
		return fmt.Sprintf("Assistente indisponível: %v", err)
	}
}

// redactURL hides credential query parameters.
func redactURL(raw string) string {
	idx := strings.Index(raw, "?")
	if idx < 0 {
		return raw
	}
	return raw[:idx] + "?…"
}
