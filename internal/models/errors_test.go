package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/clinicdesk/internal/models"
)

func TestBackendErrorIsAuth(t *testing.T) {
	tests := []struct {
		name string
		err  *models.BackendError
		want bool
	}{
		{"unauthorized", &models.BackendError{StatusCode: 401, Message: "nope"}, true},
		{"forbidden", &models.BackendError{StatusCode: 403, Message: "nope"}, true},
		{"bad key message", &models.BackendError{StatusCode: 400, Message: "API key not valid. Please pass a valid API key."}, true},
		{"referer blocked", &models.BackendError{StatusCode: 400, Message: "Requests from referer <empty> are blocked."}, true},
		{"rate limited", &models.BackendError{StatusCode: 429, Message: "Resource has been exhausted"}, false},
		{"empty body", &models.BackendError{StatusCode: 200, Message: "empty response"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.IsAuth())
		})
	}
}

func TestTransportErrorRedactsKey(t *testing.T) {
	err := &models.TransportError{
		Op:  "POST",
		URL: "https://generativelanguage.googleapis.com/v1beta/models/m:generateContent?key=secret-value",
		Err: errors.New("connection refused"),
	}

	assert.NotContains(t, err.Error(), "secret-value")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, err.Err)
}

func TestExhaustedError(t *testing.T) {
	err := &models.ExhaustedError{Attempts: []models.CandidateError{
		{Candidate: "fast", Err: &models.BackendError{StatusCode: 429, Message: "quota"}},
		{Candidate: "smart", Err: &models.TransportError{Op: "POST", URL: "u", Err: errors.New("timeout")}},
	}}

	assert.Equal(t, "all 2 completion candidates failed: fast: backend error 429: quota; smart: POST u: timeout", err.Error())
	assert.False(t, err.AuthFailure())
	assert.Equal(t, err.Attempts[1].Err, err.Last())

	err.Attempts = append(err.Attempts, models.CandidateError{
		Candidate: "legacy", Err: &models.BackendError{StatusCode: 403, Message: "denied"},
	})
	assert.True(t, err.AuthFailure())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&models.ConfigurationError{Field: "completion.api_key", Reason: "missing"}, models.ErrCodeConfig},
		{fmt.Errorf("wrapped: %w", &models.NotFoundError{Kind: "patient", Key: "a@b.c"}), models.ErrCodeNotFound},
		{&models.PermissionError{UID: "u1", Reason: "not a dentist"}, models.ErrCodePermission},
		{&models.ValidationError{Field: "amount", Reason: "must be positive"}, models.ErrCodeValidation},
		{&models.BackendError{StatusCode: 500}, models.ErrCodeBackend},
		{&models.TransportError{Err: errors.New("x")}, models.ErrCodeTransport},
		{&models.ExhaustedError{}, models.ErrCodeExhausted},
		{errors.New("other"), models.ErrCodeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, models.ErrorCode(tt.err))
	}
}

func TestDescribeCompletionFailure(t *testing.T) {
	cfg := models.DescribeCompletionFailure(&models.ConfigurationError{Field: "completion.api_key", Reason: "too short"})
	assert.Contains(t, cfg, "credencial inválida")
	assert.Contains(t, cfg, "too short")

	auth := models.DescribeCompletionFailure(&models.ExhaustedError{Attempts: []models.CandidateError{
		{Candidate: "fast", Err: &models.BackendError{StatusCode: 400, Message: "API key not valid"}},
	}})
	assert.Contains(t, auth, "credencial foi recusada")
	assert.Contains(t, auth, "API key not valid")

	network := models.DescribeCompletionFailure(&models.ExhaustedError{Attempts: []models.CandidateError{
		{Candidate: "fast", Err: &models.TransportError{Op: "POST", URL: "u", Err: errors.New("no route to host")}},
		{Candidate: "smart", Err: &models.TransportError{Op: "POST", URL: "u", Err: errors.New("timeout")}},
	}})
	assert.Contains(t, network, "nenhum modelo respondeu após 2 tentativas")
	assert.Contains(t, network, "timeout")
	assert.NotEqual(t, auth, network)

	other := models.DescribeCompletionFailure(errors.New("boom"))
	assert.Equal(t, "Assistente indisponível: boom", other)
}
