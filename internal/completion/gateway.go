// Package completion implements ordered multi-model fallback against a
// generative-language backend.
package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// MinKeyLength is the shortest credential considered well formed.
const MinKeyLength = 10

// Call is one attempt against one candidate.
type Call struct {
	Model  models.Candidate
	APIKey string
	Prompt string
}

// Backend performs a single generation call. It must return a non-empty
// text or an error.
type Backend interface {
	Generate(ctx context.Context, call Call) (string, error)
}

// Gateway tries candidates strictly in order and returns the first success.
// It holds no state across calls.
type Gateway struct {
	backend Backend
	apiKey  string
	logger  *events.Logger
}

// NewGateway creates a gateway.
func NewGateway(backend Backend, apiKey string, logger *events.Logger) *Gateway {
	return &Gateway{
		backend: backend,
		apiKey:  apiKey,
		logger:  logger.WithField("component", "completion"),
	}
}

// Complete runs the fallback. A configuration problem returns a
// *models.ConfigurationError before any backend call. When every candidate
// fails it returns *models.ExhaustedError with one entry per candidate in
// candidate order.
func (g *Gateway) Complete(ctx context.Context, candidates []models.Candidate, req models.CompletionRequest) (*models.Completion, error) {
	if err := g.validate(candidates); err != nil {
		g.logger.WithError(err).Warn("Completion not attempted")
		return nil, err
	}

	prompt := req.Prompt()
	var failed []models.CandidateError

	for _, candidate := range candidates {
		// Cancellation ends the unit; remaining candidates are not started.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger := g.logger.WithField("model", string(candidate))
		logger.Debug("Trying candidate")

		text, err := g.backend.Generate(ctx, Call{Model: candidate, APIKey: g.apiKey, Prompt: prompt})
		if err == nil && strings.TrimSpace(text) == "" {
			err = &models.BackendError{Message: "empty response"}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			logger.WithError(err).Warn("Candidate failed")
			failed = append(failed, models.CandidateError{Candidate: candidate, Err: err})
			continue
		}

		logger.WithField("failed_before", len(failed)).Info("Completion succeeded")
		return &models.Completion{Text: text, Candidate: candidate, Attempts: failed}, nil
	}

	exhausted := &models.ExhaustedError{Attempts: failed}
	g.logger.WithFields(map[string]interface{}{
		"attempts":     len(failed),
		"auth_failure": exhausted.AuthFailure(),
	}).Error("All completion candidates failed")
	return nil, exhausted
}

func (g *Gateway) validate(candidates []models.Candidate) error {
	if len(candidates) == 0 {
		return &models.ConfigurationError{Field: "completion.models", Reason: "no candidates configured"}
	}
	key := strings.TrimSpace(g.apiKey)
	if key == "" {
		return &models.ConfigurationError{Field: "completion.api_key", Reason: "missing"}
	}
	if len(key) < MinKeyLength {
		return &models.ConfigurationError{Field: "completion.api_key", Reason: "too short"}
	}
	return nil
}
