package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/transport"
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content *content `json:"content"`
	} `json:"candidates"`
}

// GenerativeBackend calls the generateContent endpoint of a
// generative-language API, passing the key as a query parameter.
type GenerativeBackend struct {
	http    transport.Requester
	baseURL string
}

// NewGenerativeBackend creates a backend. The requester should not retry;
// fallback across candidates replaces retry within one.
func NewGenerativeBackend(requester transport.Requester, baseURL string) *GenerativeBackend {
	return &GenerativeBackend{http: requester, baseURL: strings.TrimRight(baseURL, "/")}
}

// Generate performs one call.
func (b *GenerativeBackend) Generate(ctx context.Context, call Call) (string, error) {
	target := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		b.baseURL, url.PathEscape(string(call.Model)), url.QueryEscape(call.APIKey))

	payload := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: call.Prompt}}}},
	}

	data, err := b.http.Do(ctx, http.MethodPost, target, payload)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &models.BackendError{StatusCode: http.StatusOK, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &models.BackendError{StatusCode: http.StatusOK, Message: "empty response"}
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", &models.BackendError{StatusCode: http.StatusOK, Message: "empty response"}
	}

	return text, nil
}
