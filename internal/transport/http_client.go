package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// Options configure an HTTPClient.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int // 0 disables retry
	UserAgent  string
	// Query parameter carrying the token, "auth" when empty.
	TokenParam string
}

// HTTPClient handles JSON and multipart HTTP calls to one backend.
type HTTPClient struct {
	client     *http.Client
	baseURL    string
	userAgent  string
	token      string
	tokenParam string
	logger     *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(opts Options, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	tokenParam := opts.TokenParam
	if tokenParam == "" {
		tokenParam = "auth"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		tokenParam: tokenParam,
		maxRetries: opts.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// GetToken returns the current authentication token.
func (c *HTTPClient) GetToken() string {
	return c.token
}

// BaseURL returns the backend root.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do sends a JSON request and returns the raw 2xx body. A nil payload
// sends no body. Failures are *models.TransportError or *models.BackendError.
func (c *HTTPClient) Do(ctx context.Context, method, target string, payload interface{}) ([]byte, error) {
	fullURL := c.resolve(target)

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    redact(fullURL),
		"size":   len(body),
	}).Debug("Sending request")

	var respBody []byte
	err := c.retry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		respBody, err = c.execute(req)
		return err
	})
	if err != nil {
		return nil, err
	}

	return respBody, nil
}

// GetJSON decodes a GET response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, target string, out interface{}) error {
	data, err := c.Do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return decodeInto(data, out)
}

// PostJSON posts payload and decodes the response into out when non-nil.
func (c *HTTPClient) PostJSON(ctx context.Context, target string, payload, out interface{}) error {
	data, err := c.Do(ctx, http.MethodPost, target, payload)
	if err != nil {
		return err
	}
	return decodeInto(data, out)
}

// PostMultipart uploads one file plus form fields.
func (c *HTTPClient) PostMultipart(ctx context.Context, target string, fields map[string]string, fileField, fileName string, file io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy file: %w", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	fullURL := c.resolve(target)
	body := buf.Bytes()

	c.logger.WithFields(map[string]interface{}{
		"url":  redact(fullURL),
		"file": fileName,
		"size": len(body),
	}).Debug("Uploading file")

	var respBody []byte
	err = c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		respBody, err = c.execute(req)
		return err
	})
	if err != nil {
		return nil, err
	}

	return respBody, nil
}

func (c *HTTPClient) execute(req *http.Request) ([]byte, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &models.TransportError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.TransportError{Op: req.Method, URL: req.URL.String(), Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.WithFields(map[string]interface{}{
		"status": resp.StatusCode,
		"size":   len(respBody),
	}).Debug("Received response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseBackendError(resp, respBody)
	}

	return respBody, nil
}

// resolve joins relative targets to the base URL and appends the token.
func (c *HTTPClient) resolve(target string) string {
	full := target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		full = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}

	if c.token == "" {
		return full
	}

	sep := "?"
	if strings.Contains(full, "?") {
		sep = "&"
	}
	return full + sep + c.tokenParam + "=" + url.QueryEscape(c.token)
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !c.isRetryableError(err) {
			return err
		}
	}

	if c.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError: network failures and retryable statuses.
func (c *HTTPClient) isRetryableError(err error) bool {
	var be *models.BackendError
	if errors.As(err, &be) {
		return c.isRetryable(be.StatusCode)
	}
	var te *models.TransportError
	return errors.As(err, &te)
}

// errorEnvelope covers {"error":{"message":...}} and {"error":"..."}.
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

func parseBackendError(resp *http.Response, body []byte) *models.BackendError {
	be := &models.BackendError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    http.StatusText(resp.StatusCode),
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		if s := strings.TrimSpace(string(body)); s != "" && len(s) < 512 {
			be.Message = s
		}
		return be
	}

	var nested struct {
		Message string `json:"message"`
	}
	var flat string
	switch {
	case json.Unmarshal(env.Error, &nested) == nil && nested.Message != "":
		be.Message = nested.Message
	case json.Unmarshal(env.Error, &flat) == nil && flat != "":
		be.Message = flat
	}

	return be
}

func decodeInto(data []byte, out interface{}) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &models.BackendError{Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

func redact(raw string) string {
	if idx := strings.Index(raw, "?"); idx >= 0 {
		return raw[:idx]
	}
	return raw
}
