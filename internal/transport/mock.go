package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MockRequester provides a mock Requester for testing. Responses are
// matched by the longest registered prefix of "METHOD target".
type MockRequester struct {
	mu sync.Mutex

	// Response configuration
	Responses map[string][]byte
	Errors    map[string]error

	// Request tracking
	Requests []MockRequest
}

// MockRequest tracks one call.
type MockRequest struct {
	Method  string
	Target  string
	Payload interface{}
	Fields  map[string]string
	File    []byte
}

// NewMockRequester creates a mock requester.
func NewMockRequester() *MockRequester {
	return &MockRequester{
		Responses: make(map[string][]byte),
		Errors:    make(map[string]error),
	}
}

// AddResponse registers a JSON response for a method and target prefix.
func (m *MockRequester) AddResponse(method, target string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := response.([]byte)
	if !ok {
		data, _ = json.Marshal(response)
	}
	m.Responses[method+" "+target] = data
}

// AddError registers an error for a method and target prefix.
func (m *MockRequester) AddError(method, target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[method+" "+target] = err
}

// Do mocks a JSON request.
func (m *MockRequester) Do(ctx context.Context, method, target string, payload interface{}) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, MockRequest{Method: method, Target: target, Payload: payload})
	return m.lookup(method + " " + target)
}

// PostMultipart mocks an upload.
func (m *MockRequester) PostMultipart(ctx context.Context, target string, fields map[string]string, fileField, fileName string, file io.Reader) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, MockRequest{Method: "POST", Target: target, Fields: fields, File: data})
	return m.lookup("POST " + target)
}

// Calls returns the number of requests whose target contains substr.
func (m *MockRequester) Calls(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.Requests {
		if strings.Contains(r.Target, substr) {
			n++
		}
	}
	return n
}

func (m *MockRequester) lookup(key string) ([]byte, error) {
	best := ""
	for k := range m.Errors {
		if strings.HasPrefix(key, k) && len(k) > len(best) {
			best = k
		}
	}
	for k := range m.Responses {
		if strings.HasPrefix(key, k) && len(k) > len(best) {
			best = k
		}
	}

	if err, ok := m.Errors[best]; ok {
		return nil, err
	}
	if data, ok := m.Responses[best]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no mock response for %s", key)
}
