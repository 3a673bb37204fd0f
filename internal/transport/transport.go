package transport

import (
	"context"
	"io"
)

// Requester is the HTTP surface used by backend clients.
type Requester interface {
	Do(ctx context.Context, method, target string, payload interface{}) ([]byte, error)
	PostMultipart(ctx context.Context, target string, fields map[string]string, fileField, fileName string, file io.Reader) ([]byte, error)
}

var _ Requester = (*HTTPClient)(nil)
var _ Requester = (*MockRequester)(nil)
