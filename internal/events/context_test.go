package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/clinicdesk/internal/events"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	prev := events.Default()
	defer events.SetDefault(prev)

	custom := events.Discard()
	events.SetDefault(custom)
	assert.Same(t, custom, events.FromContext(context.Background()))
}

func TestWithLogger(t *testing.T) {
	logger := events.Discard()
	ctx := events.WithLogger(context.Background(), logger)
	assert.Same(t, logger, events.FromContext(ctx))
}

func TestWithRequest(t *testing.T) {
	var buf bytes.Buffer
	base := events.NewTestLogger(events.InfoLevel, "json", &buf)

	ctx := events.WithRequest(context.Background(), base, "req-123", "PUT", "/db/a/b")
	events.FromContext(ctx).Info("served")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"method":"PUT"`)
	assert.Contains(t, out, `"path":"/db/a/b"`)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		events.Discard().WithField("k", "v").Error("nothing")
	})
}
