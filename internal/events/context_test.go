package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/ofsync/internal/events"
)

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	ctx := events.WithLogger(context.Background(), logger)
	assert.Same(t, logger, events.FromContext(ctx))
}

func TestContextFolder(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	ctx := events.WithLogger(context.Background(), logger)
	ctx = events.WithFolder(ctx, "Docs")

	assert.Equal(t, "Docs", events.GetFolder(ctx))

	events.FromContext(ctx).Info("scanning")
	assert.Contains(t, buf.String(), `"folder":"Docs"`)
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()

	assert.NotNil(t, events.FromContext(ctx))
	assert.Empty(t, events.GetFolder(ctx))
}
