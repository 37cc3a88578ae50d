package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidConfigurations(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		for _, format := range []string{"json", "console"} {
			logger, err := New(level, format)
			require.NoError(t, err, "%s/%s", level, format)
			require.NotNil(t, logger)
		}
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("verbose", "json")
	assert.Error(t, err)
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New("info", "xml")
	assert.Error(t, err)
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_RunCorrelation(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-123")
	ctx = WithWorkItem(ctx, "repo#42")

	fields := ContextFields(ctx)

	require.Len(t, fields, 2)
	assert.Equal(t, "run_id", fields[0].Key)
	assert.Equal(t, "run-123", fields[0].String)
	assert.Equal(t, "work_item", fields[1].Key)
	assert.Equal(t, "repo#42", fields[1].String)
}

func TestRunIDFromContext_Absent(t *testing.T) {
	assert.Empty(t, RunIDFromContext(context.Background()))
	assert.Empty(t, WorkItemFromContext(context.Background()))
}
