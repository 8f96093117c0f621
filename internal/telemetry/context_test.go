package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	now := time.Date(2025, 3, 7, 9, 5, 2, 0, time.UTC)
	assert.Equal(t, "langgraph-20250307_090502", NewSessionID("langgraph", now))
}

func TestNewContext(t *testing.T) {
	tc := NewContext("s-1", []string{"demo", "math"}, map[string]any{"test_type": "direct"})

	assert.Equal(t, "s-1", tc.SessionID)
	assert.Equal(t, []string{"demo", "math"}, tc.Tags)
	assert.Equal(t, map[string]any{
		KeySessionID:   "s-1",
		KeyTags:        []string{"demo", "math"},
		KeyEnvironment: "demo",
		"test_type":    "direct",
	}, tc.Metadata)
	assert.Equal(t, "demo", tc.Environment())
}

func TestNewContext_EnvironmentOverride(t *testing.T) {
	tc := NewContext("s-1", nil, map[string]any{KeyEnvironment: "staging"})
	assert.Equal(t, "staging", tc.Environment())
	assert.Equal(t, []string{}, tc.Metadata[KeyTags])
}

func TestMetadataWith_DoesNotMutate(t *testing.T) {
	tc := NewContext("s-1", nil, nil)
	md := tc.MetadataWith(map[string]any{"node": "solver"})

	assert.Equal(t, "solver", md["node"])
	assert.Equal(t, "s-1", md[KeySessionID])
	_, ok := tc.Metadata["node"]
	assert.False(t, ok)

	var nilCtx *Context
	assert.Equal(t, map[string]any{"a": 1}, nilCtx.MetadataWith(map[string]any{"a": 1}))
	assert.Equal(t, DefaultEnvironment, nilCtx.Environment())
}

func TestWithContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	tc := NewContext("s-2", nil, nil)
	got := FromContext(WithContext(context.Background(), tc))
	require.NotNil(t, got)
	assert.Same(t, tc, got)
}

func TestWith(t *testing.T) {
	tc := NewContext("s-3", []string{"cost-tracking"}, nil)
	child := tc.With(map[string]any{"node_name": "solver"})

	assert.Equal(t, "s-3", child.SessionID)
	assert.Equal(t, []string{"cost-tracking"}, child.Tags)
	assert.Equal(t, "solver", child.Metadata["node_name"])
	_, leaked := tc.Metadata["node_name"]
	assert.False(t, leaked)

	var nilCtx *Context
	assert.Nil(t, nilCtx.With(nil))
}
