// Package telemetry carries session and tag information for a group of LLM
// calls so every generation recorded for them lands in the same trace.
package telemetry

import (
	"context"
	"maps"
	"slices"
	"time"
)

// DefaultEnvironment is recorded when no environment is configured.
const DefaultEnvironment = "demo"

// Metadata keys always present on a context.
const (
	KeySessionID   = "langfuse_session_id"
	KeyTags        = "langfuse_tags"
	KeyEnvironment = "environment"
)

// Context groups calls under one session.
type Context struct {
	SessionID string
	Tags      []string
	Metadata  map[string]any
}

// NewSessionID returns "<prefix>-YYYYMMDD_HHMMSS" for the given time.
func NewSessionID(prefix string, now time.Time) string {
	return prefix + "-" + now.Format("20060102_150405")
}

// NewContext builds a context. Extras are merged after the standard keys and
// may override environment.
func NewContext(sessionID string, tags []string, extras map[string]any) *Context {
	if tags == nil {
		tags = []string{}
	}
	md := map[string]any{
		KeySessionID:   sessionID,
		KeyTags:        slices.Clone(tags),
		KeyEnvironment: DefaultEnvironment,
	}
	maps.Copy(md, extras)
	return &Context{
		SessionID: sessionID,
		Tags:      slices.Clone(tags),
		Metadata:  md,
	}
}

// Environment returns the environment recorded in the metadata.
func (c *Context) Environment() string {
	if c == nil {
		return DefaultEnvironment
	}
	if env, ok := c.Metadata[KeyEnvironment].(string); ok && env != "" {
		return env
	}
	return DefaultEnvironment
}

// MetadataWith returns a fresh map holding the context metadata plus extras.
// The context itself is not modified.
func (c *Context) MetadataWith(extras map[string]any) map[string]any {
	out := make(map[string]any, len(extras)+3)
	if c != nil {
		maps.Copy(out, c.Metadata)
	}
	maps.Copy(out, extras)
	return out
}

// With returns a copy in the same session whose metadata also carries extras.
func (c *Context) With(extras map[string]any) *Context {
	if c == nil {
		return nil
	}
	return &Context{
		SessionID: c.SessionID,
		Tags:      slices.Clone(c.Tags),
		Metadata:  c.MetadataWith(extras),
	}
}

type contextKey struct{}

// WithContext attaches a telemetry context.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the attached telemetry context, or nil.
func FromContext(ctx context.Context) *Context {
	if tc, ok := ctx.Value(contextKey{}).(*Context); ok {
		return tc
	}
	return nil
}
