// Package core defines the shared types, interfaces and error taxonomy for
// cost-tracked chat completions.
package core

import "context"

// ChatProvider executes chat completions against an upstream.
type ChatProvider interface {
	// ChatCompletion executes a chat completion request. The returned response
	// carries the raw upstream body in Raw.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name identifies the provider in logs and telemetry.
	Name() string
}
