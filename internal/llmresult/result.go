// Package llmresult builds the result envelope that orchestration frameworks
// hand to their callbacks: a list of generations plus an llm_output block. The
// same usage data appears on the output block and on the generated message, so
// the cost normalizer can recover it from either place.
package llmresult

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"costtrace/internal/core"
)

// Result is a framework-style chat result.
type Result struct {
	Generations [][]Generation `json:"generations"`
	LLMOutput   *Output        `json:"llm_output"`
}

// Generation is one candidate produced by the model.
type Generation struct {
	Text           string          `json:"text"`
	GenerationInfo *GenerationInfo `json:"generation_info,omitempty"`
	Message        *Message        `json:"message,omitempty"`
}

// GenerationInfo carries per-generation details.
type GenerationInfo struct {
	FinishReason string          `json:"finish_reason,omitempty"`
	ModelName    string          `json:"model_name,omitempty"`
	TokenUsage   json.RawMessage `json:"token_usage,omitempty"`
}

// Message is the AI message attached to a generation.
type Message struct {
	Type             string   `json:"type"`
	Content          string   `json:"content"`
	ResponseMetadata Metadata `json:"response_metadata"`
}

// Metadata is the response metadata attached to a message.
type Metadata struct {
	TokenUsage        json.RawMessage `json:"token_usage,omitempty"`
	ModelName         string          `json:"model_name,omitempty"`
	ID                string          `json:"id,omitempty"`
	SystemFingerprint string          `json:"system_fingerprint,omitempty"`
	ServiceTier       string          `json:"service_tier,omitempty"`
	FinishReason      string          `json:"finish_reason,omitempty"`
}

// Output is the llm_output block for the whole call.
type Output struct {
	TokenUsage        json.RawMessage `json:"token_usage,omitempty"`
	ModelName         string          `json:"model_name,omitempty"`
	ID                string          `json:"id,omitempty"`
	SystemFingerprint string          `json:"system_fingerprint,omitempty"`
	ServiceTier       string          `json:"service_tier,omitempty"`
}

// FromChatResponse wraps a provider response. Usage is copied verbatim from the
// raw body so provider-specific fields such as cost survive; when the raw body
// has no usage object the typed usage is used instead.
func FromChatResponse(resp *core.ChatResponse) *Result {
	if resp == nil {
		return &Result{Generations: [][]Generation{}}
	}

	usage := rawUsage(resp)
	msg := &Message{
		Type:    "ai",
		Content: resp.Content(),
		ResponseMetadata: Metadata{
			TokenUsage:        usage,
			ModelName:         resp.Model,
			ID:                resp.ID,
			SystemFingerprint: resp.SystemFingerprint,
			ServiceTier:       resp.ServiceTier,
			FinishReason:      resp.FinishReason(),
		},
	}

	return &Result{
		Generations: [][]Generation{{
			{
				Text: msg.Content,
				GenerationInfo: &GenerationInfo{
					FinishReason: resp.FinishReason(),
					ModelName:    resp.Model,
				},
				Message: msg,
			},
		}},
		LLMOutput: &Output{
			TokenUsage:        usage,
			ModelName:         resp.Model,
			ID:                resp.ID,
			SystemFingerprint: resp.SystemFingerprint,
			ServiceTier:       resp.ServiceTier,
		},
	}
}

func rawUsage(resp *core.ChatResponse) json.RawMessage {
	if u := gjson.GetBytes(resp.Raw, "usage"); u.IsObject() {
		return json.RawMessage(u.Raw)
	}
	b, err := json.Marshal(resp.Usage)
	if err != nil {
		return nil
	}
	return b
}

// JSON marshals the result.
func (r *Result) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Message returns the first generation's message, or nil.
func (r *Result) Message() *Message {
	if r == nil || len(r.Generations) == 0 || len(r.Generations[0]) == 0 {
		return nil
	}
	return r.Generations[0][0].Message
}

// Text returns the first generation's text.
func (r *Result) Text() string {
	if r == nil || len(r.Generations) == 0 || len(r.Generations[0]) == 0 {
		return ""
	}
	return r.Generations[0][0].Text
}

// WithoutOutput returns a copy without the llm_output block. Some framework
// paths (streaming, cached runs) drop it and leave usage only on the message.
func (r *Result) WithoutOutput() *Result {
	cp := *r
	cp.LLMOutput = nil
	return &cp
}
