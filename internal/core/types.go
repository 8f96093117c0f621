package core

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Usage       *UsageOptions `json:"usage,omitempty"`
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`

	// Raw, when set, is a client's request body forwarded upstream as is.
	// Only Model is read from the typed fields; the rest are ignored.
	Raw json.RawMessage `json:"-"`
}

// UsageOptions asks the upstream to report usage accounting, including cost,
// in the response body.
type UsageOptions struct {
	Include bool `json:"include"`
}

// WithUsageAccounting returns a shallow copy of the request with usage reporting
// enabled. The caller's request is not mutated.
func (r *ChatRequest) WithUsageAccounting() *ChatRequest {
	cp := *r
	cp.Usage = &UsageOptions{Include: true}
	return &cp
}

// RawWithUsageAccounting returns Raw with usage.include set to true and the
// model set to defaultModel when the body has none. Every other field,
// including unknown ones, keeps its value.
func (r *ChatRequest) RawWithUsageAccounting(defaultModel string) (json.RawMessage, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(r.Raw, &body); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("request body must be a JSON object")
	}

	var usage map[string]any
	if u, ok := body["usage"]; ok {
		if err := json.Unmarshal(u, &usage); err != nil {
			return nil, fmt.Errorf("usage must be an object: %w", err)
		}
	}
	if usage == nil {
		usage = map[string]any{}
	}
	usage["include"] = true
	b, err := json.Marshal(usage)
	if err != nil {
		return nil, err
	}
	body["usage"] = b

	if defaultModel != "" && gjson.GetBytes(r.Raw, "model").String() == "" {
		if body["model"], err = json.Marshal(defaultModel); err != nil {
			return nil, err
		}
	}
	return json.Marshal(body)
}

// Input returns the messages to record as the generation input: the raw
// messages array of a forwarded body, the typed messages otherwise.
func (r *ChatRequest) Input() any {
	if len(r.Raw) == 0 {
		return r.Messages
	}
	if m := gjson.GetBytes(r.Raw, "messages"); m.Exists() {
		return json.RawMessage(m.Raw)
	}
	return nil
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a message with the system role.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a message with the user role.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage builds a message with the assistant role.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// ChatResponse is an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Model             string   `json:"model"`
	Provider          string   `json:"provider,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
	ServiceTier       string   `json:"service_tier,omitempty"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage"`
	Created           int64    `json:"created"`

	// Raw is the upstream body exactly as received. Cost probing runs against it
	// because providers attach fields the typed struct does not model.
	Raw json.RawMessage `json:"-"`
}

// Content returns the first choice's message content, or "" when there is none.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// FinishReason returns the first choice's finish reason.
func (r *ChatResponse) FinishReason() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].FinishReason
}

// Choice is a single completion choice.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
	Index        int     `json:"index"`
}

// Usage is token usage as reported by the upstream. Cost is only present when
// the request asked for usage accounting and the upstream supports it.
type Usage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	Cost             *float64 `json:"cost,omitempty"`
	IsBYOK           *bool    `json:"is_byok,omitempty"`
}
