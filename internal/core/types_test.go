package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawWithUsageAccounting(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		defaultModel string
		want         string
	}{
		{
			name: "keeps every field",
			raw: `{"model":"m","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],` +
				`"top_p":0.1,"seed":7,"stop":["\n"],"tools":[{"type":"function","function":{"name":"f"}}],` +
				`"response_format":{"type":"json_object"}}`,
			defaultModel: "d",
			want: `{"model":"m","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],` +
				`"top_p":0.1,"seed":7,"stop":["\n"],"tools":[{"type":"function","function":{"name":"f"}}],` +
				`"response_format":{"type":"json_object"},"usage":{"include":true}}`,
		},
		{
			name:         "merges existing usage",
			raw:          `{"model":"m","messages":[],"usage":{"include":false,"extra":1}}`,
			defaultModel: "d",
			want:         `{"model":"m","messages":[],"usage":{"include":true,"extra":1}}`,
		},
		{
			name:         "null usage",
			raw:          `{"model":"m","messages":[],"usage":null}`,
			defaultModel: "d",
			want:         `{"model":"m","messages":[],"usage":{"include":true}}`,
		},
		{
			name:         "fills missing model",
			raw:          `{"messages":[]}`,
			defaultModel: "d",
			want:         `{"model":"d","messages":[],"usage":{"include":true}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ChatRequest{Raw: json.RawMessage(tt.raw)}
			got, err := req.RawWithUsageAccounting(tt.defaultModel)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
			assert.JSONEq(t, tt.raw, string(req.Raw), "caller body must not be mutated")
		})
	}
}

func TestRawWithUsageAccounting_Invalid(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `null`, `{"usage":"yes"}`, `{`} {
		_, err := (&ChatRequest{Raw: json.RawMessage(raw)}).RawWithUsageAccounting("d")
		assert.Error(t, err, raw)
	}
}

func TestChatRequestInput(t *testing.T) {
	typed := &ChatRequest{Messages: []Message{UserMessage("hi")}}
	assert.Equal(t, []Message{UserMessage("hi")}, typed.Input())

	raw := &ChatRequest{Raw: json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`)}
	assert.Equal(t, json.RawMessage(`[{"role":"user","content":"hi"}]`), raw.Input())

	assert.Nil(t, (&ChatRequest{Raw: json.RawMessage(`{}`)}).Input())
}
