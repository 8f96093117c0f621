package cost

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Locations(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantNil      bool
		wantTotal    float64
		wantInput    *float64
		wantOutput   *float64
		wantLocation Location
	}{
		{
			name:         "direct response top-level usage",
			raw:          `{"id":"gen-1","usage":{"prompt_tokens":10,"completion_tokens":5,"cost":0.0023}}`,
			wantTotal:    0.0023,
			wantLocation: LocationResult,
		},
		{
			name:         "framework llm_output token_usage",
			raw:          `{"llm_output":{"token_usage":{"cost":0.0025,"cost_details":{"upstream_inference_prompt_cost":0.001,"upstream_inference_completions_cost":0.0015}}}}`,
			wantTotal:    0.0025,
			wantInput:    ptr(0.001),
			wantOutput:   ptr(0.0015),
			wantLocation: LocationResult,
		},
		{
			name:         "llm_output usage alias",
			raw:          `{"llm_output":{"usage":{"cost":0.5}}}`,
			wantTotal:    0.5,
			wantLocation: LocationResult,
		},
		{
			name:         "message response metadata",
			raw:          `{"generations":[[{"message":{"response_metadata":{"token_usage":{"cost":0.004}}}}]]}`,
			wantTotal:    0.004,
			wantLocation: LocationMessage,
		},
		{
			name:         "bare message response metadata",
			raw:          `{"content":"6","response_metadata":{"usage":{"cost":0.007}}}`,
			wantTotal:    0.007,
			wantLocation: LocationMessage,
		},
		{
			name:         "generation info",
			raw:          `{"generations":[[{"generation_info":{"token_usage":{"cost":0.009}}}]]}`,
			wantTotal:    0.009,
			wantLocation: LocationGeneration,
		},
		{
			name:         "generic breakdown keys",
			raw:          `{"usage":{"cost":3,"cost_details":{"input":1,"output":2}}}`,
			wantTotal:    3,
			wantInput:    ptr(1),
			wantOutput:   ptr(2),
			wantLocation: LocationResult,
		},
		{
			name:         "partial breakdown",
			raw:          `{"usage":{"cost":0.01,"cost_details":{"upstream_inference_prompt_cost":0.004}}}`,
			wantTotal:    0.01,
			wantInput:    ptr(0.004),
			wantLocation: LocationResult,
		},
		{
			name:         "zero cost is reported, not fabricated",
			raw:          `{"usage":{"cost":0}}`,
			wantTotal:    0,
			wantLocation: LocationResult,
		},
		{
			name:    "no cost anywhere",
			raw:     `{"usage":{"prompt_tokens":10},"llm_output":{"token_usage":{"total_tokens":3}}}`,
			wantNil: true,
		},
		{
			name:    "cost as string is wrong type",
			raw:     `{"usage":{"cost":"0.002"}}`,
			wantNil: true,
		},
		{
			name:    "negative cost rejected",
			raw:     `{"usage":{"cost":-1}}`,
			wantNil: true,
		},
		{
			name:    "overflowing cost rejected",
			raw:     `{"usage":{"cost":1e400}}`,
			wantNil: true,
		},
		{
			name:    "usage is not an object",
			raw:     `{"usage":[1,2,3],"llm_output":"nope"}`,
			wantNil: true,
		},
		{
			name:         "wrong-typed breakdown ignored",
			raw:          `{"usage":{"cost":0.2,"cost_details":{"upstream_inference_prompt_cost":"x","output":-3}}}`,
			wantTotal:    0.2,
			wantLocation: LocationResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, loc := Probe([]byte(tt.raw))
			if tt.wantNil {
				assert.Nil(t, rec)
				assert.Equal(t, LocationNone, loc)
				return
			}
			require.NotNil(t, rec)
			require.NotNil(t, rec.Total)
			assert.Equal(t, tt.wantTotal, *rec.Total)
			assert.Equal(t, tt.wantInput, rec.Input)
			assert.Equal(t, tt.wantOutput, rec.Output)
			assert.Equal(t, tt.wantLocation, loc)
		})
	}
}

func TestExtract_PriorityOrder(t *testing.T) {
	raw := `{
		"llm_output": {"token_usage": {"cost": 0.1}},
		"generations": [[{
			"message": {"response_metadata": {"token_usage": {"cost": 0.2}}},
			"generation_info": {"token_usage": {"cost": 0.3}}
		}]]
	}`
	rec, loc := Probe([]byte(raw))
	require.NotNil(t, rec)
	assert.Equal(t, 0.1, *rec.Total)
	assert.Equal(t, LocationResult, loc)

	// Result location present but without a cost falls through to the message.
	raw = `{
		"llm_output": {"token_usage": {"total_tokens": 12}},
		"generations": [[{
			"message": {"response_metadata": {"token_usage": {"cost": 0.2}}},
			"generation_info": {"token_usage": {"cost": 0.3}}
		}]]
	}`
	rec, loc = Probe([]byte(raw))
	require.NotNil(t, rec)
	assert.Equal(t, 0.2, *rec.Total)
	assert.Equal(t, LocationMessage, loc)
}

func TestExtract_MessageUsageBeforeTokenUsage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{
			name: "framework message",
			raw:  `{"generations":[[{"message":{"response_metadata":{"token_usage":{"cost":0.2},"usage":{"cost":0.4}}}}]]}`,
			want: 0.4,
		},
		{
			name: "bare message",
			raw:  `{"response_metadata":{"token_usage":{"cost":0.2},"usage":{"cost":0.4}}}`,
			want: 0.4,
		},
		{
			name: "usage without cost falls back to token_usage",
			raw:  `{"response_metadata":{"token_usage":{"cost":0.2},"usage":{"total_tokens":9}}}`,
			want: 0.2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, loc := Probe([]byte(tt.raw))
			require.NotNil(t, rec)
			assert.Equal(t, tt.want, *rec.Total)
			assert.Equal(t, LocationMessage, loc)
		})
	}
}

func TestExtract_TotalOnly(t *testing.T) {
	rec := Extract([]byte(`{"usage":{"cost":0.0023}}`))
	require.NotNil(t, rec)
	assert.Equal(t, 0.0023, *rec.Total)
	assert.Nil(t, rec.Input)
	assert.Nil(t, rec.Output)
	assert.Equal(t, map[string]float64{"total": 0.0023}, rec.Details())
}

func TestExtract_PassThrough(t *testing.T) {
	rec := Extract([]byte(`{"usage":{"cost":0.0025,"cost_details":{"upstream_inference_prompt_cost":0.001,"upstream_inference_completions_cost":0.0015}}}`))
	require.NotNil(t, rec)
	assert.Equal(t, map[string]float64{
		"input":  0.001,
		"output": 0.0015,
		"total":  0.0025,
	}, rec.Details())
}

func TestExtract_Malformed(t *testing.T) {
	inputs := []string{"", "null", "{", "[]", `"string"`, "42", "{}", `{"usage":null}`, "\x00\xff"}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			assert.Nil(t, Extract([]byte(in)), "input %q", in)
		})
	}
	assert.Nil(t, Extract(nil))
}

type panicky struct{}

func (panicky) MarshalJSON() ([]byte, error) { panic("boom") }

func TestExtractValue(t *testing.T) {
	t.Run("map", func(t *testing.T) {
		rec := ExtractValue(map[string]any{
			"response_metadata": map[string]any{
				"token_usage": map[string]any{"cost": 0.02},
			},
		})
		require.NotNil(t, rec)
		assert.Equal(t, 0.02, *rec.Total)
	})

	t.Run("raw message", func(t *testing.T) {
		rec := ExtractValue(json.RawMessage(`{"usage":{"cost":1.5}}`))
		require.NotNil(t, rec)
		assert.Equal(t, 1.5, *rec.Total)
	})

	t.Run("string", func(t *testing.T) {
		rec := ExtractValue(`{"usage":{"cost":2}}`)
		require.NotNil(t, rec)
		assert.Equal(t, 2.0, *rec.Total)
	})

	t.Run("unmarshalable", func(t *testing.T) {
		assert.Nil(t, ExtractValue(make(chan int)))
		assert.Nil(t, ExtractValue(func() {}))
		assert.Nil(t, ExtractValue(nil))
	})

	t.Run("panicking marshaler", func(t *testing.T) {
		assert.NotPanics(t, func() {
			assert.Nil(t, ExtractValue(panicky{}))
		})
	})
}

func TestFromUsage(t *testing.T) {
	rec := FromUsage([]byte(`{"prompt_tokens":10,"cost":0.0025,"cost_details":{"upstream_inference_prompt_cost":0.001}}`))
	require.NotNil(t, rec)
	assert.Equal(t, map[string]float64{"input": 0.001, "total": 0.0025}, rec.Details())

	assert.Nil(t, FromUsage([]byte(`{"prompt_tokens":10}`)))
	assert.Nil(t, FromUsage([]byte(`{"usage":{"cost":1}}`)))
	assert.Nil(t, FromUsage(nil))
}

func TestZero(t *testing.T) {
	rec := Zero()
	assert.Equal(t, map[string]float64{"input": 0, "output": 0, "total": 0}, rec.Details())

	// Each call returns independent storage.
	*rec.Total = 5
	assert.Equal(t, 0.0, *Zero().Total)
}

func TestRecord_NilSafe(t *testing.T) {
	var rec *Record
	assert.Nil(t, rec.Details())
	assert.Equal(t, 0.0, rec.TotalOrZero())
}

func TestExtractMetadata(t *testing.T) {
	t.Run("framework result", func(t *testing.T) {
		raw := `{"llm_output":{"token_usage":{"cost":0.1,"is_byok":false},"id":"gen-9","system_fingerprint":"fp_1","service_tier":"default"}}`
		md := ExtractMetadata([]byte(raw))
		assert.Equal(t, map[string]any{
			"openrouter_is_byok":            false,
			"openrouter_id":                 "gen-9",
			"openrouter_system_fingerprint": "fp_1",
			"openrouter_service_tier":       "default",
		}, md)
	})

	t.Run("direct response", func(t *testing.T) {
		raw := `{"id":"gen-2","usage":{"cost":0.1,"is_byok":true}}`
		md := ExtractMetadata([]byte(raw))
		assert.Equal(t, map[string]any{
			"openrouter_is_byok": true,
			"openrouter_id":      "gen-2",
		}, md)
	})

	t.Run("nothing", func(t *testing.T) {
		assert.Nil(t, ExtractMetadata([]byte(`{"usage":{"cost":1}}`)))
		assert.Nil(t, ExtractMetadata([]byte(`not json`)))
	})
}

func ptr(f float64) *float64 { return &f }
