// Package cost normalizes provider-reported cost accounting into a single record.
//
// Chat-completion results reach the tracker in several shapes: the raw body of a
// direct provider call, or a framework result envelope where usage may sit on the
// overall output, on the generated message, or on the generation entry. The
// package probes each known location in a fixed order and stops at the first one
// that carries a numeric cost.
package cost

import (
	"encoding/json"
	"math"

	"github.com/tidwall/gjson"
)

// Location identifies where in a raw result the cost was found.
type Location string

const (
	// LocationNone means no location carried a cost.
	LocationNone Location = ""
	// LocationResult is usage metadata attached to the overall result.
	LocationResult Location = "result"
	// LocationMessage is metadata attached to the generated message.
	LocationMessage Location = "message"
	// LocationGeneration is metadata attached to the generation entry.
	LocationGeneration Location = "generation"
)

// Record is the canonical per-call cost. Total is always set on a non-nil Record;
// Input and Output are set only when the upstream reported a breakdown.
type Record struct {
	Input  *float64 `json:"input,omitempty"`
	Output *float64 `json:"output,omitempty"`
	Total  *float64 `json:"total"`
}

// probe is one candidate location and the usage objects checked within it, in order.
type probe struct {
	location Location
	paths    []string
}

// probes is evaluated top to bottom. Upstream shape changes belong here and nowhere else.
var probes = []probe{
	{
		location: LocationResult,
		paths: []string{
			"llm_output.token_usage",
			"llm_output.usage",
			"usage",
		},
	},
	{
		location: LocationMessage,
		paths: []string{
			"generations.0.0.message.response_metadata.usage",
			"generations.0.0.message.response_metadata.token_usage",
			"response_metadata.usage",
			"response_metadata.token_usage",
			"choices.0.message.response_metadata.usage",
		},
	},
	{
		location: LocationGeneration,
		paths: []string{
			"generations.0.0.generation_info.token_usage",
			"generations.0.0.generation_info.usage",
		},
	},
}

// Breakdown keys inside a usage object's cost_details, most specific first.
var (
	inputKeys  = []string{"upstream_inference_prompt_cost", "input"}
	outputKeys = []string{"upstream_inference_completions_cost", "output"}
)

// Extract returns the cost carried by a raw JSON result, or nil when no known
// location reports one. It never fails: malformed input yields nil.
func Extract(raw []byte) *Record {
	rec, _ := Probe(raw)
	return rec
}

// ExtractValue is Extract for an arbitrary Go value. Byte slices and strings are
// treated as JSON; anything else is marshaled first. Values that cannot be
// marshaled yield nil.
func ExtractValue(v any) (rec *Record) {
	defer func() {
		if recover() != nil {
			rec = nil
		}
	}()

	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return Extract(t)
	case json.RawMessage:
		return Extract(t)
	case string:
		return Extract([]byte(t))
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return Extract(raw)
}

// FromUsage reads a cost from a bare usage object such as a message's
// token_usage metadata.
func FromUsage(raw []byte) *Record {
	doc, ok := parse(raw)
	if !ok {
		return nil
	}
	return fromUsage(doc)
}

// Probe is Extract that also reports which location matched.
func Probe(raw []byte) (*Record, Location) {
	doc, ok := parse(raw)
	if !ok {
		return nil, LocationNone
	}

	for _, p := range probes {
		for _, path := range p.paths {
			if rec := fromUsage(doc.Get(path)); rec != nil {
				return rec, p.location
			}
		}
	}
	return nil, LocationNone
}

// Zero returns an all-zero record. It is attached only on the error path so that
// failed generations carry the same payload shape as successful ones.
func Zero() *Record {
	var in, out, total float64
	return &Record{Input: &in, Output: &out, Total: &total}
}

// Details returns the backend cost_details mapping. Absent fields are omitted.
func (r *Record) Details() map[string]float64 {
	if r == nil {
		return nil
	}
	d := make(map[string]float64, 3)
	if r.Input != nil {
		d["input"] = *r.Input
	}
	if r.Output != nil {
		d["output"] = *r.Output
	}
	if r.Total != nil {
		d["total"] = *r.Total
	}
	return d
}

// TotalOrZero returns the total cost, or 0 for a nil record.
func (r *Record) TotalOrZero() float64 {
	if r == nil || r.Total == nil {
		return 0
	}
	return *r.Total
}

func parse(raw []byte) (gjson.Result, bool) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return gjson.Result{}, false
	}
	doc := gjson.ParseBytes(raw)
	return doc, doc.IsObject()
}

func fromUsage(usage gjson.Result) *Record {
	if !usage.IsObject() {
		return nil
	}
	total, ok := amount(usage.Get("cost"))
	if !ok {
		return nil
	}

	rec := &Record{Total: &total}
	if details := usage.Get("cost_details"); details.IsObject() {
		rec.Input = firstAmount(details, inputKeys)
		rec.Output = firstAmount(details, outputKeys)
	}
	return rec
}

func firstAmount(obj gjson.Result, keys []string) *float64 {
	for _, k := range keys {
		if v, ok := amount(obj.Get(k)); ok {
			return &v
		}
	}
	return nil
}

// amount accepts finite, non-negative JSON numbers only.
func amount(v gjson.Result) (float64, bool) {
	if v.Type != gjson.Number {
		return 0, false
	}
	f := v.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}
