package cost

import "github.com/tidwall/gjson"

// MetadataPrefix is prepended to provider fields copied into generation metadata.
const MetadataPrefix = "openrouter_"

var outputFields = []string{"system_fingerprint", "service_tier", "id"}

// ExtractMetadata collects provider bookkeeping fields from a raw result:
// whether the key was bring-your-own (is_byok, from the first usage object that
// reports it) and the response id, system fingerprint and service tier. Returns
// nil when none are present.
func ExtractMetadata(raw []byte) map[string]any {
	doc, ok := parse(raw)
	if !ok {
		return nil
	}

	md := make(map[string]any)

byok:
	for _, p := range probes {
		for _, path := range p.paths {
			v := doc.Get(path + ".is_byok")
			if v.IsBool() {
				md[MetadataPrefix+"is_byok"] = v.Bool()
				break byok
			}
		}
	}

	// Framework results keep these on llm_output; direct responses at the top.
	output := doc.Get("llm_output")
	if !output.IsObject() {
		output = doc
	}
	for _, field := range outputFields {
		v := output.Get(field)
		if v.Type == gjson.String && v.Str != "" {
			md[MetadataPrefix+field] = v.Str
		}
	}

	if len(md) == 0 {
		return nil
	}
	return md
}
