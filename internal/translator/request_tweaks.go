package translator

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EnsureIncludeThoughts sets generationConfig.thinkingConfig.includeThoughts
// on a Gemini request body unless the client already specified it.
func EnsureIncludeThoughts(body []byte) []byte {
	if gjson.GetBytes(body, "generationConfig.thinkingConfig.includeThoughts").Exists() {
		return body
	}
	out, err := sjson.SetBytes(body, "generationConfig.thinkingConfig.includeThoughts", true)
	if err != nil {
		return body
	}
	return out
}
