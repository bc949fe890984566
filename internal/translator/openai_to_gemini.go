package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// safetySettings disables all four harm-category filters; the upstream web
// app applies its own moderation regardless.
var safetySettings = []map[string]string{
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
}

// OpenAIToGeminiRequest converts an OpenAI chat completions request body to
// the Gemini generateContent shape. When includeThoughts is set, thinking
// output is requested via generationConfig.thinkingConfig.
func OpenAIToGeminiRequest(rawJSON []byte, includeThoughts bool) []byte {
	out := `{"contents":[]}`

	contents, system := translateMessages(rawJSON)
	contentsJSON, _ := json.Marshal(contents)
	out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))

	if system != "" {
		sysJSON, _ := json.Marshal(map[string]any{
			"parts": []any{map[string]any{"text": system}},
		})
		out, _ = sjson.SetRaw(out, "systemInstruction", string(sysJSON))
	}

	genConfig := buildGenerationConfig(rawJSON, includeThoughts)
	if len(genConfig) > 0 {
		genJSON, _ := json.Marshal(genConfig)
		out, _ = sjson.SetRaw(out, "generationConfig", string(genJSON))
	}

	safetyJSON, _ := json.Marshal(safetySettings)
	out, _ = sjson.SetRaw(out, "safetySettings", string(safetyJSON))

	return []byte(out)
}

// GeminiEndpoint returns the upstream path and query string for a model.
func GeminiEndpoint(model string, stream bool) (path string, query map[string]string) {
	op := "generateContent"
	query = map[string]string{}
	if stream {
		op = "streamGenerateContent"
		query["alt"] = "sse"
	}
	return fmt.Sprintf("/v1beta/models/%s:%s", model, op), query
}

// translateMessages maps OpenAI messages to Gemini contents. Every system
// message is merged into a single newline-joined instruction string.
func translateMessages(rawJSON []byte) ([]any, string) {
	var contents []any
	var systemParts []string

	for _, msg := range gjson.GetBytes(rawJSON, "messages").Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")

		if role == "system" {
			systemParts = append(systemParts, collectText(content)...)
			continue
		}

		geminiRole := role
		if role == "assistant" {
			geminiRole = "model"
		}

		parts := convertContent(content)
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]any{
			"role":  geminiRole,
			"parts": parts,
		})
	}

	return contents, strings.Join(systemParts, "\n")
}

func collectText(content gjson.Result) []string {
	if !content.IsArray() {
		if s := content.String(); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, part := range content.Array() {
		if part.Get("type").String() == "text" {
			out = append(out, part.Get("text").String())
		}
	}
	return out
}

func convertContent(content gjson.Result) []any {
	if !content.IsArray() {
		if s := content.String(); s != "" {
			return []any{map[string]any{"text": s}}
		}
		return nil
	}

	var parts []any
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"text": part.Get("text").String()})
		case "image_url":
			if p := convertImagePart(part.Get("image_url.url").String()); p != nil {
				parts = append(parts, p)
			}
		}
	}
	return parts
}

// convertImagePart maps data URIs to inlineData. Remote URLs are dropped:
// the relay context cannot fetch arbitrary origins.
func convertImagePart(url string) any {
	if !strings.HasPrefix(url, "data:") {
		return nil
	}
	split := strings.SplitN(url, ",", 2)
	if len(split) != 2 {
		return nil
	}
	mimeType := strings.TrimPrefix(split[0], "data:")
	mimeType = strings.TrimSuffix(mimeType, ";base64")
	return map[string]any{
		"inlineData": map[string]any{
			"mimeType": mimeType,
			"data":     split[1],
		},
	}
}

func buildGenerationConfig(rawJSON []byte, includeThoughts bool) map[string]any {
	genConfig := make(map[string]any)

	if temp := gjson.GetBytes(rawJSON, "temperature"); temp.Exists() {
		genConfig["temperature"] = temp.Value()
	}
	if topP := gjson.GetBytes(rawJSON, "top_p"); topP.Exists() {
		genConfig["topP"] = topP.Value()
	}
	if topK := gjson.GetBytes(rawJSON, "top_k"); topK.Exists() {
		genConfig["topK"] = int(topK.Int())
	}
	if maxTokens := gjson.GetBytes(rawJSON, "max_tokens"); maxTokens.Exists() {
		genConfig["maxOutputTokens"] = int(maxTokens.Int())
	}
	if stop := gjson.GetBytes(rawJSON, "stop"); stop.Exists() {
		if seqs := collectStopSequences(stop); len(seqs) > 0 {
			genConfig["stopSequences"] = seqs
		}
	}
	if includeThoughts {
		genConfig["thinkingConfig"] = map[string]any{"includeThoughts": true}
	}

	return genConfig
}

func collectStopSequences(stop gjson.Result) []string {
	var out []string
	if stop.IsArray() {
		for _, s := range stop.Array() {
			out = append(out, s.String())
		}
	} else if s := stop.String(); s != "" {
		out = append(out, s)
	}
	return out
}
