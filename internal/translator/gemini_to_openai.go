package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// GeminiStreamChunkToOpenAI converts one Gemini SSE frame (optionally
// prefixed with "data: ") into an OpenAI chat.completion.chunk. It returns
// ok=false when the chunk carries neither delta content nor a finish reason
// and should be suppressed.
func GeminiStreamChunkToOpenAI(frame []byte, model, requestID string) ([]byte, bool) {
	payload := bytes.TrimSpace(frame)
	payload = bytes.TrimPrefix(payload, []byte("data: "))

	result := gjson.ParseBytes(payload)
	candidate := result.Get("candidates.0")
	if !candidate.Exists() {
		return nil, false
	}

	delta := map[string]any{}
	var content, reasoning string

	for _, part := range candidate.Get("content.parts").Array() {
		switch {
		case part.Get("thought").Bool():
			reasoning += part.Get("text").String()
		case part.Get("inlineData").Exists():
			content += "![Image]"
		default:
			content += part.Get("text").String()
		}
	}
	if content != "" {
		delta["content"] = content
	}
	if reasoning != "" {
		delta["reasoning_content"] = reasoning
	}

	var finishReason any
	if fr := candidate.Get("finishReason"); fr.Exists() && fr.String() != "" {
		finishReason = fr.String()
	}

	if len(delta) == 0 && finishReason == nil {
		return nil, false
	}

	chunk := map[string]any{
		"id":      "chatcmpl-" + requestID,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
	out, _ := json.Marshal(chunk)
	return out, true
}

// GeminiResponseToOpenAI converts a buffered Gemini response into an OpenAI
// chat.completion object. Inline images are rendered as Markdown data URIs
// with the full base64 payload.
func GeminiResponseToOpenAI(body []byte, model, requestID string) ([]byte, error) {
	result := gjson.ParseBytes(body)
	if !result.IsObject() {
		return nil, fmt.Errorf("upstream response is not valid JSON")
	}

	candidate := result.Get("candidates.0")

	var content, reasoning string
	for _, part := range candidate.Get("content.parts").Array() {
		switch {
		case part.Get("thought").Bool():
			reasoning += part.Get("text").String()
		case part.Get("inlineData").Exists():
			content += markdownImage(part.Get("inlineData"))
		default:
			content += part.Get("text").String()
		}
	}

	finishReason := "UNKNOWN"
	if fr := candidate.Get("finishReason"); fr.Exists() && fr.String() != "" {
		finishReason = fr.String()
	}

	message := map[string]any{
		"role":    "assistant",
		"content": content,
	}
	if reasoning != "" {
		message["reasoning_content"] = reasoning
	} else {
		message["reasoning_content"] = nil
	}

	response := map[string]any{
		"id":      "chatcmpl-" + requestID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []any{map[string]any{
			"index":         0,
			"message":       message,
			"finish_reason": finishReason,
		}},
	}

	if usage := result.Get("usageMetadata"); usage.Exists() {
		prompt := usage.Get("promptTokenCount").Int()
		completion := usage.Get("candidatesTokenCount").Int()
		response["usage"] = map[string]any{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      prompt + completion,
		}
	}

	return json.Marshal(response)
}

func markdownImage(inline gjson.Result) string {
	return fmt.Sprintf("![image](data:%s;base64,%s)",
		inline.Get("mimeType").String(), inline.Get("data").String())
}

// ScrapeFinishReason extracts a finishReason from a raw SSE chunk for
// logging. Failures return the empty string and never affect control flow.
func ScrapeFinishReason(chunk string) string {
	payload := bytes.TrimSpace([]byte(chunk))
	payload = bytes.TrimPrefix(payload, []byte("data: "))
	return gjson.GetBytes(payload, "candidates.0.finishReason").String()
}
