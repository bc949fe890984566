package translator

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// RewriteInlineImages replaces inlineData parts of a Gemini response with
// text parts carrying a Markdown image data URI, in place. Non-JSON input
// is returned unchanged.
func RewriteInlineImages(body []byte) []byte {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return body
	}

	out := string(body)
	for ci, candidate := range parsed.Get("candidates").Array() {
		for pi, part := range candidate.Get("content.parts").Array() {
			inline := part.Get("inlineData")
			if !inline.Exists() {
				continue
			}
			path := fmt.Sprintf("candidates.%d.content.parts.%d", ci, pi)
			out, _ = sjson.Set(out, path, map[string]any{
				"text": markdownImage(inline),
			})
		}
	}
	return []byte(out)
}
