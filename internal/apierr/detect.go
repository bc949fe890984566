package apierr

import "strings"

// DetectFormat picks the error dialect from the request path: Google API
// paths live under /v1beta, everything else speaks OpenAI.
func DetectFormat(path string) Format {
	if strings.HasPrefix(path, "/v1beta") {
		return FormatGemini
	}
	return FormatOpenAI
}
