package pipeline

import (
	"fmt"
	"net/http"
	"strings"

	"aistudio2api-go/internal/apierr"
)

func setSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// copyHeaders forwards upstream headers except the ones the streaming
// response must own.
func copyHeaders(dst http.Header, src map[string]string) {
	for k, v := range src {
		switch strings.ToLower(k) {
		case "content-length", "content-type", "transfer-encoding", "connection":
			continue
		}
		dst.Set(k, v)
	}
}

func writeSSEData(w http.ResponseWriter, flusher http.Flusher, payload []byte) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// writeRaw forwards an upstream frame verbatim, restoring the SSE frame
// delimiter when the relay stripped it.
func writeRaw(w http.ResponseWriter, flusher http.Flusher, data string) {
	_, _ = w.Write([]byte(data))
	if !strings.HasSuffix(data, "\n\n") {
		_, _ = w.Write([]byte("\n\n"))
	}
	flusher.Flush()
}

// writeSSEError emits an error as a stream payload; the HTTP status is
// already on the wire at this point.
func writeSSEError(w http.ResponseWriter, flusher http.Flusher, ex Exchange, apiErr *apierr.APIError) {
	payload, err := apiErr.ToJSON(ex.ErrFormat)
	if err != nil {
		return
	}
	writeSSEData(w, flusher, payload)
}
