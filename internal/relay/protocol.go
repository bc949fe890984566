package relay

// Frames exchanged with the in-page relay script. Every frame is one JSON
// text message carrying a request_id; frames without one are dropped.

// StreamingMode values understood by the relay script.
const (
	ModeReal = "real"
	ModeFake = "fake"
)

// Request is the proxy → relay frame describing one upstream HTTP call.
type Request struct {
	RequestID         string            `json:"request_id"`
	Method            string            `json:"method"`
	Path              string            `json:"path"`
	Headers           map[string]string `json:"headers"`
	QueryParams       map[string]string `json:"query_params"`
	Body              string            `json:"body"`
	StreamingMode     string            `json:"streaming_mode"`
	IsGenerative      bool              `json:"is_generative"`
	ResumeOnProhibit  bool              `json:"resume_on_prohibit"`
	ResumeLimit       int               `json:"resume_limit"`
	ClientWantsStream bool              `json:"client_wants_stream"`
}

// EventType tags relay → proxy frames.
type EventType string

const (
	EventResponseHeaders EventType = "response_headers"
	EventChunk           EventType = "chunk"
	EventError           EventType = "error"
	EventStreamClose     EventType = "stream_close"

	// EventCancel is the proxy → relay control frame.
	EventCancel EventType = "cancel_request"

	// EventStreamEnd is the internal sentinel the multiplexer substitutes
	// for stream_close; it never appears on the wire.
	EventStreamEnd EventType = "STREAM_END"
)

// Event is a relay → proxy frame. Field presence depends on Type:
// response_headers carries Status and Headers, chunk carries Data,
// error carries Status and Message.
type Event struct {
	Type      EventType         `json:"event_type"`
	RequestID string            `json:"request_id"`
	Status    int               `json:"status,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Data      string            `json:"data,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// Terminal reports whether the event ends its request's stream.
func (e Event) Terminal() bool {
	return e.Type == EventError || e.Type == EventStreamEnd
}
