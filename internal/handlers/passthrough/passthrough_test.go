package passthrough

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"aistudio2api-go/internal/config"
	"aistudio2api-go/internal/pipeline"
	"aistudio2api-go/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

type loopbackSender struct {
	mux *relay.Mux

	mu   sync.Mutex
	sent []relay.Request
}

func (s *loopbackSender) Send(req relay.Request) error {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()

	go func() {
		s.mux.Deliver(relay.Event{Type: relay.EventResponseHeaders, RequestID: req.RequestID, Status: 200})
		s.mux.Deliver(relay.Event{Type: relay.EventChunk, RequestID: req.RequestID, Data: `{"candidates":[]}`})
		s.mux.Deliver(relay.Event{Type: relay.EventStreamClose, RequestID: req.RequestID})
	}()
	return nil
}

func (s *loopbackSender) SendCancel(string) {}
func (s *loopbackSender) IsConnected() bool { return true }

func (s *loopbackSender) lastSent() relay.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type nopRotor struct{}

func (nopRotor) Accept(bool) error                  { return nil }
func (nopRotor) Finalize()                          {}
func (nopRotor) RecordFailure(int)                  {}
func (nopRotor) RecordSuccess()                     {}
func (nopRotor) RecoverRelay(context.Context) error { return nil }
func (nopRotor) SystemBusy() bool                   { return false }

func newTestHandler(cfg *config.Config) (*Handler, *loopbackSender) {
	mux := relay.NewMux()
	sender := &loopbackSender{mux: mux}
	settings := pipeline.NewSettings(cfg)
	pipe := pipeline.New(cfg, settings, mux, sender, nopRotor{})
	return New(pipe, settings), sender
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Any("/v1beta/*path", h.Handle)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestForwardsPathAndStripsKey(t *testing.T) {
	h, sender := newTestHandler(config.Defaults())

	w := serve(h, "POST", "/v1beta/models/gemini-pro:generateContent?key=sekret&alt=json", `{"contents":[]}`)
	if w.Code != 200 {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}

	sent := sender.lastSent()
	if sent.Path != "/v1beta/models/gemini-pro:generateContent" {
		t.Errorf("path = %q", sent.Path)
	}
	if _, ok := sent.QueryParams["key"]; ok {
		t.Error("key parameter must not be forwarded")
	}
	if sent.QueryParams["alt"] != "json" {
		t.Errorf("query = %v", sent.QueryParams)
	}
	if !sent.IsGenerative {
		t.Error("generateContent must be marked generative")
	}
	if sent.ClientWantsStream {
		t.Error("generateContent is not a streaming path")
	}
}

func TestStreamPathMarksStreaming(t *testing.T) {
	h, sender := newTestHandler(config.Defaults())

	serve(h, "POST", "/v1beta/models/gemini-pro:streamGenerateContent?alt=sse", `{"contents":[]}`)
	sent := sender.lastSent()
	if !sent.ClientWantsStream || !sent.IsGenerative {
		t.Errorf("stream flags wrong: %+v", sent)
	}
	if sent.StreamingMode != relay.ModeReal {
		t.Errorf("StreamingMode = %q", sent.StreamingMode)
	}
}

func TestAcceptHeaderMarksStreaming(t *testing.T) {
	h, sender := newTestHandler(config.Defaults())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Any("/v1beta/*path", h.Handle)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1beta/models/gemini-pro:generateContent", strings.NewReader(`{"contents":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	r.ServeHTTP(w, req)

	sent := sender.lastSent()
	if !sent.ClientWantsStream {
		t.Error("Accept: text/event-stream must select streaming")
	}
}

func TestNonGenerativePassthrough(t *testing.T) {
	h, sender := newTestHandler(config.Defaults())

	serve(h, "GET", "/v1beta/models", "")
	sent := sender.lastSent()
	if sent.IsGenerative {
		t.Error("model listing must not be generative")
	}
	if sent.Method != "GET" {
		t.Errorf("method = %q", sent.Method)
	}
}

func TestModelRedirectAppliesToPath(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redirect25To30 = true
	h, sender := newTestHandler(cfg)

	serve(h, "POST", "/v1beta/models/gemini-2.5-pro:generateContent", `{"contents":[]}`)
	sent := sender.lastSent()
	if sent.Path != "/v1beta/models/gemini-3-pro-preview:generateContent" {
		t.Errorf("path = %q", sent.Path)
	}
}

func TestNativeReasoningInjection(t *testing.T) {
	cfg := config.Defaults()
	cfg.NativeReasoning = true
	h, sender := newTestHandler(cfg)

	serve(h, "POST", "/v1beta/models/gemini-pro:generateContent", `{"contents":[]}`)
	sent := sender.lastSent()
	if !gjson.Get(sent.Body, "generationConfig.thinkingConfig.includeThoughts").Bool() {
		t.Errorf("includeThoughts not injected: %s", sent.Body)
	}

	serve(h, "GET", "/v1beta/models", "")
	if got := sender.lastSent(); strings.Contains(got.Body, "thinkingConfig") {
		t.Error("non-generative requests must not be modified")
	}
}

func TestIsGenerative(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/v1beta/models/m:generateContent", true},
		{"/v1beta/models/m:streamGenerateContent", true},
		{"/v1beta/models/m:countTokens", false},
		{"/v1beta/models", false},
	}
	for _, tc := range cases {
		if got := isGenerative(tc.path); got != tc.want {
			t.Errorf("isGenerative(%q) = %v", tc.path, got)
		}
	}
}
