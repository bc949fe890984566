package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"aistudio2api-go/internal/config"
	adminh "aistudio2api-go/internal/handlers/admin"
	oh "aistudio2api-go/internal/handlers/openai"
	ph "aistudio2api-go/internal/handlers/passthrough"
	"aistudio2api-go/internal/pipeline"
	"aistudio2api-go/internal/relay"
	"aistudio2api-go/internal/rotation"
	"github.com/gin-gonic/gin"
)

type stubSender struct{}

func (stubSender) Send(relay.Request) error { return nil }
func (stubSender) SendCancel(string)        {}
func (stubSender) IsConnected() bool        { return false }

type stubRotor struct{}

func (stubRotor) Accept(bool) error                  { return nil }
func (stubRotor) Finalize()                          {}
func (stubRotor) RecordFailure(int)                  {}
func (stubRotor) RecordSuccess()                     {}
func (stubRotor) RecoverRelay(context.Context) error { return nil }
func (stubRotor) SystemBusy() bool                   { return false }

type stubAdminRotor struct{}

func (stubAdminRotor) Get() rotation.Snapshot  { return rotation.Snapshot{CurrentIndex: 1} }
func (stubAdminRotor) RequestSwitch(int) error { return nil }

type stubStore struct{}

func (stubStore) AvailableIndices() []int   { return []int{1} }
func (stubStore) NameOf(int) (string, bool) { return "a@example.com", true }
func (stubStore) Load(int) ([]byte, error)  { return []byte("{}"), nil }
func (stubStore) MaxIndex() int             { return 1 }

type stubRelay struct{}

func (stubRelay) IsConnected() bool { return false }

// loopSender echoes a canned success back through the mux for every send.
type loopSender struct {
	mux *relay.Mux

	mu   sync.Mutex
	sent []relay.Request
}

func (s *loopSender) Send(req relay.Request) error {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()

	go func() {
		s.mux.Deliver(relay.Event{Type: relay.EventResponseHeaders, RequestID: req.RequestID, Status: 200})
		s.mux.Deliver(relay.Event{Type: relay.EventChunk, RequestID: req.RequestID, Data: `{"ok":true}`})
		s.mux.Deliver(relay.Event{Type: relay.EventStreamClose, RequestID: req.RequestID})
	}()
	return nil
}

func (s *loopSender) SendCancel(string) {}
func (s *loopSender) IsConnected() bool { return true }

func (s *loopSender) lastSent() relay.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func buildTestEngine(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	settings := pipeline.NewSettings(cfg)
	mux := relay.NewMux()
	pipe := pipeline.New(cfg, settings, mux, stubSender{}, stubRotor{})
	deps := Dependencies{
		OpenAI:      oh.New(pipe, settings),
		Passthrough: ph.New(pipe, settings),
		Admin:       adminh.New(cfg, settings, stubAdminRotor{}, stubStore{}, stubRelay{}),
	}
	return BuildAPI(cfg, deps)
}

func TestHealthz(t *testing.T) {
	engine := buildTestEngine(config.Defaults())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != 200 || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("healthz: %d %q", w.Code, w.Body.String())
	}
}

func TestMetricsExposed(t *testing.T) {
	engine := buildTestEngine(config.Defaults())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Errorf("metrics status = %d", w.Code)
	}
}

func TestAPIRoutesRequireKey(t *testing.T) {
	engine := buildTestEngine(config.Defaults())

	for _, target := range []string{"/v1/chat/completions", "/v1beta/models/m:generateContent"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest("POST", target, nil))
		if w.Code != 401 {
			t.Errorf("%s without key: status = %d", target, w.Code)
		}
	}
}

func TestAdminPageServed(t *testing.T) {
	engine := buildTestEngine(config.Defaults())

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/admin", nil))
	if w.Code != 200 || !strings.Contains(w.Body.String(), "aistudio2api console") {
		t.Errorf("admin page: %d", w.Code)
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 307 {
		t.Errorf("root redirect status = %d", w.Code)
	}
}

func TestUnmatchedPathsProxyToRelay(t *testing.T) {
	cfg := config.Defaults()
	gin.SetMode(gin.TestMode)
	settings := pipeline.NewSettings(cfg)
	mux := relay.NewMux()
	sender := &loopSender{mux: mux}
	pipe := pipeline.New(cfg, settings, mux, sender, stubRotor{})
	deps := Dependencies{
		OpenAI:      oh.New(pipe, settings),
		Passthrough: ph.New(pipe, settings),
		Admin:       adminh.New(cfg, settings, stubAdminRotor{}, stubStore{}, stubRelay{}),
	}
	engine := BuildAPI(cfg, deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1internal/models/gemini-pro:countTokens?key=123456", strings.NewReader("{}"))
	engine.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("unrouted path status = %d, body %q", w.Code, w.Body.String())
	}
	sent := sender.lastSent()
	if sent.Path != "/v1internal/models/gemini-pro:countTokens" {
		t.Errorf("forwarded path = %q", sent.Path)
	}
	if _, ok := sent.QueryParams["key"]; ok {
		t.Error("key query parameter must be stripped before forwarding")
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("POST", "/v1internal/models/gemini-pro:countTokens", nil))
	if w.Code != 401 {
		t.Errorf("unrouted path without key: status = %d", w.Code)
	}
}

func TestAdminAPIGated(t *testing.T) {
	engine := buildTestEngine(config.Defaults())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))
	if w.Code != 401 {
		t.Errorf("status without session: %d", w.Code)
	}
}
