package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"aistudio2api-go/internal/config"
	"aistudio2api-go/internal/pipeline"
	"aistudio2api-go/internal/rotation"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeRotor struct {
	mu       sync.Mutex
	snap     rotation.Snapshot
	switches []int
	err      error
}

func (f *fakeRotor) Get() rotation.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeRotor) RequestSwitch(target int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.switches = append(f.switches, target)
	f.snap.CurrentIndex = target
	return nil
}

type fakeStore struct{}

func (fakeStore) AvailableIndices() []int { return []int{1, 2} }
func (fakeStore) NameOf(index int) (string, bool) {
	if index == 1 {
		return "alice@example.com", true
	}
	return "bob@example.com", true
}
func (fakeStore) Load(int) ([]byte, error) { return []byte("{}"), nil }
func (fakeStore) MaxIndex() int            { return 2 }

type fakeRelay struct{ connected bool }

func (f fakeRelay) IsConnected() bool { return f.connected }

func newTestHandler(cfg *config.Config) (*Handler, *fakeRotor) {
	rotor := &fakeRotor{snap: rotation.Snapshot{CurrentIndex: 1}}
	h := New(cfg, pipeline.NewSettings(cfg), rotor, fakeStore{}, fakeRelay{connected: true})
	return h, rotor
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", h.Login)
	api := r.Group("/api", h.RequireSession())
	api.GET("/status", h.Status)
	api.POST("/switch-account", h.SwitchAccount)
	api.POST("/set-mode", h.SetMode)
	api.POST("/toggle-reasoning", h.ToggleReasoning)
	api.POST("/set-resume-config", h.SetResumeConfig)
	return r
}

func login(t *testing.T, r *gin.Engine, password string) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/login", strings.NewReader(`{"password":"`+password+`"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, 200, w.Code, "login failed")
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func postJSON(r *gin.Engine, cookie *http.Cookie, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestLoginWithAPIKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.APIKeys = []string{"topsecret"}
	h, _ := newTestHandler(cfg)
	r := newRouter(h)

	cookie := login(t, r, "topsecret")
	assert.NotEmpty(t, cookie.Value)

	w := postJSON(r, nil, "/login", `{"password":"wrong"}`)
	assert.Equal(t, 401, w.Code)
}

func TestSessionGate(t *testing.T) {
	cfg := config.Defaults()
	h, _ := newTestHandler(cfg)
	r := newRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))
	assert.Equal(t, 401, w.Code)

	cookie := login(t, r, "123456")
	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/status", nil)
	req.AddCookie(cookie)
	r.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}

func TestStatusShape(t *testing.T) {
	cfg := config.Defaults()
	h, rotor := newTestHandler(cfg)
	rotor.snap = rotation.Snapshot{CurrentIndex: 2, UsageCount: 12, FailureCount: 1, ActiveRequests: 3}
	r := newRouter(h)
	cookie := login(t, r, "123456")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/status", nil)
	req.AddCookie(cookie)
	r.ServeHTTP(w, req)

	out := gjson.Parse(w.Body.String())
	assert.Equal(t, "12/40", out.Get("usage").String())
	assert.Equal(t, "1/3", out.Get("failures").String())
	assert.True(t, out.Get("browserConnected").Bool())

	accounts := out.Get("accounts").Array()
	require.Len(t, accounts, 2)
	assert.True(t, accounts[1].Get("current").Bool(), "index 2 should be marked current")
	assert.Equal(t, "real", out.Get("settings.streamingMode").String())
}

func TestSwitchAccount(t *testing.T) {
	cfg := config.Defaults()
	h, rotor := newTestHandler(cfg)
	r := newRouter(h)
	cookie := login(t, r, "123456")

	w := postJSON(r, cookie, "/api/switch-account", `{"index":2}`)
	require.Equal(t, 200, w.Code, w.Body.String())
	require.Len(t, rotor.switches, 1)
	assert.Equal(t, 2, rotor.switches[0])
	assert.Equal(t, int64(2), gjson.Get(w.Body.String(), "currentAuthIndex").Int())
}

func TestSetModeValidation(t *testing.T) {
	cfg := config.Defaults()
	h, _ := newTestHandler(cfg)
	r := newRouter(h)
	cookie := login(t, r, "123456")

	w := postJSON(r, cookie, "/api/set-mode", `{"mode":"fake"}`)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, config.StreamFake, h.settings.StreamingMode())

	w = postJSON(r, cookie, "/api/set-mode", `{"mode":"turbo"}`)
	assert.Equal(t, 400, w.Code)
}

func TestToggleReasoning(t *testing.T) {
	cfg := config.Defaults()
	h, _ := newTestHandler(cfg)
	r := newRouter(h)
	cookie := login(t, r, "123456")

	w := postJSON(r, cookie, "/api/toggle-reasoning", "")
	assert.True(t, h.settings.OpenAIReasoning(), "toggle should enable reasoning")
	assert.True(t, gjson.Get(w.Body.String(), "openaiReasoning").Bool())
}

func TestSetResumeConfig(t *testing.T) {
	cfg := config.Defaults()
	h, _ := newTestHandler(cfg)
	r := newRouter(h)
	cookie := login(t, r, "123456")

	postJSON(r, cookie, "/api/set-resume-config", `{"limit":4}`)
	enabled, limit := h.settings.Resume()
	assert.True(t, enabled)
	assert.Equal(t, 4, limit)

	postJSON(r, cookie, "/api/set-resume-config", `{"limit":0}`)
	enabled, _ = h.settings.Resume()
	assert.False(t, enabled, "limit 0 should disable resume")
}

func TestSessionExpiry(t *testing.T) {
	s := newSessionStore()
	token := s.create()
	require.True(t, s.valid(token), "fresh token should be valid")
	s.revoke(token)
	assert.False(t, s.valid(token), "revoked token should be invalid")
	assert.False(t, s.valid("unknown"))
}
