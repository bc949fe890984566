package admin

import (
	"fmt"
	"net/http"
	"time"

	"aistudio2api-go/internal/config"
	"aistudio2api-go/internal/credstore"
	"aistudio2api-go/internal/logging"
	"aistudio2api-go/internal/pipeline"
	"aistudio2api-go/internal/rotation"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const switchWait = 10 * time.Second

// Rotor is the rotation surface the admin API drives.
type Rotor interface {
	Get() rotation.Snapshot
	RequestSwitch(target int) error
}

// Connectivity reports relay link state.
type Connectivity interface {
	IsConnected() bool
}

// Handler serves the session-gated admin API.
type Handler struct {
	cfg      *config.Config
	settings *pipeline.Settings
	rotor    Rotor
	store    credstore.Store
	relay    Connectivity
	sessions *sessionStore
}

func New(cfg *config.Config, settings *pipeline.Settings, rotor Rotor, store credstore.Store, relay Connectivity) *Handler {
	return &Handler{
		cfg:      cfg,
		settings: settings,
		rotor:    rotor,
		store:    store,
		relay:    relay,
		sessions: newSessionStore(),
	}
}

// Login exchanges the admin password for a session cookie. The password is
// any configured API key, or the bcrypt-hashed admin key when one is set.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}

	if !h.passwordValid(req.Password) {
		log.Warnf("Admin login rejected from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token := h.sessions.create()
	c.SetCookie(SessionCookie, token, int(sessionTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) passwordValid(password string) bool {
	if h.cfg.AdminKeyHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminKeyHash), []byte(password)) == nil {
			return true
		}
	}
	for _, key := range h.cfg.APIKeys {
		if key != "" && key == password {
			return true
		}
	}
	return false
}

// Logout revokes the current session.
func (h *Handler) Logout(c *gin.Context) {
	if token, err := c.Cookie(SessionCookie); err == nil {
		h.sessions.revoke(token)
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RequireSession gates admin routes behind a valid session cookie.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookie)
		if err != nil || !h.sessions.valid(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Next()
	}
}

// Status reports rotation counters, account inventory, toggles, relay state,
// and recent log lines.
func (h *Handler) Status(c *gin.Context) {
	snap := h.rotor.Get()

	accounts := make([]gin.H, 0)
	for _, idx := range h.store.AvailableIndices() {
		name, _ := h.store.NameOf(idx)
		accounts = append(accounts, gin.H{
			"index":   idx,
			"name":    name,
			"current": idx == snap.CurrentIndex,
		})
	}

	logs := make([]string, 0)
	for _, entry := range logging.GetRing().Snapshot() {
		logs = append(logs, fmt.Sprintf("%s [%s] %s", entry.Timestamp, entry.Level, entry.Message))
	}

	c.JSON(http.StatusOK, gin.H{
		"browserConnected": h.relay.IsConnected(),
		"currentAuthIndex": snap.CurrentIndex,
		"usage":            fmt.Sprintf("%d/%d", snap.UsageCount, h.cfg.SwitchOnUses),
		"failures":         fmt.Sprintf("%d/%d", snap.FailureCount, h.cfg.FailureThreshold),
		"activeRequests":   snap.ActiveRequests,
		"rotating":         snap.PendingSwitch || snap.AuthSwitching,
		"unavailable":      snap.Unavailable,
		"settings":         h.settings.Get(),
		"accounts":         accounts,
		"recentLogs":       logs,
	})
}

// SwitchAccount triggers a manual credential switch and waits for it to
// settle, up to a short budget when requests are still draining.
func (h *Handler) SwitchAccount(c *gin.Context) {
	var req struct {
		Index int `json:"index"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.rotor.RequestSwitch(req.Index); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deadline := time.Now().Add(switchWait)
	for time.Now().Before(deadline) {
		snap := h.rotor.Get()
		if !snap.PendingSwitch && !snap.AuthSwitching {
			if snap.Unavailable {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "switch failed and rollback did not recover; service unavailable",
				})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "currentAuthIndex": snap.CurrentIndex})
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	c.JSON(http.StatusAccepted, gin.H{"pending": true})
}

// SetMode switches between real and fake streaming at runtime.
func (h *Handler) SetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode required"})
		return
	}
	if err := h.settings.SetStreamingMode(config.StreamingMode(req.Mode)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Infof("Streaming mode set to %s", req.Mode)
	c.JSON(http.StatusOK, gin.H{"success": true, "streamingMode": req.Mode})
}

// ToggleReasoning flips reasoning_content emission on the OpenAI dialect.
func (h *Handler) ToggleReasoning(c *gin.Context) {
	on := !h.settings.OpenAIReasoning()
	h.settings.SetOpenAIReasoning(on)
	c.JSON(http.StatusOK, gin.H{"success": true, "openaiReasoning": on})
}

// ToggleNativeReasoning flips thinking injection for Google dialect requests.
func (h *Handler) ToggleNativeReasoning(c *gin.Context) {
	on := !h.settings.NativeReasoning()
	h.settings.SetNativeReasoning(on)
	c.JSON(http.StatusOK, gin.H{"success": true, "nativeReasoning": on})
}

// ToggleRedirect2530 flips the gemini-2.5-pro redirect.
func (h *Handler) ToggleRedirect2530(c *gin.Context) {
	on := !h.settings.Redirect25To30()
	h.settings.SetRedirect25To30(on)
	c.JSON(http.StatusOK, gin.H{"success": true, "redirect25To30": on})
}

// SetResumeConfig updates the resume-on-prohibit passthrough values.
func (h *Handler) SetResumeConfig(c *gin.Context) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	h.settings.SetResume(req.Limit > 0, req.Limit)
	c.JSON(http.StatusOK, gin.H{"success": true, "resumeEnabled": req.Limit > 0, "resumeLimit": req.Limit})
}
