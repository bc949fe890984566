package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"aistudio2api-go/internal/config"
)

// Settings holds the runtime-mutable toggles exposed on the admin surface.
// Static configuration stays in config.Config; everything here may change
// while requests are in flight.
type Settings struct {
	mu              sync.RWMutex
	streamingMode   config.StreamingMode
	openAIReasoning bool
	nativeReasoning bool
	redirect25To30  bool
	resumeEnabled   bool
	resumeLimit     int
}

// SettingsSnapshot is a point-in-time copy for status output.
type SettingsSnapshot struct {
	StreamingMode   config.StreamingMode `json:"streamingMode"`
	OpenAIReasoning bool                 `json:"openaiReasoning"`
	NativeReasoning bool                 `json:"nativeReasoning"`
	Redirect25To30  bool                 `json:"redirect25To30"`
	ResumeEnabled   bool                 `json:"resumeEnabled"`
	ResumeLimit     int                  `json:"resumeLimit"`
}

// NewSettings seeds the runtime toggles from the startup configuration.
func NewSettings(cfg *config.Config) *Settings {
	return &Settings{
		streamingMode:   cfg.StreamingMode,
		openAIReasoning: cfg.OpenAIReasoning,
		nativeReasoning: cfg.NativeReasoning,
		redirect25To30:  cfg.Redirect25To30,
		resumeEnabled:   cfg.ResumeLimit > 0,
		resumeLimit:     cfg.ResumeLimit,
	}
}

// StreamingMode returns the current streaming mode.
func (s *Settings) StreamingMode() config.StreamingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamingMode
}

// SetStreamingMode switches between real and fake streaming.
func (s *Settings) SetStreamingMode(mode config.StreamingMode) error {
	if mode != config.StreamReal && mode != config.StreamFake {
		return fmt.Errorf("unknown streaming mode %q", mode)
	}
	s.mu.Lock()
	s.streamingMode = mode
	s.mu.Unlock()
	return nil
}

// OpenAIReasoning reports whether thinking output is surfaced on the OpenAI
// dialect as reasoning_content.
func (s *Settings) OpenAIReasoning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openAIReasoning
}

// SetOpenAIReasoning toggles reasoning_content emission.
func (s *Settings) SetOpenAIReasoning(on bool) {
	s.mu.Lock()
	s.openAIReasoning = on
	s.mu.Unlock()
}

// NativeReasoning reports whether includeThoughts is injected into Google
// dialect requests.
func (s *Settings) NativeReasoning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nativeReasoning
}

// SetNativeReasoning toggles thinking injection for passthrough requests.
func (s *Settings) SetNativeReasoning(on bool) {
	s.mu.Lock()
	s.nativeReasoning = on
	s.mu.Unlock()
}

// Redirect25To30 reports whether gemini-2.5-pro requests are redirected.
func (s *Settings) Redirect25To30() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redirect25To30
}

// SetRedirect25To30 toggles the model redirect.
func (s *Settings) SetRedirect25To30(on bool) {
	s.mu.Lock()
	s.redirect25To30 = on
	s.mu.Unlock()
}

// RedirectModel applies the model redirect when enabled. Variant suffixes
// survive the rewrite, so gemini-2.5-pro-exp maps to gemini-3-pro-preview-exp.
func (s *Settings) RedirectModel(model string) string {
	if s.Redirect25To30() && strings.Contains(model, "gemini-2.5-pro") {
		return strings.ReplaceAll(model, "gemini-2.5-pro", "gemini-3-pro-preview")
	}
	return model
}

// Resume returns the resume-on-prohibit passthrough values.
func (s *Settings) Resume() (enabled bool, limit int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumeEnabled, s.resumeLimit
}

// SetResume updates the resume-on-prohibit passthrough values.
func (s *Settings) SetResume(enabled bool, limit int) {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	s.resumeEnabled = enabled
	s.resumeLimit = limit
	s.mu.Unlock()
}

// Get returns a snapshot of all toggles.
func (s *Settings) Get() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SettingsSnapshot{
		StreamingMode:   s.streamingMode,
		OpenAIReasoning: s.openAIReasoning,
		NativeReasoning: s.nativeReasoning,
		Redirect25To30:  s.redirect25To30,
		ResumeEnabled:   s.resumeEnabled,
		ResumeLimit:     s.resumeLimit,
	}
}
