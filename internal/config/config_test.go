package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Port != 7860 {
		t.Errorf("Expected default port 7860, got %d", cfg.Port)
	}
	if cfg.WSPort != 9998 {
		t.Errorf("Expected default ws port 9998, got %d", cfg.WSPort)
	}
	if cfg.StreamingMode != StreamReal {
		t.Errorf("Expected default streaming mode real, got %s", cfg.StreamingMode)
	}
	if cfg.FailureThreshold != 3 {
		t.Errorf("Expected failure threshold 3, got %d", cfg.FailureThreshold)
	}
	if cfg.SwitchOnUses != 40 {
		t.Errorf("Expected switch_on_uses 40, got %d", cfg.SwitchOnUses)
	}
	if cfg.MaxRetries != 1 {
		t.Errorf("Expected max retries 1, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelayMs != 2000 {
		t.Errorf("Expected retry delay 2000ms, got %d", cfg.RetryDelayMs)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "123456" {
		t.Errorf("Expected default API key list [123456], got %v", cfg.APIKeys)
	}
	if !cfg.ImmediateSwitchCode(429) || !cfg.ImmediateSwitchCode(503) {
		t.Error("Expected 429 and 503 in default immediate switch codes")
	}
	if cfg.ImmediateSwitchCode(500) {
		t.Error("500 should not be an immediate switch code by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("STREAMING_MODE", "fake")
	t.Setenv("FAILURE_THRESHOLD", "5")
	t.Setenv("API_KEYS", "k1, k2 ,k3")
	t.Setenv("IMMEDIATE_SWITCH_STATUS_CODES", "429")
	t.Setenv("REDIRECT_25_TO_30", "true")

	cfg := Load("")

	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.StreamingMode != StreamFake {
		t.Errorf("Expected fake streaming mode, got %s", cfg.StreamingMode)
	}
	if cfg.FailureThreshold != 5 {
		t.Errorf("Expected failure threshold 5, got %d", cfg.FailureThreshold)
	}
	if len(cfg.APIKeys) != 3 || cfg.APIKeys[1] != "k2" {
		t.Errorf("Expected 3 trimmed API keys, got %v", cfg.APIKeys)
	}
	if cfg.ImmediateSwitchCode(503) {
		t.Error("503 should no longer be an immediate switch code after override")
	}
	if !cfg.Redirect25To30 {
		t.Error("Expected redirect toggle enabled")
	}
}

func TestNumericParseFallsBackToDefault(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("SWITCH_ON_USES", "forty")

	cfg := Load("")

	if cfg.Port != 7860 {
		t.Errorf("Expected default port on parse failure, got %d", cfg.Port)
	}
	if cfg.SwitchOnUses != 40 {
		t.Errorf("Expected default switch_on_uses on parse failure, got %d", cfg.SwitchOnUses)
	}
}

func TestUnknownStreamingModeKeepsDefault(t *testing.T) {
	t.Setenv("STREAMING_MODE", "chunky")

	cfg := Load("")
	if cfg.StreamingMode != StreamReal {
		t.Errorf("Expected real mode kept for unknown value, got %s", cfg.StreamingMode)
	}
}
