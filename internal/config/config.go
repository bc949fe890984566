package config

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// StreamingMode selects how generative responses are relayed to clients.
type StreamingMode string

const (
	// StreamReal forwards upstream chunks as they arrive.
	StreamReal StreamingMode = "real"
	// StreamFake buffers the upstream response and synthesises an SSE stream.
	StreamFake StreamingMode = "fake"
)

// Config is the typed runtime configuration. All fields are resolved once at
// startup; mutable runtime toggles live in pipeline.Settings, not here.
type Config struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	WSPort int    `yaml:"ws_port"`

	StreamingMode StreamingMode `yaml:"streaming_mode"`

	FailureThreshold           int   `yaml:"failure_threshold"`
	SwitchOnUses               int   `yaml:"switch_on_uses"`
	MaxRetries                 int   `yaml:"max_retries"`
	RetryDelayMs               int   `yaml:"retry_delay_ms"`
	ImmediateSwitchStatusCodes []int `yaml:"immediate_switch_status_codes"`
	InitialAuthIndex           int   `yaml:"initial_auth_index"`

	APIKeys []string `yaml:"api_keys"`

	AuthDir                string `yaml:"auth_dir"`
	CamoufoxExecutablePath string `yaml:"camoufox_executable_path"`

	Redirect25To30  bool `yaml:"redirect_25_to_30"`
	NativeReasoning bool `yaml:"native_reasoning"`
	OpenAIReasoning bool `yaml:"openai_reasoning"`
	ResumeLimit     int  `yaml:"resume_limit"`

	AdminKeyHash string `yaml:"admin_key_hash"`

	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`
}

// Defaults returns the documented default configuration.
func Defaults() *Config {
	return &Config{
		Host:                       "0.0.0.0",
		Port:                       7860,
		WSPort:                     9998,
		StreamingMode:              StreamReal,
		FailureThreshold:           3,
		SwitchOnUses:               40,
		MaxRetries:                 1,
		RetryDelayMs:               2000,
		ImmediateSwitchStatusCodes: []int{429, 503},
		InitialAuthIndex:           1,
		APIKeys:                    []string{"123456"},
		AuthDir:                    "./auths",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and the
// environment, in that order of precedence (environment wins).
func Load(path string) *Config {
	cfg := Defaults()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.WithError(err).Warnf("Failed to parse config file %s; ignoring", path)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg
}

func (c *Config) applyEnv() {
	if v := getenv("HOST", ""); v != "" {
		c.Host = v
	}
	setIntFromEnv("PORT", func(n int) { c.Port = n })
	setIntFromEnv("WS_PORT", func(n int) { c.WSPort = n })

	if v := strings.ToLower(getenv("STREAMING_MODE", "")); v != "" {
		switch StreamingMode(v) {
		case StreamReal, StreamFake:
			c.StreamingMode = StreamingMode(v)
		default:
			log.Warnf("Unknown STREAMING_MODE %q; keeping %q", v, c.StreamingMode)
		}
	}

	setIntFromEnv("FAILURE_THRESHOLD", func(n int) { c.FailureThreshold = n })
	setIntFromEnv("SWITCH_ON_USES", func(n int) { c.SwitchOnUses = n })
	setIntFromEnv("MAX_RETRIES", func(n int) { c.MaxRetries = n })
	setIntFromEnv("RETRY_DELAY", func(n int) { c.RetryDelayMs = n })
	setIntFromEnv("INITIAL_AUTH_INDEX", func(n int) { c.InitialAuthIndex = n })
	setIntFromEnv("RESUME_LIMIT", func(n int) { c.ResumeLimit = n })

	if v := getenv("IMMEDIATE_SWITCH_STATUS_CODES", ""); v != "" {
		if codes := parseIntList(v); len(codes) > 0 {
			c.ImmediateSwitchStatusCodes = codes
		}
	}

	if v := getenv("API_KEYS", ""); v != "" {
		if keys := splitAndTrim(v, ","); len(keys) > 0 {
			c.APIKeys = keys
		}
	}

	if v := getenv("AUTH_DIR", ""); v != "" {
		c.AuthDir = v
	}
	if v := getenv("CAMOUFOX_EXECUTABLE_PATH", ""); v != "" {
		c.CamoufoxExecutablePath = v
	}
	if v := getenv("ADMIN_KEY_HASH", ""); v != "" {
		c.AdminKeyHash = v
	}
	if v := getenv("LOG_FILE", ""); v != "" {
		c.LogFile = v
	}

	setToggleFromEnv("REDIRECT_25_TO_30", func(b bool) { c.Redirect25To30 = b })
	setToggleFromEnv("NATIVE_REASONING", func(b bool) { c.NativeReasoning = b })
	setToggleFromEnv("OPENAI_REASONING", func(b bool) { c.OpenAIReasoning = b })
	setToggleFromEnv("DEBUG", func(b bool) { c.Debug = b })
}

func (c *Config) normalize() {
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = 7860
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		c.WSPort = 9998
	}
	if c.InitialAuthIndex < 1 {
		c.InitialAuthIndex = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelayMs < 0 {
		c.RetryDelayMs = 0
	}
	if c.ResumeLimit < 0 {
		c.ResumeLimit = 0
	}
	if len(c.APIKeys) == 1 && c.APIKeys[0] == "123456" {
		log.Warn("Using default API key '123456'; set API_KEYS for production use")
	}
}

// ImmediateSwitchCode reports whether the given upstream status code should
// trigger an immediate credential switch.
func (c *Config) ImmediateSwitchCode(status int) bool {
	for _, code := range c.ImmediateSwitchStatusCodes {
		if code == status {
			return true
		}
	}
	return false
}
