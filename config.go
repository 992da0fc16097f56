package liveedit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode is the bridge operating mode.
type Mode string

const (
	ModeAuto       Mode = "auto"       // detect: embedded when a transport is present
	ModeEmbedded   Mode = "embedded"   // inside the editor; use the message channel
	ModeStandalone Mode = "standalone" // on its own; activation opens the editor URL
)

// OverlayConfig styles the hover affordance.
type OverlayConfig struct {
	Enabled     *bool   `yaml:"enabled"` // default true
	BorderColor string  `yaml:"border_color"`
	BorderWidth int     `yaml:"border_width"`
	ButtonLabel string  `yaml:"button_label"`
	ButtonW     float64 `yaml:"button_width"`
	ButtonH     float64 `yaml:"button_height"`
}

// SyncConfig toggles which inbound editor commands are honored.
type SyncConfig struct {
	FieldFocus  *bool `yaml:"field_focus"`  // default true
	FieldUpdate *bool `yaml:"field_update"` // default true
}

// StandaloneConfig controls standalone activation behavior.
type StandaloneConfig struct {
	OpenInNewTab     *bool `yaml:"open_in_new_tab"`     // default true
	FallbackToNewTab *bool `yaml:"fallback_to_new_tab"` // default true: unconnected embedded clicks fall back
}

// Config is the bridge configuration. Immutable after construction; the
// defaults are applied once by New.
type Config struct {
	Endpoint       string           `yaml:"endpoint"` // required: editor endpoint identifying this space
	Debug          bool             `yaml:"debug"`
	UpdateDelay    time.Duration    `yaml:"update_delay"`    // patch debounce window
	RetryAttempts  int              `yaml:"retry_attempts"`  // ready handshake re-broadcasts
	AutoConnect    *bool            `yaml:"auto_connect"`    // default true
	AllowedOrigins []string         `yaml:"allowed_origins"` // exact origins or *.wildcards
	EditorBaseURL  string           `yaml:"editor_base_url"` // standalone editor URL base; endpoint when empty
	Mode           Mode             `yaml:"mode"`
	Overlay        OverlayConfig    `yaml:"overlay"`
	Sync           SyncConfig       `yaml:"sync"`
	Standalone     StandaloneConfig `yaml:"standalone"`
	JournalPath    string           `yaml:"journal_path"` // optional activity journal database
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("liveedit: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("liveedit: parse config: %w", err)
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) defaults() {
	if c.UpdateDelay <= 0 {
		c.UpdateDelay = 50 * time.Millisecond
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.AutoConnect == nil {
		c.AutoConnect = boolPtr(true)
	}
	if c.Overlay.Enabled == nil {
		c.Overlay.Enabled = boolPtr(true)
	}
	if c.Sync.FieldFocus == nil {
		c.Sync.FieldFocus = boolPtr(true)
	}
	if c.Sync.FieldUpdate == nil {
		c.Sync.FieldUpdate = boolPtr(true)
	}
	if c.Standalone.OpenInNewTab == nil {
		c.Standalone.OpenInNewTab = boolPtr(true)
	}
	if c.Standalone.FallbackToNewTab == nil {
		c.Standalone.FallbackToNewTab = boolPtr(true)
	}
	if c.EditorBaseURL == "" {
		c.EditorBaseURL = c.Endpoint
	}
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("liveedit: config requires an endpoint")
	}
	switch c.Mode {
	case ModeAuto, ModeEmbedded, ModeStandalone:
	default:
		return fmt.Errorf("liveedit: unknown mode %q", c.Mode)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
