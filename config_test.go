package liveedit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "liveedit.yaml")
	src := `
endpoint: https://studio.example.com
debug: true
update_delay: 80ms
allowed_origins:
  - https://studio.example.com
  - https://*.example.com
mode: embedded
overlay:
  button_label: Modifier
sync:
  field_focus: false
standalone:
  open_in_new_tab: false
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "https://studio.example.com" || !cfg.Debug {
		t.Errorf("config: %+v", cfg)
	}
	if cfg.UpdateDelay != 80*time.Millisecond {
		t.Errorf("update_delay: %v", cfg.UpdateDelay)
	}
	if cfg.Mode != ModeEmbedded {
		t.Errorf("mode: %v", cfg.Mode)
	}
	if cfg.Overlay.ButtonLabel != "Modifier" {
		t.Errorf("button label: %q", cfg.Overlay.ButtonLabel)
	}

	// Explicit false values survive defaulting; untouched toggles default on.
	if *cfg.Sync.FieldFocus {
		t.Error("field_focus should stay false")
	}
	if !*cfg.Sync.FieldUpdate {
		t.Error("field_update should default true")
	}
	if *cfg.Standalone.OpenInNewTab {
		t.Error("open_in_new_tab should stay false")
	}
	if cfg.EditorBaseURL != cfg.Endpoint {
		t.Errorf("editor base url: %q", cfg.EditorBaseURL)
	}
}

func TestLoadConfigFileRejectsBad(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "no-endpoint.yaml")
	os.WriteFile(path, []byte("debug: true\n"), 0o644)
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("missing endpoint accepted")
	}

	path = filepath.Join(dir, "bad-mode.yaml")
	os.WriteFile(path, []byte("endpoint: x\nmode: sideways\n"), 0o644)
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("unknown mode accepted")
	}

	if _, err := LoadConfigFile(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
