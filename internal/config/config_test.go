package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
neople:
  api_key: "abc123"
telegram:
  token: "123:token"
logging:
  level: debug
  console: true
watch:
  target_level: 115
  rarities: ["에픽", "태초"]
  weights:
    태초: 3
    에픽: 2
    레전더리: 1
  lookback: "30m"
schedule:
  notify_every: "2m"
  daily_at: "06:00"
storage:
  path: "/tmp/dfobot.db"
`

func writeConfig(t *testing.T, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

func TestParseValidYAML(t *testing.T) {
	m := writeConfig(t, validYAML)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Neople.APIKey != "abc123" {
		t.Fatalf("api_key = %q", cfg.Neople.APIKey)
	}
	if cfg.Watch.TargetLevel != 115 {
		t.Fatalf("target_level = %d", cfg.Watch.TargetLevel)
	}
	if len(cfg.Watch.Rarities) != 2 || cfg.Watch.Rarities[1] != "태초" {
		t.Fatalf("rarities = %v", cfg.Watch.Rarities)
	}
	if cfg.Watch.Weights["태초"] != 3 {
		t.Fatalf("weights = %v", cfg.Watch.Weights)
	}
	if cfg.Schedule.DailyAt != "06:00" {
		t.Fatalf("daily_at = %q", cfg.Schedule.DailyAt)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := writeConfig(t, validYAML+"\nnot_a_section:\n  x: 1\n")
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected error for unknown top-level section")
	}
}

func TestParseRejectsMissingAPIKey(t *testing.T) {
	broken := strings.Replace(validYAML, `api_key: "abc123"`, `api_key: ""`, 1)
	m := writeConfig(t, broken)
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected api_key error, got %v", err)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	broken := strings.Replace(validYAML, `lookback: "30m"`, `lookback: "half an hour"`, 1)
	m := writeConfig(t, broken)
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "lookback") {
		t.Fatalf("expected lookback error, got %v", err)
	}
}

func TestParseRejectsNegativeWeight(t *testing.T) {
	broken := strings.Replace(validYAML, "태초: 3", "태초: -3", 1)
	m := writeConfig(t, broken)
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected error for negative weight")
	}
}

func TestParseRejectsMissingFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("90s: (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-5m"); err == nil {
		t.Fatalf("negative duration must error")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatalf("junk duration must error")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", 2*time.Minute); err != nil || d != 2*time.Minute {
		t.Fatalf("empty: (%v, %v)", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "15s", 2*time.Minute); err != nil || d != 15*time.Second {
		t.Fatalf("set: (%v, %v)", d, err)
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	m := writeConfig(t, validYAML)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different snapshot")
	}
}

func TestSubscribePublish(t *testing.T) {
	m := writeConfig(t, validYAML)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatalf("subscriber got a different snapshot")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never notified")
	}
}
