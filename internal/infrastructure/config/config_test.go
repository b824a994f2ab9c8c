package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

const baseYAML = `
registry:
  base_name: tracking
  table_name: Shots
  token_secret: airtable_pat

pipeline:
  server_url: https://pipeline.test/

poll:
  interval: 5s

fields:
  project: Project
  assignee: ""
  version: V
  status: Status
  tags: Types
  product_name: VFX_ID
  version_id: VersionId
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromYAMLAndEnvOverride(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgFile, baseYAML)

	t.Setenv("REGISTRY_BASE_NAME", "show")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Registry.BaseName != "show" {
		t.Errorf("env override failed, got %s", c.Registry.BaseName)
	}
	if c.Poll.Interval != 30*time.Second {
		t.Errorf("expected 30s interval, got %v", c.Poll.Interval)
	}
	if c.Log.Level != "debug" {
		t.Errorf("expected debug level, got %s", c.Log.Level)
	}
	if c.Pipeline.ServerURL != "https://pipeline.test" {
		t.Errorf("trailing slash not trimmed: %s", c.Pipeline.ServerURL)
	}
	if c.Fields.Assignee != "" {
		t.Errorf("expected assignee unmapped, got %q", c.Fields.Assignee)
	}
	if c.Topics.Change != "registry.change" || c.Poll.MaxRetries != 2 {
		t.Errorf("defaults not applied: %+v %+v", c.Topics, c.Poll)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgFile, "poll:\n  interval: 5s\n")

	if _, err := Load(cfgFile); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgFile, "registry: [")

	if _, err := Load(cfgFile); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRead_MissingFileUsesDefaults(t *testing.T) {
	c, err := Read(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Registry.TableName != "Shots" || c.Fields.ProductName != "VFX_ID" {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "nested", "config.yaml")

	c := Default()
	c.Registry.BaseName = "tracking"
	c.Fields.Tags = ""
	if err := Save(cfgFile, c); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Read(cfgFile)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Registry.BaseName != "tracking" || got.Fields.Tags != "" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Poll.Interval != 10*time.Second {
		t.Errorf("duration round trip failed: %v", got.Poll.Interval)
	}
	if _, err := os.Stat(cfgFile + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
}

func TestLive_StoreAndRead(t *testing.T) {
	c := Default()
	l := NewLive(c)

	c.Fields.Status = "State"
	c.Poll.Interval = time.Minute
	l.Store(c)

	if l.FieldMap().Status != "State" {
		t.Errorf("field map not swapped")
	}
	if l.PollInterval() != time.Minute {
		t.Errorf("interval not swapped, got %v", l.PollInterval())
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgFile, baseYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	if err := Watch(ctx, cfgFile, zap.NewNop(), func(c Config) { got <- c }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	writeFile(t, cfgFile, baseYAML+"\nlog:\n  level: warn\n")

	select {
	case c := <-got:
		if c.Log.Level != "warn" {
			t.Errorf("expected reloaded level warn, got %s", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
