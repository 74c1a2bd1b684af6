package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	path := writeFile(t, "orchd.json", `{"engine": {"concurrency_limit": 3}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.ConcurrencyLimit != 3 {
		t.Fatalf("concurrency limit = %d", cfg.Engine.ConcurrencyLimit)
	}
	if cfg.Engine.HistoryCapacity != 10000 || cfg.Engine.DefaultChunkSize != 100 || cfg.Engine.MaxItems != 100000 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.Admission != AdmissionBlocking {
		t.Fatalf("admission = %s", cfg.Engine.Admission)
	}
	if cfg.Runtime.DataDir != filepath.Join(filepath.Dir(path), "data") {
		t.Fatalf("data dir = %s", cfg.Runtime.DataDir)
	}
	if cfg.HistorySink.Driver != "none" || cfg.Progress.Driver != "none" {
		t.Fatalf("unexpected drivers: %s %s", cfg.HistorySink.Driver, cfg.Progress.Driver)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "orchd.yaml", `
server:
  address: ":9090"
engine:
  admission: non_blocking
  classifier_thresholds:
    standard: 0.1
    high: 0.6
    transcendent: 2
history_sink:
  driver: file
progress:
  driver: log
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %s", cfg.Server.Address)
	}
	if cfg.Engine.Admission != AdmissionNonBlocking {
		t.Fatalf("admission = %s", cfg.Engine.Admission)
	}
	if cfg.Engine.ClassifierThresholds["transcendent"] != 2 {
		t.Fatalf("thresholds = %+v", cfg.Engine.ClassifierThresholds)
	}
	if !strings.HasSuffix(cfg.HistorySink.Path, "history.jsonl") {
		t.Fatalf("history path = %s", cfg.HistorySink.Path)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"negative limit":  `{"engine": {"concurrency_limit": -1}}`,
		"bad admission":   `{"engine": {"admission": "eager"}}`,
		"unknown sink":    `{"history_sink": {"driver": "cassandra"}}`,
		"mysql no dsn":    `{"history_sink": {"driver": "mysql"}}`,
		"amqp no url":     `{"progress": {"driver": "rabbitmq"}}`,
		"negative chunks": `{"engine": {"default_chunk_size": -5}}`,
		"dotted plugin":   `{"plugins": {"plugins": {"a.b": {"enabled": true, "path": "a.so"}}}}`,
		"plugin no path":  `{"plugins": {"plugins": {"text": {"enabled": true}}}}`,
	}
	for name, body := range cases {
		path := writeFile(t, "orchd.json", body)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadSQLiteAndPluginDefaults(t *testing.T) {
	path := writeFile(t, "orchd.yaml", `
history_sink:
  driver: sqlite
plugins:
  plugin_dir: plugins
  plugins:
    text:
      enabled: true
      path: text.so
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base := filepath.Dir(path)
	if cfg.HistorySink.Path != filepath.Join(base, "data", "history.db") {
		t.Fatalf("sqlite path = %s", cfg.HistorySink.Path)
	}
	if cfg.Plugins.PluginDir != filepath.Join(base, "plugins") {
		t.Fatalf("plugin dir = %s", cfg.Plugins.PluginDir)
	}
	if !cfg.Plugins.Plugins["text"].Enabled {
		t.Fatalf("plugins = %+v", cfg.Plugins.Plugins)
	}
}
