package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "logs", "orchd.log")
	if err := Init(Config{Level: "debug", OutputPaths: []string{out}}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Named("coordinator").Info("orchestration finished", "orchestration_id", "o-1")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("decode record %q: %v", line, err)
	}
	if record["component"] != "coordinator" || record["orchestration_id"] != "o-1" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	err := Init(Config{Audit: AuditConfig{Enabled: true}})
	if err == nil {
		t.Fatalf("expected error for audit without path")
	}
}

func TestAuditFallsBackToDefault(t *testing.T) {
	if err := Init(Config{Format: "text", OutputPaths: []string{"stderr"}}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	if Audit() != L() {
		t.Fatalf("audit logger should fall back to the default logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"":        "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
