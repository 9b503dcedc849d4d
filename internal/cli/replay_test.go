package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SmitUplenchwar2687/Carelink/internal/replay"
)

func TestReplayCmd_JSON(t *testing.T) {
	trafficPath := writeReplayFixture(t)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", "--file", trafficPath, "--limit", "2", "--window", "1m", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	var got struct {
		Results []replay.Result `json:"results"`
		Summary replay.Summary  `json:"summary"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	// alice: 3 calls inside one minute, the third is denied; bob: one call.
	if got.Summary.Replayed != 4 || got.Summary.Allowed != 3 || got.Summary.Denied != 1 {
		t.Errorf("summary = %+v, want 4 replayed, 3 allowed, 1 denied", got.Summary)
	}
	if len(got.Results) != 4 {
		t.Errorf("results = %d, want 4", len(got.Results))
	}
}

func TestReplayCmd_LoadsConfigFile(t *testing.T) {
	trafficPath := writeReplayFixture(t)
	configPath := filepath.Join(t.TempDir(), "carelink.yaml")
	if err := os.WriteFile(configPath, []byte("limiter:\n  limit: 1\n  window: 1m\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", "--file", trafficPath, "--config", configPath, "--callers", "alice", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("replay with config failed: %v", err)
	}

	var got struct {
		Summary replay.Summary `json:"summary"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if got.Summary.Filtered != 3 || got.Summary.Allowed != 1 || got.Summary.Denied != 2 {
		t.Errorf("summary = %+v, want 3 matched, 1 allowed, 2 denied", got.Summary)
	}
}

func TestReplayCmd_TableAndGraph(t *testing.T) {
	trafficPath := writeReplayFixture(t)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", "--file", trafficPath, "--limit", "2", "--graph", "--bucket", "10s", "-v"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"[DENY ]", "Deny rate: 25.0%", "alice", "allowed (green) vs denied (red) per 10s"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestReplayCmd_RequiresFile(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"replay"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without --file")
	}
}

func TestReplayCmd_InvalidWindow(t *testing.T) {
	trafficPath := writeReplayFixture(t)
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"replay", "--file", trafficPath, "--window=-1s"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for negative window")
	}
}

func writeReplayFixture(t *testing.T) string {
	t.Helper()

	traffic := `[
  {"timestamp": "2025-08-25T09:00:00Z", "caller": "alice", "endpoint": "syncPatientData"},
  {"timestamp": "2025-08-25T09:00:10Z", "caller": "alice", "endpoint": "syncPatientData"},
  {"timestamp": "2025-08-25T09:00:20Z", "caller": "bob", "endpoint": "syncPatientData"},
  {"timestamp": "2025-08-25T09:00:30Z", "caller": "alice", "endpoint": "syncPatientData"}
]`
	path := filepath.Join(t.TempDir(), "calls.json")
	if err := os.WriteFile(path, []byte(traffic), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
