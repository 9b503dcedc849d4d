package cli

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/Carelink/internal/config"
	"github.com/SmitUplenchwar2687/Carelink/internal/functions"
	"github.com/SmitUplenchwar2687/Carelink/internal/recorder"
)

func TestGenerateTraffic_Patterns(t *testing.T) {
	for _, pattern := range []string{"steady", "burst", "ramp"} {
		t.Run(pattern, func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			records := generateTraffic(rng, epoch, 50, 3, 5*time.Minute, pattern)
			if len(records) != 50 {
				t.Fatalf("records = %d, want 50", len(records))
			}
			for _, r := range records {
				if r.Timestamp.Before(epoch) || !r.Timestamp.Before(epoch.Add(5*time.Minute+time.Second)) {
					t.Errorf("timestamp %s outside the requested span", r.Timestamp)
				}
				if !functions.Known(r.Endpoint) {
					t.Errorf("endpoint %q is not a known function", r.Endpoint)
				}
			}
		})
	}
}

func TestGenerateTrafficCmd_ReplayableOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.json")

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"generate", "traffic", "--output", path, "--count", "20", "--callers", "2", "--seed", "7"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("generate traffic failed: %v", err)
	}

	records, err := recorder.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(records) != 20 {
		t.Fatalf("records = %d, want 20", len(records))
	}

	replay := NewRootCmd()
	replay.SetOut(&bytes.Buffer{})
	replay.SetArgs([]string{"replay", "--file", path, "--json"})
	if err := replay.Execute(); err != nil {
		t.Fatalf("replaying generated traffic failed: %v", err)
	}
}

func TestGenerateTrafficCmd_RejectsZeroCount(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"generate", "traffic", "--output", filepath.Join(t.TempDir(), "x.json"), "--count", "0"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for zero count")
	}
}

func TestGenerateConfigCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carelink.yaml")

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"generate", "config", "--output", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("generate config failed: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Limiter != config.Default().Limiter {
		t.Errorf("limiter = %+v, want defaults", cfg.Limiter)
	}
}
