package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hybridsix/chronocore/model"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if !cfg.App.Engine.Persistence.Enabled {
		t.Errorf("persistence.enabled = false, want true")
	}
	if got := cfg.App.Engine.Persistence.BatchMs; got != 200 {
		t.Errorf("batch_ms = %d, want 200", got)
	}
	if got := cfg.App.Engine.Persistence.BatchMax; got != 50 {
		t.Errorf("batch_max = %d, want 50", got)
	}
	if got := cfg.App.Engine.Persistence.CheckpointS; got != 15 {
		t.Errorf("checkpoint_s = %d, want 15", got)
	}
	if got := cfg.App.Timing.MinLapS; got != 5.0 {
		t.Errorf("min_lap_s = %v, want 5.0", got)
	}
	if got := cfg.App.Timing.MinLapSDup; got != 1.0 {
		t.Errorf("min_lap_s_dup = %v, want 1.0", got)
	}
	if got := cfg.App.Ingest.MinTagLen; got != 7 {
		t.Errorf("min_tag_len = %d, want 7", got)
	}
	if got := cfg.App.Ingest.DedupWindowS; got != 3.0 {
		t.Errorf("dedup_window_s = %v, want 3.0", got)
	}
	if !cfg.App.Features.AutoProvisional {
		t.Errorf("auto_provisional = false, want true")
	}
	if cfg.Modes == nil {
		t.Fatalf("Modes is nil, want empty map")
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeTemp(t, `
app:
  engine:
    persistence:
      sqlite_path: /tmp/chrono.db
      fsync: true
  timing:
    min_lap_s: 7.5
  pits:
    receivers:
      pit_in: [loopB]
      pit_out: [loopC]
modes:
  sprint:
    limit:
      laps: 20
  endurance:
    limit:
      time_s: 1800
    soft_end: true
    soft_end_timeout_s: 30
    min_lap_s: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.App.Engine.Persistence.SQLitePath; got != "/tmp/chrono.db" {
		t.Errorf("sqlite_path = %q", got)
	}
	if !cfg.App.Engine.Persistence.Fsync {
		t.Errorf("fsync = false, want true")
	}
	if got := cfg.App.Engine.Persistence.BatchMs; got != 200 {
		t.Errorf("default batch_ms lost, got %d", got)
	}
	if got := cfg.App.Timing.MinLapS; got != 7.5 {
		t.Errorf("min_lap_s = %v, want 7.5", got)
	}
	if got := cfg.App.Timing.MinLapSDup; got != 1.0 {
		t.Errorf("default min_lap_s_dup lost, got %v", got)
	}
	if got := cfg.App.Pits.Receivers.PitIn; len(got) != 1 || got[0] != "loopB" {
		t.Errorf("pit_in = %v", got)
	}

	sprint, ok := cfg.Mode("sprint")
	if !ok {
		t.Fatalf("mode sprint missing")
	}
	if lim := sprint.Limit.ToLimit(); lim.Type != model.LimitLaps || lim.Laps != 20 {
		t.Errorf("sprint limit = %+v", lim)
	}
	endurance, ok := cfg.Mode("endurance")
	if !ok {
		t.Fatalf("mode endurance missing")
	}
	if lim := endurance.Limit.ToLimit(); lim.Type != model.LimitTime || lim.TimeS != 1800 {
		t.Errorf("endurance limit = %+v", lim)
	}
	if !endurance.SoftEnd || endurance.SoftEndTimeoutS != 30 {
		t.Errorf("endurance soft end = %v/%v", endurance.SoftEnd, endurance.SoftEndTimeoutS)
	}
	if endurance.MinLapS != 10 {
		t.Errorf("endurance min_lap_s = %v, want 10", endurance.MinLapS)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		missing bool // expect ErrConfigMissing
	}{
		{
			"persistence enabled without path",
			"app:\n  engine:\n    persistence:\n      enabled: true\n",
			true,
		},
		{
			"device in both pit lists",
			"app:\n  engine:\n    persistence:\n      enabled: false\n  pits:\n    receivers:\n      pit_in: [loopB]\n      pit_out: [loopB]\n",
			false,
		},
		{
			"mode with both limits",
			"app:\n  engine:\n    persistence:\n      enabled: false\nmodes:\n  broken:\n    limit:\n      time_s: 600\n      laps: 10\n",
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.body))
			if err == nil {
				t.Fatalf("Load succeeded, want error")
			}
			if tt.missing && !errors.Is(err, ErrConfigMissing) {
				t.Errorf("error = %v, want ErrConfigMissing", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("Load of missing file succeeded")
	}
}
