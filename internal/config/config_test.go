package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigSane(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Sync.MinRPM >= cfg.Sync.MaxRPM {
		t.Errorf("min_rpm %d >= max_rpm %d", cfg.Sync.MinRPM, cfg.Sync.MaxRPM)
	}
	if cfg.Ignition.DwellMinUs >= cfg.Ignition.DwellMaxUs {
		t.Errorf("dwell min %f >= max %f", cfg.Ignition.DwellMinUs, cfg.Ignition.DwellMaxUs)
	}
}

func TestLoadConfigFallsBackToDefaultsWhenMissing(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if cfg.Sync.ToothCount != DefaultConfig().Sync.ToothCount {
		t.Errorf("expected default tooth_count, got %d", cfg.Sync.ToothCount)
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "sync_config:\n  min_rpm: 400\n  max_rpm: 7500\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := LoadConfig(path)
	if cfg.Sync.MinRPM != 400 || cfg.Sync.MaxRPM != 7500 {
		t.Errorf("got min=%d max=%d, want 400/7500", cfg.Sync.MinRPM, cfg.Sync.MaxRPM)
	}
}

func TestEnvOverrideWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("sync_config:\n  min_rpm: 400\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("SYNC_MIN_RPM", "600")
	defer os.Unsetenv("SYNC_MIN_RPM")

	cfg := LoadConfig(path)
	if cfg.Sync.MinRPM != 600 {
		t.Errorf("MinRPM = %d, want 600 (env override)", cfg.Sync.MinRPM)
	}
}

func TestUpdateFromJSONPreservesUntouchedFields(t *testing.T) {
	cfg := DefaultConfig()
	originalToothCount := cfg.Sync.ToothCount

	err := cfg.UpdateFromJSON([]byte(`{"syncConfig":{"minRpm":500}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.MinRPM != 500 {
		t.Errorf("MinRPM = %d, want 500", cfg.Sync.MinRPM)
	}
	if cfg.Sync.ToothCount != originalToothCount {
		t.Errorf("ToothCount changed to %d, want unchanged %d", cfg.Sync.ToothCount, originalToothCount)
	}
}

func TestEOITMapLookupNearestBin(t *testing.T) {
	var m EOITMap
	m.RPMBins[0] = 0
	m.RPMBins[1] = 2000
	m.LoadBins[0] = 0
	m.LoadBins[1] = 50
	// Bins must ascend along each axis; fill the rest above the test inputs.
	for i := 2; i < 16; i++ {
		m.RPMBins[i] = 2000 + i*1000
		m.LoadBins[i] = 50 + float64(i)*10
	}
	m.Values[0][0] = 1.5
	m.Values[1][1] = 3.0

	if got := m.Lookup(100, 10); got != 1.5 {
		t.Errorf("Lookup(100,10) = %v, want 1.5", got)
	}
	if got := m.Lookup(2500, 60); got != 3.0 {
		t.Errorf("Lookup(2500,60) = %v, want 3.0", got)
	}
}

func TestTiersOverrideActive(t *testing.T) {
	var t1 TiersOverride
	if t1.Active() {
		t.Error("zero-value override should be inactive")
	}
	t1.RPMThresholds[2] = 5000
	if !t1.Active() {
		t.Error("non-zero threshold should be active")
	}
}
