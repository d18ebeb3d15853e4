// Package config is the persisted-configuration collaborator: a
// YAML-backed, key-versioned store for the settings the engine core
// consumes at boot and the tuning surfaces update at runtime. It is
// deliberately outside the real-time path — loaded once at init,
// mutated only from Core 1's non-real-time context.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds every persisted key the core consumes.
type Config struct {
	mu sync.RWMutex

	Sync      SyncConfig      `yaml:"sync_config" json:"syncConfig"`
	Ignition  IgnitionConfig  `yaml:"ignition_config" json:"ignitionConfig"`
	Injection InjectionConfig `yaml:"injection_config" json:"injectionConfig"`
	EOIT      EOITConfig      `yaml:"eoit_calibration" json:"eoitCalibration"`
	EOITMap   EOITMap         `yaml:"eoit_map_16x16" json:"eoitMap16x16"`
	Tiers     TiersOverride   `yaml:"precision_tiers" json:"precisionTiers"`

	path    string
	version int
}

// SyncConfig holds the crank/cam decoder's tunable parameters.
type SyncConfig struct {
	ToothCount     int     `yaml:"tooth_count" json:"toothCount"`
	GapToothIndex  int     `yaml:"gap_position" json:"gapPosition"`
	MinRPM         int     `yaml:"min_rpm" json:"minRpm"`
	MaxRPM         int     `yaml:"max_rpm" json:"maxRpm"`
	EnableCamPhase bool    `yaml:"enable_cam_phase" json:"enableCamPhase"`
	TDCOffsetDeg   float64 `yaml:"tdc_offset" json:"tdcOffset"`
}

// IgnitionConfig holds dwell/advance limits and per-cylinder TDC.
type IgnitionConfig struct {
	DwellMinUs  float64    `yaml:"dwell_min_us" json:"dwellMinUs"`
	DwellMaxUs  float64    `yaml:"dwell_max_us" json:"dwellMaxUs"`
	AdvanceMin  float64    `yaml:"advance_min_deg" json:"advanceMinDeg"`
	AdvanceMax  float64    `yaml:"advance_max_deg" json:"advanceMaxDeg"`
	CylinderTDC [4]float64 `yaml:"cylinder_tdc" json:"cylinderTdc"`
	EOIAngleDeg float64    `yaml:"eoi_angle_deg" json:"eoiAngleDeg"`
}

// InjectionConfig holds pulsewidth limits and the hard safety ceiling.
type InjectionConfig struct {
	MinPulsewidthUs float64 `yaml:"min_pulsewidth_us" json:"minPulsewidthUs"`
	MaxPulsewidthUs float64 `yaml:"max_pulsewidth_us" json:"maxPulsewidthUs"`
	HardCeilingUs   float64 `yaml:"hard_ceiling_us" json:"hardCeilingUs"`
}

// EOITConfig holds end-of-injection-timing calibration: boundary RPM,
// the normal-mode offset, and a fallback used outside calibrated range.
type EOITConfig struct {
	BoundaryRPM int     `yaml:"boundary_rpm" json:"boundaryRpm"`
	NormalDeg   float64 `yaml:"normal_deg" json:"normalDeg"`
	FallbackDeg float64 `yaml:"fallback_deg" json:"fallbackDeg"`
}

// EOITMap is the 16x16 (rpm_idx, load_idx) normal-value table.
// Values are degrees of EOI angle correction.
type EOITMap struct {
	RPMBins  [16]int         `yaml:"rpm_bins" json:"rpmBins"`
	LoadBins [16]float64     `yaml:"load_bins" json:"loadBins"`
	Values   [16][16]float64 `yaml:"values" json:"values"`
}

// Lookup returns the nearest-bin EOIT correction for (rpm, load), with
// no interpolation — table math belongs to the out-of-scope fuel_calc
// collaborator; this is a coarse fallback only.
func (m *EOITMap) Lookup(rpm int, load float64) float64 {
	ri, li := 0, 0
	for i := 1; i < 16; i++ {
		if rpm >= m.RPMBins[i] {
			ri = i
		}
		if load >= m.LoadBins[i] {
			li = i
		}
	}
	return m.Values[ri][li]
}

// TiersOverride optionally replaces the static precision-tier table's
// RPM thresholds; a zero value (all thresholds 0) means "use defaults".
type TiersOverride struct {
	RPMThresholds [4]int `yaml:"rpm_thresholds" json:"rpmThresholds"`
}

// Active reports whether any threshold has been set.
func (t TiersOverride) Active() bool {
	for _, v := range t.RPMThresholds {
		if v != 0 {
			return true
		}
	}
	return false
}

// DefaultConfig returns a config with sensible defaults for a 60-2
// wheel, even-fire four-cylinder engine.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			ToothCount:     58,
			GapToothIndex:  0,
			MinRPM:         300,
			MaxRPM:         8000,
			EnableCamPhase: true,
			TDCOffsetDeg:   0,
		},
		Ignition: IgnitionConfig{
			DwellMinUs:  2800,
			DwellMaxUs:  4500,
			AdvanceMin:  -10,
			AdvanceMax:  50,
			CylinderTDC: [4]float64{0, 180, 360, 540},
			EOIAngleDeg: 280,
		},
		Injection: InjectionConfig{
			MinPulsewidthUs: 500,
			MaxPulsewidthUs: 20000,
			HardCeilingUs:   25000,
		},
		EOIT: EOITConfig{
			BoundaryRPM: 3000,
			NormalDeg:   0,
			FallbackDeg: 0,
		},
		version: 1,
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment-variable overrides. Falls back to defaults if the file
// is absent or unparsable.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	cfg.applyEnvOverrides()
	return cfg
}

func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides supports a narrow set of operational knobs that
// make sense to flip without rewriting the YAML file: tooth count,
// RPM bounds, and TDC offset.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SYNC_TOOTH_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.ToothCount = n
		}
	}
	if v := os.Getenv("SYNC_MIN_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.MinRPM = n
		}
	}
	if v := os.Getenv("SYNC_MAX_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.MaxRPM = n
		}
	}
	if v := os.Getenv("SYNC_TDC_OFFSET"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Sync.TDCOffsetDeg = n
		}
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/openefi/config.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the tuning/CLI surfaces.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON update by deep-merging into
// the existing config. Fields absent from the patch are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// Version returns the config's schema version, bumped whenever a
// persisted key's shape changes.
func (c *Config) Version() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.version == 0 {
		return 1
	}
	return c.version
}
