// Package speakers loads per-speaker voice configuration from YAML files
// and inline command-line specs.
package speakers

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the synthesis settings for one speaker.
type Config struct {
	// VoiceName is the backend voice; empty means backend default.
	VoiceName string `yaml:"voice_name" json:"voice_name,omitempty"`
	// VoiceHint is a locale hint for voice resolution (e.g. "ko_KR").
	VoiceHint string `yaml:"voice_hint" json:"voice_hint,omitempty"`
	// RateWPM is words per minute; 0 means the 180 default.
	RateWPM int `yaml:"rate_wpm" json:"rate_wpm,omitempty"`
	// GainDB adjusts the speaker's level in the mix.
	GainDB float64 `yaml:"gain_db" json:"gain_db,omitempty"`
	// Pan positions the speaker in the stereo field, [-1, 1].
	Pan float64 `yaml:"pan" json:"pan,omitempty"`
	// Speed is a playback multiplier for clone backends.
	Speed float64 `yaml:"speed" json:"speed,omitempty"`
	// RefAudio is reference audio for voice-cloning backends.
	RefAudio string `yaml:"ref_wav" json:"ref_wav,omitempty"`
	// Aliases are alternate script labels resolving to this speaker.
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.VoiceHint == "" {
		c.VoiceHint = "ko_KR"
	}
	if c.RateWPM == 0 {
		c.RateWPM = 180
	}
	if c.Speed == 0 {
		c.Speed = 1.0
	}
	if c.Pan < -1 {
		c.Pan = -1
	}
	if c.Pan > 1 {
		c.Pan = 1
	}
}

// Map is the full speaker configuration for a synthesis run.
type Map map[string]*Config

// LoadFile reads a YAML speaker map: top-level keys are speaker names,
// values are Config fields.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read speaker map: %w", err)
	}
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse speaker map %s: %w", path, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("speaker map %s defines no speakers", path)
	}
	for name, cfg := range m {
		if cfg == nil {
			cfg = &Config{}
			m[name] = cfg
		}
		cfg.applyDefaults()
	}
	return m, nil
}

// Normalize fills nil entries and default fields, for maps built from
// decoded JSON rather than LoadFile or ParseSpecs.
func (m Map) Normalize() Map {
	for name, cfg := range m {
		if cfg == nil {
			cfg = &Config{}
			m[name] = cfg
		}
		cfg.applyDefaults()
	}
	return m
}

// ParseSpecs builds a map from inline voice specs of the form
// `A=ko_KR:Yuna,rate=180,pan=-0.3` or `A=SunHi,rate=170`. Specs without
// "=" are skipped.
func ParseSpecs(specs []string) (Map, error) {
	m := make(Map)
	for _, spec := range specs {
		speaker, params, ok := strings.Cut(spec, "=")
		if !ok {
			continue
		}
		speaker = strings.TrimSpace(speaker)
		params = strings.Trim(strings.TrimSpace(params), `"'`)
		if speaker == "" {
			continue
		}

		cfg := &Config{}
		for i, part := range strings.Split(params, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if key, value, ok := strings.Cut(part, "="); ok {
				if err := cfg.setParam(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
					return nil, fmt.Errorf("voice spec %q: %w", spec, err)
				}
				continue
			}
			if hint, name, ok := strings.Cut(part, ":"); ok {
				cfg.VoiceHint = strings.TrimSpace(hint)
				cfg.VoiceName = strings.TrimSpace(name)
				continue
			}
			// A bare first token is the voice name.
			if i == 0 {
				cfg.VoiceName = part
			}
		}
		cfg.applyDefaults()
		m[speaker] = cfg
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("no valid voice specs")
	}
	return m, nil
}

func (c *Config) setParam(key, value string) error {
	switch key {
	case "voice", "voice_name":
		c.VoiceName = value
	case "hint", "voice_hint":
		c.VoiceHint = value
	case "rate", "rate_wpm":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid rate %q", value)
		}
		c.RateWPM = n
	case "gain", "gain_db":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid gain %q", value)
		}
		c.GainDB = f
	case "pan":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid pan %q", value)
		}
		c.Pan = f
	case "speed":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid speed %q", value)
		}
		c.Speed = f
	case "ref", "ref_wav":
		c.RefAudio = value
	default:
		return fmt.Errorf("unknown parameter %q", key)
	}
	return nil
}

// Aliases collects canonical-name -> alias-list for the script parser.
func (m Map) Aliases() map[string][]string {
	out := make(map[string][]string)
	for name, cfg := range m {
		if len(cfg.Aliases) > 0 {
			out[name] = cfg.Aliases
		}
	}
	return out
}

// Rename remaps speakers to display names in sorted key order: the first
// name replaces the alphabetically first speaker and so on. The original
// key is kept as an alias so scripts using either label still resolve.
// More names than speakers is an error.
func (m Map) Rename(names []string) (Map, error) {
	sorted := make([]string, 0, len(m))
	for name := range m {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	if len(names) > len(sorted) {
		return nil, fmt.Errorf("%d display names for %d speakers", len(names), len(sorted))
	}

	out := make(Map, len(m))
	for i, displayName := range names {
		original := sorted[i]
		cfg := m[original]
		if !containsString(cfg.Aliases, original) {
			cfg.Aliases = append(cfg.Aliases, original)
		}
		out[displayName] = cfg
	}
	for _, name := range sorted[len(names):] {
		out[name] = m[name]
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
