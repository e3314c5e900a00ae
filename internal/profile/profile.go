// Package profile defines the rendering settings the controller decides
// over and the named presets the renderer and energy measurements use.
package profile

import (
	"fmt"
	"strings"
)

// Quality is the visualization detail tier.
type Quality int

const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
	QualityUltra
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	case QualityUltra:
		return "ultra"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *Quality) UnmarshalText(text []byte) error {
	for v := QualityLow; v <= QualityUltra; v++ {
		if strings.EqualFold(string(text), v.String()) {
			*q = v
			return nil
		}
	}
	return fmt.Errorf("unknown visualization quality %q", text)
}

// Profile is the unit of decision. All fields are comparable, so two
// profiles can be compared with ==.
type Profile struct {
	FrameRate            int     `json:"frame_rate"`
	VisualizationQuality Quality `json:"visualization_quality"`
	EffectsEnabled       bool    `json:"effects_enabled"`
	BloomEnabled         bool    `json:"bloom_enabled"`
	ParticlesEnabled     bool    `json:"particles_enabled"`
	TextureQuality       float64 `json:"texture_quality"`
	VSyncEnabled         bool    `json:"vsync_enabled"`
}

func (p Profile) Equal(other Profile) bool {
	return p == other
}

// WithFrameRate returns a copy of p running at rate.
func (p Profile) WithFrameRate(rate int) Profile {
	p.FrameRate = rate
	return p
}

// Normalize clamps texture quality to [0,1] and non-positive frame rates
// to fallback.
func (p Profile) Normalize(fallback int) Profile {
	if p.FrameRate <= 0 {
		p.FrameRate = fallback
	}
	if p.TextureQuality < 0 || p.TextureQuality != p.TextureQuality {
		p.TextureQuality = 0
	}
	if p.TextureQuality > 1 {
		p.TextureQuality = 1
	}

	return p
}

// Mode names a preset.
type Mode string

const (
	ModePowerSaver  Mode = "power_saver"
	ModeBalanced    Mode = "balanced"
	ModePerformance Mode = "performance"
	ModeQuality     Mode = "quality"
)

var presets = map[Mode]Profile{
	ModePowerSaver: {
		FrameRate:            30,
		VisualizationQuality: QualityLow,
		TextureQuality:       0.5,
		VSyncEnabled:         true,
	},
	ModeBalanced: {
		FrameRate:            60,
		VisualizationQuality: QualityMedium,
		EffectsEnabled:       true,
		TextureQuality:       0.75,
		VSyncEnabled:         true,
	},
	ModePerformance: {
		FrameRate:            120,
		VisualizationQuality: QualityMedium,
		EffectsEnabled:       true,
		TextureQuality:       0.5,
		VSyncEnabled:         false,
	},
	ModeQuality: {
		FrameRate:            60,
		VisualizationQuality: QualityUltra,
		EffectsEnabled:       true,
		BloomEnabled:         true,
		ParticlesEnabled:     true,
		TextureQuality:       1,
		VSyncEnabled:         true,
	},
}

// Preset returns the profile for mode.
func Preset(mode Mode) (Profile, bool) {
	p, ok := presets[Mode(strings.ToLower(string(mode)))]
	return p, ok
}

// Default is the balanced preset.
func Default() Profile {
	return presets[ModeBalanced]
}

// Modes lists the preset names in a stable order.
func Modes() []Mode {
	return []Mode{ModePowerSaver, ModeBalanced, ModePerformance, ModeQuality}
}
