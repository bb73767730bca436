package generation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params configures terrain generation. A Params value is never mutated after
// construction; workers each hold their own copy from Clone.
type Params struct {
	Seed        int64   `yaml:"seed" json:"seed"`
	Scale       float32 `yaml:"scale" json:"scale" validate:"gt=0"`
	Amplitude   float32 `yaml:"amplitude" json:"amplitude" validate:"gte=0"`
	Octaves     int     `yaml:"octaves" json:"octaves" validate:"min=1,max=12"`
	Lacunarity  float32 `yaml:"lacunarity" json:"lacunarity" validate:"gt=0"`
	Persistence float32 `yaml:"persistence" json:"persistence" validate:"gt=0"`

	SeaLevel  int `yaml:"sea_level" json:"sea_level"`
	DirtDepth int `yaml:"dirt_depth" json:"dirt_depth" validate:"gte=0"`
	BeachBand int `yaml:"beach_band" json:"beach_band" validate:"gte=0"`

	CaveScale     float32 `yaml:"cave_scale" json:"cave_scale" validate:"gt=0"`
	CaveThreshold float32 `yaml:"cave_threshold" json:"cave_threshold"`
	CaveCeiling   int     `yaml:"cave_ceiling" json:"cave_ceiling"`
}

// DefaultParams returns the terrain settings used when no params file is given.
func DefaultParams(seed int64) Params {
	return Params{
		Seed:          seed,
		Scale:         100,
		Amplitude:     30,
		Octaves:       4,
		Lacunarity:    1.5,
		Persistence:   0.5,
		SeaLevel:      0,
		DirtDepth:     4,
		BeachBand:     2,
		CaveScale:     24,
		CaveThreshold: 0.35,
		CaveCeiling:   -8,
	}
}

// Clone returns an independent copy.
func (p Params) Clone() Params {
	return p
}

// LoadParams reads terrain params from a YAML file. Fields missing from the
// file keep the values from DefaultParams(seed).
func LoadParams(path string, seed int64) (Params, error) {
	p := DefaultParams(seed)
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
