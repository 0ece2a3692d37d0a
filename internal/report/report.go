// Package report writes YAML summaries of spatial autocorrelation runs.
package report

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// MoranSummary is the result of a global Moran's I run.
type MoranSummary struct {
	Variable     string    `yaml:"variable" json:"variable"`
	Weights      string    `yaml:"weights" json:"weights"`
	Observations int       `yaml:"observations" json:"observations"`
	Permutations int       `yaml:"permutations" json:"permutations"`
	Seed         uint64    `yaml:"seed" json:"seed"`
	I            float64   `yaml:"i" json:"i"`
	EI           float64   `yaml:"expected_i" json:"expected_i"`
	ZNorm        float64   `yaml:"z_norm" json:"z_norm"`
	PNorm        float64   `yaml:"p_norm" json:"p_norm"`
	PSim         float64   `yaml:"p_sim" json:"p_sim"`
	ZSim         float64   `yaml:"z_sim" json:"z_sim"`
	Figures      []string  `yaml:"figures,omitempty" json:"figures,omitempty"`
	GeneratedAt  time.Time `yaml:"generated_at" json:"generated_at"`
}

// City is a municipality listed in a summary.
type City struct {
	Code  int64   `yaml:"code" json:"code"`
	Name  string  `yaml:"name" json:"name"`
	Value float64 `yaml:"value" json:"value"`
	PSim  float64 `yaml:"p_sim" json:"p_sim"`
}

// LISASummary is the result of a local Moran's I run.
type LISASummary struct {
	Variable     string         `yaml:"variable" json:"variable"`
	Weights      string         `yaml:"weights" json:"weights"`
	Observations int            `yaml:"observations" json:"observations"`
	Permutations int            `yaml:"permutations" json:"permutations"`
	Seed         uint64         `yaml:"seed" json:"seed"`
	Significance float64        `yaml:"significance" json:"significance"`
	Quadrants    map[string]int `yaml:"quadrants" json:"quadrants"`
	Hotspots     []City         `yaml:"hotspots" json:"hotspots"`
	Figures      []string       `yaml:"figures,omitempty" json:"figures,omitempty"`
	GeneratedAt  time.Time      `yaml:"generated_at" json:"generated_at"`
}

// Write marshals v as YAML to path, creating parent directories.
func Write(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "report: marshal")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// Read unmarshals the YAML document at path into v.
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "report: read %s", path)
	}
	return eris.Wrapf(yaml.Unmarshal(data, v), "report: unmarshal %s", path)
}

// List returns the names of the YAML summaries in dir, sorted. A missing
// dir holds no summaries.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "report: list %s", dir)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".yaml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
