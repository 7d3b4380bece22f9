package dispatch

import (
	"fmt"
	"os"

	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/workset"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk unit list of a job array. Every array task reads
// it and picks its unit by index, so the index mapping is pinned by Digest.
type Manifest struct {
	Batch     string         `yaml:"batch"`
	Basedir   string         `yaml:"basedir"`
	StudyID   string         `yaml:"studyid"`
	Model     string         `yaml:"model"`
	Level     int            `yaml:"level"`
	Randomise bool           `yaml:"randomise,omitempty"`
	NoEngine  bool           `yaml:"no_engine,omitempty"`
	Digest    string         `yaml:"digest"`
	Units     []ManifestUnit `yaml:"units"`
}

// ManifestUnit is one unit and its index.
type ManifestUnit struct {
	Index    int      `yaml:"index"`
	Key      string   `yaml:"key"`
	Subject  string   `yaml:"subject,omitempty"`
	Session  string   `yaml:"session,omitempty"`
	Task     string   `yaml:"task"`
	Run      string   `yaml:"run,omitempty"`
	Cope     int      `yaml:"cope,omitempty"`
	Runs     []string `yaml:"runs,omitempty"`
	Subjects []string `yaml:"subjects,omitempty"`
}

// SetUnits records units in order together with their digest.
func (m *Manifest) SetUnits(units []workset.Unit) {
	m.Units = make([]ManifestUnit, len(units))
	for i, u := range units {
		m.Units[i] = ManifestUnit{
			Index:    i,
			Key:      u.Key.String(),
			Subject:  u.Subject,
			Session:  u.Session,
			Task:     u.Task,
			Run:      u.Run,
			Cope:     u.Cope,
			Runs:     u.Runs,
			Subjects: u.Subjects,
		}
	}
	m.Digest = workset.Digest(units)
}

// WorkUnits rebuilds the unit list and checks it against the digest.
func (m *Manifest) WorkUnits() ([]workset.Unit, error) {
	level, err := layout.ParseLevel(m.Level)
	if err != nil {
		return nil, err
	}
	units := make([]workset.Unit, len(m.Units))
	for i, mu := range m.Units {
		if mu.Index != i {
			return nil, fmt.Errorf("manifest unit %d is listed at position %d", mu.Index, i)
		}
		units[i] = workset.Unit{
			Key: layout.Key{
				Level:   level,
				Subject: mu.Subject,
				Session: mu.Session,
				Task:    mu.Task,
				Run:     mu.Run,
				Cope:    mu.Cope,
			},
			Runs:     mu.Runs,
			Subjects: mu.Subjects,
		}
	}
	if got := workset.Digest(units); got != m.Digest {
		return nil, fmt.Errorf("manifest digest mismatch: recorded %s, computed %s", m.Digest, got)
	}
	return units, nil
}

// Unit returns the unit at index.
func (m *Manifest) Unit(index int) (workset.Unit, error) {
	units, err := m.WorkUnits()
	if err != nil {
		return workset.Unit{}, err
	}
	if index < 0 || index >= len(units) {
		return workset.Unit{}, fmt.Errorf("index %d out of range: manifest has %d units", index, len(units))
	}
	return units[index], nil
}

// WriteManifest writes m as YAML.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}
