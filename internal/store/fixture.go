package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"opscal/internal/model"
)

// LoadFixture reads a YAML document of the form
//
//	templates:
//	  - id: fridge-clean
//	    frequency: weekly
//	    ...
//	completions:
//	  - id: c1
//	    template_id: fridge-clean
//	    ...
func LoadFixture(path string) (model.Snapshot, error) {
	if path == "" {
		return model.Snapshot{}, errors.New("fixture path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Snapshot{}, err
	}
	return ParseFixture(data)
}

// ParseFixture decodes a YAML fixture payload.
func ParseFixture(data []byte) (model.Snapshot, error) {
	var snap model.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("fixture: %w", err)
	}
	if snap.Templates == nil {
		snap.Templates = []model.Template{}
	}
	if snap.Completions == nil {
		snap.Completions = []model.Completion{}
	}
	return snap, nil
}
