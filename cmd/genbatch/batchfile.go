package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"gopkg.in/yaml.v3"
)

// batchFile is the YAML document accepted by `genbatch run`.
//
//	name: solar-system
//	items:
//	  - title: Io
//	    prompt: Describe Io's volcanism as a JSON object.
type batchFile struct {
	Name  string               `yaml:"name" validate:"max=200"`
	Items []generation.Request `yaml:"items" validate:"required,min=1,dive"`
}

var validate = validator.New()

// readBatchFile parses and validates path. A missing name defaults to the
// file name without its extension.
func readBatchFile(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}

	bf.Name = strings.TrimSpace(bf.Name)
	if bf.Name == "" {
		bf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := validate.Struct(bf); err != nil {
		return nil, fmt.Errorf("invalid batch file %s: %w", path, err)
	}
	return &bf, nil
}

// sameRequests reports whether a stored batch was created from the same
// requests, in the same order.
func sameRequests(a, b []generation.Request) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
