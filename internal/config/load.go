package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the decoder used for a model document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a decoder from the file extension. Anything that is
// not .yaml/.yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// DecodeModels decodes either a single model object or a list of models.
// Structural errors (e.g. a string where a field list is required) are
// returned as-is; they are fatal for the run.
func DecodeModels(data []byte, f Format) ([]ProcessingModel, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch f {
	case FormatYAML:
		var list []ProcessingModel
		if err := yaml.Unmarshal(trimmed, &list); err == nil {
			return list, nil
		}
		var one ProcessingModel
		if err := yaml.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("decode yaml model: %w", err)
		}
		return []ProcessingModel{one}, nil

	default:
		if trimmed[0] == '[' {
			var list []ProcessingModel
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, fmt.Errorf("decode json models: %w", err)
			}
			return list, nil
		}
		var one ProcessingModel
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("decode json model: %w", err)
		}
		return []ProcessingModel{one}, nil
	}
}

// LoadModelsFile reads and decodes a model file (JSON or YAML by extension).
func LoadModelsFile(path string) ([]ProcessingModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file %s: %w", path, err)
	}
	models, err := DecodeModels(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return models, nil
}

// LoadKeysFile reads standalone ReconciliationKeys (JSON or YAML).
func LoadKeysFile(path string) (ReconciliationKeys, error) {
	var k ReconciliationKeys
	data, err := os.ReadFile(path)
	if err != nil {
		return k, fmt.Errorf("read keys file %s: %w", path, err)
	}
	switch FormatFromPath(path) {
	case FormatYAML:
		err = yaml.Unmarshal(data, &k)
	default:
		err = json.Unmarshal(data, &k)
	}
	if err != nil {
		return k, fmt.Errorf("decode keys file %s: %w", path, err)
	}
	return k, nil
}
