// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"grimm.is/flowgate/internal/errors"
)

// LoadFile loads a config file (HCL or JSON), fills defaults and validates it.
// The format follows the extension; anything else is tried as HCL then JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "failed to read config file %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return LoadHCL(data, path)
	case ".json":
		return LoadJSON(data)
	}

	cfg, hclErr := LoadHCL(data, path)
	if hclErr == nil {
		return cfg, nil
	}
	cfg, jsonErr := LoadJSON(data)
	if jsonErr == nil {
		return cfg, nil
	}
	return nil, errors.Wrapf(hclErr, errors.KindValidation, "failed to parse config as HCL (JSON fallback error: %v)", jsonErr)
}

// LoadHCL loads config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindValidation, "failed to parse HCL")
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindValidation, "failed to decode HCL")
	}
	return finish(&cfg)
}

// LoadJSON loads config from JSON bytes. Unknown fields are rejected.
func LoadJSON(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to parse JSON")
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Wrap(errs, errors.KindValidation, "invalid configuration")
	}
	return cfg, nil
}
