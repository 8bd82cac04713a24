// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package config holds the model catalog: named sets of model weights the
// installer knows how to fetch, either a whole repository folder or an
// explicit file list with optional renames.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelFile names one file inside a repository, with an optional local
// rename (the downloaded artifact is saved under Local when set).
type ModelFile struct {
	Remote string `yaml:"remote"`
	Local  string `yaml:"local,omitempty"`
}

// ModelSet is one downloadable entry in the catalog. Either Folder is set
// and the whole subfolder is scanned, or Files lists the exact targets.
type ModelSet struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Repo        string      `yaml:"repo"`
	Folder      string      `yaml:"folder,omitempty"`
	Files       []ModelFile `yaml:"files,omitempty"`
	DefaultDir  string      `yaml:"default_dir"`
}

// Catalog maps a set key to its definition.
type Catalog map[string]ModelSet

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		"Ovi_Premium": {
			Name:        "Ovi Premium Models",
			Description: "Ovi Premium model checkpoints",
			Repo:        "MonsterMMORPG/Wan_GGUF",
			Folder:      "Ovi_Premium",
			DefaultDir:  "Ovi_Pro/ckpts",
		},
	}
}

// Load reads a catalog from a YAML file. Sets defined in the file are merged
// over the built-in catalog, so a file can add sets or override defaults.
func Load(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var extra Catalog
	if err := yaml.Unmarshal(b, &extra); err != nil {
		return nil, fmt.Errorf("invalid catalog file %s: %w", path, err)
	}
	cat := DefaultCatalog()
	for k, v := range extra {
		cat[k] = v
	}
	return cat, cat.validate()
}

func (c Catalog) validate() error {
	for key, set := range c {
		if set.Repo == "" {
			return fmt.Errorf("catalog entry %q is missing a repo", key)
		}
		if set.Folder == "" && len(set.Files) == 0 {
			return fmt.Errorf("catalog entry %q needs a folder or a file list", key)
		}
		for _, f := range set.Files {
			if f.Remote == "" {
				return fmt.Errorf("catalog entry %q has a file without a remote path", key)
			}
		}
	}
	return nil
}

// Keys returns the catalog keys in sorted order, for stable menus.
func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
