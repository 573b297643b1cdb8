// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files,
// one secret per file: the file name is the key and the trimmed contents
// are the value. Recognised keys are copied into the configuration keys
// they fill unless the configuration already carries a value.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Recognised key files.
const (
	// OpenAIAPIKey authenticates the language-model reference parser.
	OpenAIAPIKey = "openai-api-key"

	// OpenAlexEmail is the polite-pool contact for alternate-source lookups.
	OpenAlexEmail = "openalex-email"
)

// ConfigKeys maps each recognised key file to the configuration key it fills.
var ConfigKeys = map[string]string{
	OpenAIAPIKey:  "fallback.api_key",
	OpenAlexEmail: "acquisition.mailto",
}

// Setter is the part of a configuration registry that Apply writes to.
// *viper.Viper satisfies it.
type Setter interface {
	GetString(key string) string
	Set(key string, value any)
}

// Load reads every regular, non-hidden file in dir. A missing directory is
// not an error. Unreadable files are reported on stderr and skipped; empty
// files are ignored.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			values[name] = v
		}
	}
	return values, nil
}

// Apply copies recognised secrets into cfg where the target key is still
// empty, and returns the configuration keys it filled in sorted order.
func Apply(values map[string]string, cfg Setter) []string {
	var filled []string
	for file, key := range ConfigKeys {
		v, ok := values[file]
		if !ok || cfg.GetString(key) != "" {
			continue
		}
		cfg.Set(key, v)
		filled = append(filled, key)
	}
	sort.Strings(filled)
	return filled
}

// Names returns the loaded key names in sorted order.
func Names(values map[string]string) []string {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
