package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file values,
// e.g. REHAB_IMU_THIGH_ADDR=0x68.
const EnvPrefix = "REHAB_"

// Load builds a Config by layering, low to high precedence:
//  1. defaults (New)
//  2. the KEY=VALUE file at configPath, when it exists
//  3. REHAB_* environment variables
//
// A missing file is only an error when configPath was given explicitly
// and is not the default name.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), KeyValueParser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) || configPath != DefaultPath {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(s, EnvPrefix)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := New()
	keys := k.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		if err := cfg.setValue(key, strings.TrimSpace(k.String(key))); err != nil {
			return nil, fmt.Errorf("config %s: %w", key, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is the config file looked up next to the binaries.
const DefaultPath = "rehab_config.txt"

// kvParser is a koanf.Parser for the flat KEY=VALUE format with # comments.
type kvParser struct{}

// KeyValueParser returns the parser for rehab_config.txt files.
func KeyValueParser() koanf.Parser {
	return kvParser{}
}

func (kvParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	scanner := bufio.NewScanner(bytes.NewReader(b))
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("invalid config line %d: empty key", lineNum)
		}
		out[key] = strings.TrimSpace(parts[1])
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return out, nil
}

func (kvParser) Marshal(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%v\n", k, m[k])
	}
	return buf.Bytes(), nil
}
