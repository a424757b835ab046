// Package config reads the optional YAML configuration file. Values from
// the file sit between command-line flags and built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the HTTP listening port when none is configured.
const DefaultPort = 3000

// File mirrors the YAML configuration file. Unset keys are left at their
// zero value so callers can tell them apart from explicit settings.
type File struct {
	Port           int      `yaml:"port"`
	Bind           string   `yaml:"bind"`
	PublicAddr     string   `yaml:"public-addr"`
	LogLevel       string   `yaml:"log-level"`
	MetricsAddr    string   `yaml:"metrics-addr"`
	MaxFrontends   int      `yaml:"max-frontends"`
	AllowedOrigins []string `yaml:"allowed-origins"`
	WriteTimeout   Duration `yaml:"write-timeout"`
	PingInterval   Duration `yaml:"ping-interval"`
	ReadLimit      int64    `yaml:"read-limit"`
	NoColor        bool     `yaml:"no-color"`
}

// Duration is a time.Duration written in YAML as a Go duration string
// ("10s", "1m30s").
type Duration struct {
	time.Duration
	Set bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = v
	d.Set = true
	return nil
}

// Load reads and validates the file at path. An empty path returns an
// empty File. Unknown keys are rejected.
func Load(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Port < 0 || f.Port > 65535 {
		return fmt.Errorf("port %d out of range", f.Port)
	}
	if f.MaxFrontends < 0 {
		return fmt.Errorf("max-frontends must not be negative")
	}
	if f.ReadLimit < 0 {
		return fmt.Errorf("read-limit must not be negative")
	}
	if f.WriteTimeout.Set && f.WriteTimeout.Duration <= 0 {
		return fmt.Errorf("write-timeout must be positive")
	}
	if f.PingInterval.Duration < 0 {
		return fmt.Errorf("ping-interval must not be negative")
	}
	return nil
}

// SplitList splits a comma-separated list, trimming blanks and dropping
// empty entries.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
