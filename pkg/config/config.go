package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = ".pipewatch.yaml"

type File struct {
	Server  Server   `yaml:"server"`
	Retry   Retry    `yaml:"retry,omitempty"`
	Scripts []string `yaml:"scripts,omitempty"`
}

type Server struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path,omitempty"`
	// Headers are sent verbatim on the stream request (auth construction is
	// up to the caller).
	Headers map[string]string `yaml:"headers,omitempty"`
}

type Retry struct {
	MaxAttempts      int   `yaml:"max_attempts,omitempty"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms,omitempty"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms,omitempty"`
}

func (r Retry) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}

func (r Retry) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

func DefaultPath(dir string) string {
	return filepath.Join(dir, DefaultConfigFilename)
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg File
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	return &cfg, nil
}

func LoadOptional(path string) (*File, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, errors.Wrap(err, "stat config")
	}
	return LoadFromFile(path)
}
