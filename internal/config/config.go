// Package config loads connection configuration from YAML files, the
// environment and URLs.
//
// A file looks like:
//
//	url: postgres://app@db/app
//	pool_size: 10
//	auto_create: true
//	read:
//	  - url: postgres://app@replica-1/app
//	  - url: postgres://app@replica-2/app
//	    pool_size: 4
//
// The decoded document is checked against an embedded CUE schema before it
// is used.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvURL      = "TABERNACLE_URL"
	EnvLogLevel = "TABERNACLE_LOG_LEVEL"
	EnvPoolSize = "TABERNACLE_POOL_SIZE"
)

// DefaultFile is the configuration file the CLI looks for.
const DefaultFile = "tabernacle.yaml"

// DefaultMigrations is the default migrations directory.
const DefaultMigrations = "migrations"

//go:embed schema.cue
var schemaSource string

// Config describes how to connect.
type Config struct {
	// URL is the engine used for writes and, without Read, for reads.
	URL      string `yaml:"url,omitempty"`
	PoolSize int    `yaml:"pool_size,omitempty"`

	// AutoCreate makes models create their collections on first use.
	AutoCreate bool `yaml:"auto_create,omitempty"`

	// Write overrides URL for writes.
	Write *Endpoint `yaml:"write,omitempty"`
	// Read lists engines that serve reads in rotation.
	Read []Endpoint `yaml:"read,omitempty"`

	LogLevel   string `yaml:"log_level,omitempty"`
	LogFormat  string `yaml:"log_format,omitempty"`
	Migrations string `yaml:"migrations,omitempty"`
}

// Endpoint is one engine URL with its pool size.
type Endpoint struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size,omitempty"`
}

// FromURL returns a configuration for a single engine.
func FromURL(url string) Config {
	return Config{URL: url}
}

// Load reads path, applies environment overrides and validates the
// result. A missing file is not an error when the environment supplies a
// URL.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && os.Getenv(EnvURL) != "":
		data = nil
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes and schema-checks a YAML document without applying the
// environment.
func Parse(data []byte) (Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := checkSchema(doc); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

func checkSchema(doc map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables read through
// getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvURL); v != "" {
		c.URL = v
		c.Write = nil
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvPoolSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q", EnvPoolSize, v)
		}
		c.PoolSize = n
	}
	return nil
}

// Validate checks that the configuration names a write engine.
func (c Config) Validate() error {
	if c.WriteEndpoint().URL == "" {
		return errors.New("config: a url or write url is required")
	}
	for i, r := range c.Read {
		if strings.TrimSpace(r.URL) == "" {
			return fmt.Errorf("config: read[%d] has no url", i)
		}
	}
	return nil
}

// WriteEndpoint returns the engine used for writes.
func (c Config) WriteEndpoint() Endpoint {
	if c.Write != nil && c.Write.URL != "" {
		ep := *c.Write
		if ep.PoolSize == 0 {
			ep.PoolSize = c.PoolSize
		}
		return ep
	}
	return Endpoint{URL: c.URL, PoolSize: c.PoolSize}
}

// ReadEndpoints returns the engines used for reads. Empty means reads go
// to the write engine.
func (c Config) ReadEndpoints() []Endpoint {
	out := make([]Endpoint, len(c.Read))
	for i, r := range c.Read {
		if r.PoolSize == 0 {
			r.PoolSize = c.PoolSize
		}
		out[i] = r
	}
	return out
}

// MigrationsDir returns the migrations directory.
func (c Config) MigrationsDir() string {
	if c.Migrations == "" {
		return DefaultMigrations
	}
	return c.Migrations
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
