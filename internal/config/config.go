// Package config loads the CLI/logging bootstrap's configuration file
// (spec §1 lists "CLI/logging bootstrap, configuration file loading" among
// the collaborators the core excludes). Grounded on the retrieval pack's
// docker-compose/ecs marshall.go (a YAML-shaped config unmarshalled
// wholesale into a typed struct), using gopkg.in/yaml.v3 rather than that
// file's go-yaml fork, since that is the library this module's go.mod
// adopted (see SPEC_FULL.md's AMBIENT STACK section).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of the server's bootstrap configuration:
// listen address, pool floor/ceiling, timeouts, and the two size limits the
// spec's control surface calls out as configurable (spec §6).
type Config struct {
	Listen string `yaml:"listen"`

	Pool struct {
		Min          int           `yaml:"min"`
		Max          int           `yaml:"max"`
		IdleInterval time.Duration `yaml:"idle_interval"`
	} `yaml:"pool"`

	Timeouts struct {
		ReadRequestHead time.Duration `yaml:"read_request_head"`
		ReadRequestBody time.Duration `yaml:"read_request_body"`
		WriteResponse   time.Duration `yaml:"write_response"`
		KeepAliveIdle   time.Duration `yaml:"keep_alive_idle"`
	} `yaml:"timeouts"`

	MaxHeaderBytes int   `yaml:"max_header_bytes"`
	MaxBodyBuffer  int64 `yaml:"max_body_buffer"`

	StaticDir string `yaml:"static_dir"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Default returns a Config with the same defaults server.DefaultConfig uses,
// so an empty or partial YAML file still produces a runnable server.
func Default() Config {
	var c Config
	c.Listen = ":8080"
	c.Pool.Min = 2
	c.Pool.Max = 32
	c.Pool.IdleInterval = 60 * time.Second
	c.Timeouts.ReadRequestHead = 10 * time.Second
	c.Timeouts.ReadRequestBody = 60 * time.Second
	c.Timeouts.WriteResponse = 60 * time.Second
	c.Timeouts.KeepAliveIdle = 120 * time.Second
	c.MaxHeaderBytes = 8 * 1024
	c.MaxBodyBuffer = 64 * 1024
	c.ShutdownGrace = 10 * time.Second
	return c
}

// Load reads and parses the YAML file at path, starting from Default() so
// any field the file omits keeps its default value.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return c, nil
}
