package workflows

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fluxpoint-media/fluxpoint/logger"
)

// Duration wraps time.Duration so YAML values like "90s" or "1h" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level configuration document for a fluxpoint deployment.
type Config struct {
	// ListenAddr is where the operational API (metrics, event feed) binds.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevels maps logger module names ("reactor", "manager",
	// "reactor.executor", ...) to levels ("debug", "info", "warn", "error").
	// The "default" key sets the fallback level for unlisted modules.
	LogLevels map[string]string `yaml:"log_levels"`

	// Store selects the manager's run registry backend.
	Store StoreConfig `yaml:"store"`

	// Workflows are the statically configured pipeline definitions, available
	// to static executors by name.
	Workflows []*Definition `yaml:"workflows"`

	// Reactors declares the reactors to start.
	Reactors []ReactorConfig `yaml:"reactors"`
}

// StoreConfig selects and configures the run registry backend.
type StoreConfig struct {
	// Backend is "memory" or "redis". Empty means memory.
	Backend string `yaml:"backend"`

	// RedisAddr is the host:port of the redis server, for the redis backend.
	RedisAddr string `yaml:"redis_addr"`

	// KeyPrefix namespaces redis keys. Defaults to "fluxpoint".
	KeyPrefix string `yaml:"key_prefix"`

	// TTL expires idle run records. Zero (or unset) keeps the redis store's
	// default of 24 hours; expiration cannot be turned off from the config.
	TTL Duration `yaml:"ttl"`
}

// ReactorConfig declares one reactor and its workflow resolution strategy.
type ReactorConfig struct {
	Name     string         `yaml:"name"`
	Executor ExecutorConfig `yaml:"executor"`
}

// ExecutorConfig configures how a reactor resolves stream names to workflows.
type ExecutorConfig struct {
	// Kind is "static" or "http".
	Kind string `yaml:"kind"`

	// Routes maps stream-name prefixes to workflow names, for static executors.
	// A route with prefix "" matches every stream.
	Routes []RouteConfig `yaml:"routes"`

	// URL is the decision-service endpoint, for http executors.
	URL string `yaml:"url"`

	// RequestTimeout bounds each attempt against the decision service.
	RequestTimeout Duration `yaml:"request_timeout"`

	// MaxAttempts bounds retries against the decision service.
	MaxAttempts int `yaml:"max_attempts"`

	// RatePerSecond limits outbound decision-service calls. Zero means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// RouteConfig maps a stream-name prefix to a configured workflow.
type RouteConfig struct {
	StreamPrefix string `yaml:"stream_prefix"`
	Workflow     string `yaml:"workflow"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9460"
	}

	for module, level := range c.LogLevels {
		if _, err := logger.ParseLevel(level); err != nil {
			return fmt.Errorf("log_levels[%q]: %w", module, err)
		}
	}

	defined := make(map[string]bool, len(c.Workflows))
	for _, def := range c.Workflows {
		if defined[def.Name] {
			return fmt.Errorf("duplicate workflow definition %q", def.Name)
		}
		defined[def.Name] = true
		if r := Validate(def); r.HasErrors() {
			return fmt.Errorf("invalid workflow %q: %s", def.Name, r.Errors[0])
		}
	}

	seen := make(map[string]bool, len(c.Reactors))
	for i := range c.Reactors {
		rc := &c.Reactors[i]
		if rc.Name == "" {
			return fmt.Errorf("reactor %d has no name", i)
		}
		if seen[rc.Name] {
			return fmt.Errorf("duplicate reactor name %q", rc.Name)
		}
		seen[rc.Name] = true

		switch rc.Executor.Kind {
		case "static", "":
			rc.Executor.Kind = "static"
			for _, route := range rc.Executor.Routes {
				if !defined[route.Workflow] {
					return fmt.Errorf("reactor %q routes to undefined workflow %q",
						rc.Name, route.Workflow)
				}
			}
		case "http":
			if rc.Executor.URL == "" {
				return fmt.Errorf("reactor %q uses an http executor without a url", rc.Name)
			}
		default:
			return fmt.Errorf("reactor %q has unknown executor kind %q", rc.Name, rc.Executor.Kind)
		}
	}

	switch c.Store.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("redis store requires redis_addr")
	}

	return nil
}

// WorkflowFor returns the configured definition with the given name, or nil.
func (c *Config) WorkflowFor(name string) *Definition {
	for _, def := range c.Workflows {
		if def.Name == name {
			return def
		}
	}
	return nil
}
