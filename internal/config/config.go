package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf"
)

// Config is the top-level WAF configuration: named backend selections.
type Config struct {
	Backends map[string]BackendConfig `yaml:"backends"`
}

// BackendConfig selects a registered backend and holds its options.
type BackendConfig struct {
	Backend string  `yaml:"backend"`
	Options Options `yaml:"options"`
}

// Options holds the connection settings and the declared rules of a backend.
type Options struct {
	APIKey          string        `yaml:"apikey"`
	Domain          string        `yaml:"domain"`
	Zone            string        `yaml:"zone"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	OnLookupFailure string        `yaml:"on_lookup_failure"`
	Rules           []RuleConfig  `yaml:"rules"`
}

// Load reads the WAF configuration from the path specified by the
// WAF_CONFIG_PATH environment variable, defaulting to "configs/waf.yaml".
func Load() (*Config, error) {
	path := os.Getenv("WAF_CONFIG_PATH")
	if path == "" {
		path = "configs/waf.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the WAF configuration from the given file path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading WAF config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing WAF config file: %w", err)
	}

	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("WAF config: no backends configured")
	}

	for name, b := range cfg.Backends {
		if b.Backend == "" {
			return nil, fmt.Errorf("WAF config: backend %q: missing required field 'backend'", name)
		}
		// Expand ${ENV_VAR} references in string options.
		b.Options.APIKey = os.ExpandEnv(b.Options.APIKey)
		b.Options.Domain = os.ExpandEnv(b.Options.Domain)
		b.Options.Zone = os.ExpandEnv(b.Options.Zone)
		b.Options.BaseURL = os.ExpandEnv(b.Options.BaseURL)
		cfg.Backends[name] = b
	}

	return &cfg, nil
}

// Names returns the configured backend selection names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Backends))
	for n := range c.Backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Select returns the backend configuration registered under name.
func (c *Config) Select(name string) (BackendConfig, error) {
	b, ok := c.Backends[name]
	if !ok {
		return BackendConfig{}, fmt.Errorf("WAF config: backend %q not configured (configured: %v)", name, c.Names())
	}
	return b, nil
}

// WAFOptions converts the options into the settings handed to a backend factory.
func (o Options) WAFOptions() waf.Options {
	return waf.Options{
		APIKey:  o.APIKey,
		Domain:  o.Domain,
		ZoneID:  o.Zone,
		BaseURL: o.BaseURL,
		Timeout: o.Timeout,
	}
}

// Target returns the zone a run should reconcile.
func (o Options) Target() waf.Target {
	return waf.Target{Domain: o.Domain, ZoneID: o.Zone}
}
