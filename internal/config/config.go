package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type rawConfig struct {
	Listen struct {
		Port    int    `yaml:"port"`
		Address string `yaml:"address"`
	} `yaml:"listen"`
	BindAddress string `yaml:"bind_address"`
	Reverse     struct {
		Only   bool   `yaml:"only"`
		Magic  bool   `yaml:"magic"`
		Cookie string `yaml:"cookie"`
		Rules  []struct {
			Path string `yaml:"path"`
			URL  string `yaml:"url"`
		} `yaml:"rules"`
	} `yaml:"reverse"`
	Timeouts struct {
		Read     string `yaml:"read"`
		Write    string `yaml:"write"`
		Upstream string `yaml:"upstream"`
	} `yaml:"timeouts"`
	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"ratelimit"`
	Metrics struct {
		Address string `yaml:"address"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// RuleEntry is one (path, url) reverse rule pair as it appears in the file.
// Entries are not validated here: the rule table is the single validation
// point and drops bad entries with a warning.
type RuleEntry struct {
	Path string
	URL  string
}

type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Upstream time.Duration
}

type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

type Metrics struct {
	Address string
	Path    string
}

// Config is built once at startup and passed by reference into the gateway
// and socket layer; it is never mutated afterwards.
type Config struct {
	ListenPort    int
	ListenAddress string // inbound listen IP, "" = wildcard
	BindAddress   string // outbound source IP, "" = none

	ReverseOnly   bool
	ReverseMagic  bool
	ReverseCookie string
	Rules         []RuleEntry

	Timeouts  Timeouts
	RateLimit RateLimit
	Metrics   Metrics
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}

	c := &Config{
		ListenPort:    rc.Listen.Port,
		ListenAddress: strings.TrimSpace(rc.Listen.Address),
		BindAddress:   strings.TrimSpace(rc.BindAddress),
		ReverseOnly:   rc.Reverse.Only,
		ReverseMagic:  rc.Reverse.Magic,
		ReverseCookie: strings.TrimSpace(rc.Reverse.Cookie),
		RateLimit: RateLimit{
			RequestsPerSecond: rc.RateLimit.RequestsPerSecond,
			Burst:             rc.RateLimit.Burst,
		},
		Metrics: Metrics{
			Address: strings.TrimSpace(rc.Metrics.Address),
			Path:    strings.TrimSpace(rc.Metrics.Path),
		},
	}

	for _, r := range rc.Reverse.Rules {
		c.Rules = append(c.Rules, RuleEntry{
			Path: strings.TrimSpace(r.Path),
			URL:  strings.TrimSpace(r.URL),
		})
	}

	if c.Timeouts.Read, err = parseDuration("timeouts.read", rc.Timeouts.Read); err != nil {
		return nil, err
	}
	if c.Timeouts.Write, err = parseDuration("timeouts.write", rc.Timeouts.Write); err != nil {
		return nil, err
	}
	if c.Timeouts.Upstream, err = parseDuration("timeouts.upstream", rc.Timeouts.Upstream); err != nil {
		return nil, err
	}

	c.setDefaults()
	c.applyEnvOverrides()
	return c, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", field, err)
	}
	return d, nil
}

func (c *Config) setDefaults() {
	if c.ListenPort == 0 {
		c.ListenPort = 8080
	}
	if c.ReverseCookie == "" {
		c.ReverseCookie = "tinyp"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REVPROXY_LISTEN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.ListenPort = p
		}
	}
	if v := os.Getenv("REVPROXY_LISTEN_ADDRESS"); v != "" {
		c.ListenAddress = v
	}
	if v := os.Getenv("REVPROXY_BIND_ADDRESS"); v != "" {
		c.BindAddress = v
	}
	if v := os.Getenv("REVPROXY_METRICS_ADDRESS"); v != "" {
		c.Metrics.Address = v
	}
}
