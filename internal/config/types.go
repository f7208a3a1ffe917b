package config

import (
	"maps"
	"net"
	"net/url"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Record is the dev server configuration. It is built once by Default or Load
// and never mutated afterwards; accessors hand out copies.
type Record struct {
	Plugins []Plugin     `yaml:"plugins" json:"plugins"`
	Base    string       `yaml:"base"    json:"base"`
	Server  ServerConfig `yaml:"server"  json:"server"`
	Build   BuildConfig  `yaml:"build"   json:"build"`
}

// Plugin is a handle naming a source-transform plugin.
type Plugin struct {
	Name string `yaml:"name" json:"name"`
}

// UnmarshalYAML accepts both the short form (`- vue`) and the mapping form
// (`- name: vue`).
func (p *Plugin) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Name = value.Value
		return nil
	}
	type plain Plugin
	return value.Decode((*plain)(p))
}

// MarshalYAML writes the short form.
func (p Plugin) MarshalYAML() (any, error) {
	return p.Name, nil
}

// ServerConfig describes the development listener.
type ServerConfig struct {
	Port  int                  `yaml:"port"  json:"port"`
	Host  string               `yaml:"host"  json:"host"`
	HTTPS bool                 `yaml:"https" json:"https"`
	Proxy map[string]ProxyRule `yaml:"proxy" json:"proxy"`
}

// ProxyRule forwards requests under a path prefix to Target.
type ProxyRule struct {
	Target       string            `yaml:"target"       json:"target"`
	ChangeOrigin bool              `yaml:"changeOrigin" json:"changeOrigin"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// BuildConfig describes where production bundles are written.
type BuildConfig struct {
	OutDir      string `yaml:"outDir"      json:"outDir"`
	EmptyOutDir bool   `yaml:"emptyOutDir" json:"emptyOutDir"`
}

// Rule is a validated proxy rule ready for request matching.
type Rule struct {
	Prefix       string
	Target       *url.URL
	ChangeOrigin bool
	Headers      map[string]string
}

// Addr returns the listen address for the configured host and port. IPv6
// hosts are bracketed.
func (r Record) Addr() string {
	return net.JoinHostPort(r.Server.Host, strconv.Itoa(r.Server.Port))
}

// PluginNames returns the plugin names in declaration order.
func (r Record) PluginNames() []string {
	names := make([]string, 0, len(r.Plugins))
	for _, p := range r.Plugins {
		names = append(names, p.Name)
	}
	return names
}

// Rules returns the proxy rules sorted longest prefix first. Entries whose
// target does not parse are skipped; Load never produces such entries.
func (r Record) Rules() []Rule {
	prefixes := slices.Collect(maps.Keys(r.Server.Proxy))
	slices.SortFunc(prefixes, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})

	rules := make([]Rule, 0, len(prefixes))
	for _, prefix := range prefixes {
		pr := r.Server.Proxy[prefix]
		u, err := url.Parse(pr.Target)
		if err != nil {
			continue
		}
		rules = append(rules, Rule{
			Prefix:       prefix,
			Target:       u,
			ChangeOrigin: pr.ChangeOrigin,
			Headers:      maps.Clone(pr.Headers),
		})
	}
	return rules
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Plugins = slices.Clone(r.Plugins)
	if r.Server.Proxy != nil {
		out.Server.Proxy = make(map[string]ProxyRule, len(r.Server.Proxy))
		for k, v := range r.Server.Proxy {
			v.Headers = maps.Clone(v.Headers)
			out.Server.Proxy[k] = v
		}
	}
	return out
}
