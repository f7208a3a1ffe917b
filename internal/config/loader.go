package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rathix/devserver/internal/plugin"
)

// fileRecord mirrors Record with optional fields so that keys absent from the
// file keep their default values.
type fileRecord struct {
	Plugins []Plugin `yaml:"plugins"`
	Base    *string  `yaml:"base"`
	Server  struct {
		Port  *int                 `yaml:"port"`
		Host  *string              `yaml:"host"`
		HTTPS *bool                `yaml:"https"`
		Proxy map[string]ProxyRule `yaml:"proxy"`
	} `yaml:"server"`
	Build struct {
		OutDir      *string `yaml:"outDir"`
		EmptyOutDir *bool   `yaml:"emptyOutDir"`
	} `yaml:"build"`
}

// Load reads a YAML config file at path and overlays it on Default.
// If path does not exist or is empty, it returns Default with no errors.
// If the YAML is malformed, it returns nil with a parse error.
// For validation errors, it returns a usable record with invalid entries
// stripped or reset to their defaults, plus errors describing what changed.
func Load(path string) (*Record, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			rec := Default()
			return &rec, nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}
	return Parse(data)
}

// Parse decodes YAML config data. See Load for the result semantics.
func Parse(data []byte) (*Record, []error) {
	if len(bytes.TrimSpace(data)) == 0 {
		rec := Default()
		return &rec, nil
	}

	var fr fileRecord
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fr); err != nil && !errors.Is(err, io.EOF) {
		return nil, []error{fmt.Errorf("failed to parse config YAML: %w", err)}
	}

	rec, errs := sanitize(overlay(Default(), fr))
	return &rec, errs
}

func overlay(rec Record, fr fileRecord) Record {
	if fr.Plugins != nil {
		rec.Plugins = fr.Plugins
	}
	if fr.Base != nil {
		rec.Base = *fr.Base
	}
	if fr.Server.Port != nil {
		rec.Server.Port = *fr.Server.Port
	}
	if fr.Server.Host != nil {
		rec.Server.Host = *fr.Server.Host
	}
	if fr.Server.HTTPS != nil {
		rec.Server.HTTPS = *fr.Server.HTTPS
	}
	// A proxy section replaces the default rules instead of merging into them.
	if fr.Server.Proxy != nil {
		rec.Server.Proxy = fr.Server.Proxy
	}
	if fr.Build.OutDir != nil {
		rec.Build.OutDir = *fr.Build.OutDir
	}
	if fr.Build.EmptyOutDir != nil {
		rec.Build.EmptyOutDir = *fr.Build.EmptyOutDir
	}
	return rec
}

// Validate reports every problem sanitize would correct in rec.
func Validate(rec Record) []error {
	_, errs := sanitize(rec)
	return errs
}

func sanitize(rec Record) (Record, []error) {
	rec = rec.Clone()
	def := Default()
	var validationErrors []error

	validPlugins := make([]Plugin, 0, len(rec.Plugins))
	seenPlugins := make(map[string]struct{}, len(rec.Plugins))
	for i, p := range rec.Plugins {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			validationErrors = append(validationErrors, fmt.Errorf("plugins[%d].name: required field missing", i))
			continue
		}
		if _, ok := plugin.Lookup(name); !ok {
			validationErrors = append(validationErrors, fmt.Errorf("plugins[%d].name: unknown plugin %q", i, name))
			continue
		}
		if _, dup := seenPlugins[name]; dup {
			validationErrors = append(validationErrors, fmt.Errorf("plugins[%d].name: duplicate plugin %q", i, name))
			continue
		}
		seenPlugins[name] = struct{}{}
		validPlugins = append(validPlugins, Plugin{Name: name})
	}
	if len(validPlugins) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("plugins: at least one plugin is required, using %v", def.PluginNames()))
		validPlugins = def.Plugins
	}
	rec.Plugins = validPlugins

	if base := strings.TrimSpace(rec.Base); base == "" {
		rec.Base = DefaultBase
	} else if !strings.HasPrefix(base, "/") {
		validationErrors = append(validationErrors, fmt.Errorf("base: must start with '/', got %q", rec.Base))
		rec.Base = DefaultBase
	} else {
		rec.Base = base
	}

	if rec.Server.Port < 1 || rec.Server.Port > 65535 {
		validationErrors = append(validationErrors, fmt.Errorf("server.port: must be between 1 and 65535, got %d", rec.Server.Port))
		rec.Server.Port = DefaultPort
	}

	if host, err := normalizeHost(rec.Server.Host); err != nil {
		validationErrors = append(validationErrors, fmt.Errorf("server.host: %w", err))
		rec.Server.Host = ""
	} else {
		rec.Server.Host = host
	}

	validProxy := make(map[string]ProxyRule, len(rec.Server.Proxy))
	for prefix, rule := range rec.Server.Proxy {
		if !strings.HasPrefix(prefix, "/") {
			validationErrors = append(validationErrors, fmt.Errorf("server.proxy[%q]: prefix must start with '/'", prefix))
			continue
		}
		target := strings.TrimSpace(rule.Target)
		if target == "" {
			validationErrors = append(validationErrors, fmt.Errorf("server.proxy[%q].target: required field missing", prefix))
			continue
		}
		if err := validateTarget(target); err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("server.proxy[%q].target: %w", prefix, err))
			continue
		}
		rule.Target = strings.TrimSuffix(target, "/")
		validProxy[prefix] = rule
	}
	rec.Server.Proxy = validProxy

	if err := validateOutDir(rec.Build.OutDir); err != nil {
		validationErrors = append(validationErrors, fmt.Errorf("build.outDir: %w", err))
		rec.Build.OutDir = DefaultOutDir
	} else {
		rec.Build.OutDir = filepath.Clean(rec.Build.OutDir)
	}

	return rec, validationErrors
}

// normalizeHost accepts an empty host (all interfaces), an IP address with
// or without IPv6 brackets, or a DNS name.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", nil
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
		if ip := net.ParseIP(host); ip == nil || ip.To4() != nil {
			return "", fmt.Errorf("brackets are only valid around an IPv6 address, got %q", "["+host+"]")
		}
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return "", fmt.Errorf("must be an IP address or host name, got %q", host)
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return "", fmt.Errorf("must be an IP address or host name, got %q", host)
			}
		}
	}
	return host, nil
}

func validateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", target)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", target)
	}
	return nil
}

func validateOutDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return errors.New("required field missing")
	}
	if filepath.IsAbs(dir) {
		return fmt.Errorf("must be relative to the project root, got %q", dir)
	}
	clean := filepath.Clean(dir)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("must stay inside the project root, got %q", dir)
	}
	return nil
}

// Marshal renders rec as YAML in the same shape Load accepts.
func Marshal(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("failed to encode config YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config YAML: %w", err)
	}
	return buf.Bytes(), nil
}
