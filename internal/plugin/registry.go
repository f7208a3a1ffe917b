// Package plugin holds the registry of source-transform plugins a config
// record may name. Plugins run inside the external bundler; the dev server
// only needs to know which ones exist and which source files they own.
package plugin

import (
	"fmt"
	"slices"
	"strings"
)

// Descriptor describes a known plugin.
type Descriptor struct {
	Name        string
	Package     string
	Description string
	// Extensions lists the source file extensions the plugin compiles.
	// Files with these extensions never belong in a production bundle.
	Extensions []string
}

var registry = map[string]Descriptor{
	"vue": {
		Name:        "vue",
		Package:     "@vitejs/plugin-vue",
		Description: "compiles single-file component templates",
		Extensions:  []string{".vue"},
	},
	"vue-jsx": {
		Name:        "vue-jsx",
		Package:     "@vitejs/plugin-vue-jsx",
		Description: "compiles JSX and TSX components",
		Extensions:  []string{".jsx", ".tsx"},
	},
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (Descriptor, bool) {
	d, ok := registry[strings.TrimSpace(name)]
	return d, ok
}

// Known returns the registered plugin names in sorted order.
func Known() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve maps names to descriptors, preserving order. Unknown and duplicate
// names are errors.
func Resolve(names []string) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		d, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("plugins[%d]: unknown plugin %q (known: %s)", i, name, strings.Join(Known(), ", "))
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("plugins[%d]: duplicate plugin %q", i, d.Name)
		}
		seen[d.Name] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

// SourceExtensions returns the union of the extensions owned by plugins.
func SourceExtensions(plugins []Descriptor) []string {
	var exts []string
	for _, p := range plugins {
		for _, ext := range p.Extensions {
			if !slices.Contains(exts, ext) {
				exts = append(exts, ext)
			}
		}
	}
	return exts
}
