// Package devserver embeds the static assets the dev server ships with.
package devserver

import "embed"

// WebFS holds the page served while the build output directory is empty.
//
//go:embed web/placeholder
var WebFS embed.FS
