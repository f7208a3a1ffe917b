package config

const (
	// DefaultPort is the development listener port.
	DefaultPort = 3019
	// DefaultBackend is the API server both proxy rules forward to.
	DefaultBackend = "http://localhost:8019"
	// DefaultOutDir is the production bundle directory, relative to the project root.
	DefaultOutDir = "dist"
	// DefaultBase is the public path the app is served under.
	DefaultBase = "/"
)

// Default returns the built-in record: the vue plugin, port 3019, /api and
// /audio proxied to the backend with origin rewriting, and output into dist.
func Default() Record {
	return Record{
		Plugins: []Plugin{{Name: "vue"}},
		Base:    DefaultBase,
		Server: ServerConfig{
			Port: DefaultPort,
			Proxy: map[string]ProxyRule{
				"/api": {
					Target:       DefaultBackend,
					ChangeOrigin: true,
				},
				"/audio": {
					Target:       DefaultBackend,
					ChangeOrigin: true,
				},
			},
		},
		Build: BuildConfig{
			OutDir:      DefaultOutDir,
			EmptyOutDir: true,
		},
	}
}
