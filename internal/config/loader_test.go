package config

import (
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devserver.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	yaml := `
plugins:
  - vue
  - name: vue-jsx
base: /studio/
server:
  port: 4100
  host: 127.0.0.1
  https: true
  proxy:
    /api:
      target: http://backend:9000/
      changeOrigin: true
      headers:
        X-Dev: "1"
    /ws:
      target: http://backend:9001
build:
  outDir: web/dist
  emptyOutDir: false
`
	rec, errs := Load(writeTempConfig(t, yaml))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if rec == nil {
		t.Fatal("expected non-nil record")
	}

	if got := rec.PluginNames(); !reflect.DeepEqual(got, []string{"vue", "vue-jsx"}) {
		t.Errorf("plugins = %v, want [vue vue-jsx]", got)
	}
	if rec.Base != "/studio/" {
		t.Errorf("base = %q, want /studio/", rec.Base)
	}
	if rec.Server.Port != 4100 {
		t.Errorf("port = %d, want 4100", rec.Server.Port)
	}
	if rec.Addr() != "127.0.0.1:4100" {
		t.Errorf("addr = %q, want 127.0.0.1:4100", rec.Addr())
	}
	if !rec.Server.HTTPS {
		t.Error("expected https enabled")
	}
	if len(rec.Server.Proxy) != 2 {
		t.Fatalf("expected 2 proxy rules, got %d", len(rec.Server.Proxy))
	}
	api := rec.Server.Proxy["/api"]
	if api.Target != "http://backend:9000" {
		t.Errorf("/api target = %q, want trailing slash trimmed", api.Target)
	}
	if !api.ChangeOrigin {
		t.Error("/api changeOrigin = false, want true")
	}
	if api.Headers["X-Dev"] != "1" {
		t.Errorf("/api headers = %v", api.Headers)
	}
	if rec.Server.Proxy["/ws"].ChangeOrigin {
		t.Error("/ws changeOrigin should default to false")
	}
	if rec.Build.OutDir != filepath.Join("web", "dist") {
		t.Errorf("outDir = %q, want web/dist", rec.Build.OutDir)
	}
	if rec.Build.EmptyOutDir {
		t.Error("emptyOutDir = true, want false")
	}
}

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	rec, errs := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if !reflect.DeepEqual(*rec, Default()) {
		t.Errorf("expected default record, got %+v", *rec)
	}
}

func TestLoad_EmptyFileReturnsDefault(t *testing.T) {
	rec, errs := Load(writeTempConfig(t, "   \n\t\n"))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if !reflect.DeepEqual(*rec, Default()) {
		t.Errorf("expected default record, got %+v", *rec)
	}
}

func TestLoad_UnreadablePathReturnsError(t *testing.T) {
	// A directory cannot be read as a file.
	rec, errs := Load(t.TempDir())
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "failed to read config file") {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	rec, errs := Load(writeTempConfig(t, "server:\n  port: [oops\n"))
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "failed to parse config YAML") {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestLoad_UnknownKeyIsParseError(t *testing.T) {
	rec, errs := Load(writeTempConfig(t, "server:\n  prot: 3000\n"))
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	rec, errs := Load(writeTempConfig(t, "server:\n  port: 5000\n"))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if rec.Server.Port != 5000 {
		t.Errorf("port = %d, want 5000", rec.Server.Port)
	}
	if len(rec.Server.Proxy) != 2 {
		t.Errorf("expected default proxy rules to survive, got %v", rec.Server.Proxy)
	}
	if rec.Build.OutDir != DefaultOutDir {
		t.Errorf("outDir = %q, want %q", rec.Build.OutDir, DefaultOutDir)
	}
	if got := rec.PluginNames(); !reflect.DeepEqual(got, []string{"vue"}) {
		t.Errorf("plugins = %v, want [vue]", got)
	}
}

func TestLoad_ProxySectionReplacesDefaults(t *testing.T) {
	yaml := `
server:
  proxy:
    /graphql:
      target: http://localhost:4000
`
	rec, errs := Load(writeTempConfig(t, yaml))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(rec.Server.Proxy) != 1 {
		t.Fatalf("expected only the declared rule, got %v", rec.Server.Proxy)
	}
	if _, ok := rec.Server.Proxy["/api"]; ok {
		t.Error("default /api rule should have been replaced")
	}
}

func TestLoad_InvalidPortFallsBackToDefault(t *testing.T) {
	for _, port := range []string{"0", "-1", "65536", "70000"} {
		t.Run(port, func(t *testing.T) {
			rec, errs := Load(writeTempConfig(t, "server:\n  port: "+port+"\n"))
			if rec == nil {
				t.Fatal("expected non-nil record")
			}
			if rec.Server.Port != DefaultPort {
				t.Errorf("port = %d, want %d", rec.Server.Port, DefaultPort)
			}
			if len(errs) != 1 || !strings.Contains(errs[0].Error(), "server.port") {
				t.Errorf("unexpected errors: %v", errs)
			}
		})
	}
}

func TestLoad_PortBoundsAccepted(t *testing.T) {
	for _, port := range []int{1, 65535} {
		rec := Default()
		rec.Server.Port = port
		if errs := Validate(rec); len(errs) != 0 {
			t.Errorf("port %d: unexpected errors %v", port, errs)
		}
	}
}

func TestParse_ServerHost(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		wantHost string
		wantAddr string
		wantErr  bool
	}{
		{"unset listens everywhere", "server:\n  port: 3019\n", "", ":3019", false},
		{"ipv4", "server:\n  host: 127.0.0.1\n", "127.0.0.1", "127.0.0.1:3019", false},
		{"ipv6 loopback", "server:\n  host: \"::1\"\n", "::1", "[::1]:3019", false},
		{"bracketed ipv6", "server:\n  host: \"[::1]\"\n", "::1", "[::1]:3019", false},
		{"host name", "server:\n  host: dev.localhost\n", "dev.localhost", "dev.localhost:3019", false},
		{"host with port", "server:\n  host: \"localhost:80\"\n", "", ":3019", true},
		{"bracketed ipv4", "server:\n  host: \"[127.0.0.1]\"\n", "", ":3019", true},
		{"path in host", "server:\n  host: local/host\n", "", ":3019", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, errs := Parse([]byte(tt.yaml))
			if rec == nil {
				t.Fatalf("expected non-nil record, errs: %v", errs)
			}
			if gotErr := len(errs) > 0; gotErr != tt.wantErr {
				t.Fatalf("errors = %v, wantErr %v", errs, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(errs[0].Error(), "server.host") {
				t.Errorf("error %q does not name server.host", errs[0])
			}
			if rec.Server.Host != tt.wantHost {
				t.Errorf("host = %q, want %q", rec.Server.Host, tt.wantHost)
			}
			if rec.Addr() != tt.wantAddr {
				t.Errorf("addr = %q, want %q", rec.Addr(), tt.wantAddr)
			}
			if _, _, err := net.SplitHostPort(rec.Addr()); err != nil {
				t.Errorf("addr %q is not a valid listen address: %v", rec.Addr(), err)
			}
		})
	}
}

func TestLoad_InvalidProxyRulesStripped(t *testing.T) {
	yaml := `
server:
  proxy:
    /ok:
      target: http://localhost:8019
    /empty:
      target: ""
    /ftp:
      target: ftp://files.local
    /nohost:
      target: http://
    noslash:
      target: http://localhost:8019
`
	rec, errs := Load(writeTempConfig(t, yaml))
	if rec == nil {
		t.Fatal("expected non-nil record")
	}
	if len(rec.Server.Proxy) != 1 {
		t.Errorf("expected only /ok to survive, got %v", rec.Server.Proxy)
	}
	if _, ok := rec.Server.Proxy["/ok"]; !ok {
		t.Error("expected /ok rule")
	}
	if len(errs) != 4 {
		t.Errorf("expected 4 errors, got %d: %v", len(errs), errs)
	}
	joined := ""
	for _, e := range errs {
		joined += e.Error() + "\n"
	}
	for _, want := range []string{`"/empty"`, `"/ftp"`, `"/nohost"`, `"noslash"`} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected error mentioning %s, got:\n%s", want, joined)
		}
	}
}

func TestLoad_InvalidPlugins(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    []string
		wantErr int
	}{
		{
			name:    "unknown stripped",
			yaml:    "plugins: [vue, react]\n",
			want:    []string{"vue"},
			wantErr: 1,
		},
		{
			name:    "duplicate stripped",
			yaml:    "plugins: [vue, vue]\n",
			want:    []string{"vue"},
			wantErr: 1,
		},
		{
			name:    "empty list falls back",
			yaml:    "plugins: []\n",
			want:    []string{"vue"},
			wantErr: 1,
		},
		{
			name:    "only unknown falls back",
			yaml:    "plugins: [svelte]\n",
			want:    []string{"vue"},
			wantErr: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, errs := Load(writeTempConfig(t, tt.yaml))
			if rec == nil {
				t.Fatal("expected non-nil record")
			}
			if got := rec.PluginNames(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("plugins = %v, want %v", got, tt.want)
			}
			if len(errs) != tt.wantErr {
				t.Errorf("expected %d errors, got %v", tt.wantErr, errs)
			}
		})
	}
}

func TestLoad_InvalidOutDir(t *testing.T) {
	for _, dir := range []string{`""`, "/var/www", "..", "../outside", "."} {
		t.Run(dir, func(t *testing.T) {
			rec, errs := Load(writeTempConfig(t, "build:\n  outDir: "+dir+"\n"))
			if rec == nil {
				t.Fatal("expected non-nil record")
			}
			if rec.Build.OutDir != DefaultOutDir {
				t.Errorf("outDir = %q, want %q", rec.Build.OutDir, DefaultOutDir)
			}
			if len(errs) != 1 || !strings.Contains(errs[0].Error(), "build.outDir") {
				t.Errorf("unexpected errors: %v", errs)
			}
		})
	}
}

func TestLoad_InvalidBase(t *testing.T) {
	rec, errs := Load(writeTempConfig(t, "base: studio/\n"))
	if rec.Base != DefaultBase {
		t.Errorf("base = %q, want %q", rec.Base, DefaultBase)
	}
	if len(errs) != 1 {
		t.Errorf("expected one error, got %v", errs)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	rec, errs := Parse(data)
	if len(errs) != 0 {
		t.Fatalf("Parse() errors: %v", errs)
	}
	if !reflect.DeepEqual(*rec, Default()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", *rec, Default())
	}
}
