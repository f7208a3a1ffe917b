package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rathix/devserver"
	"github.com/rathix/devserver/internal/certs"
	appconfig "github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/metrics"
	"github.com/rathix/devserver/internal/plugin"
	"github.com/rathix/devserver/internal/probe"
	"github.com/rathix/devserver/internal/reload"
	"github.com/rathix/devserver/internal/server"
)

const (
	commandServe  = "serve"
	commandCheck  = "check"
	commandConfig = "config"
)

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// config holds command line settings. Everything about routing lives in the
// YAML config record instead.
type config struct {
	Command    string
	ConfigFile string
	Root       string
	Port       int
	Upstream   string
	LiveReload bool
	Metrics    bool
	LogFormat  string
	Wait       time.Duration
	TLSCert    string
	TLSKey     string
}

func main() {
	// Quick check for version flag before full config loading
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("devserver version %s\n", Version)
			return
		}
	}

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses the optional command and flags with precedence:
// Flag > Env > Default.
func loadConfig(args []string) (config, error) {
	cfg := config{Command: commandServe}
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cfg.Command = args[0]
		args = args[1:]
	}
	switch cfg.Command {
	case commandServe, commandCheck, commandConfig:
	default:
		return config{}, fmt.Errorf("unknown command %q: must be one of serve, check, config", cfg.Command)
	}

	fs := flag.NewFlagSet("devserver "+cfg.Command, flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigFile, "config", getEnv("CONFIG_FILE", "devserver.yaml"), "path to YAML config file")
	fs.StringVar(&cfg.Root, "root", getEnv("PROJECT_ROOT", "."), "project root the output directory is relative to")
	fs.IntVar(&cfg.Port, "port", getEnvInt("PORT", 0), "override server.port from the config file")
	fs.StringVar(&cfg.Upstream, "upstream", getEnv("UPSTREAM_URL", ""), "forward non-proxied requests to a running front-end dev server")
	fs.BoolVar(&cfg.LiveReload, "live-reload", getEnvBool("LIVE_RELOAD", true), "reload browsers when the build output changes")
	fs.BoolVar(&cfg.Metrics, "metrics", getEnvBool("METRICS", true), "expose Prometheus metrics on "+metrics.EndpointPath)
	fs.StringVar(&cfg.TLSCert, "tls-cert", getEnv("TLS_CERT", ""), "PEM certificate to serve when server.https is on, instead of a generated one")
	fs.StringVar(&cfg.TLSKey, "tls-key", getEnv("TLS_KEY", ""), "PEM private key for -tls-cert")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (json or text)")

	waitStr := getEnv("WAIT", "0s")
	fs.StringVar(&waitStr, "wait", waitStr, "check: keep retrying unreachable proxy targets for this long")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return config{}, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}

	wait, err := time.ParseDuration(waitStr)
	if err != nil {
		return config{}, fmt.Errorf("invalid wait duration %q: %w", waitStr, err)
	}
	if wait < 0 {
		return config{}, fmt.Errorf("wait duration must not be negative, got %q", waitStr)
	}
	cfg.Wait = wait

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return config{}, errors.New("tls-cert and tls-key must be set together")
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return config{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", cfg.LogFormat)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return n
	}
	return fallback
}

func setupLogger(format string) *slog.Logger {
	return setupLoggerWithWriter(format, os.Stderr)
}

func setupLoggerWithWriter(format string, writer io.Writer) *slog.Logger {
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(writer, nil)
	} else {
		handler = slog.NewTextHandler(writer, nil)
	}
	return slog.New(handler)
}

// run loads the config record and dispatches to the selected command.
func run(ctx context.Context, cfg config, stdout io.Writer) error {
	logger := setupLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	rec, warnings, err := loadRecord(cfg, logger)
	if err != nil {
		return err
	}

	switch cfg.Command {
	case commandConfig:
		data, err := appconfig.Marshal(*rec)
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	case commandCheck:
		return runCheck(ctx, cfg, *rec, warnings, stdout, logger)
	default:
		return runServe(ctx, cfg, *rec, logger)
	}
}

// loadRecord loads the config file and applies command line overrides.
// Validation problems are logged and returned as warnings; only an
// unparseable file is fatal.
func loadRecord(cfg config, logger *slog.Logger) (*appconfig.Record, []error, error) {
	rec, errs := appconfig.Load(cfg.ConfigFile)
	if rec == nil {
		return nil, nil, fmt.Errorf("config %s: %w", cfg.ConfigFile, errors.Join(errs...))
	}
	for _, e := range errs {
		logger.Warn("Config validation warning", "error", e)
	}
	applyOverrides(cfg, rec)
	return rec, errs, nil
}

func applyOverrides(cfg config, rec *appconfig.Record) {
	if cfg.Port != 0 {
		rec.Server.Port = cfg.Port
	}
}

// runCheck validates the config and probes every proxy target.
func runCheck(ctx context.Context, cfg config, rec appconfig.Record, validationErrs []error, stdout io.Writer, logger *slog.Logger) error {
	checker := probe.NewChecker(&http.Client{Timeout: 5 * time.Second}, logger)
	results := checker.Check(ctx, rec.Rules())

	if cfg.Wait > 0 {
		for i, res := range results {
			if res.Reachable {
				continue
			}
			if err := checker.WaitReachable(ctx, res.Target, cfg.Wait); err != nil {
				continue
			}
			results[i] = checker.Check(ctx, rulesForTarget(rec, res.Target))[0]
		}
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "config\t%s\n", cfg.ConfigFile)
	fmt.Fprintf(tw, "listen\t%s\n", rec.Addr())
	fmt.Fprintf(tw, "plugins\t%v\n", rec.PluginNames())
	fmt.Fprintf(tw, "outDir\t%s\n", filepath.Join(cfg.Root, rec.Build.OutDir))
	for _, e := range validationErrs {
		fmt.Fprintf(tw, "invalid\t%v\n", e)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TARGET\tPREFIXES\tSTATUS\tLATENCY")

	unreachable := 0
	for _, res := range results {
		status := fmt.Sprintf("reachable (%d)", res.StatusCode)
		if !res.Reachable {
			status = fmt.Sprintf("unreachable: %v", res.Err)
			unreachable++
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", res.Target, res.Prefixes, status, res.Latency.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case len(validationErrs) > 0:
		return fmt.Errorf("config has %d validation error(s)", len(validationErrs))
	case unreachable > 0:
		return fmt.Errorf("%d proxy target(s) unreachable", unreachable)
	}
	return nil
}

func rulesForTarget(rec appconfig.Record, target string) []appconfig.Rule {
	var rules []appconfig.Rule
	for _, r := range rec.Rules() {
		if r.Target.String() == target {
			rules = append(rules, r)
		}
	}
	return rules
}

// runServe starts the dev server and handles graceful shutdown.
func runServe(ctx context.Context, cfg config, rec appconfig.Record, logger *slog.Logger) error {
	slog.Info("Starting devserver", "version", Version, "config", cfg.ConfigFile)

	plugins, err := plugin.Resolve(rec.PluginNames())
	if err != nil {
		return err
	}
	for _, p := range plugins {
		slog.Info("Plugin enabled", "name", p.Name, "package", p.Package)
	}

	placeholder, err := fs.Sub(devserver.WebFS, "web/placeholder")
	if err != nil {
		return fmt.Errorf("failed to open placeholder assets: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New()
	}

	srv, err := server.New(rec, server.Options{
		Root:        cfg.Root,
		Upstream:    cfg.Upstream,
		LiveReload:  cfg.LiveReload,
		Placeholder: placeholder,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	logRules(rec)

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()

	var outWatch *outputWatcher
	if cfg.LiveReload && cfg.Upstream == "" {
		notifier := reload.NotifierFunc(func() {
			m.ObserveReload(metrics.SourceOutput)
			srv.Broker().Notify()
		})
		outWatch = newOutputWatcher(watchCtx, notifier, logger)
		outWatch.Watch(srv.OutDir())
		defer outWatch.Stop()
	}

	// Start config file watcher for hot-reload
	lastRec := rec
	configWatcher := appconfig.NewWatcher(cfg.ConfigFile, func(newRec *appconfig.Record, errs []error) {
		for _, e := range errs {
			if newRec == nil {
				slog.Error("Config reload parse failed", "error", e)
			} else {
				slog.Warn("Config reload validation warning", "error", e)
			}
		}
		if newRec == nil {
			// Keep the last-known-good config active when reload parsing fails.
			return
		}
		applyOverrides(cfg, newRec)
		if appconfig.RequiresRestart(lastRec, *newRec) {
			slog.Warn("Listener settings changed, restart devserver to apply them",
				"addr", newRec.Addr(), "https", newRec.Server.HTTPS)
		}
		if err := srv.Reload(*newRec); err != nil {
			slog.Error("Config reload rejected", "error", err)
			return
		}
		changes := appconfig.DiffProxy(&lastRec, newRec)
		if !changes.Empty() {
			slog.Info("Proxy rules reconciled",
				"added", changes.Added, "removed", changes.Removed, "updated", changes.Updated)
		}
		lastRec = *newRec
		if outWatch != nil {
			outWatch.Watch(srv.OutDir())
		}
		m.ObserveReload(metrics.SourceConfig)
		srv.Broker().Notify()
	}, logger)
	go func() {
		if err := configWatcher.Run(watchCtx); err != nil && watchCtx.Err() == nil {
			slog.Warn("config watcher stopped with error", "error", err)
		}
	}()

	// Report unreachable proxy targets without blocking startup.
	go func() {
		checker := probe.NewChecker(&http.Client{Timeout: 5 * time.Second}, logger)
		for _, res := range checker.Check(watchCtx, rec.Rules()) {
			if !res.Reachable && watchCtx.Err() == nil {
				slog.Warn("Proxy target unreachable, requests will fail with 502 until it is up",
					"target", res.Target, "prefixes", res.Prefixes, "error", res.Err)
			}
		}
	}()

	var tlsConfig *tls.Config
	if rec.Server.HTTPS {
		tlsConfig, err = loadTLS(cfg, rec)
		if err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", rec.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", rec.Addr(), err)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpSrv.RegisterOnShutdown(srv.Broker().Close)

	// Channel to catch server errors
	serverError := make(chan error, 1)

	go func() {
		var err error
		if tlsConfig != nil {
			slog.Info("Listening (HTTPS)", "addr", ln.Addr().String())
			err = httpSrv.ServeTLS(ln, "", "")
		} else {
			slog.Info("Listening (HTTP)", "addr", ln.Addr().String())
			err = httpSrv.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			serverError <- err
		}
	}()

	// Wait for interruption or server error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
		watchCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
	case err := <-serverError:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func logRules(rec appconfig.Record) {
	for _, r := range rec.Rules() {
		slog.Info("Proxy rule",
			"prefix", r.Prefix,
			"target", r.Target.String(),
			"changeOrigin", r.ChangeOrigin,
		)
	}
}

func loadTLS(cfg config, rec appconfig.Record) (*tls.Config, error) {
	assets, err := certs.LoadOrGenerate(certs.Config{
		Dir:      filepath.Join(cfg.Root, ".devserver", "certs"),
		Hosts:    []string{rec.Server.Host},
		CertFile: cfg.TLSCert,
		KeyFile:  cfg.TLSKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load certificates: %w", err)
	}
	slog.Info("TLS certificate ready", "cert", assets.CertPath, "reason", string(assets.Reason))

	tlsConfig, err := certs.NewTLSConfig(assets.CertPath, assets.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	return tlsConfig, nil
}
