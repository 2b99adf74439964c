package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/codefionn/fwdcache/fwdcache-srv/config"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
	"github.com/codefionn/fwdcache/fwdcache-srv/proxy"
)

var version string

// options are the command line settings that survive a config reload.
type options struct {
	configPath string
	args       []string
}

func main() {
	cfg, opts := parseFlagsAndConfig()
	runProxy(cfg, opts)
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config loading.
func parseFlagsAndConfig() (*config.Config, options) {
	flags := pflag.NewFlagSet("fwdcache", pflag.ExitOnError)
	versionFlag := flags.BoolP("version", "v", false, "Print version and exit")
	configPath := flags.StringP("config", "c", "", "Path to configuration file (supports .json and .hcl formats)")
	envfile := flags.String("envfile", "", "Path to env file to load environment variables")
	debugMode := flags.Bool("debug", false, "Enable debug logging")
	logLevel := flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [port timeout max_object_size max_cache_size]\n\n", filepath.Base(os.Args[0]))
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if *versionFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("fwdcache version:", version)
		os.Exit(0)
	}

	if *envfile != "" {
		if err := loadEnvFile(*envfile); err != nil {
			logger.Fatal("Failed to load envfile: %v", err)
		}
		logger.Info("Loaded environment variables from %s", *envfile)
	}

	switch {
	case *debugMode:
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	case *logLevel != "":
		logger.SetLevel(logger.GetLevelFromString(*logLevel))
	}

	opts := options{configPath: *configPath, args: flags.Args()}
	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	logger.Info("Starting fwdcache proxy server")
	logger.Debug("Listen address: %s", cfg.ListenAddress)
	logger.Debug("Timeout: %d seconds", cfg.TimeoutSeconds)
	logger.Debug("Max object size: %d bytes, max cache size: %d bytes", cfg.MaxObjectSize, cfg.MaxCacheSize)
	logger.Debug("Max connections: %d", cfg.MaxConcurrentConnections)

	return cfg, opts
}

// loadConfig builds the effective configuration. Positional arguments
// override the file and the environment.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyArgs(opts.args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runProxy starts and manages the proxy server, including signal handling and reloads.
func runProxy(cfg *config.Config, opts options) {
	proxyInstance, err := proxy.NewProxy(cfg)
	if err != nil {
		logger.Fatal("Failed to create proxy: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	startProxy := func(p *proxy.Proxy) {
		go func() {
			if err := p.Start(); err != nil {
				logger.Fatal("Proxy server error: %v", err)
			}
		}()
	}

	startProxy(proxyInstance)
	currentCfg := cfg

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			logger.Info("Received SIGHUP: reloading configuration...")
			newCfg, err := loadConfig(opts)
			if err != nil {
				logger.Error("Failed to reload config: %v (keeping current config)", err)
				continue
			}
			if !config.HasChanged(currentCfg, newCfg) {
				logger.Info("Config unchanged after reload; not restarting proxy.")
				continue
			}
			logger.Info("Config changed. Restarting proxy...")
			if err := proxyInstance.Stop(); err != nil {
				logger.Error("Error stopping proxy for reload: %v", err)
			}
			next, err := proxy.NewProxy(newCfg)
			if err != nil {
				logger.Fatal("Failed to create proxy with new configuration: %v", err)
			}
			proxyInstance = next
			startProxy(proxyInstance)
			currentCfg = newCfg
			logger.Info("Proxy restarted with new configuration.")
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("Received signal %v, shutting down proxy server...", sig)
			stats := proxyInstance.CacheStats()
			logger.Info("Cache: %d entries, %d bytes, %d hits, %d misses, hit rate %.2f%%",
				stats.Entries, stats.Size, stats.Hits, stats.Misses, stats.HitRate()*100)
			if err := proxyInstance.Stop(); err != nil {
				logger.Error("Error during shutdown: %v", err)
			}
			logger.Info("Proxy server shutdown complete")
			return
		}
	}
}

// loadEnvFile reads a .env-style file and sets environment variables
func loadEnvFile(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing env file: %v", closeErr)
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if setErr := os.Setenv(key, val); setErr != nil {
			logger.Error("Error setting environment variable %s: %v", key, setErr)
		}
	}
	return scanner.Err()
}
