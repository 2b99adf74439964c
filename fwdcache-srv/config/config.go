package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

const (
	// MinPort and MaxPort bound the listening port; privileged ports are refused.
	MinPort = 1024
	MaxPort = 65535

	DefaultListenAddress = "127.0.0.1:8080"
	DefaultTimeout       = 30
	DefaultMaxObjectSize = 1 << 20
	DefaultMaxCacheSize  = 10 << 20
	DefaultProxyID       = "fwdcache"
)

// StatisticsConfig selects the statistics backend.
type StatisticsConfig struct {
	Enabled     bool   `json:"enabled" hcl:"enabled,optional"`
	Backend     string `json:"backend" hcl:"backend,optional"` // sqlite, postgres or dummy
	SQLitePath  string `json:"sqlite-path" hcl:"sqlite-path,optional"`
	PostgresDSN string `json:"postgres-dsn" hcl:"postgres-dsn,optional"`
}

// Config represents the main configuration structure for the proxy server.
type Config struct {
	ListenAddress            string // host:port the proxy binds to
	SelfHost                 string // extra name the proxy is reachable as, used for self-loop detection
	ProxyID                  string // pseudonym placed in Via headers
	TimeoutSeconds           int    // connect, read and idle timeout
	MaxObjectSize            int64  // largest cacheable response body in bytes
	MaxCacheSize             int64  // total cache capacity in bytes
	MaxConcurrentConnections int    // 0 means unlimited
	Blocklist                []string
	UpstreamSOCKS5           string // optional host:port of a SOCKS5 proxy for outbound dials
	AccessLog                string // transaction log path, empty disables it
	DNS                      DNSConfig
	Statistics               StatisticsConfig
}

// Default returns the configuration used before env and file overrides.
func Default() *Config {
	return &Config{
		ListenAddress:            DefaultListenAddress,
		ProxyID:                  DefaultProxyID,
		TimeoutSeconds:           DefaultTimeout,
		MaxObjectSize:            DefaultMaxObjectSize,
		MaxCacheSize:             DefaultMaxCacheSize,
		MaxConcurrentConnections: 100,
		DNS:                      DefaultDNSConfig(),
		Statistics: StatisticsConfig{
			Backend: "dummy",
		},
	}
}

// Port returns the listening port, or 0 when ListenAddress has none.
func (c *Config) Port() int {
	_, port, err := net.SplitHostPort(c.ListenAddress)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}

// Host returns the host part of ListenAddress.
func (c *Config) Host() string {
	host, _, err := net.SplitHostPort(c.ListenAddress)
	if err != nil {
		return c.ListenAddress
	}
	return host
}

// Validate checks the limits that the proxy relies on at runtime.
func (c *Config) Validate() error {
	port := c.Port()
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %q", MinPort, MaxPort, c.ListenAddress)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.TimeoutSeconds)
	}
	if c.MaxObjectSize <= 0 {
		return fmt.Errorf("max object size must be positive, got %d", c.MaxObjectSize)
	}
	if c.MaxCacheSize <= 0 {
		return fmt.Errorf("max cache size must be positive, got %d", c.MaxCacheSize)
	}
	if c.MaxCacheSize < c.MaxObjectSize {
		return fmt.Errorf("max cache size (%d) must be at least max object size (%d)", c.MaxCacheSize, c.MaxObjectSize)
	}
	if c.MaxConcurrentConnections < 0 {
		return fmt.Errorf("max-concurrent-connections must not be negative")
	}
	if c.UpstreamSOCKS5 != "" {
		if _, _, err := net.SplitHostPort(c.UpstreamSOCKS5); err != nil {
			return fmt.Errorf("upstream-socks5 must be host:port: %w", err)
		}
	}
	for i, server := range c.DNS.Servers {
		switch server.Type {
		case DNSTypeUDP, DNSTypeTCP, DNSTypeDoT:
		default:
			return fmt.Errorf("dns server %d has unsupported type %q", i, server.Type)
		}
	}
	switch c.Statistics.Backend {
	case "", "dummy", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported stats backend: %s", c.Statistics.Backend)
	}
	return nil
}

// ApplyArgs applies the positional command line form
// `port timeout max_object_size max_cache_size`. An empty args list is a no-op.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) != 4 {
		return fmt.Errorf("expected 4 arguments (port timeout max_object_size max_cache_size), got %d", len(args))
	}

	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("port must be an integer: %w", err)
	}
	timeout, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("timeout must be an integer: %w", err)
	}
	maxObject, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("max_object_size must be an integer: %w", err)
	}
	maxCache, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("max_cache_size must be an integer: %w", err)
	}

	c.ListenAddress = net.JoinHostPort(c.Host(), strconv.Itoa(port))
	c.TimeoutSeconds = timeout
	c.MaxObjectSize = maxObject
	c.MaxCacheSize = maxCache
	return nil
}

// LoadConfig loads configuration from the specified file path.
// Defaults are applied first, then FWDCACHE_* environment variables, then the
// file (.json or .hcl). An empty path skips the file.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()

	loadConfigFromEnv(cfg)

	if configPath != "" {
		var err error

		ext := filepath.Ext(configPath)
		switch strings.ToLower(ext) {
		case ".json":
			err = loadJSONConfig(configPath, cfg)
		case ".hcl":
			err = loadHCLConfig(configPath, cfg)
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}

		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func cleanConfigPath(configPath string) (string, error) {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return "", fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	return cleanPath, nil
}

func loadJSONConfig(configPath string, cfg *Config) error {
	cleanPath, err := cleanConfigPath(configPath)
	if err != nil {
		return err
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	// Hyphenated keys are decoded into a map first
	var data map[string]any
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode JSON config: %w", err)
	}

	if err := setFromMap(data, "listen-address", &cfg.ListenAddress); err != nil {
		return err
	}
	if err := setFromMap(data, "self-host", &cfg.SelfHost); err != nil {
		return err
	}
	if err := setFromMap(data, "proxy-id", &cfg.ProxyID); err != nil {
		return err
	}
	if err := setFromMap(data, "timeout-seconds", &cfg.TimeoutSeconds); err != nil {
		return err
	}
	if err := setFromMap(data, "max-object-size", &cfg.MaxObjectSize); err != nil {
		return err
	}
	if err := setFromMap(data, "max-cache-size", &cfg.MaxCacheSize); err != nil {
		return err
	}
	if err := setFromMap(data, "max-concurrent-connections", &cfg.MaxConcurrentConnections); err != nil {
		return err
	}
	if err := setFromMap(data, "upstream-socks5", &cfg.UpstreamSOCKS5); err != nil {
		return err
	}
	if err := setFromMap(data, "access-log", &cfg.AccessLog); err != nil {
		return err
	}

	if val, exists := data["blocklist"]; exists {
		list, ok := val.([]any)
		if !ok {
			return fmt.Errorf("blocklist must be an array")
		}
		cfg.Blocklist = cfg.Blocklist[:0]
		for i, item := range list {
			ptr, err := parseValue[string](item)
			if err != nil {
				return fmt.Errorf("blocklist entry %d must be a string: %w", i, err)
			}
			cfg.Blocklist = append(cfg.Blocklist, *ptr)
		}
	}

	if val, exists := data["dns"]; exists {
		dnsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("dns must be an object")
		}
		if err := parseDNSConfig(dnsMap, &cfg.DNS); err != nil {
			return err
		}
	}

	if val, exists := data["statistics"]; exists {
		statsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("statistics must be an object")
		}
		if err := setFromMap(statsMap, "enabled", &cfg.Statistics.Enabled); err != nil {
			return err
		}
		if err := setFromMap(statsMap, "backend", &cfg.Statistics.Backend); err != nil {
			return err
		}
		if err := setFromMap(statsMap, "sqlite-path", &cfg.Statistics.SQLitePath); err != nil {
			return err
		}
		if err := setFromMap(statsMap, "postgres-dsn", &cfg.Statistics.PostgresDSN); err != nil {
			return err
		}
	}

	return nil
}

func parseDNSConfig(dnsMap map[string]any, dns *DNSConfig) error {
	if err := setFromMap(dnsMap, "enabled", &dns.Enabled); err != nil {
		return err
	}
	val, exists := dnsMap["servers"]
	if !exists {
		return nil
	}
	serverList, ok := val.([]any)
	if !ok {
		return fmt.Errorf("dns servers must be an array")
	}

	dns.Servers = []DNSServerConfig{}
	for i, serverData := range serverList {
		serverMap, ok := serverData.(map[string]any)
		if !ok {
			return fmt.Errorf("dns server at index %d must be an object", i)
		}
		server := DNSServerConfig{Type: DNSTypeUDP, TimeoutSeconds: 10}
		if err := setFromMap(serverMap, "address", &server.Address); err != nil {
			return fmt.Errorf("dns server %d: %w", i, err)
		}
		var typ string
		if err := setFromMap(serverMap, "type", &typ); err != nil {
			return fmt.Errorf("dns server %d: %w", i, err)
		}
		if typ != "" {
			server.Type = DNSType(typ)
		}
		if err := setFromMap(serverMap, "timeout-seconds", &server.TimeoutSeconds); err != nil {
			return fmt.Errorf("dns server %d: %w", i, err)
		}
		if err := setFromMap(serverMap, "tls-host", &server.TLSHost); err != nil {
			return fmt.Errorf("dns server %d: %w", i, err)
		}
		if server.Address == "" {
			return fmt.Errorf("dns server %d requires an address", i)
		}
		dns.Servers = append(dns.Servers, server)
	}
	return nil
}

// setFromMap assigns data[key] to dst when the key is present.
func setFromMap[T any](data map[string]any, key string, dst *T) error {
	val, exists := data[key]
	if !exists {
		return nil
	}
	ptr, err := parseValue[T](val)
	if err != nil {
		if strings.Contains(err.Error(), "secret") {
			return err
		}
		return fmt.Errorf("%s must be a %T: %w", key, *dst, err)
	}
	*dst = *ptr
	return nil
}

func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	// {"_secret": "ENV_NAME"} reads the value from the environment
	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(v)
		default:
			return nil, fmt.Errorf("expected %T, got JSON number", zero)
		}
	case string:
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(v, 10, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse int: %w", err)
			}
			elem.SetInt(i)
		case reflect.Bool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("failed to parse bool: %w", err)
			}
			elem.SetBool(b)
		default:
			return nil, fmt.Errorf("expected %T, got string", zero)
		}
	case bool:
		if elem.Kind() != reflect.Bool {
			return nil, fmt.Errorf("expected %T, got bool", zero)
		}
		elem.SetBool(v)
	default:
		if rv, ok := value.(T); ok {
			return &rv, nil
		}
		return nil, fmt.Errorf("expected %T, got %T", zero, value)
	}
	return ptr.Interface().(*T), nil
}

func loadConfigFromEnv(cfg *Config) {
	if addr := os.Getenv("FWDCACHE_LISTENADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}
	if host := os.Getenv("FWDCACHE_SELFHOST"); host != "" {
		cfg.SelfHost = host
	}
	envInt("FWDCACHE_TIMEOUTSECONDS", &cfg.TimeoutSeconds)
	envInt("FWDCACHE_MAXCONCURRENTCONNECTIONS", &cfg.MaxConcurrentConnections)
	envInt64("FWDCACHE_MAXOBJECTSIZE", &cfg.MaxObjectSize)
	envInt64("FWDCACHE_MAXCACHESIZE", &cfg.MaxCacheSize)
	if socks := os.Getenv("FWDCACHE_UPSTREAMSOCKS5"); socks != "" {
		cfg.UpstreamSOCKS5 = socks
	}
	if path := os.Getenv("FWDCACHE_ACCESSLOG"); path != "" {
		cfg.AccessLog = path
	}
	if list := os.Getenv("FWDCACHE_BLOCKLIST"); list != "" {
		cfg.Blocklist = cfg.Blocklist[:0]
		for _, domain := range strings.Split(list, ",") {
			if domain = strings.TrimSpace(domain); domain != "" {
				cfg.Blocklist = append(cfg.Blocklist, domain)
			}
		}
	}
	if backend := os.Getenv("FWDCACHE_STATS_BACKEND"); backend != "" {
		cfg.Statistics.Enabled = backend != "dummy"
		cfg.Statistics.Backend = backend
	}
	if path := os.Getenv("FWDCACHE_STATS_SQLITEPATH"); path != "" {
		cfg.Statistics.SQLitePath = path
	}
	if dsn := os.Getenv("FWDCACHE_STATS_POSTGRESDSN"); dsn != "" {
		cfg.Statistics.PostgresDSN = dsn
	}
}

func envInt(name string, dst *int) {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			*dst = v
		} else {
			logger.Warn("Invalid format for %s: %s", name, s)
		}
	}
}

func envInt64(name string, dst *int64) {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			*dst = v
		} else {
			logger.Warn("Invalid format for %s: %s", name, s)
		}
	}
}
