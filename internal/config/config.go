package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/stedge/internal/logger"
)

const (
	DefaultServiceName   = "stedgeai-api"
	DefaultBroadcastAddr = "255.255.255.255"
	DefaultFallback      = "8.8.8.8:80"
)

// DefaultDiscoveryPorts are tried in order, on both bind and probe.
var DefaultDiscoveryPorts = []int{5001, 5002, 5003, 5004, 5005}

type Config struct {
	ListenPort      string        `yaml:"listen_port"`      // ex: ":5000"
	AdvertisePort   int           `yaml:"advertise_port"`   // port put in announcements (default: port of ListenPort)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // ex: 5s

	LogLevel  string `yaml:"log_level"`  // "debug" | "info" | "warn" | "error"
	PrettyLog bool   `yaml:"pretty_log"` // true => zap dev (color), false => zap prod (JSON)

	Discovery Discovery `yaml:"discovery"`

	HealthTimeout time.Duration `yaml:"health_timeout"` // liveness probe budget (default: 5s)
	ProbePassive  bool          `yaml:"probe_passive"`  // client also waits for unsolicited announcements

	AllowedCIDRS []string `yaml:"allowed_cidrs"` // optional, restrict admin endpoints to specific IPs/CIDRs
	TrustProxy   bool     `yaml:"trust_proxy"`   // true => trust X-Forwarded-For headers
}

// Discovery groups the settings shared by the Responder, Announcer and Prober.
type Discovery struct {
	ServiceName    string        `yaml:"service_name"`
	Ports          []int         `yaml:"ports"`           // ordered candidates
	BindHost       string        `yaml:"bind_host"`       // Responder bind host (default: 0.0.0.0)
	BroadcastAddr  string        `yaml:"broadcast_addr"`  // query/announcement destination host
	Timeout        time.Duration `yaml:"timeout"`         // per-attempt wait
	Retries        int           `yaml:"retries"`         // attempts over the whole port list
	RetryDelay     time.Duration `yaml:"retry_delay"`     // pause between attempts
	FallbackTarget string        `yaml:"fallback_target"` // host used for the best-guess local address

	ResponderEnabled bool `yaml:"responder_enabled"`
	ResponderWorkers int  `yaml:"responder_workers"`

	AnnounceEnabled  bool          `yaml:"announce_enabled"`
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	AnnouncePort     int           `yaml:"announce_port"` // default: first of Ports

	QueryBurst        int `yaml:"query_burst"`          // per-querier burst, 0 disables throttling
	QueryRefillPerMin int `yaml:"query_refill_per_min"` // per-querier refill rate
}

// Default returns the built-in configuration, before file and env overlays.
func Default() *Config {
	return &Config{
		ListenPort:      ":5000",
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
		PrettyLog:       true,
		HealthTimeout:   5 * time.Second,
		Discovery: Discovery{
			ServiceName:       DefaultServiceName,
			Ports:             append([]int(nil), DefaultDiscoveryPorts...),
			BindHost:          "0.0.0.0",
			BroadcastAddr:     DefaultBroadcastAddr,
			Timeout:           10 * time.Second,
			Retries:           3,
			RetryDelay:        time.Second,
			FallbackTarget:    DefaultFallback,
			ResponderEnabled:  true,
			ResponderWorkers:  1,
			AnnounceEnabled:   true,
			AnnounceInterval:  5 * time.Second,
			QueryRefillPerMin: 60,
		},
	}
}

// Load builds the process configuration: defaults, then the optional YAML
// file named by STEDGE_CONFIG_FILE, then environment variables.
// It panics on values the process cannot start with.
func Load() *Config {
	cfg := Default()

	if path := getenv("STEDGE_CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, cfg); err != nil {
			panic(fmt.Sprintf("❌ FATAL: %v", err))
		}
	}

	applyEnv(cfg)
	finalize(cfg)

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("❌ FATAL: invalid configuration: %v", err))
	}

	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", *cfg)
	}

	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	// Server settings
	cfg.ListenPort = getenv("STEDGE_LISTEN_PORT", cfg.ListenPort)
	cfg.AdvertisePort = getenvInt("STEDGE_ADVERTISE_PORT", cfg.AdvertisePort)
	cfg.ShutdownTimeout = mustDuration("STEDGE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	// Logging
	cfg.LogLevel = strings.ToLower(getenv("STEDGE_LOG_LEVEL", cfg.LogLevel))
	cfg.PrettyLog = mustBool("STEDGE_PRETTY_LOG", cfg.PrettyLog)

	// Discovery
	d := &cfg.Discovery
	d.ServiceName = getenv("STEDGE_SERVICE_NAME", d.ServiceName)
	if v := os.Getenv("STEDGE_DISCOVERY_PORTS"); v != "" {
		d.Ports = requirePorts("STEDGE_DISCOVERY_PORTS", v)
	}
	d.BindHost = getenv("STEDGE_DISCOVERY_BIND_HOST", d.BindHost)
	d.BroadcastAddr = getenv("STEDGE_BROADCAST_ADDR", d.BroadcastAddr)
	d.Timeout = mustDuration("STEDGE_DISCOVERY_TIMEOUT", d.Timeout)
	d.Retries = getenvInt("STEDGE_DISCOVERY_RETRIES", d.Retries)
	d.RetryDelay = mustDuration("STEDGE_DISCOVERY_RETRY_DELAY", d.RetryDelay)
	d.FallbackTarget = getenv("STEDGE_FALLBACK_TARGET", d.FallbackTarget)
	d.ResponderEnabled = mustBool("STEDGE_RESPONDER_ENABLED", d.ResponderEnabled)
	d.ResponderWorkers = getenvInt("STEDGE_RESPONDER_WORKERS", d.ResponderWorkers)
	d.AnnounceEnabled = mustBool("STEDGE_ANNOUNCE_ENABLED", d.AnnounceEnabled)
	d.AnnounceInterval = mustDuration("STEDGE_ANNOUNCE_INTERVAL", d.AnnounceInterval)
	d.AnnouncePort = getenvInt("STEDGE_ANNOUNCE_PORT", d.AnnouncePort)
	d.QueryBurst = getenvInt("STEDGE_QUERY_BURST", d.QueryBurst)
	d.QueryRefillPerMin = getenvInt("STEDGE_QUERY_REFILL_PER_MIN", d.QueryRefillPerMin)

	// Client
	cfg.HealthTimeout = mustDuration("STEDGE_HEALTH_TIMEOUT", cfg.HealthTimeout)
	cfg.ProbePassive = mustBool("STEDGE_PROBE_PASSIVE", cfg.ProbePassive)

	// Access restrictions
	if v := os.Getenv("STEDGE_ALLOWED_CIDRS"); v != "" {
		cfg.AllowedCIDRS = splitAndTrim(v)
	}
	cfg.TrustProxy = mustBool("STEDGE_TRUST_PROXY", cfg.TrustProxy)
}

// finalize fills the values derived from other settings.
func finalize(cfg *Config) {
	if cfg.AdvertisePort == 0 {
		cfg.AdvertisePort = portOf(cfg.ListenPort)
	}
	if cfg.Discovery.AnnouncePort == 0 && len(cfg.Discovery.Ports) > 0 {
		cfg.Discovery.AnnouncePort = cfg.Discovery.Ports[0]
	}
}

// Validate reports the first setting the discovery subsystem cannot run with.
func (c *Config) Validate() error {
	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	d := c.Discovery
	if d.ServiceName == "" {
		return fmt.Errorf("service name must not be empty")
	}
	if len(d.Ports) == 0 {
		return fmt.Errorf("at least one discovery port is required")
	}
	for _, p := range d.Ports {
		if !validPort(p) {
			return fmt.Errorf("discovery port %d out of range", p)
		}
	}
	if !validPort(c.AdvertisePort) {
		return fmt.Errorf("advertise port %d out of range", c.AdvertisePort)
	}
	if !validPort(d.AnnouncePort) {
		return fmt.Errorf("announce port %d out of range", d.AnnouncePort)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("discovery timeout must be > 0, got %v", d.Timeout)
	}
	if d.Retries < 1 {
		return fmt.Errorf("discovery retries must be >= 1, got %d", d.Retries)
	}
	if d.RetryDelay < 0 {
		return fmt.Errorf("discovery retry delay must be >= 0, got %v", d.RetryDelay)
	}
	if d.AnnounceInterval <= 0 {
		return fmt.Errorf("announce interval must be > 0, got %v", d.AnnounceInterval)
	}
	if d.ResponderWorkers < 1 {
		return fmt.Errorf("responder workers must be >= 1, got %d", d.ResponderWorkers)
	}
	if d.QueryBurst < 0 {
		return fmt.Errorf("query burst must be >= 0, got %d", d.QueryBurst)
	}
	if c.HealthTimeout <= 0 {
		return fmt.Errorf("health timeout must be > 0, got %v", c.HealthTimeout)
	}
	return nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// requirePorts parses a comma separated port list, keeping its order.
func requirePorts(key, v string) []int {
	parts := splitAndTrim(v)
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		p, err := strconv.Atoi(part)
		if err != nil || !validPort(p) {
			panic(fmt.Sprintf("❌ FATAL: Invalid port value for %s: %s", key, part))
		}
		ports = append(ports, p)
	}
	return ports
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// portOf extracts the numeric port of a listen address like ":5000" or "0.0.0.0:5000".
func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
