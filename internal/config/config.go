// Package config loads proxy settings from an optional TOML file and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"github.com/die-net/keepalive-proxy/internal/dialer"
	"github.com/die-net/keepalive-proxy/internal/proxy"
)

const (
	DefaultListen             = "127.0.0.1:9250"
	DefaultNegotiationTimeout = 10 * time.Second
	DefaultHTTPIdleTimeout    = 4 * time.Minute
	DefaultPoolIdleTimeout    = 5 * time.Second
	DefaultPoolMaxIdleConns   = 100
	DefaultTCPKeepAlive       = "45:45:3"
	DefaultDialBurst          = 1
)

// Config is the top-level proxy configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Admin    AdminConfig    `toml:"admin"`

	filePath  string
	keepAlive net.KeepAliveConfig
}

// ServerConfig holds the client-facing listener and pool settings.
type ServerConfig struct {
	Listen             string   `toml:"listen"`
	NegotiationTimeout Duration `toml:"negotiation_timeout"`
	HTTPIdleTimeout    Duration `toml:"http_idle_timeout"`
	PoolIdleTimeout    Duration `toml:"pool_idle_timeout"`
	PoolMaxIdleConns   int      `toml:"pool_max_idle_conns"`
	TunnelIdleTimeout  Duration `toml:"tunnel_idle_timeout"` // 0 disables
	TCPKeepAlive       string   `toml:"tcp_keepalive"`
}

// UpstreamConfig controls how outbound connections are made.
type UpstreamConfig struct {
	URL         string   `toml:"url"`
	DialTimeout Duration `toml:"dial_timeout"` // 0 disables
	DialRate    float64  `toml:"dial_rate"`    // dials per second, 0 disables
	DialBurst   int      `toml:"dial_burst"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AdminConfig holds the optional admin listener. An empty Listen disables it.
type AdminConfig struct {
	Listen string `toml:"listen"`
}

// Duration is a time.Duration written as a Go duration string ("5s", "4m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// CLI holds command-line flags. Only flags set explicitly on the command line
// override the config file.
type CLI struct {
	Config string

	Listen             string
	Upstream           string
	AdminListen        string
	NegotiationTimeout time.Duration
	HTTPIdleTimeout    time.Duration
	PoolIdleTimeout    time.Duration
	PoolMaxIdleConns   int
	TunnelIdleTimeout  time.Duration
	DialTimeout        time.Duration
	DialRate           float64
	DialBurst          int
	TCPKeepAlive       string
	LogLevel           string
	LogFormat          string

	fs *pflag.FlagSet
}

// NewCLI registers the proxy's flags on fs.
func NewCLI(fs *pflag.FlagSet) *CLI {
	c := &CLI{fs: fs}

	fs.StringVarP(&c.Config, "config", "c", os.Getenv("KEEPALIVE_PROXY_CONFIG"), "Path to TOML config file (optional)")
	fs.StringVar(&c.Listen, "listen", DefaultListen, "HTTP proxy listen address")
	fs.StringVar(&c.Upstream, "upstream", DefaultUpstream(), "Upstream forwarding target URL: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks5://[user:pass@]host:port")
	fs.StringVar(&c.AdminListen, "admin-listen", "", "Admin HTTP listen address exposing /healthz, /metrics and /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	fs.DurationVar(&c.NegotiationTimeout, "negotiation-timeout", DefaultNegotiationTimeout, "Timeout for reading request headers and upstream proxy handshakes")
	fs.DurationVar(&c.HTTPIdleTimeout, "http-idle-timeout", DefaultHTTPIdleTimeout, "Timeout for idle client keep-alive connections")
	fs.DurationVar(&c.PoolIdleTimeout, "pool-idle-timeout", DefaultPoolIdleTimeout, "How long idle origin connections stay pooled")
	fs.IntVar(&c.PoolMaxIdleConns, "pool-max-idle-conns", DefaultPoolMaxIdleConns, "Maximum number of idle origin connections")
	fs.DurationVar(&c.TunnelIdleTimeout, "tunnel-idle-timeout", 0, "Close CONNECT tunnels idle this long (0 disables)")
	fs.DurationVar(&c.DialTimeout, "dial-timeout", 0, "Timeout for outbound DNS lookup and TCP connect (0 disables)")
	fs.Float64Var(&c.DialRate, "dial-rate", 0, "Maximum outbound dials per second (0 disables)")
	fs.IntVar(&c.DialBurst, "dial-burst", DefaultDialBurst, "Outbound dial burst size when --dial-rate is set")
	fs.StringVar(&c.TCPKeepAlive, "tcp-keepalive", DefaultTCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.StringVar(&c.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&c.LogFormat, "log-format", "text", "Log format: json|text")

	return c
}

func (c *CLI) changed(name string) bool {
	return c.fs != nil && c.fs.Changed(name)
}

// Load reads the config file named by cli.Config, if any, and applies
// command-line overrides.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	if path := cli.Config; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	ka, err := ParseTCPKeepAlive(cfg.Server.TCPKeepAlive)
	if err != nil {
		return nil, fmt.Errorf("config: server.tcp_keepalive: %w", err)
	}
	cfg.keepAlive = ka

	return &cfg, nil
}

func (c *Config) applyCLI(cli *CLI) {
	if cli.changed("listen") {
		c.Server.Listen = cli.Listen
	}
	if cli.changed("upstream") {
		c.Upstream.URL = cli.Upstream
	}
	if cli.changed("admin-listen") {
		c.Admin.Listen = cli.AdminListen
	}
	if cli.changed("negotiation-timeout") {
		c.Server.NegotiationTimeout.Duration = cli.NegotiationTimeout
	}
	if cli.changed("http-idle-timeout") {
		c.Server.HTTPIdleTimeout.Duration = cli.HTTPIdleTimeout
	}
	if cli.changed("pool-idle-timeout") {
		c.Server.PoolIdleTimeout.Duration = cli.PoolIdleTimeout
	}
	if cli.changed("pool-max-idle-conns") {
		c.Server.PoolMaxIdleConns = cli.PoolMaxIdleConns
	}
	if cli.changed("tunnel-idle-timeout") {
		c.Server.TunnelIdleTimeout.Duration = cli.TunnelIdleTimeout
	}
	if cli.changed("tcp-keepalive") {
		c.Server.TCPKeepAlive = cli.TCPKeepAlive
	}
	if cli.changed("dial-timeout") {
		c.Upstream.DialTimeout.Duration = cli.DialTimeout
	}
	if cli.changed("dial-rate") {
		c.Upstream.DialRate = cli.DialRate
	}
	if cli.changed("dial-burst") {
		c.Upstream.DialBurst = cli.DialBurst
	}
	if cli.changed("log-level") {
		c.Log.Level = cli.LogLevel
	}
	if cli.changed("log-format") {
		c.Log.Format = cli.LogFormat
	}
}

func (c *Config) validate() error {
	for name, addr := range map[string]string{
		"server.listen": c.Server.Listen,
		"admin.listen":  c.Admin.Listen,
	} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s must be host:port; got %q", name, addr)
		}
	}

	for name, d := range map[string]time.Duration{
		"server.negotiation_timeout": c.Server.NegotiationTimeout.Duration,
		"server.http_idle_timeout":   c.Server.HTTPIdleTimeout.Duration,
		"server.pool_idle_timeout":   c.Server.PoolIdleTimeout.Duration,
		"server.tunnel_idle_timeout": c.Server.TunnelIdleTimeout.Duration,
		"upstream.dial_timeout":      c.Upstream.DialTimeout.Duration,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be non-negative; got %v", name, d)
		}
	}

	if c.Server.PoolMaxIdleConns < 0 {
		return fmt.Errorf("server.pool_max_idle_conns must be non-negative; got %d", c.Server.PoolMaxIdleConns)
	}
	if c.Upstream.DialRate < 0 {
		return fmt.Errorf("upstream.dial_rate must be non-negative; got %v", c.Upstream.DialRate)
	}
	if c.Upstream.DialBurst < 0 {
		return fmt.Errorf("upstream.dial_burst must be non-negative; got %d", c.Upstream.DialBurst)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	return nil
}

// setDefaults fills zero-valued fields. A zero timeout in the file therefore
// means "default", not "disabled", for the timeouts that have a non-zero default.
func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.NegotiationTimeout.Duration == 0 {
		c.Server.NegotiationTimeout.Duration = DefaultNegotiationTimeout
	}
	if c.Server.HTTPIdleTimeout.Duration == 0 {
		c.Server.HTTPIdleTimeout.Duration = DefaultHTTPIdleTimeout
	}
	if c.Server.PoolIdleTimeout.Duration == 0 {
		c.Server.PoolIdleTimeout.Duration = DefaultPoolIdleTimeout
	}
	if c.Server.PoolMaxIdleConns == 0 {
		c.Server.PoolMaxIdleConns = DefaultPoolMaxIdleConns
	}
	if c.Server.TCPKeepAlive == "" {
		c.Server.TCPKeepAlive = DefaultTCPKeepAlive
	}
	if c.Upstream.URL == "" {
		c.Upstream.URL = DefaultUpstream()
	}
	if c.Upstream.DialBurst == 0 {
		c.Upstream.DialBurst = DefaultDialBurst
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// KeepAlive returns the parsed server.tcp_keepalive setting.
func (c *Config) KeepAlive() net.KeepAliveConfig {
	return c.keepAlive
}

// DialerConfig returns the settings for outbound dialers.
func (c *Config) DialerConfig() dialer.Config {
	return dialer.Config{
		DialTimeout:        c.Upstream.DialTimeout.Duration,
		NegotiationTimeout: c.Server.NegotiationTimeout.Duration,
		KeepAlive:          c.keepAlive,
	}
}

// ProxyConfig returns the proxy server settings. The caller fills in Dialer,
// Logger and Metrics.
func (c *Config) ProxyConfig() proxy.Config {
	return proxy.Config{
		NegotiationTimeout: c.Server.NegotiationTimeout.Duration,
		HTTPIdleTimeout:    c.Server.HTTPIdleTimeout.Duration,
		PoolIdleTimeout:    c.Server.PoolIdleTimeout.Duration,
		PoolMaxIdleConns:   c.Server.PoolMaxIdleConns,
		TunnelIdleTimeout:  c.Server.TunnelIdleTimeout.Duration,
		KeepAlive:          c.keepAlive,
	}
}

// WarnPermissions logs a warning if the config file is readable by group or
// others, since upstream URLs may carry credentials.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// DefaultUpstream returns $ALL_PROXY (or $all_proxy), else direct://.
func DefaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}
	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}
	return "direct://"
}

// ParseTCPKeepAlive parses on|off|keepidle:keepintvl:keepcnt, with idle and
// interval in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
