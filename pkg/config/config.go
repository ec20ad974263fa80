// Package config loads process configuration from flags, REVIT_MCP_* environment
// variables, an optional YAML file and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/mcp"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/mcp/auth"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/routehost"
)

// EnvPrefix prefixes every environment variable, e.g. REVIT_MCP_ROUTE_HOST_PORT.
const EnvPrefix = "REVIT_MCP"

// Defaults.
const (
	DefaultRouteHostHost     = "localhost"
	DefaultRouteHostPort     = 48884
	DefaultRouteHostBasePath = "/revit_mcp"
	DefaultListenHost        = "127.0.0.1"
	DefaultListenPort        = 8000
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

const redacted = "<redacted>"

// Config is the effective process configuration.
type Config struct {
	RouteHost RouteHostConfig `mapstructure:"route_host" yaml:"route_host"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Auth      auth.Config     `mapstructure:"auth" yaml:"auth"`
}

// RouteHostConfig locates the pyRevit Route Host.
type RouteHostConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	BasePath     string        `mapstructure:"base_path" yaml:"base_path"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ImageTimeout time.Duration `mapstructure:"image_timeout" yaml:"image_timeout"`
}

// ServerConfig selects the MCP transport and, for HTTP transports, where to listen.
type ServerConfig struct {
	Transport string `mapstructure:"transport" yaml:"transport"`
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	TLSCert   string `mapstructure:"tls_cert" yaml:"tls_cert,omitempty"`
	TLSKey    string `mapstructure:"tls_key" yaml:"tls_key,omitempty"`
}

// MetricsConfig enables the Prometheus listener when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// New returns a viper instance with defaults and environment binding in place.
// Callers bind flags onto it before calling Load.
func New() (v *viper.Viper) {
	v = viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("route_host.host", DefaultRouteHostHost)
	v.SetDefault("route_host.port", DefaultRouteHostPort)
	v.SetDefault("route_host.base_path", DefaultRouteHostBasePath)
	v.SetDefault("route_host.timeout", routehost.DefaultTimeout)
	v.SetDefault("route_host.image_timeout", routehost.DefaultImageTimeout)

	v.SetDefault("server.transport", string(mcp.TransportStdio))
	v.SetDefault("server.host", DefaultListenHost)
	v.SetDefault("server.port", DefaultListenPort)
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")

	v.SetDefault("metrics.address", "")

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	// Registered so AutomaticEnv can see them; api_keys only comes from a file.
	v.SetDefault("auth.static_token", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_algorithm", "")
	v.SetDefault("auth.mtls_ca_cert", "")
	v.SetDefault("auth.mtls_require_client_cert", false)
}

// Load reads file (if non-empty) into v, then decodes and validates the result.
func Load(v *viper.Viper, file string) (cfg Config, err error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")

		err = v.ReadInConfig()
		if err != nil {
			err = fmt.Errorf("reading config file %s: %w", file, err)
			return cfg, err
		}
	}

	err = v.Unmarshal(&cfg)
	if err != nil {
		err = fmt.Errorf("decoding config: %w", err)
		return cfg, err
	}

	if file != "" {
		cfg.Auth.APIKeys, err = readAPIKeys(file)
		if err != nil {
			return cfg, err
		}
	}

	err = cfg.Validate()
	return cfg, err
}

// readAPIKeys decodes auth.api_keys straight from the file. Viper lowercases map
// keys, which would corrupt the keys themselves.
func readAPIKeys(file string) (keys map[string]string, err error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		err = fmt.Errorf("reading config file %s: %w", file, err)
		return keys, err
	}

	var doc struct {
		Auth struct {
			APIKeys map[string]string `yaml:"api_keys"`
		} `yaml:"auth"`
	}

	err = yaml.Unmarshal(raw, &doc)
	if err != nil {
		err = fmt.Errorf("parsing auth.api_keys in %s: %w", file, err)
		return keys, err
	}

	keys = doc.Auth.APIKeys
	return keys, err
}

// Validate checks every setting and normalizes the transport name.
func (c *Config) Validate() (err error) {
	var problems []error

	if strings.TrimSpace(c.RouteHost.Host) == "" {
		problems = append(problems, errors.New("route_host.host is required"))
	}

	problems = append(problems, checkPort("route_host.port", c.RouteHost.Port))

	if c.RouteHost.Timeout <= 0 {
		problems = append(problems, fmt.Errorf("route_host.timeout must be positive, got %s", c.RouteHost.Timeout))
	}

	if c.RouteHost.ImageTimeout <= 0 {
		problems = append(problems, fmt.Errorf("route_host.image_timeout must be positive, got %s", c.RouteHost.ImageTimeout))
	}

	transport, transportErr := mcp.ParseTransport(c.Server.Transport)
	if transportErr != nil {
		problems = append(problems, fmt.Errorf("server.transport: %w", transportErr))
	} else {
		c.Server.Transport = string(transport)
	}

	if transport.IsHTTP() {
		problems = append(problems, checkPort("server.port", c.Server.Port))
	}

	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		problems = append(problems, errors.New("server.tls_cert and server.tls_key must be set together"))
	}

	_, levelErr := ParseLevel(c.Log.Level)
	problems = append(problems, levelErr)

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	err = errors.Join(problems...)
	if err != nil {
		err = fmt.Errorf("invalid configuration: %w", err)
	}

	return err
}

func checkPort(key string, port int) (err error) {
	if port < 1 || port > 65535 {
		err = fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}

	return err
}

// Transport returns the parsed MCP transport. Call after Validate.
func (c Config) Transport() (transport mcp.Transport) {
	transport = mcp.Transport(c.Server.Transport)
	return transport
}

// RouteHostURL returns the Route Host base URL.
func (c Config) RouteHostURL() (baseURL string) {
	baseURL = routehost.BaseURL(c.RouteHost.Host, c.RouteHost.Port, c.RouteHost.BasePath)
	return baseURL
}

// ListenAddr returns the address HTTP transports listen on.
func (c Config) ListenAddr() (addr string) {
	addr = net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
	return addr
}

// Dump renders the configuration as YAML with secrets redacted.
func (c Config) Dump() (out []byte, err error) {
	safe := c

	if safe.Auth.StaticToken != "" {
		safe.Auth.StaticToken = redacted
	}

	if safe.Auth.JWTSecret != "" {
		safe.Auth.JWTSecret = redacted
	}

	if len(safe.Auth.APIKeys) > 0 {
		users := make([]string, 0, len(safe.Auth.APIKeys))
		for _, user := range safe.Auth.APIKeys {
			users = append(users, user)
		}
		sort.Strings(users)

		safe.Auth.APIKeys = make(map[string]string, len(users))
		for i, user := range users {
			safe.Auth.APIKeys[fmt.Sprintf("%s-%d", redacted, i+1)] = user
		}
	}

	out, err = yaml.Marshal(safe)
	if err != nil {
		err = fmt.Errorf("encoding config: %w", err)
		return out, err
	}

	return out, err
}

// ParseLevel parses a slog level name such as "debug" or "warn".
func ParseLevel(name string) (level slog.Level, err error) {
	err = level.UnmarshalText([]byte(name))
	if err != nil {
		err = fmt.Errorf("log.level: %w", err)
		return level, err
	}

	return level, err
}

// NewLogger builds the process logger writing to w. Under stdio, w must not be stdout.
func (l LogConfig) NewLogger(w io.Writer) (logger *slog.Logger, err error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return logger, err
	}

	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(l.Format, "text") {
		logger = slog.New(slog.NewTextHandler(w, opts))
		return logger, err
	}

	logger = slog.New(slog.NewJSONHandler(w, opts))
	return logger, err
}
