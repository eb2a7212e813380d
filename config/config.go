// Package config loads agent settings from defaults, an optional TOML file,
// NFC_SESSION_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dotside-studios/davi-nfc-session/buildinfo"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NFC_SESSION"

// Platform kinds.
const (
	PlatformPhone  = "phone"
	PlatformLibNFC = "libnfc"
)

// Config holds agent configuration.
type Config struct {
	Server   ServerConfig
	TLS      TLSConfig
	Platform PlatformConfig
	Session  SessionConfig
	Store    StoreConfig
	Log      LogConfig
}

// ServerConfig holds the WebSocket/HTTP server settings.
type ServerConfig struct {
	Port   int
	Secret string
	MDNS   bool `mapstructure:"mdns"`
}

// TLSConfig holds local CA settings.
type TLSConfig struct {
	Enabled bool
	Dir     string
	// BootstrapPort serves the CA over plain HTTP; 0 disables it.
	BootstrapPort int `mapstructure:"bootstrap_port"`
}

// PlatformConfig selects the NFC platform.
type PlatformConfig struct {
	Kind         string
	Device       string
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SessionConfig holds session options.
type SessionConfig struct {
	DeliveryFiltering bool `mapstructure:"delivery_filtering"`
}

// StoreConfig holds sqlite settings.
type StoreConfig struct {
	Path string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultDir returns the per-user data directory.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, buildinfo.DirName)
	}
	return filepath.Join(os.Getenv("HOME"), ".config", buildinfo.DirName)
}

func setDefaults(v *viper.Viper) {
	dir := DefaultDir()
	v.SetDefault("server.port", 18080)
	v.SetDefault("server.secret", "")
	v.SetDefault("server.mdns", true)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.dir", dir)
	v.SetDefault("tls.bootstrap_port", 18081)
	v.SetDefault("platform.kind", PlatformPhone)
	v.SetDefault("platform.device", "")
	v.SetDefault("platform.poll_interval", 250*time.Millisecond)
	v.SetDefault("session.delivery_filtering", false)
	v.SetDefault("store.path", filepath.Join(dir, "history.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. When cfgFile is empty the file is looked up as
// config.toml in DefaultDir, or at $NFC_SESSION_CONFIG. Flags, when given,
// override everything else for the keys they are bound to.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if cfgFile == "" {
		cfgFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DefaultDir())
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// an explicit file must exist
		if !errors.As(err, &notFound) || cfgFile != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"port":               "server.port",
	"secret":             "server.secret",
	"mdns":               "server.mdns",
	"tls":                "tls.enabled",
	"bootstrap-port":     "tls.bootstrap_port",
	"platform":           "platform.kind",
	"device":             "platform.device",
	"poll-interval":      "platform.poll_interval",
	"delivery-filtering": "session.delivery_filtering",
	"db":                 "store.path",
	"log-level":          "log.level",
	"log-format":         "log.format",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.TLS.BootstrapPort < 0 || c.TLS.BootstrapPort > 65535 {
		return fmt.Errorf("tls.bootstrap_port %d out of range", c.TLS.BootstrapPort)
	}
	if c.TLS.Enabled && c.TLS.BootstrapPort != 0 && c.TLS.BootstrapPort == c.Server.Port {
		return fmt.Errorf("tls.bootstrap_port must differ from server.port")
	}
	switch c.Platform.Kind {
	case PlatformPhone, PlatformLibNFC:
	default:
		return fmt.Errorf("platform.kind must be %q or %q, got %q", PlatformPhone, PlatformLibNFC, c.Platform.Kind)
	}
	if c.Platform.Kind == PlatformLibNFC && c.Platform.PollInterval <= 0 {
		return fmt.Errorf("platform.poll_interval must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
