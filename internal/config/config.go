// Package config provides configuration management for zat using Viper for
// flexible loading from command-line flags, ZAT_ environment variables and
// the per-project .zat file.
//
// The configuration covers the preview server (host, port, public URL and
// the live reload toggle), the app bundles served by `zat server`, the theme
// previewed by `zat theme preview` together with the account it uploads to,
// and the filesystem watcher.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pchhetri/zendesk-apps-tools/internal/validation"
)

// Roles accepted by the theme preview endpoint.
var Roles = []string{"manager", "agent", "end_user", "anonymous"}

// DefaultWatchIgnore keeps the tool's own state files from triggering
// uploads.
var DefaultWatchIgnore = []string{".zat", "**/.zat", ".git", "**/.DS_Store", "**/*.swp"}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Apps   AppsConfig   `mapstructure:"apps"`
	Theme  ThemeConfig  `mapstructure:"theme"`
	Watch  WatchConfig  `mapstructure:"watch"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	PublicURL  string `mapstructure:"public_url"`
	LiveReload bool   `mapstructure:"livereload"`
}

type AppsConfig struct {
	Paths        []string `mapstructure:"paths"`
	SettingsFile string   `mapstructure:"settings_file"`
	// Domain selects a top-level section of the settings file.
	Domain string `mapstructure:"domain"`
}

type ThemeConfig struct {
	Path      string `mapstructure:"path"`
	Role      string `mapstructure:"role"`
	Subdomain string `mapstructure:"subdomain"`
	Username  string `mapstructure:"username"`
	Token     string `mapstructure:"token"`
	Password  string `mapstructure:"password"`
	// BaseURL overrides https://<subdomain>.zendesk.com, mostly for tests
	// and staging accounts.
	BaseURL string `mapstructure:"base_url"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
	Ignore   []string      `mapstructure:"ignore"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers default values on v. Called once by the root
// command before flags are bound.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 4567)
	v.SetDefault("server.livereload", true)
	v.SetDefault("server.public_url", "")
	v.SetDefault("apps.settings_file", "")
	v.SetDefault("apps.domain", "")
	v.SetDefault("theme.path", ".")
	v.SetDefault("theme.role", "manager")
	// Keys without a meaningful default are still registered so that
	// AutomaticEnv picks up ZAT_THEME_* during Unmarshal.
	for _, key := range []string{"subdomain", "username", "token", "password", "base_url"} {
		v.SetDefault("theme."+key, "")
	}
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", 250*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

var envKeyReplacer = strings.NewReplacer(".", "_")

// ConfigureEnv enables ZAT_ prefixed environment overrides, e.g.
// ZAT_SERVER_PORT or ZAT_THEME_SUBDOMAIN.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix("ZAT")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
}

// Load reads the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v into a Config, applies defaults that viper cannot
// express and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices set through env vars arrive as a single space separated string.
	if v.IsSet("apps.paths") && len(config.Apps.Paths) == 0 {
		config.Apps.Paths = v.GetStringSlice("apps.paths")
	}
	if v.IsSet("watch.ignore") && len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = v.GetStringSlice("watch.ignore")
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.PublicURL == "" {
		config.Server.PublicURL = fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	}
	config.Server.PublicURL = strings.TrimSuffix(config.Server.PublicURL, "/")

	if config.Theme.Role == "" {
		config.Theme.Role = "manager"
	}
	if config.Theme.Path == "" {
		config.Theme.Path = "."
	}
	if config.Theme.BaseURL == "" && config.Theme.Subdomain != "" {
		config.Theme.BaseURL = fmt.Sprintf("https://%s.zendesk.com", config.Theme.Subdomain)
	}
	config.Theme.BaseURL = strings.TrimSuffix(config.Theme.BaseURL, "/")

	if config.Watch.Debounce <= 0 {
		config.Watch.Debounce = 250 * time.Millisecond
	}
	if len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = append([]string(nil), DefaultWatchIgnore...)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	for _, path := range config.Apps.Paths {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid app path '%s': %w", path, err)
		}
	}

	if err := validateThemeConfig(&config.Theme); err != nil {
		return fmt.Errorf("theme config: %w", err)
	}

	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// 0 lets the OS pick a port, which the tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if err := validation.ValidateHost(config.Host); err != nil {
		return err
	}

	if err := validation.ValidateURL(config.PublicURL); err != nil {
		return fmt.Errorf("public_url %q: %w", config.PublicURL, err)
	}

	return nil
}

func validateThemeConfig(config *ThemeConfig) error {
	valid := false
	for _, role := range Roles {
		if config.Role == role {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("role %q must be one of %s", config.Role, strings.Join(Roles, ", "))
	}

	if config.BaseURL != "" {
		if err := validation.ValidateURL(config.BaseURL); err != nil {
			return fmt.Errorf("base_url %q: %w", config.BaseURL, err)
		}
	}

	return nil
}

// RequireUploadCredentials reports what is missing for a theme upload.
func (t ThemeConfig) RequireUploadCredentials() error {
	var missing []string
	if t.BaseURL == "" {
		missing = append(missing, "subdomain")
	}
	if t.Username == "" {
		missing = append(missing, "username")
	}
	if t.Token == "" && t.Password == "" {
		missing = append(missing, "token or password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing theme %s", strings.Join(missing, ", "))
	}
	return nil
}

// validatePath validates an app path for security
func validatePath(path string) error {
	return validation.ValidatePath(path)
}
