// Package config loads cardscan settings. Sources, lowest precedence first:
// built-in defaults, the YAML config file, a .env file next to it, and
// CARDSCAN_* environment variables. Command flags are applied on top by the
// caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "CARDSCAN"
	dotEnvFileName = ".env"
)

// Error reports a configuration problem with the key and operation involved.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Vision    VisionConfig    `mapstructure:"vision"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`

	// Location is the config file that was read, or empty when none was
	// found.
	Location string `mapstructure:"-"`
}

type APIConfig struct {
	// BaseURL is the root of the card catalog API. Required.
	BaseURL string `mapstructure:"base_url"`

	// Timeout bounds each request.
	// optional default "30s"
	Timeout string `mapstructure:"timeout"`

	// RetryCount is the number of retries after a transport failure.
	// optional default 0
	RetryCount int `mapstructure:"retry_count"`

	UserAgent string `mapstructure:"user_agent"`
}

type VisionConfig struct {
	BaseURL string `mapstructure:"base_url"`

	// optional default "15s"
	Timeout string `mapstructure:"timeout"`

	APIKey string `mapstructure:"api_key"`
}

type IdentityConfig struct {
	// Path of the encrypted identity file.
	// optional default "$HOME/.config/cardscan/identity"
	Path string `mapstructure:"path"`

	// Secret the identity file key is derived from. Required.
	Secret string `mapstructure:"secret"`
}

type CaptureConfig struct {
	// Source is "dir" (hot folder) or "browser" (IP camera snapshot page).
	// optional default "dir"
	Source string `mapstructure:"source"`

	// optional default "./inbox"
	Dir string `mapstructure:"dir"`

	SnapshotURL string `mapstructure:"snapshot_url"`
	TorchOnURL  string `mapstructure:"torch_on_url"`
	TorchOffURL string `mapstructure:"torch_off_url"`

	// Rotation in degrees reported on browser frames, matching how the
	// camera is mounted.
	Rotation int `mapstructure:"rotation"`

	// optional default "10s"
	NavigationTimeout string `mapstructure:"navigation_timeout"`

	// optional default "5s"
	IdleTimeout string `mapstructure:"idle_timeout"`
}

type StorageConfig struct {
	// Bucket selects the GCS archive; empty means the local directory.
	Bucket string `mapstructure:"bucket"`

	// optional default "./receipts"
	Dir string `mapstructure:"dir"`

	// URLTTL is how long signed receipt URLs stay valid.
	// optional default "24h"
	URLTTL string `mapstructure:"url_ttl"`
}

type InventoryConfig struct {
	// optional default "1m"
	CacheTTL string `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	// optional default "info"
	Level string `mapstructure:"level"`

	// Dir enables a rotated log file in this directory.
	Dir string `mapstructure:"dir"`

	// optional default "cardscan"
	Name string `mapstructure:"name"`

	// optional default "168h"
	MaxAge string `mapstructure:"max_age"`

	// optional default "24h"
	RotateTime string `mapstructure:"rotate_time"`
}

type ServerConfig struct {
	// optional default ":8080"
	Addr string `mapstructure:"addr"`
}

// defaults registers every key so that environment variables are picked up
// even when the config file does not mention them.
var defaults = map[string]any{
	"api.base_url":               "",
	"api.timeout":                "30s",
	"api.retry_count":            0,
	"api.user_agent":             "cardscan",
	"vision.base_url":            "",
	"vision.timeout":             "15s",
	"vision.api_key":             "",
	"identity.path":              "",
	"identity.secret":            "",
	"capture.source":             "dir",
	"capture.dir":                "./inbox",
	"capture.snapshot_url":       "",
	"capture.torch_on_url":       "",
	"capture.torch_off_url":      "",
	"capture.rotation":           0,
	"capture.navigation_timeout": "10s",
	"capture.idle_timeout":       "5s",
	"storage.bucket":             "",
	"storage.dir":                "./receipts",
	"storage.url_ttl":            "24h",
	"inventory.cache_ttl":        "1m",
	"log.level":                  "info",
	"log.dir":                    "",
	"log.name":                   "cardscan",
	"log.max_age":                "168h",
	"log.rotate_time":            "24h",
	"server.addr":                ":8080",
}

// Load reads the configuration. An explicit location must exist; otherwise
// the search paths are tried and a missing file is not an error.
func Load(location string) (*Config, error) {
	if location != "" {
		if _, err := os.Stat(location); err != nil {
			return nil, &Error{Op: "locate", Key: location, Err: err}
		}
	} else {
		location = detectLocation()
	}

	if err := loadDotEnvIfExist(location); err != nil {
		return nil, &Error{Op: "load", Key: dotEnvFileName, Err: err}
	}

	vp := viper.New()
	for k, v := range defaults {
		vp.SetDefault(k, v)
	}
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if location != "" {
		vp.SetConfigFile(location)
		if err := vp.ReadInConfig(); err != nil {
			return nil, &Error{Op: "read", Key: location, Err: err}
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, &Error{Op: "unmarshal", Err: err}
	}
	c = configMergeDefault(c)
	c.Location = location
	return c, nil
}

// Validate checks the settings every command needs and that all durations
// parse.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return &Error{Op: "validate", Key: "api.base_url", Err: errors.New("must be set")}
	}
	if c.Identity.Secret == "" {
		return &Error{Op: "validate", Key: "identity.secret", Err: errors.New("must be set")}
	}
	switch c.Capture.Source {
	case "dir", "browser":
	default:
		return &Error{Op: "validate", Key: "capture.source", Err: fmt.Errorf("unknown source %q", c.Capture.Source)}
	}

	durations := map[string]string{
		"api.timeout":                c.API.Timeout,
		"vision.timeout":             c.Vision.Timeout,
		"capture.navigation_timeout": c.Capture.NavigationTimeout,
		"capture.idle_timeout":       c.Capture.IdleTimeout,
		"storage.url_ttl":            c.Storage.URLTTL,
		"inventory.cache_ttl":        c.Inventory.CacheTTL,
		"log.max_age":                c.Log.MaxAge,
		"log.rotate_time":            c.Log.RotateTime,
	}
	for key, v := range durations {
		if _, err := cast.ToDurationE(v); err != nil {
			return &Error{Op: "validate", Key: key, Err: err}
		}
	}
	return nil
}

// Duration converts a validated duration setting.
func Duration(s string) time.Duration {
	return cast.ToDuration(s)
}

func configMergeDefault(c *Config) *Config {
	if c == nil {
		c = &Config{}
	}
	if c.API.Timeout == "" {
		c.API.Timeout = "30s"
	}
	if c.Vision.Timeout == "" {
		c.Vision.Timeout = "15s"
	}
	if c.Identity.Path == "" {
		c.Identity.Path = defaultIdentityPath()
	}
	if c.Capture.Source == "" {
		c.Capture.Source = "dir"
	}
	if c.Capture.Dir == "" {
		c.Capture.Dir = "./inbox"
	}
	if c.Capture.NavigationTimeout == "" {
		c.Capture.NavigationTimeout = "10s"
	}
	if c.Capture.IdleTimeout == "" {
		c.Capture.IdleTimeout = "5s"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./receipts"
	}
	if c.Storage.URLTTL == "" {
		c.Storage.URLTTL = "24h"
	}
	if c.Inventory.CacheTTL == "" {
		c.Inventory.CacheTTL = "1m"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Name == "" {
		c.Log.Name = "cardscan"
	}
	if c.Log.MaxAge == "" {
		c.Log.MaxAge = "168h"
	}
	if c.Log.RotateTime == "" {
		c.Log.RotateTime = "24h"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	return c
}

func loadDotEnvIfExist(location string) error {
	dir := "."
	if location != "" {
		dir = filepath.Dir(location)
	}
	p := filepath.Join(dir, dotEnvFileName)
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	return godotenv.Load(p)
}
