// Package config resolves the client's settings once at startup.
//
// Values are layered: built-in defaults, then an optional TOML file, then
// PHOTO_ENHANCER_* environment variables. The result is validated and
// handed to the rest of the program by value.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpang/photo-enhancer/internal/compress"
	"github.com/fpang/photo-enhancer/internal/transfer"
	"github.com/pelletier/go-toml/v2"
)

// ConfigPathEnv names the environment variable holding the config file path.
const ConfigPathEnv = "PHOTO_ENHANCER_CONFIG"

const defaultConfigPath = "~/.config/photo-enhancer/config.toml"

// Config is the full set of client settings.
type Config struct {
	// APIURL is the enhancement service base address.
	APIURL string `toml:"api_url" validate:"required,http_url"`

	UploadTimeoutSeconds  int `toml:"upload_timeout_seconds" validate:"gte=1"`
	EnhanceTimeoutSeconds int `toml:"enhance_timeout_seconds" validate:"gte=1"`

	// DefaultScale is the upscale factor a new session starts with.
	DefaultScale int `toml:"default_scale" validate:"oneof=2 4"`

	Compression compress.Policy `toml:"compression"`

	// MetricsFile receives one JSON line per operation. Empty disables metrics.
	MetricsFile string `toml:"metrics_file"`

	LogLevel string `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		APIURL:                transfer.DefaultBaseURL,
		UploadTimeoutSeconds:  int(transfer.DefaultUploadTimeout / time.Second),
		EnhanceTimeoutSeconds: int(transfer.DefaultEnhanceTimeout / time.Second),
		DefaultScale:          transfer.Scale2x,
		Compression:           compress.DefaultPolicy(),
		LogLevel:              "info",
	}
}

// UploadTimeout returns the upload deadline.
func (c Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSeconds) * time.Second
}

// EnhanceTimeout returns the enhancement deadline.
func (c Config) EnhanceTimeout() time.Duration {
	return time.Duration(c.EnhanceTimeoutSeconds) * time.Second
}

// Load resolves the configuration. path may be empty, in which case
// PHOTO_ENHANCER_CONFIG and then ~/.config/photo-enhancer/config.toml are
// tried; a missing default file is not an error. It returns the config, the
// resolved file path and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) normalize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.MetricsFile = strings.TrimSpace(c.MetricsFile)
}

func resolveConfigPath(path string) (string, bool, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(ConfigPathEnv)
		explicit = path != ""
	}

	if explicit {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file %s does not exist", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %s is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
