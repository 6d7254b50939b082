package config

import (
	"fmt"

	env "github.com/Netflix/go-env"
)

// envOverrides lists the environment variables that override file values.
// Unset variables leave the field nil.
type envOverrides struct {
	APIURL                *string  `env:"PHOTO_ENHANCER_API_URL"`
	UploadTimeoutSeconds  *int     `env:"PHOTO_ENHANCER_UPLOAD_TIMEOUT_SECONDS"`
	EnhanceTimeoutSeconds *int     `env:"PHOTO_ENHANCER_ENHANCE_TIMEOUT_SECONDS"`
	DefaultScale          *int     `env:"PHOTO_ENHANCER_DEFAULT_SCALE"`
	MetricsFile           *string  `env:"PHOTO_ENHANCER_METRICS_FILE"`
	LogLevel              *string  `env:"PHOTO_ENHANCER_LOG_LEVEL"`
	SizeThresholdBytes    *int64   `env:"PHOTO_ENHANCER_COMPRESS_THRESHOLD_BYTES"`
	MaxOutputMB           *float64 `env:"PHOTO_ENHANCER_COMPRESS_MAX_OUTPUT_MB"`
	MaxDimensionPx        *int     `env:"PHOTO_ENHANCER_COMPRESS_MAX_DIMENSION_PX"`
	PreserveFormat        *bool    `env:"PHOTO_ENHANCER_COMPRESS_PRESERVE_FORMAT"`
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if o.APIURL != nil && *o.APIURL != "" {
		c.APIURL = *o.APIURL
	}
	if o.UploadTimeoutSeconds != nil {
		c.UploadTimeoutSeconds = *o.UploadTimeoutSeconds
	}
	if o.EnhanceTimeoutSeconds != nil {
		c.EnhanceTimeoutSeconds = *o.EnhanceTimeoutSeconds
	}
	if o.DefaultScale != nil {
		c.DefaultScale = *o.DefaultScale
	}
	if o.MetricsFile != nil {
		c.MetricsFile = *o.MetricsFile
	}
	if o.LogLevel != nil && *o.LogLevel != "" {
		c.LogLevel = *o.LogLevel
	}
	if o.SizeThresholdBytes != nil {
		c.Compression.SizeThresholdBytes = *o.SizeThresholdBytes
	}
	if o.MaxOutputMB != nil {
		c.Compression.MaxOutputMB = *o.MaxOutputMB
	}
	if o.MaxDimensionPx != nil {
		c.Compression.MaxDimensionPx = *o.MaxDimensionPx
	}
	if o.PreserveFormat != nil {
		c.Compression.PreserveFormat = *o.PreserveFormat
	}
	return nil
}
