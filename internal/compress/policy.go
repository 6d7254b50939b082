// Package compress shrinks photos before upload.
//
// The stage is fail-open: Compress never returns an error. Files below the
// policy threshold pass through untouched, and any decode or encode failure
// falls back to the original file. A larger upload is always preferable to a
// blocked workflow.
package compress

const (
	// DefaultSizeThresholdBytes skips compression for files under 1 MB.
	DefaultSizeThresholdBytes = 1 << 20

	// DefaultMaxOutputMB is the best-effort ceiling for the compressed payload.
	DefaultMaxOutputMB = 1.5

	// DefaultMaxDimensionPx caps the longest edge of the output.
	DefaultMaxDimensionPx = 2048

	// DefaultInitialQuality is the first lossy encoder quality tried.
	DefaultInitialQuality = 90

	// DefaultMaxIterations bounds the encode attempts spent chasing MaxOutputMB.
	DefaultMaxIterations = 10

	minQuality  = 40
	qualityStep = 10

	// shrinkFactor scales both edges once quality reductions are exhausted.
	shrinkFactor = 0.85
)

// Policy configures when and how a photo is compressed.
type Policy struct {
	// SizeThresholdBytes: files strictly smaller than this are returned unmodified.
	SizeThresholdBytes int64 `toml:"size_threshold_bytes" validate:"gte=0"`

	// MaxOutputMB is the target ceiling for the compressed output. Zero disables
	// the size target; only the dimension cap applies.
	MaxOutputMB float64 `toml:"max_output_mb" validate:"gte=0"`

	// MaxDimensionPx caps the longer image edge. Aspect ratio is preserved.
	MaxDimensionPx int `toml:"max_dimension_px" validate:"gt=0"`

	// PreserveFormat keeps the input MIME type. When false, PNG and WebP
	// input is transcoded to JPEG.
	PreserveFormat bool `toml:"preserve_format"`

	InitialQuality int `toml:"initial_quality" validate:"gte=1,lte=100"`
	MaxIterations  int `toml:"max_iterations" validate:"gte=1"`
}

// DefaultPolicy returns the policy used when no configuration overrides it.
func DefaultPolicy() Policy {
	return Policy{
		SizeThresholdBytes: DefaultSizeThresholdBytes,
		MaxOutputMB:        DefaultMaxOutputMB,
		MaxDimensionPx:     DefaultMaxDimensionPx,
		PreserveFormat:     true,
		InitialQuality:     DefaultInitialQuality,
		MaxIterations:      DefaultMaxIterations,
	}
}

// maxOutputBytes converts MaxOutputMB to bytes; 0 means no target.
func (p Policy) maxOutputBytes() int64 {
	if p.MaxOutputMB <= 0 {
		return 0
	}
	return int64(p.MaxOutputMB * 1024 * 1024)
}

func (p Policy) iterations() int {
	if p.MaxIterations < 1 {
		return 1
	}
	return p.MaxIterations
}

func (p Policy) initialQuality() int {
	if p.InitialQuality < 1 || p.InitialQuality > 100 {
		return DefaultInitialQuality
	}
	return p.InitialQuality
}
