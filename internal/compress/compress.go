package compress

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/fpang/photo-enhancer/internal/filehandler"
	"github.com/rs/zerolog/log"
)

// Stage applies a fixed Policy. It satisfies the compressor dependency of
// the workflow controller.
type Stage struct {
	policy Policy
}

// NewStage creates a compression stage for policy.
func NewStage(policy Policy) *Stage {
	return &Stage{policy: policy}
}

// Policy returns the stage configuration.
func (s *Stage) Policy() Policy {
	return s.policy
}

// Compress runs Compress with the stage policy.
func (s *Stage) Compress(ctx context.Context, file *filehandler.ImageFile) *filehandler.ImageFile {
	return Compress(ctx, file, s.policy)
}

// Compress returns a file suitable for upload.
//
//   - Files smaller than policy.SizeThresholdBytes are returned as-is.
//   - Larger files are decoded, fitted to policy.MaxDimensionPx and re-encoded,
//     lowering quality (lossy formats) and then dimensions until the output is
//     at most policy.MaxOutputMB or the iteration budget runs out.
//   - On any failure the original file is returned and a warning is logged.
//
// The input is never modified.
func Compress(ctx context.Context, file *filehandler.ImageFile, policy Policy) *filehandler.ImageFile {
	if file == nil {
		return nil
	}

	if file.Size() < policy.SizeThresholdBytes {
		log.Debug().
			Str("file", file.Name).
			Int64("size_bytes", file.Size()).
			Int64("threshold_bytes", policy.SizeThresholdBytes).
			Msg("Below compression threshold, skipping")
		return file
	}

	start := time.Now()
	out, err := safeTranscode(ctx, file, policy)
	if err != nil {
		log.Warn().
			Err(err).
			Str("file", file.Name).
			Str("mime_type", file.MIMEType).
			Msg("Compression degraded, using original file")
		return file
	}

	if out == file {
		log.Debug().Str("file", file.Name).Msg("Compression did not reduce size, using original file")
		return file
	}

	log.Info().
		Str("file", file.Name).
		Str("from", humanize.Bytes(uint64(file.Size()))).
		Str("to", humanize.Bytes(uint64(out.Size()))).
		Str("mime_type", out.MIMEType).
		Dur("duration", time.Since(start)).
		Msg("Image compressed")

	return out
}

// safeTranscode converts codec panics into errors.
func safeTranscode(ctx context.Context, file *filehandler.ImageFile, policy Policy) (out *filehandler.ImageFile, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("transcode panic: %v", r)
		}
	}()
	return transcode(ctx, file, policy)
}

func transcode(ctx context.Context, file *filehandler.ImageFile, policy Policy) (*filehandler.ImageFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !filehandler.IsSupportedMIME(file.MIMEType) {
		return nil, fmt.Errorf("%w: %s", filehandler.ErrUnsupportedFormat, file.MIMEType)
	}

	img, err := imaging.Decode(bytes.NewReader(file.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	outMIME := targetMIME(file.MIMEType, policy.PreserveFormat)
	if outMIME == filehandler.MIMEJPEG && file.MIMEType != filehandler.MIMEJPEG {
		img = flatten(img)
	}

	bounds := img.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()
	width, height := calculateDimensions(origWidth, origHeight, policy.MaxDimensionPx)

	target := policy.maxOutputBytes()
	quality := policy.initialQuality()

	var data []byte
	iterations := policy.iterations()
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := img
		if width != origWidth || height != origHeight {
			frame = imaging.Resize(img, width, height, imaging.Lanczos)
		}

		data, err = encode(frame, outMIME, quality)
		if err != nil {
			return nil, err
		}

		log.Debug().
			Int("iteration", i).
			Int("width", width).
			Int("height", height).
			Int("quality", quality).
			Int("output_size", len(data)).
			Msg("Compression pass")

		if target == 0 || int64(len(data)) <= target || i == iterations-1 {
			break
		}

		if isLossy(outMIME) && quality-qualityStep >= minQuality {
			quality -= qualityStep
			continue
		}

		nextWidth, nextHeight := shrink(width, height)
		if nextWidth == width && nextHeight == height {
			break
		}
		width, height = nextWidth, nextHeight
	}

	resized := width != origWidth || height != origHeight
	if !resized && outMIME == file.MIMEType && int64(len(data)) >= file.Size() {
		return file, nil
	}

	return &filehandler.ImageFile{
		Name:     filehandler.ReplaceExtension(file.Name, outMIME),
		MIMEType: outMIME,
		Data:     data,
		Metadata: &filehandler.ImageMetadata{Width: width, Height: height},
	}, nil
}

// calculateDimensions fits width x height inside maxDimension, keeping the
// aspect ratio. Images already inside the bound are unchanged.
func calculateDimensions(width, height, maxDimension int) (int, int) {
	if maxDimension <= 0 || (width <= maxDimension && height <= maxDimension) {
		return width, height
	}

	if width >= height {
		newHeight := int(float64(height) * float64(maxDimension) / float64(width))
		return maxDimension, max(newHeight, 1)
	}

	newWidth := int(float64(width) * float64(maxDimension) / float64(height))
	return max(newWidth, 1), maxDimension
}

func shrink(width, height int) (int, int) {
	return max(int(float64(width)*shrinkFactor), 1), max(int(float64(height)*shrinkFactor), 1)
}
