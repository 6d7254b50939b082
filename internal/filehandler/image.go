package filehandler

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// ImageMetadata describes a photo for display before upload.
//
// Dimensions come from the image header. EXIF fields are read with
// evanoberholster/imagemeta, which only touches the metadata segment.
// PNG and WebP files usually carry no EXIF; the EXIF fields are then empty.
type ImageMetadata struct {
	Width  int
	Height int

	DateTaken time.Time
	HasDate   bool

	CameraMake  string
	CameraModel string
}

// ExtractImageMetadata reads dimensions and EXIF metadata from encoded image bytes.
// Missing EXIF is not an error; an unreadable image header is.
func ExtractImageMetadata(data []byte) (*ImageMetadata, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	metadata := &ImageMetadata{
		Width:  cfg.Width,
		Height: cfg.Height,
	}

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata found")
		return metadata, nil
	}

	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		metadata.DateTaken = exifData.DateTimeOriginal()
		metadata.HasDate = true
	case !exifData.CreateDate().IsZero():
		metadata.DateTaken = exifData.CreateDate()
		metadata.HasDate = true
	case !exifData.ModifyDate().IsZero():
		metadata.DateTaken = exifData.ModifyDate()
		metadata.HasDate = true
	}

	metadata.CameraMake = strings.TrimSpace(exifData.Make)
	metadata.CameraModel = strings.TrimSpace(exifData.Model)

	log.Debug().
		Int("width", metadata.Width).
		Int("height", metadata.Height).
		Bool("has_date", metadata.HasDate).
		Msg("Image metadata extraction complete")

	return metadata, nil
}

// Summary formats the metadata as a single line, e.g.
// "4032x3024, Apple iPhone 15 Pro, taken 2024-12-31 10:30".
func (m *ImageMetadata) Summary() string {
	parts := []string{fmt.Sprintf("%dx%d", m.Width, m.Height)}

	camera := strings.TrimSpace(m.CameraMake + " " + m.CameraModel)
	if camera != "" {
		parts = append(parts, camera)
	}
	if m.HasDate {
		parts = append(parts, "taken "+m.DateTaken.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}
