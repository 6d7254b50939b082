// Package filehandler loads photos selected by the user and describes them.
//
// A photo is read fully into memory as an ImageFile. Its MIME type comes from
// the file's magic bytes (gabriel-vasile/mimetype), not from the extension, so
// a renamed PNG is still treated as a PNG. Only the formats the enhancement
// service accepts are loadable: JPEG, PNG and WebP.
package filehandler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Accepted MIME types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
)

// SupportedImageExtensions maps the extensions offered by the file picker to
// their MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  MIMEJPEG,
	".jpeg": MIMEJPEG,
	".png":  MIMEPNG,
	".webp": MIMEWebP,
}

// ErrUnsupportedFormat is returned when a file is not a JPEG, PNG or WebP image.
var ErrUnsupportedFormat = errors.New("unsupported image format (supported: JPG, PNG, WebP)")

// ImageFile is an in-memory photo. Data is owned by the ImageFile and must
// not be modified after construction; transformations produce a new value.
type ImageFile struct {
	Name     string
	MIMEType string
	Data     []byte

	// Path is the location on disk the file was loaded from, empty for
	// files produced in memory (e.g. by compression).
	Path     string
	Metadata *ImageMetadata
}

// Size returns the payload size in bytes.
func (f *ImageFile) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Data))
}

// Locator returns a reference usable to display the file locally.
func (f *ImageFile) Locator() string {
	if f == nil || f.Path == "" {
		return ""
	}
	abs, err := filepath.Abs(f.Path)
	if err != nil {
		abs = f.Path
	}
	return "file://" + filepath.ToSlash(abs)
}

// NewImageFile wraps raw bytes, detecting the MIME type from content.
func NewImageFile(name string, data []byte) (*ImageFile, error) {
	mimeType := DetectMIMEType(data)
	if !IsSupportedMIME(mimeType) {
		return nil, fmt.Errorf("%s: %w (detected %s)", name, ErrUnsupportedFormat, mimeType)
	}
	return &ImageFile{
		Name:     name,
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// LoadImageFile reads a file from disk and sniffs its MIME type. The type is
// not checked against the accepted formats: a file that is not a JPEG, PNG or
// WebP is still returned, and the workflow rejects it with a reason the user
// sees. EXIF metadata is extracted for accepted formats; a metadata failure is
// logged and does not fail the load.
func LoadImageFile(filePath string) (*ImageFile, error) {
	log.Debug().Str("path", filePath).Msg("Loading image file")

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	file := &ImageFile{
		Name:     filepath.Base(filePath),
		MIMEType: DetectMIMEType(data),
		Data:     data,
		Path:     filePath,
	}
	if !IsSupportedMIME(file.MIMEType) {
		log.Debug().Str("path", filePath).Str("mime_type", file.MIMEType).Msg("File is not an accepted image format")
		return file, nil
	}

	meta, err := ExtractImageMetadata(data)
	if err != nil {
		log.Warn().Err(err).Str("path", filePath).Msg("Failed to extract image metadata, continuing without it")
	} else {
		file.Metadata = meta
	}

	log.Info().
		Str("path", filePath).
		Str("mime_type", file.MIMEType).
		Int64("size_bytes", file.Size()).
		Msg("Image file loaded successfully")

	return file, nil
}

// DetectMIMEType sniffs the MIME type from the leading bytes of data.
func DetectMIMEType(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupportedMIME reports whether the enhancement service accepts mimeType.
func IsSupportedMIME(mimeType string) bool {
	switch mimeType {
	case MIMEJPEG, MIMEPNG, MIMEWebP:
		return true
	}
	return false
}

// IsImage returns true if the file extension corresponds to an accepted image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// ExtensionForMIME returns the canonical file extension for mimeType.
func ExtensionForMIME(mimeType string) string {
	switch mimeType {
	case MIMEJPEG:
		return ".jpg"
	case MIMEPNG:
		return ".png"
	case MIMEWebP:
		return ".webp"
	}
	return ""
}

// ReplaceExtension swaps the extension of name for the one matching mimeType.
// Names whose extension already matches are returned unchanged.
func ReplaceExtension(name, mimeType string) string {
	ext := filepath.Ext(name)
	if SupportedImageExtensions[strings.ToLower(ext)] == mimeType {
		return name
	}
	return strings.TrimSuffix(name, ext) + ExtensionForMIME(mimeType)
}
