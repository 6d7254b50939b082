package filehandler

import (
	"strings"
	"testing"
	"time"
)

func TestExtractImageMetadataDimensions(t *testing.T) {
	meta, err := ExtractImageMetadata(encodeTestPNG(t, 120, 45))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Width != 120 || meta.Height != 45 {
		t.Errorf("dimensions = %dx%d, want 120x45", meta.Width, meta.Height)
	}
}

func TestExtractImageMetadataInvalid(t *testing.T) {
	if _, err := ExtractImageMetadata([]byte("garbage")); err == nil {
		t.Error("expected error for undecodable header")
	}
}

func TestImageMetadataSummary(t *testing.T) {
	tests := []struct {
		name     string
		meta     *ImageMetadata
		contains []string
		excludes []string
	}{
		{
			name: "Full metadata",
			meta: &ImageMetadata{
				Width:       4032,
				Height:      3024,
				DateTaken:   time.Date(2024, 12, 31, 10, 30, 0, 0, time.UTC),
				HasDate:     true,
				CameraMake:  "Apple",
				CameraModel: "iPhone 15 Pro",
			},
			contains: []string{"4032x3024", "Apple iPhone 15 Pro", "taken 2024-12-31 10:30"},
		},
		{
			name:     "Dimensions only",
			meta:     &ImageMetadata{Width: 800, Height: 600},
			contains: []string{"800x600"},
			excludes: []string{"taken", ", ,"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := tt.meta.Summary()
			for _, substr := range tt.contains {
				if !strings.Contains(summary, substr) {
					t.Errorf("Summary() = %q, missing %q", summary, substr)
				}
			}
			for _, substr := range tt.excludes {
				if strings.Contains(summary, substr) {
					t.Errorf("Summary() = %q, should not contain %q", summary, substr)
				}
			}
		})
	}
}
