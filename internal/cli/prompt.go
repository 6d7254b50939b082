package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrPickerCanceled is returned when the user closes the file dialog.
var ErrPickerCanceled = errors.New("file selection canceled")

// PromptForFile asks for a photo path on out and reads one line from in.
// Returns the empty string if the user enters nothing.
func PromptForFile(in *bufio.Reader, out io.Writer) string {
	fmt.Fprint(out, "Photo path (JPEG, PNG or WebP): ")

	input, err := in.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read input")
		return ""
	}
	return strings.TrimSpace(input)
}

// PickFile opens the native file dialog filtered to supported images.
func PickFile() (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Title("Select a photo to enhance"),
		zenity.FileFilters{
			{
				Name:     "Images",
				Patterns: []string{"*.jpg", "*.jpeg", "*.png", "*.webp"},
			},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrPickerCanceled
		}
		log.Error().Err(err).Msg("File picker failed")
		return "", fmt.Errorf("file picker: %w", err)
	}
	return selected, nil
}
