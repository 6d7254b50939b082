package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/photo-enhancer/internal/filehandler"
	"github.com/fpang/photo-enhancer/internal/transfer"
	"github.com/fpang/photo-enhancer/internal/workflow"
)

// ResolveImagePath checks that path is an existing regular file with a
// supported image extension and returns its absolute form.
func ResolveImagePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("no photo path given")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("photo not found: %s", path)
		}
		return "", fmt.Errorf("access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if !filehandler.IsImage(strings.ToLower(filepath.Ext(path))) {
		return "", fmt.Errorf("%s: %w", path, filehandler.ErrUnsupportedFormat)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

// DescribeError turns a workflow error into a message for the terminal.
func DescribeError(err error) string {
	var uploadErr *transfer.UploadError
	var enhErr *transfer.EnhancementError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &uploadErr):
		return uploadErr.Reason
	case errors.As(err, &enhErr):
		return enhErr.Reason
	case errors.Is(err, workflow.ErrBusy):
		return "Please wait for the current request to finish"
	case errors.Is(err, workflow.ErrInvalidScale):
		return "Scale must be 2 or 4"
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "That action is not available right now"
	case errors.Is(err, workflow.ErrStaleSession):
		return "The session was reset; the response was discarded"
	case errors.Is(err, transfer.ErrInvalidOperation):
		return "Unknown enhancement (use background or upscale)"
	default:
		return err.Error()
	}
}
