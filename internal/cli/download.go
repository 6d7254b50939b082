package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

const downloadTimeout = 2 * time.Minute

// SaveResult fetches the image behind locator and writes it to dest. It
// returns the number of bytes written. A partially written file is removed.
func SaveResult(ctx context.Context, hc *http.Client, locator, dest string) (int64, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	startTime := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: unexpected status %d", locator, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}

	log.Info().
		Str("path", dest).
		Str("size", humanize.Bytes(uint64(n))).
		Dur("duration", time.Since(startTime)).
		Msg("Result saved")
	return n, nil
}

// DefaultOutputPath places the result next to the source photo, named after
// the result handle (e.g. /photos/upscale4x_abc123.png).
func DefaultOutputPath(sourcePath, locator string) string {
	name := ""
	if u, err := url.Parse(locator); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "enhanced"
	}
	dir := "."
	if sourcePath != "" {
		dir = filepath.Dir(sourcePath)
	}
	return filepath.Join(dir, name)
}
