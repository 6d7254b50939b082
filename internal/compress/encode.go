package compress

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/fpang/photo-enhancer/internal/filehandler"
)

// targetMIME picks the output format. JPEG is the fallback container when
// the input format is not preserved.
func targetMIME(inputMIME string, preserve bool) string {
	if preserve {
		return inputMIME
	}
	return filehandler.MIMEJPEG
}

func isLossy(mimeType string) bool {
	return mimeType == filehandler.MIMEJPEG || mimeType == filehandler.MIMEWebP
}

// encode serializes img as mimeType. quality is ignored for PNG.
func encode(img image.Image, mimeType string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch mimeType {
	case filehandler.MIMEJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case filehandler.MIMEPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case filehandler.MIMEWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	default:
		return nil, fmt.Errorf("unsupported output format: %s", mimeType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", mimeType, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%s encoding produced empty output", mimeType)
	}
	return buf.Bytes(), nil
}

// flatten composites img over white so transparent regions do not turn
// black when written as JPEG.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	background := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}
