package consumer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeError a payload that is not a supported encoded image
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame (%d bytes): %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errEmptyFrame = errors.New("empty payload")

// letterbox padding, the usual YOLO gray
var padColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// decodeFrame decodes JPEG, PNG, GIF, BMP or WebP. The header is checked first
// so oversized frames are rejected before pixel data is allocated.
func decodeFrame(payload []byte, maxPixels int) (image.Image, string, error) {
	if len(payload) == 0 {
		return nil, "", &DecodeError{Err: errEmptyFrame}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, "", &DecodeError{Size: len(payload), Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, &DecodeError{Size: len(payload), Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, format, &DecodeError{Size: len(payload), Err: fmt.Errorf("frame %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)}
	}

	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, format, &DecodeError{Size: len(payload), Err: err}
	}
	return img, format, nil
}

// letterbox scales img to fit a size x size square keeping the aspect ratio and
// pads the remainder. size <= 0 returns img unchanged.
func letterbox(img image.Image, size int) image.Image {
	if size <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == size && h == size {
		return img
	}

	scale := float64(size) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: padColor}, image.Point{}, draw.Src)

	ox, oy := (size-nw)/2, (size-nh)/2
	draw.ApproxBiLinear.Scale(dst, image.Rect(ox, oy, ox+nw, oy+nh), img, b, draw.Src, nil)
	return dst
}
