package cmd

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/achilleasa/lumen/types"
	"github.com/chewxy/math32"
	"golang.org/x/image/tiff"
)

// Convert a top-down float RGBA frame into a 16-bit image. Color channels
// are scaled by exposure and clamped to [0, 1].
func toImage(pix []float32, res types.Resolution, exposure float32) (*image.NRGBA64, error) {
	if len(pix) != res.Pixels()*4 {
		return nil, fmt.Errorf("frame has %d values; expected %d for %s", len(pix), res.Pixels()*4, res)
	}

	img := image.NewNRGBA64(image.Rect(0, 0, int(res.Width), int(res.Height)))
	for y := 0; y < int(res.Height); y++ {
		for x := 0; x < int(res.Width); x++ {
			idx := (y*int(res.Width) + x) * 4
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: quantize(pix[idx] * exposure),
				G: quantize(pix[idx+1] * exposure),
				B: quantize(pix[idx+2] * exposure),
				A: quantize(pix[idx+3]),
			})
		}
	}
	return img, nil
}

func quantize(v float32) uint16 {
	switch {
	case math32.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 0xffff
	}
	return uint16(v*0xffff + 0.5)
}

// Write an image as PNG or TIFF depending on the file extension.
func writeImage(path string, img image.Image) error {
	var encode func(w io.Writer, img image.Image) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		encode = func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}
	case ".png":
		encode = png.Encode
	default:
		return fmt.Errorf("unsupported image format %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
