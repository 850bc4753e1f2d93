package mapio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/spakin/netpbm"

	"github.com/banshee-data/navstack/internal/nav/l2grid"
)

// ErrBadPGM is wrapped by every PGM decoding error.
var ErrBadPGM = errors.New("malformed PGM")

// maxPixels bounds decoded images to 64 megapixels.
const maxPixels = 64 << 20

// DecodePGM reads a plain (P2) or raw (P5) portable greymap. Samples keep the
// file's maxval; Threshold normalizes them to 8 bits.
func DecodePGM(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg, err := netpbm.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPGM, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %dx%d image", ErrBadPGM, cfg.Width, cfg.Height)
	}
	if cfg.Width > maxPixels/cfg.Height {
		return nil, fmt.Errorf("%w: %dx%d image is too large", ErrBadPGM, cfg.Width, cfg.Height)
	}

	im, err := netpbm.Decode(bytes.NewReader(data), &netpbm.DecodeOptions{Target: netpbm.PGM, Exact: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPGM, err)
	}
	return im, nil
}

// gray8 returns the 8-bit grey level of the pixel at (row, col).
func gray8(im image.Image, row, col int) uint8 {
	b := im.Bounds()
	return color.GrayModel.Convert(im.At(b.Min.X+col, b.Min.Y+row)).(color.Gray).Y
}

// rasterImage views the raster's cells as an 8-bit greyscale image.
func rasterImage(r *l2grid.Raster) *image.Gray {
	return &image.Gray{Pix: r.Cells, Stride: r.Cols, Rect: image.Rect(0, 0, r.Cols, r.Rows)}
}

// EncodePGM writes the raster as a raw (P5) greymap, one byte per cell.
func EncodePGM(w io.Writer, r *l2grid.Raster) error {
	return netpbm.Encode(w, rasterImage(r), &netpbm.EncodeOptions{
		Format:   netpbm.PGM,
		MaxValue: 255,
		Comments: []string{"navstack occupancy grid"},
	})
}
