package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"

	"epd4in2b/internal/epd"
)

// ByteStride is the number of bytes per packed row.
const ByteStride = (epd.Width + 7) / 8

// Options controls how a source image is mapped onto the panel.
type Options struct {
	// Rotate is a counter-clockwise rotation in degrees applied first.
	Rotate int
	// Dither applies Floyd-Steinberg error diffusion to non-red pixels
	// instead of a hard luma threshold. Useful for photos.
	Dither bool
}

// Pack converts img into the two 1bpp planes expected by
// epd.Dev.UpdateColorFrame.
//
// Images that are not exactly 400x300 (after rotation) are scaled to fit and
// centered on a white background. Planes are row-major, MSB first:
//
//	byteIndex = y*ByteStride + x/8
//	mask      = 0x80 >> (x % 8)
//
// Both planes start all ones (white); a cleared bit is ink.
func Pack(img image.Image, opts Options) (black, red []byte, err error) {
	if img == nil {
		return nil, nil, fmt.Errorf("convert: nil image")
	}
	canvas := fitToPanel(img, opts.Rotate)

	var dithered *image.Gray
	if opts.Dither {
		gray := image.NewGray(canvas.Bounds())
		draw.Draw(gray, gray.Bounds(), canvas, canvas.Bounds().Min, draw.Src)
		dithered = halfgone.FloydSteinbergDitherer{}.Apply(gray)
	}

	black = bytes.Repeat([]byte{0xFF}, epd.BufferLen)
	red = bytes.Repeat([]byte{0xFF}, epd.BufferLen)

	for y := 0; y < epd.Height; y++ {
		row := y * canvas.Stride
		for x := 0; x < epd.Width; x++ {
			i := row + x*4
			c := color.NRGBA{R: canvas.Pix[i], G: canvas.Pix[i+1], B: canvas.Pix[i+2], A: canvas.Pix[i+3]}

			// Transparent pixels are treated as paper.
			if c.A < 128 {
				continue
			}

			ink := classifyPixel(c)
			if dithered != nil && ink != inkRed {
				ink = inkWhite
				if dithered.GrayAt(x, y).Y < 128 {
					ink = inkBlack
				}
			}

			idx := y*ByteStride + x>>3
			mask := byte(0x80 >> (x & 7))
			switch ink {
			case inkBlack:
				black[idx] &^= mask
			case inkRed:
				red[idx] &^= mask
			}
		}
	}

	return black, red, nil
}

// PackFile decodes the image at path (any format imaging understands) and
// packs it.
func PackFile(path string, opts Options) (black, red []byte, err error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("convert: open %s: %w", path, err)
	}
	return Pack(img, opts)
}

// PackBytes decodes an encoded image (PNG, JPEG, ...) and packs it.
func PackBytes(data []byte, opts Options) (black, red []byte, err error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("convert: decode: %w", err)
	}
	return Pack(img, opts)
}

// fitToPanel rotates img and returns a 400x300 NRGBA with a zero origin.
func fitToPanel(img image.Image, rotate int) *image.NRGBA {
	src := img
	if rotate%360 != 0 {
		src = imaging.Rotate(src, float64(rotate), color.White)
	}

	b := src.Bounds()
	if b.Dx() == epd.Width && b.Dy() == epd.Height {
		return imaging.Clone(src)
	}

	fitted := imaging.Fit(src, epd.Width, epd.Height, imaging.Lanczos)
	bg := imaging.New(epd.Width, epd.Height, color.White)
	return imaging.PasteCenter(bg, fitted)
}

// inkColor indicates which plane a pixel should be drawn to.
type inkColor int

const (
	inkWhite inkColor = iota
	inkBlack
	inkRed
)

// classifyPixel decides whether a pixel is black, red or white ink.
//
//   - luma Y = 0.299R + 0.587G + 0.114B below 64 is black
//   - R > 128 with R - max(G, B) > 32 is red
//   - everything else is white
func classifyPixel(c color.NRGBA) inkColor {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)

	y := 0.299*r + 0.587*g + 0.114*b
	if y < 64 {
		return inkBlack
	}
	if r > 128 && r-max(g, b) > 32 {
		return inkRed
	}
	return inkWhite
}

// Preview renders a pair of packed planes back into an image, red taking
// precedence over black.
func Preview(black, red []byte) (*image.NRGBA, error) {
	if len(black) != epd.BufferLen || len(red) != epd.BufferLen {
		return nil, fmt.Errorf("convert: plane sizes %d/%d, want %d", len(black), len(red), epd.BufferLen)
	}
	img := imaging.New(epd.Width, epd.Height, color.White)
	for y := 0; y < epd.Height; y++ {
		for x := 0; x < epd.Width; x++ {
			idx := y*ByteStride + x>>3
			mask := byte(0x80 >> (x & 7))
			switch {
			case red[idx]&mask == 0:
				img.SetNRGBA(x, y, color.NRGBA{R: 0xFF, A: 0xFF})
			case black[idx]&mask == 0:
				img.SetNRGBA(x, y, color.NRGBA{A: 0xFF})
			}
		}
	}
	return img, nil
}
