package convert

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"epd4in2b/internal/epd"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

func TestPackSolidColors(t *testing.T) {
	tests := []struct {
		name       string
		c          color.Color
		black, red byte
	}{
		{"white", color.White, 0xFF, 0xFF},
		{"black", color.Black, 0x00, 0xFF},
		{"red", color.NRGBA{R: 255, A: 255}, 0xFF, 0x00},
		{"transparent", color.NRGBA{}, 0xFF, 0xFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			black, red, err := Pack(solid(epd.Width, epd.Height, tt.c), Options{})
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			if len(black) != epd.BufferLen || len(red) != epd.BufferLen {
				t.Fatalf("plane sizes %d/%d, want %d", len(black), len(red), epd.BufferLen)
			}
			if !bytes.Equal(black, bytes.Repeat([]byte{tt.black}, epd.BufferLen)) {
				t.Errorf("black plane not uniformly %#02x", tt.black)
			}
			if !bytes.Equal(red, bytes.Repeat([]byte{tt.red}, epd.BufferLen)) {
				t.Errorf("red plane not uniformly %#02x", tt.red)
			}
		})
	}
}

func TestPackBitOrder(t *testing.T) {
	img := solid(epd.Width, epd.Height, color.White)
	img.Set(0, 0, color.Black)
	img.Set(9, 1, color.NRGBA{R: 230, G: 20, B: 20, A: 255})

	black, red, err := Pack(img, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if black[0] != 0x7F {
		t.Errorf("black[0] = %#02x, want 0x7f", black[0])
	}
	if got := red[ByteStride+1]; got != 0xBF {
		t.Errorf("red[row 1, byte 1] = %#02x, want 0xbf", got)
	}
}

func TestPackFitsSmallerImage(t *testing.T) {
	// A black 200x300 image is centered, leaving 100px white bars.
	black, _, err := Pack(solid(200, 300, color.Black), Options{})
	if err != nil {
		t.Fatal(err)
	}
	row := black[:ByteStride]
	if row[0] != 0xFF || row[ByteStride-1] != 0xFF {
		t.Errorf("side bars should be white: first=%#02x last=%#02x", row[0], row[ByteStride-1])
	}
	if row[ByteStride/2] != 0x00 {
		t.Errorf("center should be black, got %#02x", row[ByteStride/2])
	}
}

func TestPackRotate(t *testing.T) {
	// 300x400 portrait image becomes 400x300 after a 90 degree turn.
	img := solid(300, 400, color.White)
	for y := 0; y < 10; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, color.Black)
		}
	}
	black, _, err := Pack(img, Options{Rotate: 90})
	if err != nil {
		t.Fatal(err)
	}
	// Counter-clockwise: the top band ends up on the left edge.
	if black[0] != 0x00 || black[ByteStride-1] != 0xFF {
		t.Errorf("unexpected rotation result: first=%#02x last=%#02x", black[0], black[ByteStride-1])
	}
}

func TestPackDither(t *testing.T) {
	black, red, err := Pack(solid(epd.Width, epd.Height, color.Gray{Y: 128}), Options{Dither: true})
	if err != nil {
		t.Fatal(err)
	}
	var ink int
	for _, b := range black {
		for i := 0; i < 8; i++ {
			if b&(0x80>>i) == 0 {
				ink++
			}
		}
	}
	total := epd.Width * epd.Height
	if ink < total/4 || ink > total*3/4 {
		t.Errorf("dithered mid-gray inked %d of %d pixels", ink, total)
	}
	if !bytes.Equal(red, bytes.Repeat([]byte{0xFF}, epd.BufferLen)) {
		t.Error("gray must not produce red ink")
	}
}

func TestPackBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(epd.Width, epd.Height, color.Black)); err != nil {
		t.Fatal(err)
	}
	black, _, err := PackBytes(buf.Bytes(), Options{})
	if err != nil {
		t.Fatalf("PackBytes: %v", err)
	}
	if black[100] != 0x00 {
		t.Errorf("black[100] = %#02x", black[100])
	}

	if _, _, err := PackBytes([]byte("not an image"), Options{}); err == nil {
		t.Error("expected decode error")
	}
}

func TestClassifyPixel(t *testing.T) {
	tests := []struct {
		c    color.NRGBA
		want inkColor
	}{
		{color.NRGBA{R: 0, G: 0, B: 0, A: 255}, inkBlack},
		{color.NRGBA{R: 40, G: 40, B: 40, A: 255}, inkBlack},
		{color.NRGBA{R: 200, G: 30, B: 30, A: 255}, inkRed},
		{color.NRGBA{R: 200, G: 180, B: 170, A: 255}, inkWhite},
		{color.NRGBA{R: 255, G: 255, B: 255, A: 255}, inkWhite},
	}
	for _, tt := range tests {
		if got := classifyPixel(tt.c); got != tt.want {
			t.Errorf("classifyPixel(%v) = %d, want %d", tt.c, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	src := solid(epd.Width, epd.Height, color.White)
	src.Set(0, 0, color.Black)
	src.Set(1, 0, color.NRGBA{R: 255, A: 255})

	black, red, err := Pack(src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	img, err := Preview(black, red)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if got := img.NRGBAAt(0, 0); got != (color.NRGBA{A: 255}) {
		t.Errorf("pixel 0 = %v, want black", got)
	}
	if got := img.NRGBAAt(1, 0); got != (color.NRGBA{R: 255, A: 255}) {
		t.Errorf("pixel 1 = %v, want red", got)
	}
	if got := img.NRGBAAt(2, 0); got != (color.NRGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("pixel 2 = %v, want white", got)
	}

	if _, err := Preview(black[:10], red); err == nil {
		t.Error("expected error for short plane")
	}
}
