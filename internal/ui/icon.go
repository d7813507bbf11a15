package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
)

var iconOnce struct {
	sync.Once
	data []byte
}

// iconBytes renders the tray icon once: a purple disc with a white beat bar,
// encoded as PNG. Generating it avoids shipping a binary asset.
func iconBytes() []byte {
	iconOnce.Do(func() {
		const size = 22
		img := image.NewRGBA(image.Rect(0, 0, size, size))
		center := float64(size-1) / 2
		radius := center - 1

		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy := float64(x)-center, float64(y)-center
				if math.Hypot(dx, dy) <= radius {
					img.Set(x, y, color.RGBA{R: 0x6b, G: 0x3f, B: 0xa0, A: 0xff})
				}
			}
		}
		for y := 6; y < size-6; y++ {
			img.Set(size/2-1, y, color.White)
			img.Set(size/2, y, color.White)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil {
			iconOnce.data = buf.Bytes()
		}
	})
	return iconOnce.data
}
