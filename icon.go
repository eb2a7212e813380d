package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var (
	iconIdle    = trayIcon(color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff})
	iconRunning = trayIcon(color.RGBA{R: 0x2e, G: 0xb8, B: 0x5c, A: 0xff})
	iconWarning = trayIcon(color.RGBA{R: 0xf0, G: 0xa2, B: 0x02, A: 0xff})
	iconError   = trayIcon(color.RGBA{R: 0xd9, G: 0x3f, B: 0x3f, A: 0xff})
)

const iconSize = 22

// trayIcon renders a filled circle as PNG.
func trayIcon(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	center := float64(iconSize-1) / 2
	radius := center - 1
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
