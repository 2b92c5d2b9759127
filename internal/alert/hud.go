// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package alert

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	hudWidth  = 224
	hudHeight = 44
)

var (
	hudBackground = color.NRGBA{R: 0xFF, G: 0x99, B: 0x66, A: 0xCC}
	hudIdle       = color.NRGBA{R: 0x55, G: 0x88, B: 0x66, A: 0xCC}
	hudText       = color.White
)

// HUDState is what the overlay banner shows.
type HUDState struct {
	Visible bool
	BadFor  time.Duration
}

// RenderHUD draws the overlay banner. A hidden overlay renders as a calm
// status strip so clients always get an image back.
func RenderHUD(s HUDState) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, hudWidth, hudHeight))

	bg := hudIdle
	if s.Visible {
		bg = hudBackground
	}
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{hudText},
		Face: basicfont.Face7x13,
	}

	if !s.Visible {
		drawLine(drawer, 26, "Posture OK")
		return img
	}

	drawLine(drawer, 18, "Fix your posture")
	drawLine(drawer, 34, fmt.Sprintf("bad for %ds", int(s.BadFor.Seconds())))
	return img
}

// drawLine centers text horizontally with its baseline at y.
func drawLine(d *font.Drawer, y int, text string) {
	w := d.MeasureString(text).Round()
	x := (hudWidth - w) / 2
	if x < 0 {
		x = 0
	}
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}
