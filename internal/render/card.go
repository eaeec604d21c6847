// Package render draws stats cards as PNG images.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/benno1237/bennos-cogs/internal/stats"
)

// Line is one module row of a card.
type Line struct {
	Name  string
	Value string
	Delta stats.Delta
}

// Card is everything a renderer needs for one player image.
type Card struct {
	Title      string // rank prefix and player name
	TitleColor stats.RGB
	Subtitle   string // mode name
	Header     stats.RGB
	Level      stats.Level
	ShowLevel  bool
	Lines      []Line
}

// Renderer turns a card into an encoded image.
type Renderer interface {
	Render(c Card) ([]byte, error)
}

const (
	defaultWidth = 480
	lineHeight   = 18
	padding      = 12
	headerHeight = 44
	barHeight    = 6
)

var (
	background = color.RGBA{0x23, 0x27, 0x2a, 0xff}
	textColor  = color.RGBA{0xdc, 0xdd, 0xde, 0xff}
	dimColor   = color.RGBA{0x8e, 0x92, 0x97, 0xff}
)

// PNGRenderer draws a fixed-layout card with the 7x13 bitmap font.
type PNGRenderer struct {
	Width int
	// Height is a lower bound; the card grows with the number of lines.
	Height int
}

func (r PNGRenderer) Render(c Card) ([]byte, error) {
	w := r.Width
	if w <= 0 {
		w = defaultWidth
	}
	h := headerHeight + padding*2 + len(c.Lines)*lineHeight
	if c.ShowLevel {
		h += lineHeight + barHeight
	}
	h = max(h, r.Height)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, w, 4), &image.Uniform{rgba(c.Header)}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	y := padding + 13
	drawText(img, face, padding, y, c.Title, rgba(c.TitleColor))
	if c.Subtitle != "" {
		sub := strings.ToUpper(c.Subtitle)
		drawText(img, face, w-padding-textWidth(face, sub), y, sub, dimColor)
	}
	y = headerHeight

	if c.ShowLevel {
		label := fmt.Sprintf("Level %d", c.Level.Level)
		drawText(img, face, padding, y, label, textColor)
		y += 6
		barW := w - padding*2
		draw.Draw(img, image.Rect(padding, y, padding+barW, y+barHeight), &image.Uniform{dimColor}, image.Point{}, draw.Src)
		filled := int(float64(barW) * min(max(c.Level.Progress, 0), 1))
		draw.Draw(img, image.Rect(padding, y, padding+filled, y+barHeight), &image.Uniform{rgba(c.Header)}, image.Point{}, draw.Src)
		y += barHeight + lineHeight
	}

	valueX := w / 2
	deltaX := w - padding
	for _, ln := range c.Lines {
		drawText(img, face, padding, y, ln.Name, dimColor)
		drawText(img, face, valueX, y, ln.Value, textColor)
		if ln.Delta.Color != nil {
			d := ln.Delta.Text
			if !strings.HasPrefix(d, "-") {
				d = "+" + d
			}
			drawText(img, face, deltaX-textWidth(face, d), y, d, rgba(*ln.Delta.Color))
		}
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func rgba(c stats.RGB) color.RGBA { return color.RGBA{c.R, c.G, c.B, 0xff} }

func drawText(dst draw.Image, face font.Face, x, y int, s string, c color.Color) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face, Dot: fixed.P(x, y)}
	d.DrawString(s)
}

func textWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}
