// Package markup draws review markups over video frames and provides the
// image helpers used for thumbnails and encoded frame responses.
package markup

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/framewise/framewise/internal/review"
)

const (
	ThumbnailWidth  = 160
	ThumbnailHeight = 90
	JPEGQuality     = 85
)

// Renderer draws markups. Defaults fills in style fields a markup leaves
// unset.
type Renderer struct {
	Defaults review.Style
}

func New(defaults review.Style) *Renderer {
	return &Renderer{Defaults: defaults.Resolved()}
}

// Render returns a copy of frame with markups drawn on top in order. The
// input image is not modified.
func (r *Renderer) Render(frame image.Image, markups []review.Markup) image.Image {
	b := frame.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(frame, -b.Min.X, -b.Min.Y)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()

	for _, m := range markups {
		r.draw(dc, m)
	}
	return dc.Image()
}

func (r *Renderer) draw(dc *gg.Context, m review.Markup) {
	style := r.style(m.MarkupStyle())
	col, err := ParseColor(style.Color)
	if err != nil {
		col = color.RGBA{R: 0xff, A: 0xff}
	}
	dc.SetColor(col)
	dc.SetLineWidth(float64(style.Width))

	switch v := m.(type) {
	case review.Pen:
		if len(v.Points) == 1 {
			p := v.Points[0]
			dc.DrawCircle(p.X, p.Y, math.Max(1, float64(style.Width)/2))
			dc.Fill()
			return
		}
		dc.NewSubPath()
		for i, p := range v.Points {
			if i == 0 {
				dc.MoveTo(p.X, p.Y)
				continue
			}
			dc.LineTo(p.X, p.Y)
		}
		dc.Stroke()
	case review.Rect:
		n := v.Normalized()
		dc.DrawRectangle(n.X0, n.Y0, n.X1-n.X0, n.Y1-n.Y0)
		dc.Stroke()
	}
}

func (r *Renderer) style(s review.Style) review.Style {
	if s.Color == "" {
		s.Color = r.Defaults.Color
	}
	if s.Width <= 0 {
		s.Width = r.Defaults.Width
	}
	return s.Resolved()
}

// ParseColor parses "#rrggbb" or "#rgb".
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 || !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Fit scales img down to fit within maxW x maxH, keeping its aspect ratio.
// A zero bound leaves that dimension unconstrained. Images already inside
// the bounds are returned unchanged.
func Fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}

	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && float64(h)*scale > float64(maxH) {
		scale = float64(maxH) / float64(h)
	}
	if scale >= 1 {
		return img
	}

	dw := max(1, int(math.Round(float64(w)*scale)))
	dh := max(1, int(math.Round(float64(h)*scale)))
	return resize(img, dw, dh)
}

// Thumbnail fits img into a width x height black canvas, centred.
func Thumbnail(img image.Image, width, height int) image.Image {
	if width <= 0 {
		width = ThumbnailWidth
	}
	if height <= 0 {
		height = ThumbnailHeight
	}

	b := img.Bounds()
	scale := math.Min(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
	dw := max(1, int(math.Round(float64(b.Dx())*scale)))
	dh := max(1, int(math.Round(float64(b.Dy())*scale)))

	dc := gg.NewContext(width, height)
	dc.SetColor(color.Black)
	dc.Clear()
	dc.DrawImage(resize(img, dw, dh), (width-dw)/2, (height-dh)/2)
	return dc.Image()
}

func resize(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode PNG: %w", err)
	}
	return nil
}

func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = JPEGQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode JPEG: %w", err)
	}
	return nil
}
