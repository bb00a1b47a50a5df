package review

import (
	"fmt"
	"math"
	"regexp"
)

const (
	DefaultColor = "#ff0000"
	DefaultWidth = 2
	MaxWidth     = 20
)

// Kind identifies a markup variant. The string values are the "type"
// discriminator used in review files.
type Kind string

const (
	KindPen  Kind = "pen"
	KindRect Kind = "rect"
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Markup is a user-drawn annotation attached to one frame. The set of
// implementations is closed: Pen and Rect.
type Markup interface {
	Kind() Kind
	MarkupStyle() Style
	isMarkup()
}

type Point struct {
	X float64
	Y float64
}

// Style carries the stroke colour and width. Zero values mean "use the
// default" and are preserved as-is through save and load.
type Style struct {
	Color string
	Width int
}

// Resolved returns the style with defaults applied.
func (s Style) Resolved() Style {
	if s.Color == "" {
		s.Color = DefaultColor
	}
	if s.Width <= 0 {
		s.Width = DefaultWidth
	}
	return s
}

// Pen is a freehand stroke.
type Pen struct {
	Points []Point
	Style  Style
}

func (Pen) Kind() Kind           { return KindPen }
func (p Pen) MarkupStyle() Style { return p.Style }
func (Pen) isMarkup()            {}

// Rect is an axis-aligned rectangle given by two opposite corners. The
// corners are stored as drawn; Normalized orders them.
type Rect struct {
	X0, Y0, X1, Y1 float64
	Style          Style
}

func (Rect) Kind() Kind           { return KindRect }
func (r Rect) MarkupStyle() Style { return r.Style }
func (Rect) isMarkup()            {}

// Normalized returns the rectangle with X0<=X1 and Y0<=Y1.
func (r Rect) Normalized() Rect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

// Validate checks a markup before it enters a store.
func Validate(m Markup) error {
	switch v := m.(type) {
	case Pen:
		if len(v.Points) == 0 {
			return fmt.Errorf("%w: pen stroke has no points", ErrInvalidMarkup)
		}
		for i, p := range v.Points {
			if !finite(p.X) || !finite(p.Y) {
				return fmt.Errorf("%w: pen point %d is not finite", ErrInvalidMarkup, i)
			}
		}
		return validateStyle(v.Style)
	case Rect:
		if !finite(v.X0) || !finite(v.Y0) || !finite(v.X1) || !finite(v.Y1) {
			return fmt.Errorf("%w: rect corner is not finite", ErrInvalidMarkup)
		}
		return validateStyle(v.Style)
	case nil:
		return fmt.Errorf("%w: nil markup", ErrInvalidMarkup)
	default:
		return fmt.Errorf("%w: unknown markup %T", ErrInvalidMarkup, m)
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func validateStyle(s Style) error {
	if s.Color != "" && !hexColor.MatchString(s.Color) {
		return fmt.Errorf("%w: color %q is not a hex colour", ErrInvalidMarkup, s.Color)
	}
	if s.Width < 0 || s.Width > MaxWidth {
		return fmt.Errorf("%w: width %d outside 0..%d", ErrInvalidMarkup, s.Width, MaxWidth)
	}
	return nil
}
