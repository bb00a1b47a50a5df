package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

type markupJSON struct {
	Type   string      `json:"type"`
	Points [][]float64 `json:"points,omitempty"`
	X0     *float64    `json:"x0,omitempty"`
	Y0     *float64    `json:"y0,omitempty"`
	X1     *float64    `json:"x1,omitempty"`
	Y1     *float64    `json:"y1,omitempty"`
	Color  string      `json:"color,omitempty"`
	Width  int         `json:"width,omitempty"`

	// Shape is the discriminator used by early review files.
	Shape string `json:"shape,omitempty"`
}

type frameJSON struct {
	Comment string       `json:"comment"`
	Markups []markupJSON `json:"markups"`
}

type fileJSON struct {
	VideoPath  json.RawMessage      `json:"video_path"`
	FPS        float64              `json:"fps,omitempty"`
	FrameCount int                  `json:"frame_count,omitempty"`
	Frames     map[string]frameJSON `json:"frames"`
}

// Save writes r to path as an indented JSON review file. The document is
// written to a temporary file in the same directory and renamed over path,
// so an existing review is never left half written.
func Save(r *Review, path string) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.partial")
	if err != nil {
		return fmt.Errorf("failed to write review: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write review: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write review: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write review: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to write review: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to write review: %w", err)
	}
	return nil
}

// Load reads a review file. It fails with ErrFileNotFound when path does
// not exist and ErrInvalidFormat when the document is malformed.
func Load(path string) (*Review, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to open review: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Marshal encodes r with frames in ascending index order.
func Marshal(r *Review) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Encode(w io.Writer, r *Review) error {
	if r == nil {
		return fmt.Errorf("%w: nil review", ErrInvalidFormat)
	}
	indices := make([]int, 0, len(r.Frames))
	for idx := range r.Frames {
		if idx < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidFrame, idx)
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var frames bytes.Buffer
	frames.WriteByte('{')
	for i, idx := range indices {
		if i > 0 {
			frames.WriteByte(',')
		}
		fj, err := encodeFrame(r.Frames[idx])
		if err != nil {
			return fmt.Errorf("frame %d: %w", idx, err)
		}
		value, err := json.Marshal(fj)
		if err != nil {
			return err
		}
		frames.WriteString(strconv.Quote(strconv.Itoa(idx)))
		frames.WriteByte(':')
		frames.Write(value)
	}
	frames.WriteByte('}')

	videoPath, err := json.Marshal(r.VideoPath)
	if err != nil {
		return err
	}

	doc := struct {
		VideoPath  json.RawMessage `json:"video_path"`
		FPS        float64         `json:"fps,omitempty"`
		FrameCount int             `json:"frame_count,omitempty"`
		Frames     json.RawMessage `json:"frames"`
	}{videoPath, r.FPS, r.FrameCount, frames.Bytes()}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}

// Decode parses a review document.
func Decode(rd io.Reader) (*Review, error) {
	var doc fileJSON
	dec := json.NewDecoder(rd)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after review document", ErrInvalidFormat)
	}

	if len(doc.VideoPath) == 0 || string(doc.VideoPath) == "null" {
		return nil, fmt.Errorf("%w: missing video_path", ErrInvalidFormat)
	}
	var videoPath string
	if err := json.Unmarshal(doc.VideoPath, &videoPath); err != nil {
		return nil, fmt.Errorf("%w: video_path must be a string", ErrInvalidFormat)
	}
	if videoPath == "" {
		return nil, fmt.Errorf("%w: empty video_path", ErrInvalidFormat)
	}

	r := New(videoPath, doc.FPS, doc.FrameCount)
	for key, fj := range doc.Frames {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || strconv.Itoa(idx) != key {
			return nil, fmt.Errorf("%w: frame key %q is not a frame index", ErrInvalidFormat, key)
		}
		fa := FrameAnnotation{Comment: fj.Comment}
		for i, mj := range fj.Markups {
			m, err := decodeMarkup(mj)
			if err != nil {
				return nil, fmt.Errorf("%w: frame %d markup %d: %v", ErrInvalidFormat, idx, i, err)
			}
			fa.Markups = append(fa.Markups, m)
		}
		r.Frames[idx] = fa
	}
	return r, nil
}

func encodeFrame(fa FrameAnnotation) (frameJSON, error) {
	fj := frameJSON{Comment: fa.Comment, Markups: make([]markupJSON, 0, len(fa.Markups))}
	for _, m := range fa.Markups {
		mj, err := encodeMarkup(m)
		if err != nil {
			return fj, err
		}
		fj.Markups = append(fj.Markups, mj)
	}
	return fj, nil
}

func encodeMarkup(m Markup) (markupJSON, error) {
	switch v := m.(type) {
	case Pen:
		points := make([][]float64, len(v.Points))
		for i, p := range v.Points {
			points[i] = []float64{p.X, p.Y}
		}
		return markupJSON{
			Type:   string(KindPen),
			Points: points,
			Color:  v.Style.Color,
			Width:  v.Style.Width,
		}, nil
	case Rect:
		return markupJSON{
			Type:  string(KindRect),
			X0:    ptr(v.X0),
			Y0:    ptr(v.Y0),
			X1:    ptr(v.X1),
			Y1:    ptr(v.Y1),
			Color: v.Style.Color,
			Width: v.Style.Width,
		}, nil
	default:
		return markupJSON{}, fmt.Errorf("%w: cannot encode %T", ErrInvalidMarkup, m)
	}
}

func decodeMarkup(mj markupJSON) (Markup, error) {
	kind := mj.Type
	if kind == "" {
		kind = mj.Shape
	}
	style := Style{Color: mj.Color, Width: mj.Width}

	var m Markup
	switch Kind(kind) {
	case KindPen:
		points := make([]Point, 0, len(mj.Points))
		for _, p := range mj.Points {
			if len(p) != 2 {
				return nil, fmt.Errorf("pen point must be [x, y], got %d values", len(p))
			}
			points = append(points, Point{X: p[0], Y: p[1]})
		}
		m = Pen{Points: points, Style: style}
	case KindRect:
		rect, err := decodeRect(mj)
		if err != nil {
			return nil, err
		}
		rect.Style = style
		m = rect
	case "":
		return nil, errors.New("missing markup type")
	default:
		return nil, fmt.Errorf("unknown markup type %q", kind)
	}

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeRect(mj markupJSON) (Rect, error) {
	if mj.X0 != nil && mj.Y0 != nil && mj.X1 != nil && mj.Y1 != nil {
		return Rect{X0: *mj.X0, Y0: *mj.Y0, X1: *mj.X1, Y1: *mj.Y1}, nil
	}
	// Early files stored the two corners as points.
	if mj.X0 == nil && mj.Y0 == nil && mj.X1 == nil && mj.Y1 == nil && len(mj.Points) >= 2 &&
		len(mj.Points[0]) == 2 && len(mj.Points[1]) == 2 {
		return Rect{X0: mj.Points[0][0], Y0: mj.Points[0][1], X1: mj.Points[1][0], Y1: mj.Points[1][1]}, nil
	}
	return Rect{}, errors.New("rect requires x0, y0, x1 and y1")
}

func ptr(v float64) *float64 {
	return &v
}

// ParseMarkup decodes a single markup object in the review file format.
// Errors wrap ErrInvalidMarkup.
func ParseMarkup(data []byte) (Markup, error) {
	var mj markupJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkup, err)
	}
	m, err := decodeMarkup(mj)
	if err != nil {
		if errors.Is(err, ErrInvalidMarkup) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkup, err)
	}
	return m, nil
}

// MarshalJSON encodes the annotation as it appears in review files.
func (f FrameAnnotation) MarshalJSON() ([]byte, error) {
	fj, err := encodeFrame(f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fj)
}
