// Package review holds the review data model: per-frame markups and
// comments for one video, the in-memory annotation store, and the JSON
// review file format.
package review

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrFileNotFound  = errors.New("review file not found")
	ErrInvalidFormat = errors.New("invalid review format")
	ErrInvalidMarkup = errors.New("invalid markup")
	ErrInvalidFrame  = errors.New("invalid frame index")
)

// Review is the root aggregate: a video reference plus every annotated
// frame. Frames is never nil for reviews built by New or Load.
type Review struct {
	VideoPath  string
	FPS        float64
	FrameCount int
	Frames     map[int]FrameAnnotation
}

// FrameAnnotation is the annotation state of a single frame.
type FrameAnnotation struct {
	Markups []Markup
	Comment string
}

// IsEmpty reports whether the frame carries neither markups nor a comment.
func (f FrameAnnotation) IsEmpty() bool {
	return len(f.Markups) == 0 && f.Comment == ""
}

func New(videoPath string, fps float64, frameCount int) *Review {
	return &Review{
		VideoPath:  videoPath,
		FPS:        fps,
		FrameCount: frameCount,
		Frames:     make(map[int]FrameAnnotation),
	}
}

// Store mutates the annotations of one Review. It is not safe for
// concurrent use; callers serialise access.
type Store struct {
	review *Review
}

func NewStore(r *Review) *Store {
	if r.Frames == nil {
		r.Frames = make(map[int]FrameAnnotation)
	}
	return &Store{review: r}
}

func (s *Store) Review() *Review {
	return s.review
}

// Get returns the annotation for index, creating an empty entry if the
// frame has none yet.
func (s *Store) Get(index int) (FrameAnnotation, error) {
	if index < 0 {
		return FrameAnnotation{}, fmt.Errorf("%w: %d", ErrInvalidFrame, index)
	}
	fa, ok := s.review.Frames[index]
	if !ok {
		fa = FrameAnnotation{}
		s.review.Frames[index] = fa
	}
	return cloneAnnotation(fa), nil
}

// Peek returns the annotation for index without creating an entry.
func (s *Store) Peek(index int) FrameAnnotation {
	return cloneAnnotation(s.review.Frames[index])
}

// AddMarkup appends m to the frame's markups.
func (s *Store) AddMarkup(index int, m Markup) error {
	if err := Validate(m); err != nil {
		return err
	}
	fa, err := s.Get(index)
	if err != nil {
		return err
	}
	fa.Markups = append(fa.Markups, m)
	s.review.Frames[index] = fa
	return nil
}

// SetMarkups replaces the frame's markups wholesale.
func (s *Store) SetMarkups(index int, markups []Markup) error {
	for _, m := range markups {
		if err := Validate(m); err != nil {
			return err
		}
	}
	fa, err := s.Get(index)
	if err != nil {
		return err
	}
	if len(markups) == 0 {
		fa.Markups = nil
	} else {
		fa.Markups = append([]Markup(nil), markups...)
	}
	s.review.Frames[index] = fa
	return nil
}

// RemoveMarkup deletes the markup at position pos, keeping the order of
// the rest.
func (s *Store) RemoveMarkup(index, pos int) error {
	fa, err := s.Get(index)
	if err != nil {
		return err
	}
	if pos < 0 || pos >= len(fa.Markups) {
		return fmt.Errorf("%w: markup %d of %d", ErrInvalidMarkup, pos, len(fa.Markups))
	}
	fa.Markups = append(fa.Markups[:pos], fa.Markups[pos+1:]...)
	if len(fa.Markups) == 0 {
		fa.Markups = nil
	}
	s.review.Frames[index] = fa
	return nil
}

func (s *Store) ClearMarkups(index int) error {
	return s.SetMarkups(index, nil)
}

// SetComment replaces the frame's comment.
func (s *Store) SetComment(index int, text string) error {
	fa, err := s.Get(index)
	if err != nil {
		return err
	}
	fa.Comment = text
	s.review.Frames[index] = fa
	return nil
}

// ReviewedFrames returns, in ascending order, the indices of frames that
// carry a comment or at least one markup.
func (s *Store) ReviewedFrames() []int {
	var out []int
	for idx, fa := range s.review.Frames {
		if !fa.IsEmpty() {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

func cloneAnnotation(fa FrameAnnotation) FrameAnnotation {
	if fa.Markups != nil {
		fa.Markups = append([]Markup(nil), fa.Markups...)
	}
	return fa
}
