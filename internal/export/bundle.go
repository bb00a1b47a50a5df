package export

import (
	"archive/zip"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/framewise/framewise/internal/markup"
	"github.com/framewise/framewise/internal/metrics"
	"github.com/framewise/framewise/internal/review"
)

// BundleFrame is a rendered frame to include in a bundle.
type BundleFrame struct {
	Index int
	Image image.Image
}

// FrameEntryName is the archive name of a rendered frame.
func FrameEntryName(index int) string {
	return fmt.Sprintf("frame_%06d.png", index)
}

// WriteFrameBundle writes a zip holding each frame as PNG plus the review
// as review.json. The archive is written next to outputPath and renamed
// into place once complete.
func WriteFrameBundle(ctx context.Context, outputPath string, rv *review.Review, frames []BundleFrame) (err error) {
	tmp := outputPath + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(f)
	now := time.Now()

	for _, fr := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     FrameEntryName(fr.Index),
			Method:   zip.Store,
			Modified: now,
		})
		if err != nil {
			return fmt.Errorf("add frame %d: %w", fr.Index, err)
		}
		if err := markup.EncodePNG(w, fr.Image); err != nil {
			return fmt.Errorf("add frame %d: %w", fr.Index, err)
		}
	}

	if rv != nil {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     "review.json",
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return fmt.Errorf("add review: %w", err)
		}
		if err := review.Encode(w, rv); err != nil {
			return fmt.Errorf("add review: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("finish bundle: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		return fmt.Errorf("finish bundle: %w", err)
	}

	metrics.ExportsTotal.WithLabelValues("frames").Inc()
	return nil
}

// OutputPath joins a sanitised name and extension onto dir.
func OutputPath(dir, name, fallback, ext string) string {
	base := SanitizeName(name, 100)
	if base == "" {
		base = SanitizeName(fallback, 100)
	}
	if base == "" {
		base = "review"
	}
	return filepath.Join(dir, base+ext)
}
