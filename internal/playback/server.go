// Package playback streams the open video to local players.
package playback

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/framewise/framewise/internal/logging"
)

var (
	ErrFileNotFound = errors.New("video file not found")
	ErrNotFile      = errors.New("not a regular file")
)

// videoTypes covers containers the platform mime table may not know.
var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".m4v": "video/x-m4v",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",
	".mkv": "video/x-matroska",
}

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{logger: logger}
}

// ServeFile streams filePath with byte-range, HEAD and conditional
// request support. Failures, including ErrFileNotFound, are returned
// before anything is written so the caller can report them.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, filepath.Base(filePath))
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return ErrNotFile
	}

	w.Header().Set("Content-Type", ContentType(filePath))
	w.Header().Set("Accept-Ranges", "bytes")

	s.logger.Debug("serving video",
		"path", logging.SanitizePath(filePath),
		"range", r.Header.Get("Range"),
		"size", stat.Size())

	http.ServeContent(w, r, filepath.Base(filePath), stat.ModTime(), file)
	return nil
}

// ContentType picks a MIME type from the file extension.
func ContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
