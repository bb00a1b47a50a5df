package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/framewise/framewise/internal/catalog"
	"github.com/framewise/framewise/internal/export"
	"github.com/framewise/framewise/internal/pipeline"
	"github.com/framewise/framewise/internal/playback"
	"github.com/framewise/framewise/internal/review"
	"github.com/framewise/framewise/internal/session"
	"github.com/framewise/framewise/internal/video"
)

const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeInvalidFormat     = "INVALID_FORMAT"
	CodeOutOfRange        = "OUT_OF_RANGE"
	CodeNoSession         = "NO_SESSION"
	CodeDecoderMissing    = "DECODER_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// errorStatus maps domain errors onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, video.ErrFileNotFound),
		errors.Is(err, review.ErrFileNotFound),
		errors.Is(err, playback.ErrFileNotFound):
		return http.StatusNotFound, CodeFileNotFound
	case errors.Is(err, video.ErrUnsupportedFormat), errors.Is(err, playback.ErrNotFile):
		return http.StatusUnsupportedMediaType, CodeUnsupportedFormat
	case errors.Is(err, review.ErrInvalidFormat):
		return http.StatusUnprocessableEntity, CodeInvalidFormat
	case errors.Is(err, video.ErrOutOfRange), errors.Is(err, review.ErrInvalidFrame):
		return http.StatusRequestedRangeNotSatisfiable, CodeOutOfRange
	case errors.Is(err, session.ErrNoVideo), errors.Is(err, session.ErrNoReview):
		return http.StatusConflict, CodeNoSession
	case errors.Is(err, pipeline.ErrBinaryNotFound):
		return http.StatusServiceUnavailable, CodeDecoderMissing
	case errors.Is(err, review.ErrInvalidMarkup),
		errors.Is(err, session.ErrNoPath),
		errors.Is(err, export.ErrInvalidOutputDir),
		errors.Is(err, catalog.ErrNotDirectory):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeServiceError reports err to the client. Unmapped errors are logged
// and their text is not exposed.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	WriteError(w, status, msg, code)
}
