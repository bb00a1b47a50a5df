package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/framewise/framewise/internal/markup"
	"github.com/framewise/framewise/internal/review"
	"github.com/framewise/framewise/internal/session"
)

const maxMarkupBody = 1 << 20

func sessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, SessionToResponse(cfg.Session.State()))
	}
}

func openVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}

		path := req.Path
		if path == "" && req.VideoID != "" {
			v, err := cfg.Library.GetVideo(r.Context(), req.VideoID)
			if err != nil {
				writeServiceError(w, cfg.Logger, err)
				return
			}
			if v == nil {
				WriteError(w, http.StatusNotFound, "video not found", CodeNotFound)
				return
			}
			path = v.Path
		}
		if path == "" {
			WriteError(w, http.StatusBadRequest, "path or video_id is required", CodeBadRequest)
			return
		}

		if _, err := cfg.Session.OpenVideo(r.Context(), path); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SessionToResponse(cfg.Session.State()))
	}
}

func loadReviewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReviewPathRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", CodeBadRequest)
			return
		}

		if _, err := cfg.Session.LoadReview(r.Context(), req.Path); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		st := cfg.Session.State()
		WriteJSON(w, http.StatusOK, ReviewLoadResponse{
			Path:            st.ReviewPath,
			Video:           st.Video,
			AnnotatedFrames: st.AnnotatedFrames,
		})
	}
}

func saveReviewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReviewPathRequest
		// An empty body saves to the current review path.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}

		path, err := cfg.Session.SaveReview(r.Context(), req.Path)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, ReviewSaveResponse{
			Path:            path,
			AnnotatedFrames: cfg.Session.State().AnnotatedFrames,
		})
	}
}

func frameIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "frame index must be an integer", CodeBadRequest)
		return 0, false
	}
	return index, true
}

// frameHandler returns the frame as PNG. overlay=1 draws its markups;
// width and height fit the image inside that box.
func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := frameIndex(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		overlay := q.Get("overlay") == "1" || q.Get("overlay") == "true"
		width, _ := strconv.Atoi(q.Get("width"))
		height, _ := strconv.Atoi(q.Get("height"))
		if width < 0 || height < 0 {
			WriteError(w, http.StatusBadRequest, "width and height must be positive", CodeBadRequest)
			return
		}

		fv, err := cfg.Session.Frame(r.Context(), index)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		img := fv.Image
		if overlay {
			img = cfg.Session.Render(fv)
		}
		if width > 0 || height > 0 {
			img = markup.Fit(img, width, height)
		}

		var buf bytes.Buffer
		if err := markup.EncodePNG(&buf, img); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Frame-Index", strconv.Itoa(fv.Index))
		w.Header().Set("X-Frame-Seconds", fmt.Sprintf("%.3f", fv.Seconds))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func annotationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := frameIndex(w, r)
		if !ok {
			return
		}
		writeAnnotation(w, cfg, index)
	}
}

func writeAnnotation(w http.ResponseWriter, cfg ServerConfig, index int) {
	fa, err := cfg.Session.Annotation(index)
	if err != nil {
		writeServiceError(w, cfg.Logger, err)
		return
	}
	fps := 0.0
	if st := cfg.Session.State(); st.Video != nil {
		fps = st.Video.FPS
	}
	WriteJSON(w, http.StatusOK, AnnotationResponse{
		Index:      index,
		Label:      session.Label(index, fps),
		Annotation: fa,
	})
}

func addMarkupHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := frameIndex(w, r)
		if !ok {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMarkupBody))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}
		m, err := review.ParseMarkup(body)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		if err := cfg.Session.AddMarkup(index, m); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		writeAnnotation(w, cfg, index)
	}
}

func clearMarkupsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := frameIndex(w, r)
		if !ok {
			return
		}
		if err := cfg.Session.ClearMarkups(index); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		writeAnnotation(w, cfg, index)
	}
}

func removeMarkupHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := frameIndex(w, r)
		if !ok {
			return
		}
		pos, err := strconv.Atoi(chi.URLParam(r, "pos"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "markup position must be an integer", CodeBadRequest)
			return
		}
		if err := cfg.Session.RemoveMarkup(index, pos); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		writeAnnotation(w, cfg, index)
	}
}

func commentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := frameIndex(w, r)
		if !ok {
			return
		}
		var req CommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}
		if err := cfg.Session.SetComment(index, req.Comment); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		writeAnnotation(w, cfg, index)
	}
}

func checkpointsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cps, err := cfg.Session.Checkpoints()
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, CheckpointsResponse{Checkpoints: cps})
	}
}

func playbackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := cfg.Session.VideoPath()
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, path); err != nil {
			writeServiceError(w, cfg.Logger, err)
		}
	}
}
