package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/framewise/framewise/internal/catalog"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/videos", listVideosHandler(cfg))
		r.Post("/videos", addVideosHandler(cfg))
		r.Post("/videos/scan", scanHandler(cfg))
		r.Delete("/videos/{id}", deleteVideoHandler(cfg))
		r.Get("/videos/{id}/thumbnail", thumbnailHandler(cfg))

		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Get("/reviews", listReviewsHandler(cfg))

		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler(cfg))
			r.Post("/video", openVideoHandler(cfg))
			r.Post("/review/load", loadReviewHandler(cfg))
			r.Post("/review/save", saveReviewHandler(cfg))
			r.Get("/checkpoints", checkpointsHandler(cfg))
			r.Get("/playback", playbackHandler(cfg))
			r.Head("/playback", playbackHandler(cfg))

			r.Route("/frames/{index}", func(r chi.Router) {
				r.Get("/", frameHandler(cfg))
				r.Get("/annotation", annotationHandler(cfg))
				r.Post("/markups", addMarkupHandler(cfg))
				r.Delete("/markups", clearMarkupsHandler(cfg))
				r.Delete("/markups/{pos}", removeMarkupHandler(cfg))
				r.Put("/comment", commentHandler(cfg))
			})
		})

		r.Post("/export/edl", exportEDLHandler(cfg))
		r.Post("/export/frames", exportFramesHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		videosCount, _ := cfg.Library.CountVideos(ctx)
		totalSize, _ := cfg.Library.TotalSize(ctx)
		jobs, _ := cfg.Library.GetJobs(ctx, 20)

		state := "idle"
		var activeJob *JobResponse
		jobsActive := 0
		lastError := ""

		for _, j := range jobs {
			switch j.Status {
			case catalog.JobStatusRunning:
				state = "working"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsActive++
			case catalog.JobStatusPending:
				jobsActive++
			case catalog.JobStatusFailed:
				if lastError == "" {
					lastError = j.Error
				}
			}
		}

		paused := cfg.Runner != nil && cfg.Runner.IsPaused()
		if paused && state == "idle" {
			state = "paused"
		}
		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:        state,
			LastError:    lastError,
			VideosCount:  videosCount,
			LibrarySize:  humanize.Bytes(uint64(max(totalSize, 0))),
			JobsActive:   jobsActive,
			ActiveJob:    activeJob,
			RunnerPaused: paused,
		}
		if cfg.Session != nil {
			resp.Session = SessionToResponse(cfg.Session.State())
		}
		if cfg.Doctor != nil {
			resp.Decoder = DecoderToResponse(cfg.Doctor.Peek())
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Library.GetVideos(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func addVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddVideosRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}
		if len(req.Paths) == 0 {
			WriteError(w, http.StatusBadRequest, "paths is required", CodeBadRequest)
			return
		}

		videos, err := cfg.Library.AddVideos(r.Context(), req.Paths)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusCreated, resp)
	}
}

func scanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", CodeBadRequest)
			return
		}

		job, err := cfg.Library.ScanFolder(r.Context(), req.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				WriteError(w, http.StatusNotFound, err.Error(), CodeFileNotFound)
				return
			}
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, ScanResponse{JobID: job.ID})
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Library.RemoveVideo(r.Context(), id); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func thumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Library.GetVideo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if v == nil {
			WriteError(w, http.StatusNotFound, "video not found", CodeNotFound)
			return
		}
		if v.ThumbnailPath == "" {
			WriteError(w, http.StatusNotFound, "thumbnail not ready", CodeNotFound)
			return
		}

		f, err := os.Open(v.ThumbnailPath)
		if err != nil {
			WriteError(w, http.StatusNotFound, "thumbnail missing", CodeNotFound)
			return
		}
		defer f.Close()
		stat, err := f.Stat()
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "private, max-age=300")
		http.ServeContent(w, r, "", stat.ModTime(), f)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Library.GetJobs(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Library.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", CodeNotFound)
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func listReviewsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := cfg.Library.RecentReviews(r.Context(), queryInt(r, "limit", 20))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := ReviewsResponse{Reviews: make([]ReviewResponse, len(recs))}
		for i, rec := range recs {
			resp.Reviews[i] = ReviewToResponse(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
