package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/framewise/framewise/internal/export"
	"github.com/framewise/framewise/internal/metrics"
	"github.com/framewise/framewise/internal/review"
	"github.com/framewise/framewise/internal/session"
	"github.com/framewise/framewise/internal/video"
)

// decodeExportRequest falls back to cfg.ExportDir, creating it on first
// use, when the request names no output_dir.
func decodeExportRequest(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (export.ExportRequest, bool) {
	var req export.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
		return req, false
	}
	if req.OutputDir == "" && cfg.ExportDir != "" {
		if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
			cfg.Logger.Error("failed to create export dir", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to create export directory", CodeInternal)
			return req, false
		}
		req.OutputDir = cfg.ExportDir
	}
	if err := export.ValidateOutputDir(req.OutputDir); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
		return req, false
	}
	return req, true
}

func videoBaseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeExportRequest(cfg, w, r)
		if !ok {
			return
		}

		snap, err := cfg.Session.Snapshot()
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		checkpoints := session.BuildCheckpoints(review.NewStore(snap), snap.FPS)
		if len(checkpoints) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "review has no annotated frames", CodeBadRequest)
			return
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = snap.FPS
		}

		title := export.SanitizeName(req.Name, 120)
		if title == "" {
			title = export.SanitizeName(videoBaseName(snap.VideoPath), 120)
		}
		outputPath := export.OutputPath(req.OutputDir, req.Name, videoBaseName(snap.VideoPath), ".edl")

		edl := export.GenerateMarkerEDL(title, snap.VideoPath, frameRate, checkpoints)
		if err := os.WriteFile(outputPath, []byte(edl), 0o644); err != nil {
			cfg.Logger.Error("failed to write EDL", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", CodeInternal)
			return
		}
		metrics.ExportsTotal.WithLabelValues(export.FormatEDL).Inc()

		WriteJSON(w, http.StatusOK, export.ExportResponse{
			Status:     "ok",
			Format:     export.FormatEDL,
			OutputPath: outputPath,
			FrameCount: len(checkpoints),
		})
	}
}

func exportFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeExportRequest(cfg, w, r)
		if !ok {
			return
		}

		snap, err := cfg.Session.Snapshot()
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		indices := req.Frames
		if len(indices) == 0 {
			indices = review.NewStore(snap).ReviewedFrames()
		}
		if len(indices) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "review has no annotated frames", CodeBadRequest)
			return
		}

		frames := make([]export.BundleFrame, 0, len(indices))
		var skipped []int
		seen := make(map[int]bool, len(indices))
		for _, idx := range indices {
			if seen[idx] {
				continue
			}
			seen[idx] = true

			fv, err := cfg.Session.Peek(r.Context(), idx)
			if err != nil {
				if errors.Is(err, video.ErrOutOfRange) {
					skipped = append(skipped, idx)
					continue
				}
				writeServiceError(w, cfg.Logger, err)
				return
			}
			img := fv.Image
			if req.WantOverlay() {
				img = cfg.Session.Render(fv)
			}
			frames = append(frames, export.BundleFrame{Index: idx, Image: img})
		}
		if len(frames) == 0 {
			WriteError(w, http.StatusRequestedRangeNotSatisfiable, "no requested frame is in range", CodeOutOfRange)
			return
		}

		outputPath := export.OutputPath(req.OutputDir, req.Name, videoBaseName(snap.VideoPath), ".zip")
		if err := export.WriteFrameBundle(r.Context(), outputPath, snap, frames); err != nil {
			cfg.Logger.Error("failed to write frame bundle", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", CodeInternal)
			return
		}

		WriteJSON(w, http.StatusOK, export.ExportResponse{
			Status:     "ok",
			Format:     export.FormatFrames,
			OutputPath: outputPath,
			FrameCount: len(frames),
			Skipped:    skipped,
		})
	}
}
