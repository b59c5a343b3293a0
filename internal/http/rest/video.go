// Package rest exposes the download service over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/offline_downloader/internal/logctx"
	"github.com/italolelis/offline_downloader/internal/session"
	"github.com/italolelis/offline_downloader/internal/storage"
)

// SessionService is the slice of the session manager the handler needs.
type SessionService interface {
	Download(ctx context.Context, videoID string) error
	Status(ctx context.Context, videoID string) (*session.Status, error)
	Active(videoID string) bool
}

// Purger removes a video's local data.
type Purger interface {
	Purge(ctx context.Context, videoID string) error
}

type VideoHandler struct {
	svc    SessionService
	purger Purger
}

// NewVideoHandler creates a new video download handler.
func NewVideoHandler(svc SessionService, purger Purger) *VideoHandler {
	return &VideoHandler{svc: svc, purger: purger}
}

func (h *VideoHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/videos/{videoID}/downloads", h.HandleStartDownload)
	r.Get("/videos/{videoID}/progress", h.HandleProgress)
	r.Get("/videos/{videoID}", h.HandleStatus)
	r.Delete("/videos/{videoID}", h.HandleDelete)

	return r
}

// HandleStartDownload kicks off a download session in the background and
// answers immediately; progress is polled or consumed via events.
func (h *VideoHandler) HandleStartDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	videoID := chi.URLParam(r, "videoID")

	if h.svc.Active(videoID) {
		http.Error(w, "download already in progress", http.StatusConflict)

		return
	}

	// The session must outlive this request.
	ctx := context.WithoutCancel(r.Context())

	go func() {
		if err := h.svc.Download(ctx, videoID); err != nil && !errors.Is(err, session.ErrSessionActive) {
			logger.Error("download session failed", "video_id", videoID, "err", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"video_id": videoID,
		"status":   "started",
	})
}

func (h *VideoHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	status, err := h.svc.Status(r.Context(), videoID)
	if err != nil {
		h.writeStatusError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"video_id": status.VideoID,
		"percent":  status.Percent,
		"done":     status.Done,
	})
}

func (h *VideoHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	status, err := h.svc.Status(r.Context(), videoID)
	if err != nil {
		h.writeStatusError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *VideoHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	videoID := chi.URLParam(r, "videoID")

	if h.svc.Active(videoID) {
		http.Error(w, "download in progress", http.StatusConflict)

		return
	}

	if err := h.purger.Purge(r.Context(), videoID); err != nil {
		logger.Error("failed to purge video", "video_id", videoID, "err", err)
		http.Error(w, "failed to delete video", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *VideoHandler) writeStatusError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "video not found", http.StatusNotFound)

		return
	}

	logctx.LoggerFromContext(r.Context()).Error("failed to load video status", "err", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(body)
}
