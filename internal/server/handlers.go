package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/frame-extractor/internal/archive"
	"github.com/maauso/frame-extractor/internal/job"
	"github.com/maauso/frame-extractor/internal/storage"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *job.Service
	archives  *archive.Streamer
	objects   *storage.LocalStore
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithLocalObjects serves signed local store URLs under /storage/.
func WithLocalObjects(store *storage.LocalStore) HandlerOption {
	return func(h *Handlers) {
		h.objects = store
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, archives *archive.Streamer, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		archives:  archives,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// StartExtraction handles POST /api/extract requests.
func (h *Handlers) StartExtraction(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		msg := "videoId is required"
		if req.VideoID != "" {
			msg = "videoId must be a UUID"
		}
		writeError(w, http.StatusBadRequest, msg, "VALIDATION_ERROR")
		return
	}

	var in job.OptionsInput
	if req.Options != nil {
		in = *req.Options
	}
	opts, err := in.Resolve()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	view, err := h.service.StartExtraction(r.Context(), req.VideoID, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("extraction started",
		slog.String("job_id", view.ID),
		slog.String("video_id", view.VideoID),
	)
	writeJSON(w, http.StatusAccepted, view)
}

// GetJob handles GET /api/extract/{jobId} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathID(w, r, "jobId", "invalid job ID")
	if !ok {
		return
	}

	view, err := h.service.GetJobStatus(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelJob handles DELETE /api/extract/{jobId} requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathID(w, r, "jobId", "invalid job ID")
	if !ok {
		return
	}

	if err := h.service.CancelJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Job cancelled"})
}

// ListVideos handles GET /api/videos requests.
func (h *Handlers) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.service.ListVideos(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

// GetVideo handles GET /api/videos/{videoId} requests.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	videoID, ok := h.pathID(w, r, "videoId", "invalid video ID")
	if !ok {
		return
	}

	video, err := h.service.GetVideo(r.Context(), videoID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

// DeleteVideo handles DELETE /api/videos/{videoId} requests.
func (h *Handlers) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	videoID, ok := h.pathID(w, r, "videoId", "invalid video ID")
	if !ok {
		return
	}

	if err := h.service.DeleteVideo(r.Context(), videoID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Video deleted"})
}

// ListFrames handles GET /api/frames?jobId=&videoId= requests.
func (h *Handlers) ListFrames(w http.ResponseWriter, r *http.Request) {
	sel, ok := h.selectorFrom(w, r)
	if !ok {
		return
	}
	frames, err := h.service.ListFrames(r.Context(), sel)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FramesResponse{Frames: frames, Count: len(frames)})
}

// DownloadFrames handles GET /api/frames/download requests by streaming a
// zip archive. Once the first byte is sent, a failure can only abort the
// connection.
func (h *Handlers) DownloadFrames(w http.ResponseWriter, r *http.Request) {
	sel, ok := h.selectorFrom(w, r)
	if !ok {
		return
	}
	a, err := h.archives.Prepare(r.Context(), sel)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", archive.ContentDisposition(a.Filename))
	w.WriteHeader(http.StatusOK)

	if err := a.Stream(r.Context(), w); err != nil {
		h.logger.Error("archive stream aborted",
			slog.String("job_id", sel.JobID),
			slog.String("video_id", sel.VideoID),
			slog.String("filename", a.Filename),
			slog.String("error", err.Error()),
		)
		panic(http.ErrAbortHandler)
	}
}

// ServeObject handles GET /storage/{key...} for the local object store.
func (h *Handlers) ServeObject(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
		return
	}

	key := r.PathValue("key")
	q := r.URL.Query()
	if err := h.objects.Verify(key, q.Get("expires"), q.Get("signature")); err != nil {
		writeError(w, http.StatusForbidden, err.Error(), "FORBIDDEN")
		return
	}

	p, err := h.objects.Path(key)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	f, err := os.Open(p) // #nosec G304 - key is validated to stay inside root
	if err != nil {
		writeError(w, http.StatusNotFound, "object not found", "NOT_FOUND")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "object not found", "NOT_FOUND")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}

// pathID reads a UUID path parameter, writing a 400 when it is malformed.
func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, name, invalid string) (string, bool) {
	v := r.PathValue(name)
	if err := h.validator.Var(v, "required,uuid"); err != nil {
		writeError(w, http.StatusBadRequest, invalid, "VALIDATION_ERROR")
		return "", false
	}
	return v, true
}

// selectorFrom reads the jobId and videoId query parameters. Empty values
// are left to Selector.Validate; non-empty ones must be UUIDs.
func (h *Handlers) selectorFrom(w http.ResponseWriter, r *http.Request) (job.Selector, bool) {
	q := r.URL.Query()
	sel := job.Selector{
		JobID:   strings.TrimSpace(q.Get("jobId")),
		VideoID: strings.TrimSpace(q.Get("videoId")),
	}
	params := []struct{ name, value string }{{"jobId", sel.JobID}, {"videoId", sel.VideoID}}
	for _, p := range params {
		if p.value == "" {
			continue
		}
		if err := h.validator.Var(p.value, "uuid"); err != nil {
			writeError(w, http.StatusBadRequest, p.name+" must be a UUID", "VALIDATION_ERROR")
			return job.Selector{}, false
		}
	}
	return sel, true
}

// writeServiceError maps domain errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, messageFor(status, err), code)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, job.ErrValidation), errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case job.IsNotFound(err), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, job.ErrNotCancellable):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, job.ErrTransientQueue):
		return http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE"
	case errors.Is(err, storage.ErrStorage):
		return http.StatusBadGateway, "STORAGE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// messageFor hides internal detail behind a generic message for server errors.
func messageFor(status int, err error) string {
	switch status {
	case http.StatusNotFound:
		return notFoundMessage(err)
	case http.StatusConflict:
		return job.ErrNotCancellable.Error()
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusServiceUnavailable:
		return "queue unavailable, retry later"
	case http.StatusBadGateway:
		return "storage unavailable"
	default:
		return "internal server error"
	}
}

func notFoundMessage(err error) string {
	for _, target := range []error{job.ErrJobNotFound, job.ErrVideoNotFound, job.ErrFramesNotFound, storage.ErrObjectNotFound} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "not found"
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
