package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"hlsgate/internal/application/convert"
	"hlsgate/internal/domain/stream"
	"hlsgate/internal/logging"
)

const maxRequestBody = 64 << 10

type convertUseCases interface {
	Convert(ctx context.Context, rawURL string) (convert.Result, error)
	Status(ctx context.Context, fp stream.Fingerprint) (stream.JobStatus, error)
	Active() []stream.JobStatus
}

type artifactStore interface {
	ResolveArtifact(fp stream.Fingerprint, name string) (string, stream.ArtifactKind, error)
}

// Options configures the handler.
type Options struct {
	// PublicBaseURL overrides the scheme and host of returned links.
	PublicBaseURL string
	Logger        *slog.Logger
}

type Handler struct {
	convert convertUseCases
	store   artifactStore
	baseURL string
	logger  *slog.Logger
}

// NewHandler wires HTTP handlers with application use cases.
func NewHandler(convertService convertUseCases, store artifactStore, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		convert: convertService,
		store:   store,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
		logger:  logging.Component(logger, "http"),
	}
}

type convertRequest struct {
	URL string `json:"url"`
}

type convertResponse struct {
	Status  string `json:"status"`
	HLSLink string `json:"hls_link"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type jobResponse struct {
	Fingerprint string     `json:"fingerprint"`
	State       string     `json:"state"`
	Segments    int        `json:"segments"`
	Attempts    int        `json:"attempts"`
	ExitCode    int        `json:"exit_code"`
	Error       string     `json:"error,omitempty"`
	HLSLink     string     `json:"hls_link,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Convert handles POST /convert.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, r, stream.NewError(stream.ErrInvalidRequest, "URL missing", "", err))
		return
	}

	result, err := h.convert.Convert(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			return
		}
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, convertResponse{
		Status:  "success",
		HLSLink: h.linkBase(r) + result.PlaylistPath,
	})
}

// Preflight answers OPTIONS /convert for clients that skip CORS preflight headers.
func (h *Handler) Preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// JobStatus handles GET /jobs/{fingerprint}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	fp := stream.Fingerprint(mux.Vars(r)["fingerprint"])
	status, err := h.convert.Status(r.Context(), fp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := jobResponse{
		Fingerprint: string(status.Fingerprint),
		State:       string(status.State),
		Segments:    status.Segments,
		Attempts:    status.Attempts,
		ExitCode:    status.ExitCode,
		Error:       status.Error,
	}
	if status.State.Playable() {
		resp.HLSLink = h.linkBase(r) + stream.PlaylistURLPath(status.Fingerprint)
	}
	if !status.CreatedAt.IsZero() {
		resp.CreatedAt = &status.CreatedAt
	}
	if !status.UpdatedAt.IsZero() {
		resp.UpdatedAt = &status.UpdatedAt
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_jobs": len(h.convert.Active()),
	})
}

// linkBase returns scheme://host for links handed to clients.
func (h *Handler) linkBase(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		if first := strings.TrimSpace(strings.Split(proto, ",")[0]); first != "" {
			scheme = strings.ToLower(first)
		}
	}
	return scheme + "://" + r.Host
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, stream.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	resp := errorResponse{
		Status:  "error",
		Message: stream.Message(err),
		Details: stream.Details(err),
	}
	if code == http.StatusInternalServerError {
		logging.WithContext(r.Context(), h.logger).Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	h.writeJSON(w, r, code, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.WithContext(r.Context(), h.logger).Warn("failed to encode response", slog.Any("error", err))
	}
}
