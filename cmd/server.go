package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/turnscribe/pkg/buildinfo"
	"github.com/otherjamesbrown/turnscribe/pkg/db"
	tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/pipeline"
	"github.com/otherjamesbrown/turnscribe/pkg/runid"
)

// DefaultMaxUploadBytes caps POST /v1/transcribe bodies when not configured.
const DefaultMaxUploadBytes int64 = 512 << 20

const healthCheckTimeout = 5 * time.Second

// apiServer exposes a Runtime over HTTP.
type apiServer struct {
	rt        *Runtime
	maxUpload int64
	logger    logging.Logger
}

// errorResponse is returned for requests that never reach the pipeline.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status     string            `json:"status"`
	Recognizer string            `json:"recognizer"`
	Diarizer   string            `json:"diarizer"`
	FFmpeg     string            `json:"ffmpeg"`
	Database   *db.HealthStatus  `json:"database,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func newAPIServer(rt *Runtime, maxUpload int64) *apiServer {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &apiServer{
		rt:        rt,
		maxUpload: maxUpload,
		logger:    rt.Logger.With(logging.F("component", "api")),
	}
}

// routes registers every endpoint on a new mux.
func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transcribe", s.transcribe)
	mux.HandleFunc("GET /v1/sessions", s.listSessions)
	mux.HandleFunc("GET /v1/sessions/{name}", s.getSession)
	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("GET /version", buildinfo.Handler(s.rt.Info))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.rt.Registry, promhttp.HandlerOpts{}))
	return mux
}

// transcribe runs the pipeline on the raw request body.
func (s *apiServer) transcribe(w http.ResponseWriter, r *http.Request) {
	requestID := runid.NewRequest()
	w.Header().Set("X-Request-ID", requestID)
	ctx := logging.ContextWithRequestID(r.Context(), requestID)
	log := s.logger.WithContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording exceeds "+strconv.FormatInt(s.maxUpload, 10)+" bytes", requestID)
			return
		}
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error(), requestID)
		return
	}

	log.Info("transcription requested", logging.F("bytes", len(raw)))
	res, err := s.rt.Orchestrator.Run(ctx, raw)
	if err != nil {
		writeJSON(w, statusForError(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusForError maps a pipeline failure to an HTTP status.
func statusForError(err error) int {
	var pe *tserrors.PipelineError
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch pe.Code {
	case tserrors.ErrEmptyInput:
		return http.StatusBadRequest
	case tserrors.ErrTimeout:
		return http.StatusGatewayTimeout
	case tserrors.ErrEngineUnavailable, tserrors.ErrToolMissing:
		return http.StatusServiceUnavailable
	case tserrors.ErrContextCancelled:
		// Client went away; nginx's convention.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "")
			return
		}
		limit = n
	}

	summaries, err := s.rt.Sessions.List()
	if err != nil {
		s.logger.Error("listing sessions", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "listing sessions", "")
		return
	}
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *apiServer) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.rt.Sessions.Load(r.PathValue("name"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, pipeline.SuccessResult(sess.RunID, sess))
	case tserrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case tserrors.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		s.logger.Error("loading session", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "loading session", "")
	}
}

// health reports the engines in use and checks ffmpeg and the database.
func (s *apiServer) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:     "ok",
		Recognizer: s.rt.Recognizer.Name(),
		Diarizer:   s.rt.Diarizer.Name(),
	}
	fail := func(component string, err error) {
		if resp.Errors == nil {
			resp.Errors = map[string]string{}
		}
		resp.Errors[component] = err.Error()
		resp.Status = "degraded"
	}

	version, err := s.rt.FFmpeg.Version(ctx)
	if err != nil {
		fail("ffmpeg", err)
	}
	resp.FFmpeg = version

	if s.rt.Pool != nil {
		resp.Database = db.Check(ctx, s.rt.Pool)
		if !resp.Database.Healthy {
			fail("database", errors.New(resp.Database.Error))
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) // nolint: errcheck
}

func writeError(w http.ResponseWriter, status int, msg, requestID string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID})
}
