package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nasferry/internal/integrity"
	"nasferry/internal/logging"
	"nasferry/internal/metrics"
	"nasferry/internal/records"
	"nasferry/internal/services"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the record store over HTTP.
type Server struct {
	store    records.Store
	verifier *integrity.Verifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	router   chi.Router
}

// New builds the router. m may be nil, in which case /metrics is not mounted.
func New(store records.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	logger = logging.NewComponentLogger(logger, "api")
	s := &Server{
		store:    store,
		verifier: integrity.NewVerifier(store, logger, m),
		metrics:  m,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Route("/files", func(r chi.Router) {
			r.Get("/", s.listFiles)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getFile)
				r.Patch("/", s.updateStatus)
				r.Post("/reset", s.resetFile)
				r.Post("/hash", s.hashFile)
			})
		})
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on bind until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, bind string) error {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bind, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", logging.String("addr", ln.Addr().String()))
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return <-errCh
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	_, _, err := s.store.SearchDownloadedFiles(r.Context(), records.SearchParams{PageSize: 1})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, Health{Status: "degraded", Store: "unreachable", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Health{Status: "ok", Store: "ok"})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	params, err := searchParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recs, total, err := s.store.SearchDownloadedFiles(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params = params.Normalize()
	writeJSON(w, http.StatusOK, FileList{
		Files:    FromRecords(recs),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, FromRecord(rec))
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body StatusUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode", "invalid JSON body", err))
		return
	}
	status, ok := records.ParseStatus(body.Status)
	if !ok {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "update status", fmt.Sprintf("unknown status %q", body.Status), nil))
		return
	}
	if err := s.store.UpdateDownloadedFileStatus(r.Context(), id, status, body.ErrorMessage); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondRecord(w, r, id)
}

func (s *Server) resetFile(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.UpdateDownloadedFileStatus(r.Context(), id, records.StatusDownloaded, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondRecord(w, r, id)
}

func (s *Server) hashFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	alg, valid := records.ParseHashAlgorithm(r.URL.Query().Get("algorithm"))
	if !valid {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "hash",
			fmt.Sprintf("unsupported algorithm %q", r.URL.Query().Get("algorithm")), nil))
		return
	}
	res, err := s.verifier.UpdateHash(r.Context(), rec, alg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Found {
		status = http.StatusNotFound
	}
	writeJSON(w, status, HashResult{
		ID:        rec.ID,
		Algorithm: string(res.Algorithm),
		Found:     res.Found,
		Value:     res.Value,
		Cached:    res.Cached,
	})
}

func (s *Server) loadRecord(w http.ResponseWriter, r *http.Request) (*records.FileRecord, bool) {
	id, err := recordID(r)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	rec, err := s.store.GetDownloadedFileByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if rec == nil {
		s.writeError(w, r, fmt.Errorf("record %d: %w", id, records.ErrNotFound))
		return nil, false
	}
	return rec, true
}

func (s *Server) respondRecord(w http.ResponseWriter, r *http.Request, id int64) {
	rec, err := s.store.GetDownloadedFileByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rec == nil {
		s.writeError(w, r, fmt.Errorf("record %d: %w", id, records.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, FromRecord(rec))
}

func recordID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "api", "parse id", fmt.Sprintf("invalid record id %q", raw), nil)
	}
	return id, nil
}

func searchParams(r *http.Request) (records.SearchParams, error) {
	q := r.URL.Query()
	params := records.SearchParams{
		Query:     q.Get("q"),
		SortBy:    q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := records.ParseStatus(raw)
		if !ok {
			return params, services.Wrap(services.ErrValidation, "api", "search", fmt.Sprintf("unknown status %q", raw), nil)
		}
		params.Status = status
	}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		ft, ok := records.ParseFileType(raw)
		if !ok {
			return params, services.Wrap(services.ErrValidation, "api", "search", fmt.Sprintf("unknown file type %q", raw), nil)
		}
		params.FileType = ft
	}
	for key, dst := range map[string]*int{"page": &params.Page, "page_size": &params.PageSize} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return params, services.Wrap(services.ErrValidation, "api", "search", fmt.Sprintf("invalid %s %q", key, raw), nil)
		}
		*dst = n
	}
	if raw := strings.TrimSpace(q.Get("show_id")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return params, services.Wrap(services.ErrValidation, "api", "search", fmt.Sprintf("invalid show_id %q", raw), nil)
		}
		params.ShowID = n
	}
	return params, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := ErrorBody{Error: err.Error(), Code: code}
	if id, ok := services.RequestIDFromContext(r.Context()); ok {
		body.RequestID = id
	}
	if status >= 500 {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_error",
			logging.Error(err),
			logging.String("path", r.URL.Path),
		)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, services.ErrUpstream):
		return http.StatusBadGateway, "upstream"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
