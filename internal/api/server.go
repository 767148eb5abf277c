// Package api serves the foldervault HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/errdefs/pkg/errhttp"
	"github.com/rs/zerolog"

	"github.com/foldervault/foldervault/internal/auth"
	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/engine"
	"github.com/foldervault/foldervault/internal/logging/audit"
	"github.com/foldervault/foldervault/pkg/proto"
)

// maxJSONBody bounds the small JSON request bodies.
const maxJSONBody = 1 << 20

// BlobLinks resolves the tokens embedded in signed download links of the local blob
// backend. *blobstore.Local satisfies it.
type BlobLinks interface {
	ResolveToken(token string) (string, error)
}

// Options tune the server.
type Options struct {
	Production       bool  // hide error chains from clients
	MaxRequestBytes  int64 // upload request limit; <= 0 means 512 MB
	CompressionLevel int   // flate level for folder archives
	BlobLinks        BlobLinks
	Metrics          http.Handler // served on /metrics when set
	Audit            *audit.Logger
}

// Server routes API requests to the engine.
type Server struct {
	eng    *engine.Engine
	signer *auth.Signer
	opts   Options
	logger zerolog.Logger
	mux    *http.ServeMux
}

// New creates the API server. Bearer tokens are verified with signer.
func New(eng *engine.Engine, signer *auth.Signer, logger zerolog.Logger, opts Options) *Server {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 512 << 20
	}
	s := &Server{
		eng:    eng,
		signer: signer,
		opts:   opts,
		logger: logger.With().Str("component", "api").Logger(),
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}
	s.mux.HandleFunc("GET /api/blobs/{token}", s.handleBlob)

	s.mux.HandleFunc("POST /api/files/upload", s.withAuth(s.handleUpload))
	s.mux.HandleFunc("GET /api/files", s.withAuth(s.handleListChildren))
	s.mux.HandleFunc("GET /api/files/search", s.withAuth(s.handleSearch))
	s.mux.HandleFunc("GET /api/files/recent", s.withAuth(s.handleRecent))
	s.mux.HandleFunc("GET /api/files/starred", s.withAuth(s.handleStarred))
	s.mux.HandleFunc("GET /api/files/trash", s.withAuth(s.handleTrashed))
	s.mux.HandleFunc("PATCH /api/files/{id}/trash", s.withAuth(s.handleTrashFile))
	s.mux.HandleFunc("PATCH /api/files/{id}/restore", s.withAuth(s.handleRestoreFile))
	s.mux.HandleFunc("PATCH /api/files/{id}/rename", s.withAuth(s.handleRenameFile))
	s.mux.HandleFunc("PATCH /api/files/{id}/star", s.withAuth(s.handleStarFile))
	s.mux.HandleFunc("DELETE /api/files/{id}", s.withAuth(s.handleDeleteFile))
	s.mux.HandleFunc("GET /api/files/{id}/download", s.withAuth(s.handleDownloadFile))
	s.mux.HandleFunc("GET /api/files/{id}/qr", s.withAuth(s.handleDownloadQR))

	s.mux.HandleFunc("POST /api/folders", s.withAuth(s.handleCreateFolder))
	s.mux.HandleFunc("PATCH /api/folders/{id}/trash", s.withAuth(s.handleTrashFolder))
	s.mux.HandleFunc("PATCH /api/folders/{id}/restore", s.withAuth(s.handleRestoreFolder))
	s.mux.HandleFunc("PATCH /api/folders/{id}/rename", s.withAuth(s.handleRenameFolder))
	s.mux.HandleFunc("PATCH /api/folders/{id}/star", s.withAuth(s.handleStarFolder))
	s.mux.HandleFunc("DELETE /api/folders/{id}", s.withAuth(s.handleDeleteFolder))
	s.mux.HandleFunc("GET /api/folders/{id}/download", s.withAuth(s.handleDownloadFolder))

	s.mux.HandleFunc("GET /api/stats/storage", s.withAuth(s.handleStorage))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	s.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("Request served")
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type ownerKey struct{}

// withAuth verifies the bearer token and puts its subject in the request context as
// the owner of every record the request touches.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.opts.Audit.LogAuth("", "bearer", audit.ResultDenied, "missing bearer token", clientIP(r))
			s.writeError(w, fmt.Errorf("missing bearer token: %w", errdefs.ErrUnauthenticated))
			return
		}

		owner, err := s.signer.Verify(token)
		if err != nil {
			s.opts.Audit.LogAuth("", "bearer", audit.ResultDenied, err.Error(), clientIP(r))
			s.writeError(w, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	}
}

// ownerOf returns the authenticated owner of r.
func ownerOf(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error onto an HTTP status.
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return errhttp.ToHTTP(err)
	}
}

// kindOf names the failure class reported to clients.
func kindOf(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return "RequestTooLarge"
	case errdefs.IsUnauthorized(err):
		return "Unauthenticated"
	default:
		return drive.KindOf(err).String()
	}
}

// errorResponse renders err for clients. Server-side failures carry no message in
// production; the full chain is only exposed outside production.
func (s *Server) errorResponse(err error, code int) proto.ErrorResponse {
	resp := proto.ErrorResponse{Kind: kindOf(err), Message: err.Error()}
	if s.opts.Production && code >= http.StatusInternalServerError {
		resp.Message = http.StatusText(code)
	}
	if !s.opts.Production {
		resp.Detail = fmt.Sprintf("%+v", err)
	}
	return resp
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	writeJSON(w, code, s.errorResponse(err, code))
}

// decodeJSON reads a small JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		return drive.Errorf(drive.KindInvalidArgument, "", "invalid request body: %v", err)
	}
	return nil
}

// clientIP returns the remote address of r without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// auditOp records the outcome of a mutating request.
func (s *Server) auditOp(r *http.Request, operation, itemType, itemID string, err error, details string) {
	result := audit.ResultOK
	if err != nil {
		result = audit.ResultFailed
		if details == "" {
			details = err.Error()
		} else {
			details += ": " + err.Error()
		}
	}
	s.opts.Audit.LogDriveOp(ownerOf(r), operation, itemType, itemID, result, details, clientIP(r))
}
