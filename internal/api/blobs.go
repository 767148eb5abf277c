package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/google/uuid"

	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/logging/audit"
)

// handleBlob serves the content behind a signed download link of the local backend.
// The token is the only credential.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if s.opts.BlobLinks == nil {
		s.writeError(w, drive.ErrBlobNotFound)
		return
	}

	key, err := s.opts.BlobLinks.ResolveToken(r.PathValue("token"))
	if err != nil {
		s.opts.Audit.LogAuth("", "blob_token", audit.ResultDenied, err.Error(), clientIP(r))
		s.writeError(w, err)
		return
	}

	rc, err := s.eng.Blobs().Open(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()

	name := downloadName(key)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Cache-Control", "private, no-store")

	if _, err := io.Copy(w, rc); err != nil && !errors.Is(err, r.Context().Err()) {
		s.logger.Warn().Err(err).Str("key", key).Msg("Blob download interrupted")
	}
}

// downloadName recovers the original file name from a blob key of the form
// "{owner}/{uuid}-{name}".
func downloadName(key string) string {
	base := path.Base(key)
	const idLen = 36
	if len(base) > idLen+1 && base[idLen] == '-' && uuid.Validate(base[:idLen]) == nil {
		return base[idLen+1:]
	}
	return base
}
