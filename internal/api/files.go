package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/skip2/go-qrcode"

	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/engine"
	"github.com/foldervault/foldervault/pkg/proto"
)

// multipartMemory is how much of an upload is held in memory before spilling to disk.
const multipartMemory = 32 << 20

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// handleUpload accepts a multipart form with one or more "files" parts, an optional
// "paths" value per file carrying its relative path, and an optional "folderId".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = drive.Errorf(drive.KindInvalidArgument, "upload", "invalid multipart form: %v", err)
		}
		s.writeError(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	paths := r.MultipartForm.Value["paths"]
	if len(paths) > 0 && len(paths) != len(headers) {
		s.writeError(w, drive.Errorf(drive.KindInvalidArgument, "upload",
			"got %d paths for %d files", len(paths), len(headers)))
		return
	}

	entries := make([]engine.UploadEntry, 0, len(headers))
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, drive.E(drive.KindInvalidArgument, "upload", err))
			return
		}
		closers = append(closers, f)

		name := fh.Filename
		if len(paths) > 0 && paths[i] != "" {
			name = paths[i]
		}
		entries = append(entries, engine.UploadEntry{
			Path:     name,
			Content:  f,
			Size:     fh.Size,
			MimeType: fh.Header.Get("Content-Type"),
		})
	}

	res, err := s.eng.Upload(r.Context(), ownerOf(r), r.FormValue("folderId"), entries)
	if res == nil {
		s.auditOp(r, "upload", "", "", err, "")
		s.writeError(w, err)
		return
	}

	resp := proto.UploadResponse{
		Success:        err == nil,
		Files:          make([]proto.Item, 0, len(res.Created)),
		FoldersCreated: res.FoldersCreated,
	}
	for i := range res.Created {
		resp.Files = append(resp.Files, fileItem(&res.Created[i]))
	}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, proto.UploadFailure{Path: f.Path, Kind: kindOf(f.Err), Message: f.Err.Error()})
	}

	status := http.StatusCreated
	switch {
	case err == nil:
	case len(res.Created) > 0:
		status = http.StatusMultiStatus
	default:
		status = statusOf(res.Failed[0].Err)
	}
	s.auditOp(r, "upload", "", "", err, fmt.Sprintf("%d created, %d failed", len(res.Created), len(res.Failed)))
	writeJSON(w, status, resp)
}

func (s *Server) writeItems(w http.ResponseWriter, items []drive.Item, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.ListResponse{Success: true, Items: toItems(items)})
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	items, err := s.eng.ListChildren(r.Context(), ownerOf(r), r.URL.Query().Get("folderId"))
	s.writeItems(w, items, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	items, err := s.eng.Search(r.Context(), ownerOf(r), r.URL.Query().Get("q"))
	s.writeItems(w, items, err)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	items, err := s.eng.Recent(r.Context(), ownerOf(r), r.URL.Query().Get("folderId"))
	s.writeItems(w, items, err)
}

func (s *Server) handleStarred(w http.ResponseWriter, r *http.Request) {
	items, err := s.eng.Starred(r.Context(), ownerOf(r), r.URL.Query().Get("folderId"))
	s.writeItems(w, items, err)
}

func (s *Server) handleTrashed(w http.ResponseWriter, r *http.Request) {
	items, err := s.eng.Trashed(r.Context(), ownerOf(r), r.URL.Query().Get("folderId"))
	s.writeItems(w, items, err)
}

func (s *Server) writeFile(w http.ResponseWriter, f *drive.File, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.ItemResponse{Success: true, Item: fileItem(f)})
}

func (s *Server) handleTrashFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.eng.TrashFile(r.Context(), ownerOf(r), id)
	s.auditOp(r, "trash", "file", id, err, "")
	s.writeFile(w, f, err)
}

func (s *Server) handleRestoreFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.eng.RestoreFile(r.Context(), ownerOf(r), id)
	s.auditOp(r, "restore", "file", id, err, "")
	s.writeFile(w, f, err)
}

func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	var req proto.RenameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	f, err := s.eng.RenameFile(r.Context(), ownerOf(r), id, req.Name)
	s.auditOp(r, "rename", "file", id, err, "")
	s.writeFile(w, f, err)
}

func (s *Server) handleStarFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.eng.ToggleStarFile(r.Context(), ownerOf(r), id)
	s.auditOp(r, "star", "file", id, err, "")
	s.writeFile(w, f, err)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.eng.DeleteFile(r.Context(), ownerOf(r), id)
	s.auditOp(r, "delete", "file", id, err, humanize.Bytes(uint64(stats.Bytes)))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.DeleteResponse{Success: true, Files: stats.Files, Bytes: stats.Bytes})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	u, err := s.eng.DownloadURL(r.Context(), ownerOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.DownloadResponse{
		Success:   true,
		URL:       u,
		ExpiresAt: time.Now().UTC().Add(s.eng.DownloadTTL()),
	})
}

// handleDownloadQR renders the download link of a file as a PNG QR code, for opening
// it on another device.
func (s *Server) handleDownloadQR(w http.ResponseWriter, r *http.Request) {
	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minQRSize || n > maxQRSize {
			s.writeError(w, drive.Errorf(drive.KindInvalidArgument, "qr", "size must be between %d and %d", minQRSize, maxQRSize))
			return
		}
		size = n
	}

	u, err := s.eng.DownloadURL(r.Context(), ownerOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	png, err := qrcode.Encode(u, qrcode.Medium, size)
	if err != nil {
		s.writeError(w, fmt.Errorf("encode qr code: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	used, err := s.eng.StorageUsage(r.Context(), ownerOf(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.StorageResponse{
		Success:   true,
		UsedBytes: used,
		UsedHuman: humanize.Bytes(uint64(used)),
	})
}
