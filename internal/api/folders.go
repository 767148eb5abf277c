package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/engine"
	"github.com/foldervault/foldervault/pkg/proto"
)

func (s *Server) writeFolder(w http.ResponseWriter, status int, f *drive.Folder, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, status, proto.ItemResponse{Success: true, Item: folderItem(f)})
}

func (s *Server) writeTree(w http.ResponseWriter, stats engine.TreeStats, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.TreeResponse{Success: true, Folders: stats.Folders, Files: stats.Files})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req proto.CreateFolderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.eng.CreateFolder(r.Context(), ownerOf(r), req.Name, req.ParentID)
	id := ""
	if f != nil {
		id = f.ID
	}
	s.auditOp(r, "create", "folder", id, err, "")
	s.writeFolder(w, http.StatusCreated, f, err)
}

func (s *Server) handleTrashFolder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.eng.TrashFolder(r.Context(), ownerOf(r), id)
	s.auditOp(r, "trash", "folder", id, err, fmt.Sprintf("%d folders, %d files", stats.Folders, stats.Files))
	s.writeTree(w, stats, err)
}

func (s *Server) handleRestoreFolder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.eng.RestoreFolder(r.Context(), ownerOf(r), id)
	s.auditOp(r, "restore", "folder", id, err, fmt.Sprintf("%d folders, %d files", stats.Folders, stats.Files))
	s.writeTree(w, stats, err)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	var req proto.RenameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	f, err := s.eng.RenameFolder(r.Context(), ownerOf(r), id, req.Name)
	s.auditOp(r, "rename", "folder", id, err, "")
	s.writeFolder(w, http.StatusOK, f, err)
}

func (s *Server) handleStarFolder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.eng.ToggleStarFolder(r.Context(), ownerOf(r), id)
	s.auditOp(r, "star", "folder", id, err, "")
	s.writeFolder(w, http.StatusOK, f, err)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.eng.DeleteFolder(r.Context(), ownerOf(r), id)
	s.auditOp(r, "delete", "folder", id, err, fmt.Sprintf("%d folders, %d files, %d bytes", stats.Folders, stats.Files, stats.Bytes))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.DeleteResponse{
		Success: true,
		Folders: stats.Folders,
		Files:   stats.Files,
		Bytes:   stats.Bytes,
	})
}

// handleDownloadFolder streams the active contents of a folder as a zip archive. Once
// the first byte is sent a failure can only be signalled by aborting the connection.
func (s *Server) handleDownloadFolder(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	folder, err := s.eng.GetFolder(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": folder.Name + ".zip"}))
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	level := s.opts.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	stats, err := s.eng.ArchiveFolder(r.Context(), owner, folder.ID, zw)
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("owner_id", owner).
			Str("folder_id", folder.ID).
			Msg("Folder archive aborted")
		panic(http.ErrAbortHandler)
	}

	s.logger.Debug().
		Str("folder_id", folder.ID).
		Int("files", stats.Files).
		Int("skipped", stats.Skipped).
		Int64("bytes", stats.Bytes).
		Msg("Folder archive sent")
}
