package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/guard"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/storage"
	"github.com/querylens/querylens/internal/upload"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 1 << 20

func handleUpload(cfg config.UploadConfig, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Uploads == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOAD_NOT_CONFIGURED", "upload is not configured", false, nil)
		return
	}
	if cfg.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "upload exceeds the size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "invalid multipart body", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "No file provided", false, nil)
		return
	}
	defer file.Close()

	result, err := deps.Uploads.Import(r.Context(), file)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrEmptyFile):
			writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_FILE", upload.ErrEmptyFile.Error(), false, nil)
		case errors.Is(err, upload.ErrInvalidCSV):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CSV", err.Error(), false, nil)
		default:
			if deps.Logger != nil {
				deps.Logger.ErrorContext(r.Context(), "upload failed", "file", header.Filename, "error", err)
			}
			writeError(r.Context(), w, http.StatusInternalServerError, "UPLOAD_FAILED", "Failed to process CSV file", true, map[string]any{"details": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func handleDownload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archive == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", upload.ErrArchiveDisabled.Error(), false, nil)
		return
	}
	artifact, err := storage.ParseArtifact(r.PathValue("artifact"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARTIFACT", err.Error(), false, nil)
		return
	}

	body, info, err := deps.Archive.Open(r.Context(), r.PathValue("table"), artifact)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrArchiveDisabled):
			writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", err.Error(), false, nil)
		case errors.Is(err, storage.ErrObjectNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "artifact not found", false, nil)
		case errors.Is(err, storage.ErrInvalidKey):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TABLE", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusBadGateway, "ARCHIVE_READ_FAILED", "failed to read artifact", true, map[string]any{"details": err.Error()})
		}
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	if rows := info.Metadata[storage.MetaRowCount]; rows != "" {
		w.Header().Set("X-Row-Count", rows)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// handleSnapshotQuery runs an authorized statement against the archived
// parquet snapshot of an upload instead of the live table.
func handleSnapshotQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Snapshots == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", upload.ErrArchiveDisabled.Error(), false, nil)
		return
	}
	var req runRequest
	if !decodeRequest(w, r, &req, "invalid snapshot query request body") {
		return
	}
	statement, err := guard.Authorize(req.SQL)
	observability.ObserveGuardDecision(err == nil)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}

	results, err := deps.Snapshots.Execute(r.Context(), r.PathValue("table"), statement)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidKey):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TABLE", err.Error(), false, nil)
		case errors.Is(err, upload.ErrArchiveDisabled):
			writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", err.Error(), false, nil)
		default:
			writePipelineError(r.Context(), w, err)
		}
		return
	}
	writeResultSet(w, results)
}
