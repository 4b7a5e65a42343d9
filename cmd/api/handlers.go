package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stackitcloud-oss/ragctl/engine/confluence"
	"github.com/stackitcloud-oss/ragctl/engine/domain"
	"github.com/stackitcloud-oss/ragctl/engine/pieces"
	"github.com/stackitcloud-oss/ragctl/pkg/metrics"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleUploadSource accepts a multipart form carrying type, name, an
// optional file and optional JSON-encoded kwargs, and starts a background
// ingest job for it.
func (a *app) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(int64(a.cfg.UploadMaxSize.Bytes())); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart form: "+err.Error())
		return
	}

	src := domain.Source{
		Type: r.FormValue("type"),
		Name: r.FormValue("name"),
	}
	if raw := r.FormValue("kwargs"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &src.Kwargs); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "malformed kwargs: "+err.Error())
			return
		}
	}

	var file io.Reader
	var filename string
	if f, header, err := r.FormFile("file"); err == nil {
		defer f.Close()
		file = f
		filename = header.Filename
	}

	err := a.ingestor.UploadSource(r.Context(), src, file, filename)
	switch {
	case err == nil:
		metrics.SourceUploadsTotal.WithLabelValues(src.Type, "accepted").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
	case errors.Is(err, domain.ErrSourceBusy):
		writeError(w, http.StatusConflict, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func isValidationError(err error) bool {
	var verr *domain.ValidationError
	return errors.As(err, &verr)
}

// handleLoadConfluence triggers a bulk load of every configured Confluence
// space. 501 if none are configured, 423 if a previous load is still
// running, 200 once the background loads have started.
func (a *app) handleLoadConfluence(w http.ResponseWriter, r *http.Request) {
	err := a.confl.LoadAll(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
	case errors.Is(err, confluence.ErrUnconfigured):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, confluence.ErrAlreadyRunning):
		writeError(w, http.StatusLocked, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleDeleteDocument removes a source by its qualified name: its
// vector-store pieces and its blob, if any. Its status entry is kept and
// overwritten as ERROR with detail "deleted".
func (a *app) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing document id")
		return
	}

	if err := a.vectors.Delete(r.Context(), map[string]string{domain.MetaKeySource: id}, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = a.blobs.Delete(r.Context(), id)
	_ = a.status.Upsert(r.Context(), domain.UploadStatus{SourceName: id, Status: domain.StatusError, Detail: "deleted", UpdatedAt: time.Now()})

	w.WriteHeader(http.StatusNoContent)
}

// handleDocumentReference streams the originally uploaded file for id back
// to the caller, if one was stored.
func (a *app) handleDocumentReference(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rc, entry, err := a.blobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no stored reference for "+id)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", entry.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// handleAllDocumentsStatus returns the current status of every tracked
// source.
func (a *app) handleAllDocumentsStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.status.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	SessionID string                    `json:"session_id"`
	Context   []domain.InformationPiece `json:"context"`
}

// handleChat retrieves supporting context for the caller's message. Answer
// generation itself is out of scope: the caller (or an upstream gateway) is
// expected to feed this context to an LLM of its own choosing.
func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}

	hits, err := a.retrv.Search(r.Context(), req.Message, nil)
	if err != nil {
		if errors.Is(err, domain.ErrNoDocuments) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{SessionID: sessionID, Context: hits})
}

type uploadPiecesRequest struct {
	InformationPieces   []domain.InformationPiece `json:"information_pieces"`
	UseLatestCollection bool                       `json:"use_latest_collection"`
}

// handleUploadPieces writes already-chunked pieces directly to the vector
// store, bypassing extraction/chunking/enhancement.
func (a *app) handleUploadPieces(w http.ResponseWriter, r *http.Request) {
	var req uploadPiecesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
		return
	}

	err := a.uploader.Upload(r.Context(), pieces.UploadRequest{
		Pieces:              req.InformationPieces,
		UseLatestCollection: req.UseLatestCollection,
	})
	switch {
	case err == nil:
		metrics.PiecesIngestedTotal.WithLabelValues("direct").Add(float64(len(req.InformationPieces)))
		writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
	case errors.Is(err, pieces.ErrInvalidPieceSchema):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type removePiecesRequest struct {
	Metadata            []domain.KeyValuePair `json:"metadata"`
	UseLatestCollection bool                  `json:"use_latest_collection"`
}

// handleRemovePieces deletes pieces matching a metadata filter.
func (a *app) handleRemovePieces(w http.ResponseWriter, r *http.Request) {
	var req removePiecesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
		return
	}

	err := a.remover.Delete(r.Context(), pieces.DeleteRequest{
		Metadata:            req.Metadata,
		UseLatestCollection: req.UseLatestCollection,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, pieces.ErrNoMetadataFilter), errors.Is(err, pieces.ErrInvalidFilterValue):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pieces.ErrRemovalFailed):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleCollectionDuplicate creates a new snapshot collection seeded from
// the production alias's current collection.
func (a *app) handleCollectionDuplicate(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.manager.Duplicate(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"snapshot": snapshot})
	case errors.Is(err, domain.ErrNoSuchCollection), errors.Is(err, domain.ErrAmbiguousAlias):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleCollectionSwitch repoints the production alias at the most recent
// snapshot and evicts anything beyond the retention window.
func (a *app) handleCollectionSwitch(w http.ResponseWriter, r *http.Request) {
	err := a.manager.Switch(r.Context())
	switch {
	case err == nil:
		metrics.CollectionSwitchesTotal.Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "switched"})
	case errors.Is(err, domain.ErrNoSuchCollection), errors.Is(err, domain.ErrAmbiguousAlias):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleEvaluate acknowledges an evaluation request. Running the actual
// answer-quality evaluation requires the LLM answer generator, which this
// service does not implement; callers run evaluation against the same
// retrieved context /chat/{session_id} exposes.
func (a *app) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"status": "accepted"})
}

func (a *app) metricsHandler() http.Handler {
	return metrics.Handler()
}
