package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pithecene-io/tessera/adapter"
	"github.com/pithecene-io/tessera/digest"
	"github.com/pithecene-io/tessera/iox"
	"github.com/pithecene-io/tessera/log"
	"github.com/pithecene-io/tessera/metrics"
	"github.com/pithecene-io/tessera/store"
	"github.com/pithecene-io/tessera/types"
	"github.com/pithecene-io/tessera/wire"
)

// DefaultMaxUnitBytes bounds an upload request body.
const DefaultMaxUnitBytes = 64 << 20

// DefaultPublishTimeout bounds one finalize notification.
const DefaultPublishTimeout = 30 * time.Second

// Rejection reasons recorded in metrics.
const (
	reasonMissingFilename = "missing_filename"
	reasonInvalidIndex    = "invalid_index"
	reasonInvalidArtifact = "invalid_artifact"
	reasonEncoding        = "encoding"
	reasonTooLarge        = "too_large"
	reasonFingerprint     = "fingerprint"
)

// Options configures a Handler.
type Options struct {
	// MaxUnitBytes bounds the encoded body of one upload (default 64 MiB).
	MaxUnitBytes int64
	// Adapter receives a notification after every finalize. Optional.
	Adapter adapter.Adapter
	// Ledger adds the last finalize outcome to status responses. Optional.
	Ledger         *store.Ledger
	PublishTimeout time.Duration
	Logger         *log.Logger
	Metrics        *metrics.Collector
	Now            func() time.Time
}

// Handler serves the upload protocol over a ChunkStore.
type Handler struct {
	store   *store.ChunkStore
	opts    Options
	logger  *log.Logger
	publish sync.WaitGroup
	mux     *http.ServeMux
}

// NewHandler creates a handler and registers its routes.
func NewHandler(st *store.ChunkStore, opts Options) *Handler {
	if opts.MaxUnitBytes <= 0 {
		opts.MaxUnitBytes = DefaultMaxUnitBytes
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Handler{
		store:  st,
		opts:   opts,
		logger: opts.Logger,
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /upload", h.HandleUpload)
	h.mux.HandleFunc("POST /finalize", h.HandleFinalize)
	h.mux.HandleFunc("GET /artifacts/{id}", h.HandleStatus)
	h.mux.HandleFunc("GET /artifacts/{id}/content", h.HandleContent)
	h.mux.HandleFunc("GET /metrics", h.HandleMetrics)
	h.mux.HandleFunc("GET /healthz", h.HandleHealth)
	return h
}

// ServeHTTP dispatches to the registered routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	h.mux.ServeHTTP(rec, r)
	h.logger.Debug("request served", map[string]any{
		"method":   r.Method,
		"path":     r.URL.Path,
		"status":   rec.status,
		"duration": time.Since(start).String(),
	})
}

// Close waits for pending finalize notifications and closes the adapter.
func (h *Handler) Close() error {
	h.publish.Wait()
	if h.opts.Adapter == nil {
		return nil
	}
	return h.opts.Adapter.Close()
}

// HandleUpload stores one unit. Chunk-Index and Original-Filename are
// required; nothing is written when either is missing or invalid.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	artifactID := r.Header.Get(wire.HeaderOriginalFilename)
	if artifactID == "" {
		h.reject(w, http.StatusBadRequest, reasonMissingFilename, wire.ErrMissingFilename.Error())
		return
	}
	index, err := wire.ParseIndex(r.Header.Get(wire.HeaderChunkIndex))
	if err != nil {
		h.reject(w, http.StatusBadRequest, reasonInvalidIndex, err.Error())
		return
	}
	if err := types.ValidateArtifactID(artifactID); err != nil {
		h.reject(w, http.StatusBadRequest, reasonInvalidArtifact, err.Error())
		return
	}
	enc, err := wire.ParseEncoding(r.Header.Get(wire.HeaderContentEncoding))
	if err != nil {
		h.reject(w, http.StatusBadRequest, reasonEncoding, err.Error())
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxUnitBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, reasonTooLarge,
				fmt.Sprintf("unit body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.sendError(w, http.StatusBadRequest, wire.KindMalformed, "read unit body: %v", err)
		return
	}

	rawSize := len(payload)
	if v := r.Header.Get(wire.HeaderRawSize); v != "" {
		rawSize, err = strconv.Atoi(v)
		if err != nil {
			h.reject(w, http.StatusBadRequest, reasonEncoding, fmt.Sprintf("invalid raw size %q", v))
			return
		}
	} else if enc != wire.EncodingIdentity {
		h.reject(w, http.StatusBadRequest, reasonEncoding,
			fmt.Sprintf("%s requires %s", wire.HeaderContentEncoding, wire.HeaderRawSize))
		return
	}
	data, err := wire.Decode(payload, enc, rawSize)
	if err != nil {
		h.reject(w, http.StatusBadRequest, reasonEncoding, err.Error())
		return
	}

	if v := r.Header.Get(wire.HeaderFingerprint); v != "" {
		want, err := digest.Parse(v)
		if err != nil {
			h.reject(w, http.StatusBadRequest, reasonFingerprint, err.Error())
			return
		}
		if got := digest.Unit(data); got != want {
			h.opts.Metrics.IncUnitRejected(reasonFingerprint)
			h.logger.WithArtifact(artifactID).Warn("unit fingerprint mismatch", map[string]any{
				"index":    index,
				"expected": want.Short(),
				"actual":   got.Short(),
			})
			h.sendError(w, http.StatusUnprocessableEntity, wire.KindIntegrity,
				"unit %d fingerprint mismatch", index)
			return
		}
	}

	rec, err := h.store.PutUnit(r.Context(), store.UnitWrite{
		ArtifactID: artifactID,
		Index:      index,
		Data:       data,
		Encoding:   enc,
		SessionID:  r.Header.Get(wire.HeaderSession),
	})
	if err != nil {
		if errors.Is(err, store.ErrMissingArtifactID) || errors.Is(err, store.ErrInvalidArtifactID) ||
			errors.Is(err, store.ErrMissingIndex) {
			h.reject(w, http.StatusBadRequest, reasonInvalidArtifact, err.Error())
			return
		}
		h.sendError(w, http.StatusInternalServerError, wire.KindIO, "failed to save chunk: %v", err)
		return
	}

	h.writeJSON(w, http.StatusOK, wire.Response{
		Message:     fmt.Sprintf("chunk %d uploaded successfully", index),
		ArtifactID:  artifactID,
		Index:       &rec.Index,
		Bytes:       rec.Size,
		Fingerprint: rec.Fingerprint,
	})
}

// HandleFinalize reassembles the artifact named by Original-Filename.
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	artifactID := r.Header.Get(wire.HeaderOriginalFilename)
	if artifactID == "" {
		h.sendError(w, http.StatusBadRequest, wire.KindMalformed, "%s", wire.ErrMissingFilename.Error())
		return
	}

	result, err := h.store.Finalize(r.Context(), artifactID)
	event := adapter.NewFinalizedEvent(artifactID, adapter.OutcomeComplete, h.opts.Now())
	event.SessionID = r.Header.Get(wire.HeaderSession)

	var mismatch *store.SizeMismatchError
	switch {
	case err == nil:
		event.Units = result.Units
		event.Bytes = result.Bytes
		event.Expected = result.Bytes
		event.Fingerprint = result.Fingerprint
		event.StoragePath = store.AssembledPath(artifactID)
		h.notify(event)
		h.writeJSON(w, http.StatusOK, wire.Response{
			Message:     "file assembled successfully",
			ArtifactID:  artifactID,
			Units:       result.Units,
			Bytes:       result.Bytes,
			Fingerprint: result.Fingerprint,
		})
	case errors.Is(err, store.ErrMissingArtifactID), errors.Is(err, store.ErrInvalidArtifactID):
		h.sendError(w, http.StatusBadRequest, wire.KindMalformed, "%v", err)
	case errors.Is(err, store.ErrNoUnits):
		event.Outcome = adapter.OutcomeNoUnits
		event.Error = err.Error()
		h.notify(event)
		h.sendError(w, http.StatusNotFound, wire.KindNoUnits, "no units found")
	case errors.As(err, &mismatch):
		event.Outcome = adapter.OutcomeSizeMismatch
		event.Bytes = mismatch.Written
		event.Expected = mismatch.Expected
		event.Error = err.Error()
		h.notify(event)
		h.sendError(w, http.StatusConflict, wire.KindSizeMismatch, "%v", err)
	default:
		event.Outcome = adapter.OutcomeError
		event.Error = err.Error()
		h.notify(event)
		h.sendError(w, http.StatusInternalServerError, wire.KindIO, "finalize failed: %v", err)
	}
}

// statusResponse extends the store status with the last ledger entry.
type statusResponse struct {
	*store.ArtifactStatus
	LastFinalize *store.LedgerEntry `json:"last_finalize,omitempty"`
}

// HandleStatus reports stored units and the completion state.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	artifactID := r.PathValue("id")
	status, err := h.store.Status(r.Context(), artifactID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}

	resp := statusResponse{ArtifactStatus: status}
	if h.opts.Ledger != nil {
		entry, err := h.opts.Ledger.Latest(r.Context(), artifactID)
		switch {
		case err == nil:
			resp.LastFinalize = entry
		case !errors.Is(err, store.ErrNoLedgerEntry):
			h.logger.WithArtifact(artifactID).Warn("ledger read failed", map[string]any{"error": err.Error()})
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleContent streams a finalized artifact. Artifacts that never
// passed the integrity check are not served.
func (h *Handler) HandleContent(w http.ResponseWriter, r *http.Request) {
	artifactID := r.PathValue("id")
	rc, marker, err := h.store.Open(r.Context(), artifactID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	defer iox.DiscardClose(rc)

	w.Header().Set(wire.HeaderContentType, wire.ContentTypeOctetStream)
	w.Header().Set(wire.HeaderContentDisposition, wire.ContentDisposition(artifactID))
	w.Header().Set("Content-Length", strconv.FormatInt(marker.Bytes, 10))
	w.Header().Set(HeaderArtifactFingerprint, marker.Fingerprint)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WithArtifact(artifactID).Warn("content stream interrupted", map[string]any{"error": err.Error()})
	}
}

// HandleMetrics returns the collector snapshot.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.opts.Metrics.Snapshot())
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": types.Version})
}

// HeaderArtifactFingerprint carries the assembled fingerprint on content responses.
const HeaderArtifactFingerprint = "X-Artifact-Fingerprint"

// notify publishes event in the background. Close waits for it.
func (h *Handler) notify(event *adapter.ArtifactFinalizedEvent) {
	if h.opts.Adapter == nil {
		return
	}
	h.publish.Add(1)
	go func() {
		defer h.publish.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.PublishTimeout)
		defer cancel()
		if err := h.opts.Adapter.Publish(ctx, event); err != nil {
			h.logger.WithArtifact(event.ArtifactID).Warn("finalize notification failed", map[string]any{
				"outcome": event.Outcome,
				"error":   err.Error(),
			})
		}
	}()
}

func (h *Handler) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrMissingArtifactID), errors.Is(err, store.ErrInvalidArtifactID):
		h.sendError(w, http.StatusBadRequest, wire.KindMalformed, "%v", err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotFinalized):
		h.sendError(w, http.StatusNotFound, "", "%v", err)
	default:
		h.sendError(w, http.StatusInternalServerError, wire.KindIO, "%v", err)
	}
}

// reject answers a malformed upload and counts it.
func (h *Handler) reject(w http.ResponseWriter, status int, reason, message string) {
	h.opts.Metrics.IncUnitRejected(reason)
	h.sendError(w, status, wire.KindMalformed, "%s", message)
}

func (h *Handler) sendError(w http.ResponseWriter, status int, kind, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", map[string]any{"status": status, "error": message})
	} else {
		h.logger.Warn("request rejected", map[string]any{"status": status, "error": message})
	}
	h.writeJSON(w, status, wire.Response{Error: message, Kind: kind})
}

// writeJSON encodes value as JSON into w. Encoding failures mean the
// client went away; they are logged and otherwise ignored.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set(wire.HeaderContentType, "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.logger.Warn("writing JSON response", map[string]any{"error": err.Error(), "status": status})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
