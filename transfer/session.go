package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tessera/chunker"
	"github.com/pithecene-io/tessera/digest"
	"github.com/pithecene-io/tessera/log"
	"github.com/pithecene-io/tessera/metrics"
	"github.com/pithecene-io/tessera/types"
)

// Client is the transport a Session uploads through.
type Client interface {
	Uploader
	Finalizer
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// ArtifactID names the artifact on the server.
	ArtifactID string
	// SessionID is generated when empty.
	SessionID   string
	// Boundaries is the content-defined chunk plan of the source. Units
	// are sliced at the adaptive size but never cross a boundary. Empty
	// treats the whole source as one chunk.
	Boundaries  []chunker.Range
	Size        SizeConfig
	Coordinator CoordinatorConfig
	Logger      *log.Logger
	Metrics     *metrics.Collector
}

// Session uploads one artifact and finalizes it. A Session is used once.
type Session struct {
	meta    types.SessionMeta
	config  SessionConfig
	client  Client
	state   *State
	coord   *Coordinator
	logger  *log.Logger
	aborted atomic.Bool
	used    atomic.Bool
}

// NewSession validates cfg and prepares the transfer state.
func NewSession(cfg SessionConfig, client Client) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	meta := types.SessionMeta{SessionID: cfg.SessionID, ArtifactID: cfg.ArtifactID}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	controller, err := NewSizeController(cfg.Size)
	if err != nil {
		return nil, err
	}
	state := NewState(controller)

	logger := cfg.Logger.WithSession(&meta)
	coordCfg := cfg.Coordinator
	coordCfg.Logger = logger
	coordCfg.Metrics = cfg.Metrics
	coord, err := NewCoordinator(coordCfg, client, state)
	if err != nil {
		return nil, err
	}

	return &Session{
		meta:   meta,
		config: cfg,
		client: client,
		state:  state,
		coord:  coord,
		logger: logger,
	}, nil
}

// Meta returns the session identity.
func (s *Session) Meta() types.SessionMeta {
	return s.meta
}

// State returns the live transfer state.
func (s *Session) State() *State {
	return s.state
}

// Abort stops slicing new units. Units already handed to workers finish
// their retry sequence; finalize is not issued.
func (s *Session) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		s.logger.Warn("session aborted", nil)
	}
}

// Upload slices src (size bytes) into units, uploads them and, when every
// unit succeeded, finalizes the artifact. The returned error is non-nil
// only when the session could not run (reused session, unreadable
// source); unit and finalize failures are reported in the result.
func (s *Session) Upload(ctx context.Context, src io.ReaderAt, size int64) (*types.SessionResult, error) {
	if !s.used.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: session %s already used", ErrInvalidConfig, s.meta.SessionID)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative source size %d", ErrInvalidConfig, size)
	}
	if len(s.config.Boundaries) > 0 {
		if err := chunker.ValidateRanges(s.config.Boundaries, int(size)); err != nil {
			return nil, fmt.Errorf("%w: chunk plan: %v", ErrInvalidConfig, err)
		}
	}

	start := time.Now()
	s.config.Metrics.IncSessionStarted()
	initial := s.state.Controller().Start(size)
	s.logger.Info("session started", map[string]any{
		"total_bytes": size,
		"unit_size":   initial,
		"parallelism": s.coord.config.Parallelism,
		"chunks":      len(s.config.Boundaries),
	})

	units := make(chan types.TransferUnit)
	hasher := digest.New(digest.DomainArtifact)
	var (
		chunks  []types.ChunkResult
		planErr error
	)
	planDone := make(chan struct{})
	go func() {
		defer close(planDone)
		defer close(units)
		chunks, planErr = s.plan(ctx, src, size, units, hasher)
	}()

	unitResults := s.coord.Run(ctx, units)
	<-planDone

	result := &types.SessionResult{
		SessionID:   s.meta.SessionID,
		ArtifactID:  s.meta.ArtifactID,
		TotalBytes:  size,
		Units:       len(unitResults),
		FailedUnits: []int64{},
		FinalSize:   s.state.Controller().Size(),
		Chunks:      chunks,
		UnitResults: unitResults,
	}
	for _, r := range unitResults {
		switch r.Status {
		case types.UnitStatusUploaded:
			result.Uploaded++
		case types.UnitStatusSkipped:
			result.Skipped++
		case types.UnitStatusFailed:
			result.FailedUnits = append(result.FailedUnits, r.Index)
		}
	}

	if planErr != nil {
		result.Status = types.SessionAborted
		result.Duration = time.Since(start)
		s.finish(result)
		return result, planErr
	}

	switch {
	case s.aborted.Load() || ctx.Err() != nil:
		result.Status = types.SessionAborted
	case len(result.FailedUnits) > 0:
		result.Status = types.SessionPartial
		s.logger.Error("units failed, finalize skipped", map[string]any{
			"failed_units": result.FailedUnits,
		})
	default:
		result.Finalize = s.finalize(ctx, size, digest.FromHash(hasher))
		if result.Finalize.OK {
			result.Status = types.SessionComplete
		} else {
			result.Status = types.SessionFinalizeFailed
		}
	}

	result.Duration = time.Since(start)
	s.finish(result)
	return result, nil
}

func (s *Session) finish(result *types.SessionResult) {
	s.config.Metrics.RecordSessionOutcome(string(result.Status))
	s.logger.Info("session finished", map[string]any{
		"status":       string(result.Status),
		"units":        result.Units,
		"uploaded":     result.Uploaded,
		"failed_units": result.FailedUnits,
		"duration":     result.Duration.String(),
	})
}

// plan slices src in order, chunk by chunk. Each unit's length is the
// controller size at slice time, cut short at the end of its chunk. Every
// sliced byte is fed to hasher so the local artifact fingerprint is known
// when finalize returns.
func (s *Session) plan(ctx context.Context, src io.ReaderAt, size int64, units chan<- types.TransferUnit, hasher io.Writer) ([]types.ChunkResult, error) {
	if size == 0 {
		// An empty source still yields one (skipped) unit so the result
		// records it.
		select {
		case units <- types.TransferUnit{Index: 0}:
		case <-ctx.Done():
		}
		return nil, nil
	}

	bounds := s.config.Boundaries
	if len(bounds) == 0 {
		bounds = []chunker.Range{{Start: 0, End: int(size)}}
	}

	chunks := make([]types.ChunkResult, 0, len(bounds))
	var index int64
	for ci, r := range bounds {
		chunkHash := digest.New(digest.DomainChunk)
		first := index
		for offset, end := int64(r.Start), int64(r.End); offset < end; index++ {
			if s.aborted.Load() || ctx.Err() != nil {
				return chunks, nil
			}
			n := min(int64(s.state.Controller().Size()), end-offset)
			data := make([]byte, n)
			read, err := src.ReadAt(data, offset)
			if int64(read) < n {
				if err == nil || errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return chunks, fmt.Errorf("read source at offset %d: %w", offset, err)
			}
			_, _ = hasher.Write(data)
			_, _ = chunkHash.Write(data)

			select {
			case units <- types.TransferUnit{Index: index, Offset: offset, Data: data, Chunk: ci}:
			case <-ctx.Done():
				return chunks, nil
			}
			offset += n
		}
		chunks = append(chunks, types.ChunkResult{
			Index:       ci,
			Start:       int64(r.Start),
			End:         int64(r.End),
			FirstUnit:   first,
			Units:       int(index - first),
			Fingerprint: digest.FromHash(chunkHash).String(),
		})
	}
	return chunks, nil
}

// finalize issues the single finalize request and checks the reply
// against the local source.
func (s *Session) finalize(ctx context.Context, size int64, local digest.Fingerprint) types.FinalizeStatus {
	status := types.FinalizeStatus{Attempted: true}

	reply, err := s.client.Finalize(ctx)
	if err != nil {
		status.Message = err.Error()
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			status.Code = statusErr.Code
		}
		s.logger.Error("finalize failed", map[string]any{"error": err.Error(), "code": status.Code})
		return status
	}

	status.Code = http.StatusOK
	status.Message = reply.Message
	status.Bytes = reply.Bytes
	status.Fingerprint = reply.Fingerprint

	if reply.Bytes != size {
		status.Message = fmt.Sprintf("%v: server assembled %d bytes, source has %d", ErrIntegrity, reply.Bytes, size)
		s.logger.Error("assembled size differs from source", map[string]any{"server": reply.Bytes, "local": size})
		return status
	}
	if reply.Fingerprint != "" && reply.Fingerprint != local.String() {
		status.Message = fmt.Sprintf("%v: fingerprint %s, source %s", ErrIntegrity, reply.Fingerprint, local.String())
		s.logger.Error("assembled fingerprint differs from source", map[string]any{
			"server": reply.Fingerprint,
			"local":  local.String(),
		})
		return status
	}

	status.OK = true
	s.logger.Info("artifact finalized", map[string]any{
		"units":       reply.Units,
		"bytes":       reply.Bytes,
		"fingerprint": reply.Fingerprint,
	})
	return status
}
