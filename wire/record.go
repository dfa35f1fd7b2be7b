package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tessera/types"
)

// RecordType discriminates persisted records.
type RecordType string

const (
	// RecordTypeUnit marks a stored-unit sidecar record.
	RecordTypeUnit RecordType = "unit"
	// RecordTypeFinalize marks an artifact completion marker.
	RecordTypeFinalize RecordType = "finalize"
)

// UnitRecord describes one stored unit. It is written next to the unit
// bytes, after them, so a record always describes bytes that are already
// durable.
type UnitRecord struct {
	Type        RecordType `msgpack:"type" json:"type"`
	Version     string     `msgpack:"version" json:"version"`
	ArtifactID  string     `msgpack:"artifact_id" json:"artifact_id"`
	Index       int64      `msgpack:"index" json:"index"`
	Size        int64      `msgpack:"size" json:"size"`
	Fingerprint string     `msgpack:"fingerprint" json:"fingerprint"`
	Encoding    Encoding   `msgpack:"encoding" json:"encoding"`
	SessionID   string     `msgpack:"session_id,omitempty" json:"session_id,omitempty"`
	ArrivedAt   time.Time  `msgpack:"arrived_at" json:"arrived_at"`
}

// FinalizeRecord marks an artifact as complete. It exists only for
// artifacts whose assembled length passed the integrity check.
type FinalizeRecord struct {
	Type        RecordType `msgpack:"type" json:"type"`
	Version     string     `msgpack:"version" json:"version"`
	ArtifactID  string     `msgpack:"artifact_id" json:"artifact_id"`
	Units       int        `msgpack:"units" json:"units"`
	Bytes       int64      `msgpack:"bytes" json:"bytes"`
	Fingerprint string     `msgpack:"fingerprint" json:"fingerprint"`
	FinalizedAt time.Time  `msgpack:"finalized_at" json:"finalized_at"`
}

// RecordErrorKind classifies record decoding errors.
type RecordErrorKind int

const (
	// RecordErrorDecode indicates malformed msgpack.
	RecordErrorDecode RecordErrorKind = iota
	// RecordErrorType indicates a record of the wrong type.
	RecordErrorType
)

// RecordError is returned when a persisted record cannot be used.
type RecordError struct {
	Kind RecordErrorKind
	Msg  string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsRecordError reports whether err is a *RecordError.
func IsRecordError(err error) bool {
	var recErr *RecordError
	return errors.As(err, &recErr)
}

// NewUnitRecord builds a unit record stamped with the protocol version.
func NewUnitRecord(artifactID string, index, size int64, fingerprint string, enc Encoding, arrivedAt time.Time) *UnitRecord {
	return &UnitRecord{
		Type:        RecordTypeUnit,
		Version:     types.ProtocolVersion,
		ArtifactID:  artifactID,
		Index:       index,
		Size:        size,
		Fingerprint: fingerprint,
		Encoding:    enc,
		ArrivedAt:   arrivedAt.UTC(),
	}
}

// MarshalRecord encodes a record as msgpack.
func MarshalRecord(record any) ([]byte, error) {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// recordTypeProbe reads the discriminant without a full decode.
type recordTypeProbe struct {
	Type RecordType `msgpack:"type" json:"type"`
}

func decodeRecord(data []byte, want RecordType, out any) error {
	var probe recordTypeProbe
	if err := msgpack.Unmarshal(data, &probe); err != nil {
		return &RecordError{Kind: RecordErrorDecode, Msg: "failed to decode record type", Err: err}
	}
	if probe.Type != want {
		return &RecordError{
			Kind: RecordErrorType,
			Msg:  fmt.Sprintf("record type %q, want %q", probe.Type, want),
		}
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return &RecordError{Kind: RecordErrorDecode, Msg: fmt.Sprintf("failed to decode %s record", want), Err: err}
	}
	return nil
}

// UnmarshalUnitRecord decodes a unit record.
func UnmarshalUnitRecord(data []byte) (*UnitRecord, error) {
	var rec UnitRecord
	if err := decodeRecord(data, RecordTypeUnit, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UnmarshalFinalizeRecord decodes a finalize record.
func UnmarshalFinalizeRecord(data []byte) (*FinalizeRecord, error) {
	var rec FinalizeRecord
	if err := decodeRecord(data, RecordTypeFinalize, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
