// Package types defines core domain types shared by the tessera client,
// server and CLI.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"strings"
)

// SessionMeta identifies one upload session.
// A session uploads exactly one artifact and is discarded after finalize
// or abort.
type SessionMeta struct {
	// SessionID is a unique identifier for the session (uuid).
	SessionID string
	// ArtifactID is the stable artifact identifier, normally the base name
	// of the uploaded file.
	ArtifactID string
}

// Validate checks session identity rules:
//   - session_id is non-empty
//   - artifact_id is a valid artifact identifier
func (m *SessionMeta) Validate() error {
	if m.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	return ValidateArtifactID(m.ArtifactID)
}

// ValidateArtifactID rejects identifiers that cannot be used as a single
// storage path segment.
func ValidateArtifactID(id string) error {
	switch {
	case id == "":
		return errors.New("artifact_id must be non-empty")
	case id == "." || id == "..":
		return errors.New("artifact_id must not be a relative path element")
	case strings.ContainsAny(id, "/\\"):
		return errors.New("artifact_id must not contain path separators")
	case strings.ContainsRune(id, 0):
		return errors.New("artifact_id must not contain NUL bytes")
	}
	return nil
}
