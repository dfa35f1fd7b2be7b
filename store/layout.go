package store

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Object layout:
//
//	artifacts/<id>/units/<index>.bin   unit bytes
//	artifacts/<id>/units/<index>.rec   msgpack UnitRecord
//	artifacts/<id>/assembled           reassembled artifact
//	artifacts/<id>/complete.rec        msgpack FinalizeRecord
//
// Indices are zero-padded so that lexical listings follow index order.
const (
	artifactsRoot = "artifacts"
	unitsDir      = "units"
	unitDataExt   = ".bin"
	unitRecordExt = ".rec"
	assembledName = "assembled"
	completeName  = "complete.rec"
)

func unitsPrefix(artifactID string) string {
	return path.Join(artifactsRoot, artifactID, unitsDir) + "/"
}

func unitBase(artifactID string, index int64) string {
	return path.Join(artifactsRoot, artifactID, unitsDir, fmt.Sprintf("%020d", index))
}

func unitDataPath(artifactID string, index int64) string {
	return unitBase(artifactID, index) + unitDataExt
}

func unitRecordPath(artifactID string, index int64) string {
	return unitBase(artifactID, index) + unitRecordExt
}

func assembledPath(artifactID string) string {
	return path.Join(artifactsRoot, artifactID, assembledName)
}

// AssembledPath returns the storage path of a finalized artifact.
func AssembledPath(artifactID string) string {
	return assembledPath(artifactID)
}

func completePath(artifactID string) string {
	return path.Join(artifactsRoot, artifactID, completeName)
}

// parseRecordPath extracts the unit index from a record path.
// ok is false for paths that are not unit records.
func parseRecordPath(p string) (index int64, ok bool) {
	if !strings.HasSuffix(p, unitRecordExt) || path.Base(path.Dir(p)) != unitsDir {
		return 0, false
	}
	name := strings.TrimSuffix(path.Base(p), unitRecordExt)
	index, err := strconv.ParseInt(name, 10, 64)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

// parseArtifactPath extracts the artifact identifier from any object path
// under the artifacts root.
func parseArtifactPath(p string) (string, bool) {
	rest, ok := strings.CutPrefix(p, artifactsRoot+"/")
	if !ok {
		return "", false
	}
	id, _, found := strings.Cut(rest, "/")
	if !found || id == "" {
		return "", false
	}
	return id, true
}
