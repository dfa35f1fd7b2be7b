package reader

import "context"

// Reader abstracts read-only data access for CLI commands.
// Implementations must not mutate stored state.
type Reader interface {
	InspectArtifact(ctx context.Context, artifactID string) (*InspectArtifactResponse, error)
	ListArtifacts(ctx context.Context) ([]ListArtifactItem, error)
	StatsFinalize(ctx context.Context) (*FinalizeStats, error)
}

var _ Reader = (*StoreReader)(nil)
