package secretstore

import (
	"context"
	"sort"
)

// Stage is a label attached to a secret version
type Stage string

const (
	StageCurrent  Stage = "AWSCURRENT"
	StagePending  Stage = "AWSPENDING"
	StagePrevious Stage = "AWSPREVIOUS"
)

// Lookup is the result of reading a version: either Found with its payload, or
// not found. A missing version is an expected outcome, not an error.
type Lookup struct {
	Payload   Payload
	VersionID string
	Found     bool
}

// Found builds a Lookup for an existing version
func Found(payload Payload, versionID string) Lookup {
	return Lookup{Payload: payload, VersionID: versionID, Found: true}
}

// NotFound builds a Lookup for a missing version
func NotFound() Lookup {
	return Lookup{}
}

// Store is the versioned secret store consumed by the rotation engine.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the version labeled stage. When versionID is non-empty the
	// version must also carry that id. A missing secret, version or label is
	// reported as NotFound, never as an error.
	Get(ctx context.Context, secretID string, stage Stage, versionID string) (Lookup, error)

	// Put writes payload as a new version identified by token and labels it
	// with stage. Writing the same token twice must not create a second version.
	Put(ctx context.Context, secretID, token string, payload Payload, stage Stage) error

	// DescribeStages returns the stage labels held by each version id.
	DescribeStages(ctx context.Context, secretID string) (map[string][]Stage, error)

	// MoveStage moves stage from fromVersion (may be empty) to toVersion.
	MoveStage(ctx context.Context, secretID string, stage Stage, toVersion, fromVersion string) error
}

// VersionWithStage returns the version id holding stage, if any
func VersionWithStage(stages map[string][]Stage, stage Stage) (string, bool) {
	ids := make([]string, 0, len(stages))
	for id := range stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, s := range stages[id] {
			if s == stage {
				return id, true
			}
		}
	}
	return "", false
}

// CurrentVersion returns the version id labeled AWSCURRENT, if any
func CurrentVersion(stages map[string][]Stage) (string, bool) {
	return VersionWithStage(stages, StageCurrent)
}
