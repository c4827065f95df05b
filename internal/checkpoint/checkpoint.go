// Package checkpoint provides diagnostics over the engine's
// checkpoint files: loading, hash verification, and a human-readable
// summary, without duplicating the hashing logic that lives alongside
// the runtime.Checkpoint struct it operates on.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/flowgraph/attractor/internal/runtime"
)

// Save hashes and writes cp to path via a temp-file-then-rename, so a
// crash mid-write never leaves a half-written checkpoint.json behind.
func Save(path string, cp *runtime.Checkpoint) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := cp.Save(tmpPath); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Report summarizes one checkpoint file, as produced by Inspect.
type Report struct {
	Path           string
	CurrentNode    string
	CompletedCount int
	HashVerified   bool
	HashPresent    bool
}

// Inspect loads the checkpoint at path and reports its progress vector
// and content_hash verification status.
func Inspect(path string) (*Report, error) {
	cp, err := runtime.LoadCheckpoint(path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	verified, verr := cp.Verify()
	if verr != nil {
		return nil, fmt.Errorf("verify checkpoint: %w", verr)
	}
	return &Report{
		Path:           path,
		CurrentNode:    cp.CurrentNode,
		CompletedCount: len(cp.CompletedNodes),
		HashVerified:   verified,
		HashPresent:    cp.ContentHash != "",
	}, nil
}

func (r *Report) String() string {
	status := "unverifiable (no content_hash recorded)"
	if r.HashPresent {
		if r.HashVerified {
			status = "hash OK"
		} else {
			status = "HASH MISMATCH"
		}
	}
	return fmt.Sprintf("%s: current_node=%s completed=%d [%s]", r.Path, r.CurrentNode, r.CompletedCount, status)
}

// NewCheckpointID mints a new sortable checkpoint identifier, used by
// callers that want to correlate a checkpoint with a specific save event
// independent of the run ID (e.g. multiple checkpoints per run archived
// for audit).
func NewCheckpointID() string {
	return ulid.Make().String()
}
