// Package sync implements the workspace sync engine: delta calculation
// between local and remote manifests, conflict resolution strategies, and
// concurrent transfer execution with all-or-nothing manifest commits.
package sync

import (
	"time"

	"github.com/odavl/odavl-go/internal/workspace"
)

// Conflict is a file whose local and remote versions both changed and whose
// timestamps are too close for the newer side to be trusted.
type Conflict struct {
	Path   string
	Local  workspace.FileMetadata
	Remote workspace.FileMetadata
}

// Delta is the work plan produced by comparing two manifests. The four sets
// are disjoint; a file with identical checksums on both sides appears in
// none of them.
type Delta struct {
	// Uploads are files whose local version should replace the remote one.
	Uploads []workspace.FileMetadata
	// Downloads are files whose remote version should replace the local one.
	Downloads []workspace.FileMetadata
	// Deletes are remote files absent locally, populated only when pruning.
	Deletes []workspace.FileMetadata
	// Conflicts need a resolution strategy before they can be transferred.
	Conflicts []Conflict
}

// Empty reports whether the delta contains no work.
func (d *Delta) Empty() bool {
	return len(d.Uploads) == 0 && len(d.Downloads) == 0 && len(d.Deletes) == 0 && len(d.Conflicts) == 0
}

// DeltaOptions tunes delta calculation.
type DeltaOptions struct {
	// Tolerance is the window within which two differing timestamps are
	// considered simultaneous. Differing content with simultaneous
	// timestamps is a conflict; outside the window the newer side wins.
	Tolerance time.Duration
	// PruneRemote classifies remote-only files as Deletes instead of
	// Downloads. Used by push with pruning enabled.
	PruneRemote bool
}

// CalculateDelta compares the local and remote manifests. Checksums are the
// sole basis for change detection; timestamps only pick a direction once
// content is known to differ. Both manifests must be normalized, so entries
// are iterated in path order and the output sets are deterministic.
func CalculateDelta(local, remote *workspace.Manifest, opts DeltaOptions) *Delta {
	d := &Delta{}
	remoteFiles := remote.FileMap()
	seen := make(map[string]bool, len(local.Files))

	for _, lf := range local.Files {
		seen[lf.RelativePath] = true

		rf, ok := remoteFiles[lf.RelativePath]
		if !ok {
			d.Uploads = append(d.Uploads, lf)
			continue
		}

		if lf.Checksum == rf.Checksum {
			continue
		}

		diff := lf.LastModified.Sub(rf.LastModified)
		if diff < 0 {
			diff = -diff
		}

		switch {
		case diff <= opts.Tolerance:
			d.Conflicts = append(d.Conflicts, Conflict{Path: lf.RelativePath, Local: lf, Remote: rf})
		case lf.LastModified.After(rf.LastModified):
			d.Uploads = append(d.Uploads, lf)
		default:
			d.Downloads = append(d.Downloads, rf)
		}
	}

	for _, rf := range remote.Files {
		if seen[rf.RelativePath] {
			continue
		}

		if opts.PruneRemote {
			d.Deletes = append(d.Deletes, rf)
		} else {
			d.Downloads = append(d.Downloads, rf)
		}
	}

	return d
}
