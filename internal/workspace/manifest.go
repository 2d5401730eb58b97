// Package workspace models a synchronized directory tree: per-file metadata
// with content checksums, the workspace manifest, and the service that moves
// workspace content to and from a storage provider.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// FileMetadata describes one file under the synchronized root. Checksums are
// content-addressed (SHA-256) and are the sole basis for equality
// comparison; timestamps are a tie-break only.
type FileMetadata struct {
	RelativePath string    `json:"relativePath"`
	SizeBytes    int64     `json:"sizeBytes"`
	Checksum     string    `json:"checksum"`
	LastModified time.Time `json:"lastModified"`
	Encrypted    bool      `json:"encrypted"`
	Compressed   bool      `json:"compressed"`
}

// Manifest is the authoritative listing of files and checksums representing
// one snapshot of a workspace, local or remote. One manifest exists per
// (owner, workspace) pair; SyncVersion increases by one on every committed
// push.
type Manifest struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"ownerId"`
	OrgID         string         `json:"orgId,omitempty"`
	RootPath      string         `json:"rootPath"`
	WorkspaceName string         `json:"workspaceName"`
	SyncVersion   int64          `json:"syncVersion"`
	Files         []FileMetadata `json:"files"`
	TotalSize     int64          `json:"totalSize"`
	// ManifestChecksum is a hash over the ordered file list: the cheap
	// "did anything change" gate before running the full delta algorithm.
	ManifestChecksum string `json:"manifestChecksum"`
}

// Normalize sorts the file list by path, recomputes TotalSize and
// ManifestChecksum, and enforces the path-uniqueness invariant.
// Must be called whenever Files changes.
func (m *Manifest) Normalize() error {
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].RelativePath < m.Files[j].RelativePath
	})

	var total int64

	h := sha256.New()

	for i, f := range m.Files {
		if i > 0 && f.RelativePath == m.Files[i-1].RelativePath {
			return fmt.Errorf("workspace: duplicate path in manifest: %s", f.RelativePath)
		}

		total += f.SizeBytes

		// Ordered (path, checksum) pairs define the manifest identity.
		fmt.Fprintf(h, "%s\x00%s\x00", f.RelativePath, f.Checksum)
	}

	m.TotalSize = total
	m.ManifestChecksum = hex.EncodeToString(h.Sum(nil))

	return nil
}

// FileMap returns the manifest's files indexed by relative path.
func (m *Manifest) FileMap() map[string]FileMetadata {
	out := make(map[string]FileMetadata, len(m.Files))
	for _, f := range m.Files {
		out[f.RelativePath] = f
	}

	return out
}

// Key layout constants. Content lives under a ".odavl" prefix so the
// manifest object can never collide with a synchronized file.
const (
	keyRootPrefix      = "workspaces"
	contentKeySegment  = ".odavl"
	manifestObjectName = ".metadata.json"
)

// WorkspacePrefix returns the key prefix holding everything belonging to
// one workspace.
func WorkspacePrefix(ownerID, name string) string {
	return fmt.Sprintf("%s/%s/%s/", keyRootPrefix, ownerID, name)
}

// ContentKey returns the deterministic storage key for a file's content.
func ContentKey(ownerID, name, relativePath string) string {
	return WorkspacePrefix(ownerID, name) + contentKeySegment + "/" + relativePath
}

// ManifestKey returns the storage key of the workspace manifest object.
func ManifestKey(ownerID, name string) string {
	return WorkspacePrefix(ownerID, name) + manifestObjectName
}
