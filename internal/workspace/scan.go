package workspace

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/google/uuid"
)

// Scan walks rootPath and builds the local manifest implied by the directory
// tree. Relative paths are slash-separated and NFC-normalized so manifests
// compare identically across platforms. Symlinks and other non-regular files
// are skipped.
func Scan(rootPath, ownerID, orgID, name string, encrypted, compressed bool) (*Manifest, error) {
	m := &Manifest{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		OrgID:         orgID,
		RootPath:      rootPath,
		WorkspaceName: name,
	}

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", path, err)
		}

		checksum, err := ComputeChecksum(path)
		if err != nil {
			return err
		}

		m.Files = append(m.Files, FileMetadata{
			RelativePath: norm.NFC.String(filepath.ToSlash(rel)),
			SizeBytes:    info.Size(),
			Checksum:     checksum,
			LastModified: info.ModTime().UTC(),
			Encrypted:    encrypted,
			Compressed:   compressed,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: scanning %s: %w", rootPath, err)
	}

	if err := m.Normalize(); err != nil {
		return nil, err
	}

	return m, nil
}
