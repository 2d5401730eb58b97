package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/odavl/odavl-go/internal/storage"
)

// File permissions for downloaded workspace files.
const (
	workspaceFilePerms = 0o644
	workspaceDirPerms  = 0o755
)

// ErrNoManifest is returned when a workspace has no remote manifest yet.
var ErrNoManifest = errors.New("workspace: no remote manifest")

// Options configures how file content is encoded before upload.
type Options struct {
	// Compress gzips file content before (optional) encryption.
	Compress bool
	// Encrypt applies authenticated encryption after compression.
	// Requires Secret.
	Encrypt bool
	Secret  string
}

// Service moves workspace content to and from a storage provider. Content
// checksums always cover the plaintext, so equality comparison is
// independent of the encoding options in force when a file was uploaded.
type Service struct {
	provider storage.Provider
	cipher   *ContentCipher
	opts     Options
	logger   *slog.Logger
}

// NewService creates a workspace Service on top of the given provider.
func NewService(provider storage.Provider, opts Options, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Service{provider: provider, opts: opts, logger: logger}

	if opts.Encrypt {
		cipher, err := NewContentCipher(opts.Secret)
		if err != nil {
			return nil, err
		}

		s.cipher = cipher
	}

	return s, nil
}

// ScanLocal builds the local manifest for rootPath, tagging entries with the
// service's encoding options.
func (s *Service) ScanLocal(rootPath, ownerID, orgID, name string) (*Manifest, error) {
	return Scan(rootPath, ownerID, orgID, name, s.opts.Encrypt, s.opts.Compress)
}

// UploadFile encodes and uploads one file's content under its deterministic
// key. The checksum metadata travels with the object for spot verification.
func (s *Service) UploadFile(ctx context.Context, ownerID, name, rootPath string, fm FileMetadata) error {
	data, err := os.ReadFile(filepath.Join(rootPath, filepath.FromSlash(fm.RelativePath)))
	if err != nil {
		return fmt.Errorf("workspace: reading %s: %w", fm.RelativePath, err)
	}

	encoded, err := s.encode(data, fm)
	if err != nil {
		return err
	}

	key := ContentKey(ownerID, name, fm.RelativePath)
	meta := map[string]string{"checksum": fm.Checksum}

	if err := s.provider.Upload(ctx, key, encoded, meta); err != nil {
		return err
	}

	s.logger.Debug("uploaded file",
		slog.String("path", fm.RelativePath),
		slog.Int64("size", fm.SizeBytes),
	)

	return nil
}

// DownloadFile fetches, decodes, and writes one file under rootPath,
// recreating parent directories as needed. The decoded content is verified
// against the manifest checksum before it replaces anything on disk.
func (s *Service) DownloadFile(ctx context.Context, ownerID, name, rootPath string, fm FileMetadata) error {
	key := ContentKey(ownerID, name, fm.RelativePath)

	encoded, err := s.provider.Download(ctx, key)
	if err != nil {
		return err
	}

	data, err := s.decode(encoded, fm)
	if err != nil {
		return err
	}

	if sum := ChecksumBytes(data); sum != fm.Checksum {
		return fmt.Errorf("workspace: checksum mismatch for %s: got %s want %s", fm.RelativePath, sum, fm.Checksum)
	}

	path := filepath.Join(rootPath, filepath.FromSlash(fm.RelativePath))
	if err := os.MkdirAll(filepath.Dir(path), workspaceDirPerms); err != nil {
		return fmt.Errorf("workspace: creating directory for %s: %w", fm.RelativePath, err)
	}

	if err := os.WriteFile(path, data, workspaceFilePerms); err != nil {
		return fmt.Errorf("workspace: writing %s: %w", fm.RelativePath, err)
	}

	if err := os.Chtimes(path, fm.LastModified, fm.LastModified); err != nil {
		return fmt.Errorf("workspace: setting mtime of %s: %w", fm.RelativePath, err)
	}

	s.logger.Debug("downloaded file",
		slog.String("path", fm.RelativePath),
		slog.Int64("size", fm.SizeBytes),
	)

	return nil
}

// DeleteFile removes one file's remote content.
func (s *Service) DeleteFile(ctx context.Context, ownerID, name, relativePath string) error {
	return s.provider.Delete(ctx, ContentKey(ownerID, name, relativePath))
}

// FetchManifest retrieves the remote manifest. Returns ErrNoManifest if the
// workspace has never been pushed.
func (s *Service) FetchManifest(ctx context.Context, ownerID, name string) (*Manifest, error) {
	data, err := s.provider.Download(ctx, ManifestKey(ownerID, name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoManifest
	}

	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("workspace: decoding manifest: %w", err)
	}

	return &m, nil
}

// PutManifest commits a manifest as the workspace's remote state.
func (s *Service) PutManifest(ctx context.Context, m *Manifest) error {
	if err := m.Normalize(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: encoding manifest: %w", err)
	}

	return s.provider.Upload(ctx, ManifestKey(m.OwnerID, m.WorkspaceName), data, nil)
}

// UploadWorkspace walks rootPath, uploads every file, and commits a manifest
// summarizing the upload. The manifest is written last so a partially
// uploaded workspace is never visible as committed state. Returns the
// committed manifest.
func (s *Service) UploadWorkspace(ctx context.Context, ownerID, orgID, name, rootPath string) (*Manifest, error) {
	m, err := s.ScanLocal(rootPath, ownerID, orgID, name)
	if err != nil {
		return nil, err
	}

	if prev, err := s.FetchManifest(ctx, ownerID, name); err == nil {
		m.SyncVersion = prev.SyncVersion + 1
	} else if !errors.Is(err, ErrNoManifest) {
		return nil, err
	} else {
		m.SyncVersion = 1
	}

	for _, fm := range m.Files {
		if err := s.UploadFile(ctx, ownerID, name, rootPath, fm); err != nil {
			return nil, err
		}
	}

	if err := s.PutManifest(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("workspace uploaded",
		slog.String("workspace", name),
		slog.Int("files", len(m.Files)),
		slog.Int64("sync_version", m.SyncVersion),
	)

	return m, nil
}

// DownloadWorkspace is the exact inverse of UploadWorkspace: fetch the
// manifest, then fetch, decode, and write every listed file under destPath.
// Returns the manifest that was materialized.
func (s *Service) DownloadWorkspace(ctx context.Context, ownerID, name, destPath string) (*Manifest, error) {
	m, err := s.FetchManifest(ctx, ownerID, name)
	if err != nil {
		return nil, err
	}

	for _, fm := range m.Files {
		if err := s.DownloadFile(ctx, ownerID, name, destPath, fm); err != nil {
			return nil, err
		}
	}

	s.logger.Info("workspace downloaded",
		slog.String("workspace", name),
		slog.Int("files", len(m.Files)),
		slog.Int64("sync_version", m.SyncVersion),
	)

	return m, nil
}

// DeleteWorkspace removes all remote content and the manifest.
func (s *Service) DeleteWorkspace(ctx context.Context, ownerID, name string) error {
	return s.provider.DeletePrefix(ctx, WorkspacePrefix(ownerID, name))
}

// encode applies the file's recorded encoding: compression first, then
// encryption, so ciphertext never defeats the compressor.
func (s *Service) encode(data []byte, fm FileMetadata) ([]byte, error) {
	var err error

	if fm.Compressed {
		data, err = gzipCompress(data)
		if err != nil {
			return nil, err
		}
	}

	if fm.Encrypted {
		if s.cipher == nil {
			return nil, fmt.Errorf("workspace: %s requires encryption but no secret is configured", fm.RelativePath)
		}

		data, err = s.cipher.Seal(data)
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

// decode inverts encode using the file's recorded flags, so pulls work even
// when the local encoding options differ from those at upload time.
func (s *Service) decode(data []byte, fm FileMetadata) ([]byte, error) {
	var err error

	if fm.Encrypted {
		if s.cipher == nil {
			return nil, fmt.Errorf("workspace: %s is encrypted but no secret is configured", fm.RelativePath)
		}

		data, err = s.cipher.Open(data)
		if err != nil {
			return nil, err
		}
	}

	if fm.Compressed {
		data, err = gzipDecompress(data)
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}
