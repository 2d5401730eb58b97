package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File permissions for stored objects.
const (
	localFilePerms = 0o600
	localDirPerms  = 0o700
)

// localProvider stores objects as files under a root directory. It doubles
// as the test double for the whole storage stack.
type localProvider struct {
	root   string
	logger *slog.Logger
}

// NewLocal creates a filesystem-backed Provider rooted at root.
func NewLocal(root string, logger *slog.Logger) (Provider, error) {
	return newLocalProvider(root, logger)
}

func newLocalProvider(root string, logger *slog.Logger) (*localProvider, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(root, localDirPerms); err != nil {
		return nil, fmt.Errorf("storage: creating root %s: %w", root, err)
	}

	return &localProvider{root: root, logger: logger}, nil
}

// keyPath maps a slash-separated key onto the local filesystem.
func (p *localProvider) keyPath(key string) string {
	return filepath.Join(p.root, filepath.FromSlash(key))
}

func (p *localProvider) Upload(_ context.Context, key string, data []byte, _ map[string]string) error {
	path := p.keyPath(key)

	if err := os.MkdirAll(filepath.Dir(path), localDirPerms); err != nil {
		return fmt.Errorf("storage: creating directory for %s: %w", key, err)
	}

	if err := os.WriteFile(path, data, localFilePerms); err != nil {
		return fmt.Errorf("storage: writing %s: %w", key, err)
	}

	return nil
}

func (p *localProvider) Download(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(p.keyPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("storage: reading %s: %w", key, err)
	}

	return data, nil
}

func (p *localProvider) Delete(_ context.Context, key string) error {
	err := os.Remove(p.keyPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("storage: deleting %s: %w", key, err)
	}

	return nil
}

func (p *localProvider) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(p.root, path)
		if relErr != nil {
			return relErr
		}

		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: listing %q: %w", prefix, err)
	}

	sort.Strings(keys)

	return keys, nil
}

func (p *localProvider) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := p.ListKeys(ctx, prefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := p.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

func (p *localProvider) Type() string {
	return "local"
}

func (p *localProvider) Close() error {
	return nil
}
