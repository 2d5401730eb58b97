package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/odavl/odavl-go/internal/config"
)

// azureProvider stores objects as blobs in an Azure storage container.
type azureProvider struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger
}

func newAzureProvider(cfg config.StorageConfig, logger *slog.Logger) (*azureProvider, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: creating azure client: %w", err)
	}

	return &azureProvider{
		client:    client,
		container: cfg.Container,
		logger:    logger,
	}, nil
}

func (p *azureProvider) Upload(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	var opts *azblob.UploadBufferOptions

	if len(metadata) > 0 {
		meta := make(map[string]*string, len(metadata))
		for k, v := range metadata {
			v := v
			meta[k] = &v
		}

		opts = &azblob.UploadBufferOptions{Metadata: meta}
	}

	_, err := p.client.UploadBuffer(ctx, p.container, key, data, opts)
	if err != nil {
		return fmt.Errorf("storage: uploading azure blob %s/%s: %w", p.container, key, err)
	}

	return nil
}

func (p *azureProvider) Download(ctx context.Context, key string) ([]byte, error) {
	resp, err := p.client.DownloadStream(ctx, p.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}

		return nil, fmt.Errorf("storage: downloading azure blob %s/%s: %w", p.container, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: reading azure blob %s/%s: %w", p.container, key, err)
	}

	return data, nil
}

func (p *azureProvider) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteBlob(ctx, p.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}

		return fmt.Errorf("storage: deleting azure blob %s/%s: %w", p.container, key, err)
	}

	return nil
}

func (p *azureProvider) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage: listing azure blobs %s/%s: %w", p.container, prefix, err)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}

	return keys, nil
}

func (p *azureProvider) DeletePrefix(ctx context.Context, prefix string) error {
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

func (p *azureProvider) Type() string {
	return "azure"
}

func (p *azureProvider) Close() error {
	return nil
}
