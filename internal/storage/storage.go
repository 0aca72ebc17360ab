// Package storage provides object storage for partition contribution files.
package storage

import (
	"context"
	"fmt"

	"github.com/facetd/facetd/internal/config"
	ferrors "github.com/facetd/facetd/internal/errors"
)

// Sentinel errors for storage operations. errors.Is matches any
// FacetError with the same category and code.
var (
	ErrObjectNotFound = ferrors.New(ferrors.ErrCategoryStorage, ferrors.CodeObjectNotFound, "object not found")
	ErrDownloadFailed = ferrors.New(ferrors.ErrCategoryStorage, ferrors.CodeDownloadFailed, "download failed")
	ErrUploadFailed   = ferrors.New(ferrors.ErrCategoryStorage, ferrors.CodeUploadFailed, "upload failed")
)

// ObjectInfo identifies one version of a stored object.
type ObjectInfo struct {
	Size int64
	// ETag changes whenever the object's content does
	ETag string
}

// ObjectStorage abstracts the object store partition files live in.
type ObjectStorage interface {
	// Upload copies a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to a local file, creating parent
	// directories.
	Download(ctx context.Context, objectPath, localPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Stat returns the size and version of an object, or ErrObjectNotFound.
	Stat(ctx context.Context, objectPath string) (ObjectInfo, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// New builds the storage configured in cfg.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		s3cfg := DefaultS3Config()
		if cfg.S3.Region != "" {
			s3cfg.Region = cfg.S3.Region
		}
		s3cfg.Endpoint = cfg.S3.Endpoint
		s3cfg.UsePathStyle = cfg.S3.Endpoint != ""
		return NewS3Storage(ctx, cfg.S3.Bucket, s3cfg)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

func downloadFailed(objectPath string, cause error) error {
	return ferrors.NewStorageError(ferrors.CodeDownloadFailed, fmt.Sprintf("download %s failed", objectPath), cause)
}

func uploadFailed(objectPath string, cause error) error {
	return ferrors.NewStorageError(ferrors.CodeUploadFailed, fmt.Sprintf("upload %s failed", objectPath), cause)
}

func notFound(objectPath string) error {
	return ferrors.NewStorageError(ferrors.CodeObjectNotFound, fmt.Sprintf("object %s not found", objectPath), nil)
}
