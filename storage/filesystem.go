package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

var ErrEmptyObject = errors.New("neither file name nor payload has been provided")

// FileSystemProvider copies objects into directory tree: Path/bucket/object
type FileSystemProvider struct {
	Path          string
	DefaultBucket string
}

func NewFileSystemProvider(path, bucket string) (ArchiveStorage, error) {
	if path == "" {
		return nil, errors.New("empty archive directory")
	}
	return &FileSystemProvider{
		Path:          path,
		DefaultBucket: bucket,
	}, nil
}

func (storage *FileSystemProvider) Type() StorageType {
	return STORAGE_FILESYSTEM
}

func (storage *FileSystemProvider) MakeBucket(ctx context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(storage.Path, bucket), os.ModePerm)
}

// UploadFile copies the object into the bucket directory and returns path of the copy
func (storage *FileSystemProvider) UploadFile(ctx context.Context, object ArchiveUnit) (string, error) {
	if object.ObjectName == "" {
		return "", errors.New("empty object name")
	}
	bucket := storage.DefaultBucket
	if object.Bucket != "" {
		bucket = object.Bucket
	}
	payload := object.Payload
	if object.FileName != "" {
		src, err := os.Open(object.FileName)
		if err != nil {
			return "", errors.Wrapf(err, "Can't open '%s'", object.FileName)
		}
		defer src.Close()
		payload = src
	}
	if payload == nil {
		return "", ErrEmptyObject
	}
	if err := storage.MakeBucket(ctx, bucket); err != nil {
		return "", errors.Wrapf(err, "Can't prepare bucket '%s'", bucket)
	}
	dstPath := filepath.Join(storage.Path, bucket, filepath.Base(object.ObjectName))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", errors.Wrapf(err, "Can't create '%s'", dstPath)
	}
	if _, err := io.Copy(dst, payload); err != nil {
		dst.Close()
		return "", errors.Wrapf(err, "Can't copy into '%s'", dstPath)
	}
	if err := dst.Close(); err != nil {
		return "", errors.Wrapf(err, "Can't close '%s'", dstPath)
	}
	return dstPath, nil
}
