package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
)

// ArchiveUnit is a single object to be uploaded. Either FileName or Payload must be set; FileName wins
type ArchiveUnit struct {
	Bucket     string
	ObjectName string
	FileName   string
	Payload    io.Reader
}

// ArchiveStorage keeps downloaded records and local recordings
type ArchiveStorage interface {
	Type() StorageType
	MakeBucket(ctx context.Context, bucket string) error
	UploadFile(ctx context.Context, object ArchiveUnit) (string, error)
}

// ContentType guesses MIME type of record by its extension
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}
