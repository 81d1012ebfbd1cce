package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSystemUploadFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSystemProvider(dir, "records")
	require.NoError(t, err)
	require.Equal(t, STORAGE_FILESYSTEM, store.Type())

	src := filepath.Join(t.TempDir(), "20230714_101010.dav")
	require.NoError(t, os.WriteFile(src, []byte("DHAV"), 0644))

	out, err := store.UploadFile(context.Background(), ArchiveUnit{ObjectName: "20230714_101010.dav", FileName: src})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "records", "20230714_101010.dav"), out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "DHAV", string(data))

	out, err = store.UploadFile(context.Background(), ArchiveUnit{Bucket: "other", ObjectName: "a.mp4", Payload: strings.NewReader("payload")})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "other", "a.mp4"), out)
}

func TestFileSystemUploadEmpty(t *testing.T) {
	store, err := NewFileSystemProvider(t.TempDir(), "records")
	require.NoError(t, err)
	_, err = store.UploadFile(context.Background(), ArchiveUnit{ObjectName: "a.dav"})
	require.ErrorIs(t, err, ErrEmptyObject)
	_, err = NewFileSystemProvider("", "records")
	require.Error(t, err)
}

func TestStorageTypes(t *testing.T) {
	require.Equal(t, STORAGE_MINIO, NewStorageTypeFrom("MinIO"))
	require.Equal(t, STORAGE_UNDEFINED_TYPE, NewStorageTypeFrom("s3"))
	require.Equal(t, "filesystem", STORAGE_FILESYSTEM.String())
	require.Equal(t, "video/mp4", ContentType("x.MP4"))
	require.Equal(t, "application/octet-stream", ContentType("x.dav"))
}
