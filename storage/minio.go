package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/pkg/errors"
)

type MinioProvider struct {
	client *minio.Client

	DefaultBucket string
	Path          string
	// Objects are expired by the bucket lifecycle. Zero keeps them forever
	ExpirationDays int
}

// NewMinioClient connects to MinIO with static credentials
func NewMinioClient(host string, port int32, user, password string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(fmt.Sprintf("%s:%d", host, port), &minio.Options{
		Creds:  credentials.NewStaticV4(user, password, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Can't connect to MinIO instance")
	}
	return client, nil
}

func NewMinioProvider(client *minio.Client, bucket, path string, expirationDays int) (ArchiveStorage, error) {
	if client == nil {
		return nil, errors.New("nil MinIO client")
	}
	return &MinioProvider{
		client:         client,
		DefaultBucket:  bucket,
		Path:           path,
		ExpirationDays: expirationDays,
	}, nil
}

func (m *MinioProvider) Type() StorageType {
	return STORAGE_MINIO
}

func (m *MinioProvider) MakeBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrapf(err, "Can't check bucket '%s'", bucket)
	}
	if !exists {
		err = m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{
			ObjectLocking: true,
		})
		if err != nil {
			return errors.Wrapf(err, "Can't make bucket '%s'", bucket)
		}
	}
	if m.ExpirationDays <= 0 {
		return nil
	}
	config := lifecycle.NewConfiguration()
	config.Rules = []lifecycle.Rule{
		{
			ID:     "expire-records",
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(m.ExpirationDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucket, config)
}

// UploadFile loads object to MinIO. FileName is uploaded from filesystem; otherwise Payload is streamed
func (m *MinioProvider) UploadFile(ctx context.Context, object ArchiveUnit) (string, error) {
	objectName := path.Join(m.Path, object.ObjectName)
	bucket := m.DefaultBucket
	if object.Bucket != "" {
		bucket = object.Bucket
	}
	opts := minio.PutObjectOptions{
		ContentType: ContentType(object.ObjectName),
	}
	if object.FileName != "" {
		_, err := m.client.FPutObject(ctx, bucket, objectName, object.FileName, opts)
		if err != nil {
			return "", errors.Wrapf(err, "Can't upload '%s'", object.FileName)
		}
		return objectName, nil
	}
	if object.Payload == nil {
		return "", ErrEmptyObject
	}
	_, err := m.client.PutObject(ctx, bucket, objectName, object.Payload, -1, opts)
	if err != nil {
		return "", errors.Wrapf(err, "Can't upload '%s'", objectName)
	}
	return objectName, nil
}
