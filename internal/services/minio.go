package services

import (
	"context"
	"io"

	"github.com/TreeSnap/Export-Service/internal/configuration"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MinioService stores export artifacts in a single bucket.
type MinioService struct {
	Client     *minio.Client
	BucketName string
}

// NewMinioService connects to MinIO and creates the bucket if needed.
func NewMinioService(ctx context.Context, cfg configuration.MinIOConfig) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "minio: create client")
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, eris.Wrap(err, "minio: check bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, eris.Wrap(err, "minio: create bucket")
		}
		zap.L().Info("[MinIO] created bucket", zap.String("bucket", cfg.BucketName))
	}

	zap.L().Info("[MinIO] connected", zap.String("endpoint", cfg.Endpoint))
	return &MinioService{Client: client, BucketName: cfg.BucketName}, nil
}

// CheckConnection is used by the health endpoint.
func (m *MinioService) CheckConnection(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return eris.New("minio: service not initialized")
	}
	_, err := m.Client.BucketExists(ctx, m.BucketName)
	return err
}

func (m *MinioService) UploadFile(ctx context.Context, reader io.Reader, size int64, objectName, contentType string) error {
	_, err := m.Client.PutObject(ctx, m.BucketName, objectName, reader, size,
		minio.PutObjectOptions{ContentType: contentType})
	return eris.Wrapf(err, "minio: put %s", objectName)
}

// OpenFile streams an object. The caller closes the reader.
func (m *MinioService) OpenFile(ctx context.Context, objectName string) (io.ReadCloser, int64, error) {
	obj, err := m.Client.GetObject(ctx, m.BucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, eris.Wrapf(err, "minio: get %s", objectName)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, eris.Wrapf(err, "minio: stat %s", objectName)
	}
	return obj, info.Size, nil
}

// DeleteFiles removes the named objects in one batch request.
func (m *MinioService) DeleteFiles(ctx context.Context, objectNames []string) error {
	if len(objectNames) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(objectNames))
	for _, name := range objectNames {
		objectsCh <- minio.ObjectInfo{Key: name}
	}
	close(objectsCh)

	for removeErr := range m.Client.RemoveObjects(ctx, m.BucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if removeErr.Err != nil {
			zap.L().Error("[MinIO] failed to delete object",
				zap.String("object", removeErr.ObjectName), zap.Error(removeErr.Err))
			return eris.Wrapf(removeErr.Err, "minio: delete %s", removeErr.ObjectName)
		}
	}

	zap.L().Info("[MinIO] deleted objects", zap.Int("count", len(objectNames)))
	return nil
}
