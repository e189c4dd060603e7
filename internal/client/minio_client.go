package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"telemetry-gateway/internal/config"
)

// MinIOClient is the durable object store raw batches are written to.
type MinIOClient struct {
	mc     *minio.Client
	bucket string
	logger *zap.Logger
}

func NewMinIOClient(cfg *config.Config, logger *zap.Logger) (*MinIOClient, error) {
	minioConfig := cfg.MinIO

	mc, err := minio.New(minioConfig.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(minioConfig.AccessKey, minioConfig.SecretKey, ""),
		Secure: minioConfig.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	client := &MinIOClient{mc: mc, bucket: minioConfig.Bucket, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", minioConfig.Bucket, err)
	}

	logger.Info("MinIO client initialized",
		zap.String("endpoint", minioConfig.Endpoint),
		zap.String("bucket", minioConfig.Bucket),
		zap.Bool("tls", minioConfig.UseTLS),
	)
	return client, nil
}

func (c *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// PutObject uploads data and returns once the object is durable.
func (c *MinIOClient) PutObject(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (int64, error) {
	info, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return info.Size, nil
}

// GetObject returns the object body together with its user metadata.
func (c *MinIOClient) GetObject(ctx context.Context, key string) ([]byte, map[string]string, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, stat.UserMetadata, nil
}

func (c *MinIOClient) HealthCheck(ctx context.Context) error {
	if _, err := c.mc.BucketExists(ctx, c.bucket); err != nil {
		return fmt.Errorf("minio health check failed: %w", err)
	}
	return nil
}
