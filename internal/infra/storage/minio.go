package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store archives exported reports in a MinIO bucket, gzip compressed.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

// New buat koneksi MinIO dan pastikan bucket ada
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// Compress gzips body at the default level.
func Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArchiveKey appends the .gz suffix once.
func ArchiveKey(key string) string {
	if strings.HasSuffix(key, ".gz") {
		return key
	}
	return key + ".gz"
}

// Put implementasi analysis.ReportArchive. Object disimpan gzip dengan
// Content-Encoding supaya client bisa langsung decode.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	gz, err := Compress(body)
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", key, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectKey := ArchiveKey(key)

	_, err = s.client.PutObject(ctx, s.bucketName, objectKey, bytes.NewReader(gz), int64(len(gz)), minio.PutObjectOptions{
		ContentType:     contentType,
		ContentEncoding: "gzip",
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", objectKey, err)
	}

	// URL publik (jika bucket public), kalau private harus generate presigned URL
	url := fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucketName, objectKey)
	return url, nil
}

// Ping dipakai readiness check.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s missing", s.bucketName)
	}
	return nil
}
