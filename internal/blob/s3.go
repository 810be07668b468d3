// Package blob mirrors large attachment payloads to S3-compatible storage.
// Mirroring is best-effort: a failed upload logs a warning and the
// attachment stays inline in the database.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/mailcorpus/mailcorpus/internal/config"
)

// Store wraps an S3/MinIO bucket for attachment payloads.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a blob store from configuration. Call only when
// cfg.Enabled() is true.
func New(cfg *config.BlobConfig) *Store {
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpoint = protocol + "://" + endpoint
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		BaseEndpoint: aws.String(endpoint),
		// Path-style addressing for MinIO compatibility.
		UsePathStyle: true,
	})

	return &Store{client: client, bucket: cfg.Bucket}
}

// Put uploads one attachment payload and returns its storage key.
func (s *Store) Put(ctx context.Context, messageID uuid.UUID, filename, contentType string, content []byte) (string, error) {
	key := fmt.Sprintf("attachments/%s/%s", messageID, filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("blob: put %s: %w", key, err)
	}
	return key, nil
}

// Get downloads one payload by storage key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blob: get %s: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}
