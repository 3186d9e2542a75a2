package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3StorageRequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), Config{Region: "us-east-1"})
	assert.ErrorIs(t, err, ErrBucketRequired)
}

func TestNewS3StorageWithCustomEndpoint(t *testing.T) {
	s, err := NewS3Storage(context.Background(), Config{
		Bucket:    "audit",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.Equal(t, "audit", s.Bucket())
}

func TestIsNotFound(t *testing.T) {
	notFound := &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"}

	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", notFound)))
	assert.False(t, IsNotFound(denied))
	assert.False(t, IsNotFound(errors.New("network down")))
}

func TestCheckBucketAgainstUnreachableEndpoint(t *testing.T) {
	s, err := NewS3Storage(context.Background(), Config{
		Bucket:    "audit",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:1",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = s.CheckBucket(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBucketNotFound)
}
