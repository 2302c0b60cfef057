package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMinioValidatesConfig(t *testing.T) {
	_, err := NewMinio(Config{Bucket: "archives"})
	assert.Error(t, err)

	_, err = NewMinio(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	store, err := NewMinio(Config{Endpoint: "localhost:9000", AccessKey: "minio", SecretKey: "minio123", Bucket: "archives"})
	require.NoError(t, err)
	assert.Equal(t, "archives", store.Bucket())

	var _ Store = store
}
