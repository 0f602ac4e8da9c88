package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/modforge/internal/storage"
)

type fakeStore struct {
	uploads map[string]string
	err     error
}

func (f *fakeStore) Upload(ctx context.Context, localPath, key string) error {
	if f.err != nil {
		return f.err
	}
	if f.uploads == nil {
		f.uploads = make(map[string]string)
	}
	f.uploads[key] = localPath
	return nil
}

func (f *fakeStore) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStore) PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

func TestPublisher_Publish_DeletesAfterUpload(t *testing.T) {
	unit := filepath.Join(t.TempDir(), "beta_1.0_2.zip")
	require.NoError(t, os.WriteFile(unit, []byte("zip"), 0o644))

	store := &fakeStore{}
	publisher := storage.NewPublisher(store)

	err := publisher.Publish(context.Background(), unit, "beta_1.0_2.zip")

	require.NoError(t, err)
	require.Equal(t, unit, store.uploads["beta_1.0_2.zip"])
	require.NoFileExists(t, unit)
}

func TestPublisher_Publish_KeepsLocalOnFailure(t *testing.T) {
	unit := filepath.Join(t.TempDir(), "beta_1.0_2.zip")
	require.NoError(t, os.WriteFile(unit, []byte("zip"), 0o644))

	store := &fakeStore{err: errors.New("connection reset")}
	publisher := storage.NewPublisher(store)

	err := publisher.Publish(context.Background(), unit, "beta_1.0_2.zip")

	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
	require.FileExists(t, unit)
}
