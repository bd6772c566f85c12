package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/config"
)

type fakeStore struct {
	ensured bool
	objects map[string]string
	failOn  string
}

func (f *fakeStore) EnsureBucket(context.Context) error {
	f.ensured = true
	return nil
}

func (f *fakeStore) PutFile(_ context.Context, key, path, contentType string) error {
	if key == f.failOn {
		return errors.New("connection reset")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[key] = contentType
	return nil
}

func evalDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"properties.json", "reports/report.md", "reports/scatter-time-a-b.png", ".hidden"} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	return dir
}

func TestUpload(t *testing.T) {
	store := &fakeStore{}
	keys, err := Upload(context.Background(), store, evalDir(t), "exp1")
	require.NoError(t, err)

	assert.True(t, store.ensured)
	assert.Equal(t, []string{"exp1/properties.json", "exp1/reports/report.md", "exp1/reports/scatter-time-a-b.png"}, keys)
	assert.Equal(t, "application/json", store.objects["exp1/properties.json"])
	assert.Equal(t, "image/png", store.objects["exp1/reports/scatter-time-a-b.png"])
}

func TestUpload_StopsOnError(t *testing.T) {
	store := &fakeStore{failOn: "reports/report.md"}
	keys, err := Upload(context.Background(), store, evalDir(t), "")
	assert.ErrorContains(t, err, "uploading reports/report.md: connection reset")
	assert.Equal(t, []string{"properties.json"}, keys)
}

func TestUpload_EmptyDir(t *testing.T) {
	_, err := Upload(context.Background(), &fakeStore{}, t.TempDir(), "x")
	assert.ErrorContains(t, err, "nothing to archive")
}

func TestNewMinIO(t *testing.T) {
	_, err := NewMinIO(config.Archive{Bucket: "b"})
	assert.ErrorContains(t, err, "endpoint and a bucket")

	m, err := NewMinIO(config.Archive{Endpoint: "localhost:9000", Bucket: "labgrid", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "labgrid", m.bucket)
}
