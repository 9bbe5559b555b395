package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/blobstore"
	"github.com/propstrack/maintenance-server/internal/config"
	"github.com/propstrack/maintenance-server/internal/counters"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	for _, name := range []string{"DATABASE_URL", "REDIS_ADDR", "NATS_URL", "JWT_SECRET", "LOG_LEVEL", "BLOB_BUCKET", "STORE_TYPE"} {
		t.Setenv(name, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestNewInMemory(t *testing.T) {
	cfg := loadConfig(t, `
storage:
  type: memory
blob:
  s3:
    bucket: props-dev
`)

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &storage.MemoryStore{}, a.Store)
	assert.Same(t, a.Store, a.Counters)
	require.IsType(t, &blobstore.MemoryStore{}, a.Blobs)
	assert.Equal(t, "props-dev", a.Blobs.Bucket())

	svc := a.Services()
	assert.NotNil(t, svc.Limits)
	assert.NotNil(t, svc.Gate)
	assert.Equal(t, []string{"emails", "notifications", "pending_password_resets", "pending_signups"}, a.Manual.Allowed())

	_, err = a.Jobs.Run(context.Background(), "cleanup-processed")
	assert.NoError(t, err)
}

func TestNewWithRedisCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, `
storage:
  type: memory
redis:
  addr: `+mr.Addr()+`
quota:
  counter_backend: redis
`)

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.IsType(t, &counters.RedisStore{}, a.Counters)

	ctx := context.Background()
	require.NoError(t, a.Store.PutDocument(ctx, &models.Document{
		Collection: models.ShowCollection, ID: "s1", Data: models.Variables{"ownerId": "tenant"},
	}))
	require.NoError(t, a.Maintainer.OnCreated(ctx, &models.ResourceEvent{
		EventID: "e1", Collection: models.ShowCollection, DocumentID: "s1", Data: models.Variables{"ownerId": "tenant"},
	}))

	usage, err := a.Maintainer.Usage(ctx, "tenant")
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.EqualValues(t, 1, usage[0].Count)

	// The sweep checks Redis charges against the document store.
	require.NoError(t, a.Store.DeleteDocument(ctx, models.ShowCollection, "s1"))
	released, err := a.Maintainer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	usage, err = a.Maintainer.Usage(ctx, "tenant")
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.EqualValues(t, 0, usage[0].Count)
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := loadConfig(t, `
storage:
  type: memory
redis:
  addr: `+addr+`
quota:
  counter_backend: redis
`)

	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
