package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/cleanup"
	"github.com/propstrack/maintenance-server/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"DATABASE_URL", "REDIS_ADDR", "NATS_URL", "JWT_SECRET", "LOG_LEVEL", "BLOB_BUCKET", "STORE_TYPE"} {
		t.Setenv(name, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  type: memory
quota:
  plans:
    free:
      shows: 2
      boards: 2
      packing_boxes: 5
      collaborators_per_show: 1
      props: 5
`)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BlobTypeMemory, cfg.Blob.Type)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, cleanup.DefaultMaxAtomicOps, cfg.Cleanup.MaxAtomicOps)
	assert.Equal(t, "pending_signups", cfg.Cleanup.Policies.ExpiredCodes[0].Collection)
	assert.NotEmpty(t, cfg.Reconcile.Sources)
	assert.Equal(t, ":8090", cfg.APIAddr())
	assert.Equal(t, "45 * * * *", cfg.Quota.SweepSchedule)
	assert.Equal(t, "DOCUMENTS", cfg.NATS.Stream)
	assert.Equal(t, "maintenance", cfg.NATS.Durable)
	assert.Equal(t, 10, cfg.NATS.MaxDeliver)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 2, policy.Limit(models.PlanFree, models.KindShow))
	assert.Equal(t, 3, policy.Limit(models.PlanStarter, models.KindShow))
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/props")
	t.Setenv("BLOB_BUCKET", "props-prod")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreTypePostgres, cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/props", cfg.Database.DSN)
	assert.Equal(t, "props-prod", cfg.Blob.S3.Bucket)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
}

func TestValidateRejects(t *testing.T) {
	clearEnv(t)

	tests := map[string]string{
		"atomic ops at ceiling": "storage: {type: memory}\ncleanup: {max_atomic_ops: 500}\n",
		"negative atomic ops":   "storage: {type: memory}\ncleanup: {max_atomic_ops: -1}\n",
		"postgres without dsn":  "storage: {type: postgres}\n",
		"unknown store":         "storage: {type: mongo}\n",
		"redis without addr":    "storage: {type: memory}\nquota: {counter_backend: redis}\n",
		"unknown plan":          "storage: {type: memory}\nquota: {plans: {platinum: {shows: 1}}}\n",
		"free plan negative":    "storage: {type: memory}\nquota: {plans: {free: {shows: -1}}}\n",
	}
	for name, body := range tests {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}

	_, err := Load(writeConfig(t, "storage: {type: memory}\ncleanup: {max_atomic_ops: 499}\n"))
	assert.NoError(t, err)
}
