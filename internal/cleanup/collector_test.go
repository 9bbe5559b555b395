package cleanup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/metrics"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

const longAgo = "2020-01-01T00:00:00Z"

var oldEmails = models.CleanupPolicy{Name: "old-emails", Collection: "emails", DateField: "createdAt", DaysOld: 30}

func seed(t *testing.T, s *storage.MemoryStore, collection string, n int, data func(i int) models.Variables) {
	t.Helper()
	for i := 0; i < n; i++ {
		doc := &models.Document{Collection: collection, ID: fmt.Sprintf("%s-%05d", collection, i), Data: data(i)}
		require.NoError(t, s.PutDocument(context.Background(), doc))
	}
}

func expired(int) models.Variables {
	return models.Variables{"createdAt": longAgo}
}

func newCollector(t *testing.T, s storage.DocumentStore, opts Options) (*Collector, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	c, err := NewCollector(s, opts, metrics.NewUnregistered(), zerolog.New(&buf))
	require.NoError(t, err)
	return c, &buf
}

func TestCollectCommitsInBoundedBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		docs     int
		commits  []int
		progress []string
	}{
		{name: "600", docs: 600, commits: []int{450, 150}, progress: []string{"deleted 450 so far"}},
		{name: "1000", docs: 1000, commits: []int{450, 450, 100}, progress: []string{"deleted 450 so far", "deleted 900 so far"}},
		{name: "900", docs: 900, commits: []int{450, 450}, progress: []string{"deleted 450 so far"}},
		{name: "1", docs: 1, commits: []int{1}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := storage.NewMemoryStore()
			seed(t, s, "emails", tt.docs, expired)
			c, logs := newCollector(t, s, Options{MaxAtomicOps: 450, PageSize: 1000})

			n, err := c.Collect(context.Background(), oldEmails)
			require.NoError(t, err)
			assert.Equal(t, tt.docs, n)
			assert.Equal(t, tt.commits, s.Commits())
			for _, msg := range tt.progress {
				assert.Equal(t, 1, strings.Count(logs.String(), msg), msg)
			}
			assert.Equal(t, len(tt.progress), strings.Count(logs.String(), "so far"))

			left, err := s.CountDocuments(context.Background(), "emails")
			require.NoError(t, err)
			assert.Zero(t, left)
		})
	}
}

func TestCollectNothingToClean(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStore()
	seed(t, s, "emails", 3, func(int) models.Variables {
		return models.Variables{"createdAt": time.Now().UTC().Format(time.RFC3339)}
	})
	c, logs := newCollector(t, s, Options{})

	n, err := c.Collect(context.Background(), oldEmails)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, s.Commits())
	assert.Contains(t, logs.String(), "nothing to clean")
}

func TestCollectHonorsPageSize(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStore()
	seed(t, s, "emails", 700, expired)
	c, _ := newCollector(t, s, Options{})

	n, err := c.Collect(context.Background(), oldEmails)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, n)
	assert.Equal(t, []int{450, 50}, s.Commits())

	n, err = c.Collect(context.Background(), oldEmails)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
}

func TestCollectStatusPredicate(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStore()
	seed(t, s, "emails", 10, func(i int) models.Variables {
		state := "SUCCESS"
		if i%2 == 0 {
			state = "ERROR"
		}
		return models.Variables{"createdAt": longAgo, "delivery": map[string]interface{}{"state": state}}
	})
	c, _ := newCollector(t, s, Options{})

	policy := oldEmails
	policy.StatusField = "delivery.state"
	policy.StatusValue = "ERROR"
	n, err := c.Collect(context.Background(), policy)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestCollectFailuresAbortPass(t *testing.T) {
	t.Parallel()

	t.Run("query", func(t *testing.T) {
		t.Parallel()
		s := storage.NewMemoryStore()
		seed(t, s, "emails", 5, expired)
		s.FailOn(storage.OpFind, "emails", errors.New("unavailable"))
		c, _ := newCollector(t, s, Options{})

		_, err := c.Collect(context.Background(), oldEmails)
		require.Error(t, err)
		assert.Empty(t, s.Commits())
	})

	t.Run("commit", func(t *testing.T) {
		t.Parallel()
		s := storage.NewMemoryStore()
		seed(t, s, "emails", 5, expired)
		s.FailOn(storage.OpCommit, "emails", errors.New("aborted"))
		c, _ := newCollector(t, s, Options{})

		n, err := c.Collect(context.Background(), oldEmails)
		require.Error(t, err)
		assert.Zero(t, n)
		left, err := s.CountDocuments(context.Background(), "emails")
		require.NoError(t, err)
		assert.EqualValues(t, 5, left)
	})
}

func TestNewCollectorRejectsCapAtCeiling(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStore()
	for _, ops := range []int{storage.MaxBatchOps, storage.MaxBatchOps + 1, -1} {
		_, err := NewCollector(s, Options{MaxAtomicOps: ops}, metrics.NewUnregistered(), zerolog.Nop())
		assert.Error(t, err, ops)
	}
	_, err := NewCollector(s, Options{MaxAtomicOps: storage.MaxBatchOps - 1}, metrics.NewUnregistered(), zerolog.Nop())
	assert.NoError(t, err)
}
