package counters

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/models"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "test")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreChargeIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newRedisStore(t)
	ctx := context.Background()
	ref := models.DocRef{Collection: models.ShowCollection, ID: "s1"}

	charged, err := s.ChargeCounter(ctx, ref, "tenant", models.KindShow)
	require.NoError(t, err)
	assert.True(t, charged)

	charged, err = s.ChargeCounter(ctx, ref, "tenant", models.KindShow)
	require.NoError(t, err)
	assert.False(t, charged)

	counters, err := s.GetCounters(ctx, "tenant")
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, models.KindShow, counters[0].Kind)
	assert.EqualValues(t, 1, counters[0].Count)
	assert.False(t, counters[0].UpdatedAt.IsZero())
}

func TestRedisStoreReleaseDecrementsChargedTenant(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	ctx := context.Background()
	ref := models.DocRef{Collection: models.BoardCollection, ID: "b1"}

	_, err := s.ChargeCounter(ctx, ref, "owner|with|pipes", models.KindBoard)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:charges"))

	released, err := s.ReleaseCounter(ctx, ref)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = s.ReleaseCounter(ctx, ref)
	require.NoError(t, err)
	assert.False(t, released)

	counters, err := s.GetCounters(ctx, "owner|with|pipes")
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.EqualValues(t, 0, counters[0].Count)
}

func TestRedisStoreReleaseWithoutChargeIsNoop(t *testing.T) {
	t.Parallel()

	s, _ := newRedisStore(t)
	ctx := context.Background()

	released, err := s.ReleaseCounter(ctx, models.DocRef{Collection: models.PropCollection, ID: "p1"})
	require.NoError(t, err)
	assert.False(t, released)

	counters, err := s.GetCounters(ctx, "tenant")
	require.NoError(t, err)
	assert.Empty(t, counters)
}

func TestRedisStoreListCharges(t *testing.T) {
	t.Parallel()

	s, _ := newRedisStore(t)
	ctx := context.Background()
	for _, id := range []string{"p2", "p1"} {
		_, err := s.ChargeCounter(ctx, models.DocRef{Collection: models.PropCollection, ID: id}, "tenant", models.KindProp)
		require.NoError(t, err)
	}

	var listed []models.CounterCharge
	require.NoError(t, s.ListCharges(ctx, func(ch models.CounterCharge) error {
		listed = append(listed, ch)
		return nil
	}))
	require.Len(t, listed, 2)
	assert.Equal(t, "p1", listed[0].Ref.ID)
	assert.Equal(t, models.PropCollection, listed[0].Ref.Collection)
	assert.Equal(t, "tenant", listed[0].TenantID)
	assert.Equal(t, models.KindProp, listed[0].Kind)
	assert.False(t, listed[0].ChargedAt.IsZero())
}

func TestRedisStoreConcurrentUpdatesConverge(t *testing.T) {
	t.Parallel()

	s, _ := newRedisStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		ref := models.DocRef{Collection: models.PackingBoxCollection, ID: "c" + strconv.Itoa(i)}
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.ChargeCounter(ctx, ref, "tenant", models.KindPackingBox)
		}()
		go func() {
			defer wg.Done()
			// Redelivery of the same create.
			_, _ = s.ChargeCounter(ctx, ref, "tenant", models.KindPackingBox)
		}()
	}
	wg.Wait()

	counters, err := s.GetCounters(ctx, "tenant")
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.EqualValues(t, 50, counters[0].Count)
}
