package counters

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

// chargeScript records the charge and bumps the counter in one atomic step.
// It returns -1 when the document is already charged.
var chargeScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then
  return -1
end
local v = redis.call('HINCRBY', KEYS[1], ARGV[3], 1)
redis.call('HSET', KEYS[1], ARGV[3] .. ':updated', ARGV[4])
return v
`)

// releaseScript drops the charge and decrements the counter it names,
// clamping at zero. It returns -1 when the document carries no charge.
var releaseScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not v then
  return -1
end
redis.call('HDEL', KEYS[1], ARGV[1])
local tenant, kind = string.match(v, '^(.*)|([^|]*)|%d+$')
local key = ARGV[2] .. ':usage:' .. tenant
local n = redis.call('HINCRBY', key, kind, -1)
if n < 0 then
  redis.call('HSET', key, kind, 0)
  n = 0
end
redis.call('HSET', key, kind .. ':updated', ARGV[3])
return n
`)

// RedisStore keeps the shadow counters in one Redis hash per tenant and the
// charges in a single hash keyed by document address.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ storage.CounterStore = (*RedisStore)(nil)

// NewRedisStore creates a counter store. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "propstrack"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) counterKey(tenantID string) string {
	return s.prefix + ":usage:" + tenantID
}

func (s *RedisStore) chargesKey() string {
	return s.prefix + ":charges"
}

// ChargeCounter implements storage.CounterStore.
func (s *RedisStore) ChargeCounter(ctx context.Context, ref models.DocRef, tenantID string, kind models.ResourceKind) (bool, error) {
	now := time.Now().UTC().UnixMilli()
	value := tenantID + "|" + string(kind) + "|" + strconv.FormatInt(now, 10)
	keys := []string{s.counterKey(tenantID), s.chargesKey()}
	v, err := chargeScript.Run(ctx, s.client, keys, ref.String(), value, string(kind), now).Int64()
	if err != nil {
		return false, fmt.Errorf("charge counter %s to %s/%s: %w", ref, tenantID, kind, err)
	}
	return v >= 0, nil
}

// ReleaseCounter implements storage.CounterStore.
func (s *RedisStore) ReleaseCounter(ctx context.Context, ref models.DocRef) (bool, error) {
	now := time.Now().UTC().UnixMilli()
	v, err := releaseScript.Run(ctx, s.client, []string{s.chargesKey()}, ref.String(), s.prefix, now).Int64()
	if err != nil {
		return false, fmt.Errorf("release counter %s: %w", ref, err)
	}
	return v >= 0, nil
}

// ListCharges implements storage.CounterStore.
func (s *RedisStore) ListCharges(ctx context.Context, fn func(models.CounterCharge) error) error {
	var charges []models.CounterCharge
	iter := s.client.HScan(ctx, s.chargesKey(), 0, "", 500).Iterator()
	for iter.Next(ctx) {
		field := iter.Val()
		if !iter.Next(ctx) {
			break
		}
		ch, err := parseCharge(field, iter.Val())
		if err != nil {
			return err
		}
		charges = append(charges, ch)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("list counter charges: %w", err)
	}

	sort.Slice(charges, func(i, j int) bool { return charges[i].Ref.String() < charges[j].Ref.String() })
	for _, ch := range charges {
		if err := fn(ch); err != nil {
			return err
		}
	}
	return nil
}

func parseCharge(field, value string) (models.CounterCharge, error) {
	collection, id, ok := strings.Cut(field, "/")
	if !ok {
		return models.CounterCharge{}, fmt.Errorf("malformed charge field %q", field)
	}
	rest, ms, ok := cutLast(value)
	if !ok {
		return models.CounterCharge{}, fmt.Errorf("malformed charge %q", value)
	}
	tenant, kind, ok := cutLast(rest)
	if !ok {
		return models.CounterCharge{}, fmt.Errorf("malformed charge %q", value)
	}
	ch := models.CounterCharge{
		Ref:      models.DocRef{Collection: collection, ID: id},
		TenantID: tenant,
		Kind:     models.ResourceKind(kind),
	}
	if n, err := strconv.ParseInt(ms, 10, 64); err == nil {
		ch.ChargedAt = time.UnixMilli(n).UTC()
	}
	return ch, nil
}

func cutLast(s string) (before, after string, found bool) {
	i := strings.LastIndex(s, "|")
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

// GetCounters implements storage.CounterStore.
func (s *RedisStore) GetCounters(ctx context.Context, tenantID string) ([]models.UsageCounter, error) {
	fields, err := s.client.HGetAll(ctx, s.counterKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get counters %s: %w", tenantID, err)
	}

	var out []models.UsageCounter
	for field, raw := range fields {
		if strings.HasSuffix(field, ":updated") {
			continue
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s/%s: %w", tenantID, field, err)
		}
		c := models.UsageCounter{TenantID: tenantID, Kind: models.ResourceKind(field), Count: count}
		if ms, err := strconv.ParseInt(fields[field+":updated"], 10, 64); err == nil {
			c.UpdatedAt = time.UnixMilli(ms).UTC()
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
