package blobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/propstrack/maintenance-server/internal/models"
)

// MemoryStore is an in-memory Store for development and tests. It records
// the peak number of concurrent Exists calls.
type MemoryStore struct {
	bucket string

	mu      sync.Mutex
	objects map[string]models.ObjectDescriptor
	deleted []string
	faults  map[string]error

	delay    time.Duration
	inflight int
	peak     int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]models.ObjectDescriptor),
		faults:  make(map[string]error),
	}
}

// Put adds or replaces an object.
func (s *MemoryStore) Put(key string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = models.ObjectDescriptor{Key: key, Size: size, CreatedAt: time.Now().UTC()}
}

// Remove drops an object without recording a delete.
func (s *MemoryStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// FailOn makes Exists and Delete of key return err.
func (s *MemoryStore) FailOn(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[key] = err
}

// SetExistsDelay slows every Exists call, making overlap observable.
func (s *MemoryStore) SetExistsDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// PeakConcurrency returns the most Exists calls seen in flight at once.
func (s *MemoryStore) PeakConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Deleted returns the keys removed through Delete, in call order.
func (s *MemoryStore) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *MemoryStore) Bucket() string {
	return s.bucket
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]models.ObjectDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ObjectDescriptor, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	s.inflight++
	if s.inflight > s.peak {
		s.peak = s.inflight
	}
	delay := s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[key]; err != nil {
		return false, err
	}
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[key]; err != nil {
		return err
	}
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}
