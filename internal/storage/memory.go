package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/propstrack/maintenance-server/internal/models"
)

// Op names a MemoryStore operation for fault injection.
type Op string

const (
	OpGet    Op = "get"
	OpList   Op = "list"
	OpScan   Op = "scan"
	OpFind   Op = "find"
	OpCommit Op = "commit"
	OpDelete Op = "delete"
	OpCharge Op = "charge"
)

type counterKey struct {
	tenant string
	kind   models.ResourceKind
}

type faultKey struct {
	op         Op
	collection string
}

// MemoryStore is an in-memory implementation of Store backed by maps and a
// read/write mutex. Suitable for development and testing.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]map[string]*models.Document
	counters map[counterKey]*models.UsageCounter
	charges  map[models.DocRef]models.CounterCharge
	commits  []int
	faults   map[faultKey]error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]map[string]*models.Document),
		counters: make(map[counterKey]*models.UsageCounter),
		charges:  make(map[models.DocRef]models.CounterCharge),
		faults:   make(map[faultKey]error),
	}
}

// FailOn makes every later op on collection return err. A nil err clears it.
func (s *MemoryStore) FailOn(op Op, collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, faultKey{op, collection})
		return
	}
	s.faults[faultKey{op, collection}] = err
}

// Commits returns the size of every committed batch, in order.
func (s *MemoryStore) Commits() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.commits...)
}

func (s *MemoryStore) fault(op Op, collection string) error {
	return s.faults[faultKey{op, collection}]
}

func copyDoc(d *models.Document) *models.Document {
	out := *d
	out.Data = make(models.Variables, len(d.Data))
	for k, v := range d.Data {
		out.Data[k] = v
	}
	return &out
}

// sortedDocs returns the documents of a collection ordered by ID. Caller holds mu.
func (s *MemoryStore) sortedDocs(collection string) []*models.Document {
	coll := s.docs[collection]
	out := make([]*models.Document, 0, len(coll))
	for _, d := range coll {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) GetDocument(_ context.Context, collection, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpGet, collection); err != nil {
		return nil, err
	}
	d, ok := s.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(d), nil
}

func (s *MemoryStore) PutDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Data == nil {
		doc.Data = models.Variables{}
	}
	coll, ok := s.docs[doc.Collection]
	if !ok {
		coll = make(map[string]*models.Document)
		s.docs[doc.Collection] = coll
	}
	coll[doc.ID] = copyDoc(doc)
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpDelete, collection); err != nil {
		return err
	}
	delete(s.docs[collection], id)
	return nil
}

func (s *MemoryStore) ListIDs(_ context.Context, q Query) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpList, q.Collection); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(q.Values))
	for _, v := range q.Values {
		want[v] = true
	}
	var ids []string
	for _, d := range s.sortedDocs(q.Collection) {
		if !want[d.Data.String(q.Field)] {
			continue
		}
		if q.Unset != "" && d.Data.String(q.Unset) != "" {
			continue
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *MemoryStore) CountDocuments(_ context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpList, collection); err != nil {
		return 0, err
	}
	return int64(len(s.docs[collection])), nil
}

func (s *MemoryStore) ScanCollection(ctx context.Context, collection string, fn func(*models.Document) error) error {
	s.mu.RLock()
	if err := s.fault(OpScan, collection); err != nil {
		s.mu.RUnlock()
		return err
	}
	docs := s.sortedDocs(collection)
	copies := make([]*models.Document, len(docs))
	for i, d := range docs {
		copies[i] = copyDoc(d)
	}
	s.mu.RUnlock()

	for _, d := range copies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func matchesRetention(d *models.Document, q RetentionQuery) bool {
	ts, ok := d.Data.Time(q.DateField)
	if !ok || !ts.Before(q.Before) {
		return false
	}
	if q.StatusField != "" && d.Data.String(q.StatusField) != q.StatusValue {
		return false
	}
	return true
}

func (s *MemoryStore) FindExpired(_ context.Context, q RetentionQuery) ([]models.DocRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpFind, q.Collection); err != nil {
		return nil, err
	}
	var refs []models.DocRef
	for _, d := range s.sortedDocs(q.Collection) {
		if q.Limit > 0 && len(refs) >= q.Limit {
			break
		}
		if matchesRetention(d, q) {
			refs = append(refs, d.Ref())
		}
	}
	return refs, nil
}

func (s *MemoryStore) CountExpired(_ context.Context, q RetentionQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpFind, q.Collection); err != nil {
		return 0, err
	}
	var n int64
	for _, d := range s.docs[q.Collection] {
		if matchesRetention(d, q) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) NewBatch() Batch {
	return &memoryBatch{store: s}
}

type memoryBatch struct {
	store     *MemoryStore
	ops       []models.DocRef
	committed bool
}

func (b *memoryBatch) Delete(ref models.DocRef) error {
	if b.committed {
		return ErrBatchCommitted
	}
	if len(b.ops) >= MaxBatchOps {
		return ErrBatchFull
	}
	b.ops = append(b.ops, ref)
	return nil
}

func (b *memoryBatch) Len() int {
	return len(b.ops)
}

func (b *memoryBatch) Commit(_ context.Context) error {
	if b.committed {
		return ErrBatchCommitted
	}
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// All or nothing: check every fault before touching data.
	for _, ref := range b.ops {
		if err := s.fault(OpCommit, ref.Collection); err != nil {
			return err
		}
	}
	for _, ref := range b.ops {
		delete(s.docs[ref.Collection], ref.ID)
	}
	s.commits = append(s.commits, len(b.ops))
	b.committed = true
	return nil
}

func (s *MemoryStore) ChargeCounter(_ context.Context, ref models.DocRef, tenantID string, kind models.ResourceKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpCharge, ref.Collection); err != nil {
		return false, err
	}
	if _, seen := s.charges[ref]; seen {
		return false, nil
	}
	now := time.Now().UTC()
	s.charges[ref] = models.CounterCharge{Ref: ref, TenantID: tenantID, Kind: kind, ChargedAt: now}
	s.addCount(counterKey{tenantID, kind}, 1, now)
	return true, nil
}

func (s *MemoryStore) ReleaseCounter(_ context.Context, ref models.DocRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpCharge, ref.Collection); err != nil {
		return false, err
	}
	ch, ok := s.charges[ref]
	if !ok {
		return false, nil
	}
	delete(s.charges, ref)
	s.addCount(counterKey{ch.TenantID, ch.Kind}, -1, time.Now().UTC())
	return true, nil
}

func (s *MemoryStore) addCount(key counterKey, delta int64, at time.Time) {
	c, ok := s.counters[key]
	if !ok {
		c = &models.UsageCounter{TenantID: key.tenant, Kind: key.kind}
		s.counters[key] = c
	}
	c.Count += delta
	if c.Count < 0 {
		c.Count = 0
	}
	c.UpdatedAt = at
}

func (s *MemoryStore) ListCharges(_ context.Context, fn func(models.CounterCharge) error) error {
	s.mu.RLock()
	charges := make([]models.CounterCharge, 0, len(s.charges))
	for _, ch := range s.charges {
		charges = append(charges, ch)
	}
	s.mu.RUnlock()

	sort.Slice(charges, func(i, j int) bool { return charges[i].Ref.String() < charges[j].Ref.String() })
	for _, ch := range charges {
		if err := fn(ch); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetCounters(_ context.Context, tenantID string) ([]models.UsageCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.UsageCounter
	for key, c := range s.counters {
		if key.tenant == tenantID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
