package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/patch"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/record"
	"github.com/Actunime/Actunime-API-sub000/pkg/diff"
)

// In-memory implementations of the patch and record stores. They mirror the
// pgx repositories' semantics (including pgx.ErrNoRows on misses, so the
// service-level error mapping stays identical) and back the workflow tests.

type MemoryRecordStore struct {
	kind string

	mu      sync.RWMutex
	records map[uuid.UUID]*record.Record
}

func NewMemoryRecordStore(kind string) *MemoryRecordStore {
	return &MemoryRecordStore{kind: kind, records: make(map[uuid.UUID]*record.Record)}
}

func cloneRecord(rec *record.Record) *record.Record {
	out := *rec
	out.Document, _ = diff.Clone(rec.Document).(map[string]any)
	return &out
}

func (s *MemoryRecordStore) Get(_ context.Context, id uuid.UUID) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) Create(_ context.Context, rec *record.Record) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	stored := cloneRecord(rec)
	stored.Kind = s.kind
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[stored.ID] = stored
	return cloneRecord(stored), nil
}

func (s *MemoryRecordStore) Update(_ context.Context, id uuid.UUID, document map[string]any) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	rec.Document, _ = diff.Clone(document).(map[string]any)
	rec.UpdatedAt = time.Now().UTC()
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) SetVerified(_ context.Context, id uuid.UUID, verified bool) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	rec.IsVerified = verified
	rec.UpdatedAt = time.Now().UTC()
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

type MemoryPatchRepository struct {
	mu      sync.RWMutex
	patches map[uuid.UUID]*patch.Patch
	seq     int
	order   map[uuid.UUID]int
}

func NewMemoryPatchRepository() *MemoryPatchRepository {
	return &MemoryPatchRepository{
		patches: make(map[uuid.UUID]*patch.Patch),
		order:   make(map[uuid.UUID]int),
	}
}

func clonePatch(p *patch.Patch) *patch.Patch {
	out := *p
	out.Original = diff.Clone(p.Original)
	if p.Changes != nil {
		out.Changes = make([]diff.Operation, len(p.Changes))
		copy(out.Changes, p.Changes)
	}
	return &out
}

func (r *MemoryPatchRepository) GetByID(_ context.Context, id uuid.UUID) (*patch.Patch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patches[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return clonePatch(p), nil
}

func (r *MemoryPatchRepository) FindByTarget(_ context.Context, targetPath string, targetID uuid.UUID, status *patch.Status) ([]*patch.Patch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*patch.Patch
	for _, p := range r.patches {
		if p.Target.Path != targetPath || p.Target.ID != targetID {
			continue
		}
		if status != nil && p.Status != *status {
			continue
		}
		out = append(out, clonePatch(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return r.order[out[i].ID] > r.order[out[j].ID]
	})
	return out, nil
}

func (r *MemoryPatchRepository) Create(_ context.Context, p *patch.Patch) (*patch.Patch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	stored := clonePatch(p)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.seq++
	r.order[stored.ID] = r.seq
	r.patches[stored.ID] = stored
	return clonePatch(stored), nil
}

func (r *MemoryPatchRepository) UpdateStatus(_ context.Context, id uuid.UUID, status patch.Status, moderatorID uuid.UUID) (*patch.Patch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patches[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	p.Status = status
	p.ModeratorID = moderatorID
	p.UpdatedAt = time.Now().UTC()
	return clonePatch(p), nil
}

func (r *MemoryPatchRepository) UpdateChanges(_ context.Context, id uuid.UUID, changes []diff.Operation) (*patch.Patch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patches[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	p.Changes = make([]diff.Operation, len(changes))
	copy(p.Changes, changes)
	p.IsChangesUpdated = true
	p.UpdatedAt = time.Now().UTC()
	return clonePatch(p), nil
}

func (r *MemoryPatchRepository) DeleteByID(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patches[id]; !ok {
		return false, nil
	}
	delete(r.patches, id)
	delete(r.order, id)
	return true, nil
}
