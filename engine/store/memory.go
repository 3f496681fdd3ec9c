// Package store provides an in-memory Store implementation (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/campus/textbook-engine/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements engine.TxStore with plain maps. WithTx snapshots the
// whole dataset and restores it when the callback fails, giving the same
// all-or-nothing semantics as the SQLite store.
type Memory struct {
	mu sync.RWMutex
	tx memTx
}

func NewMemory() *Memory {
	return &Memory{tx: memTx{d: newMemData()}}
}

// WithTx runs fn against the raw data under the write lock. On error the
// pre-transaction snapshot is restored.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.tx.d.clone()
	if err := fn(&m.tx); err != nil {
		m.tx.d = snap
		return err
	}
	return nil
}

// =============================================================================
// LOCKED DELEGATES (engine.Store)
// =============================================================================

func (m *Memory) SaveTextbook(ctx context.Context, tb engine.Textbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.SaveTextbook(ctx, tb)
}

func (m *Memory) GetTextbook(ctx context.Context, id engine.TextbookID) (*engine.Textbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.GetTextbook(ctx, id)
}

func (m *Memory) ListTextbooks(ctx context.Context) ([]engine.Textbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.ListTextbooks(ctx)
}

func (m *Memory) UpdateTextbookStock(ctx context.Context, id engine.TextbookID, total, available int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.UpdateTextbookStock(ctx, id, total, available)
}

func (m *Memory) SaveBranch(ctx context.Context, b engine.Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.SaveBranch(ctx, b)
}

func (m *Memory) GetBranch(ctx context.Context, id engine.BranchID) (*engine.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.GetBranch(ctx, id)
}

func (m *Memory) ListBranches(ctx context.Context) ([]engine.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.ListBranches(ctx)
}

func (m *Memory) SaveSet(ctx context.Context, s engine.TextbookSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.SaveSet(ctx, s)
}

func (m *Memory) GetSet(ctx context.Context, id engine.SetID) (*engine.TextbookSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.GetSet(ctx, id)
}

func (m *Memory) ListSets(ctx context.Context) ([]engine.TextbookSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.ListSets(ctx)
}

func (m *Memory) SaveTeacher(ctx context.Context, t engine.Teacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.SaveTeacher(ctx, t)
}

func (m *Memory) GetTeacher(ctx context.Context, id engine.TeacherID) (*engine.Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.GetTeacher(ctx, id)
}

func (m *Memory) SaveStudent(ctx context.Context, s engine.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.SaveStudent(ctx, s)
}

func (m *Memory) GetStudent(ctx context.Context, id engine.StudentID) (*engine.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.GetStudent(ctx, id)
}

func (m *Memory) SaveDistribution(ctx context.Context, d engine.Distribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.SaveDistribution(ctx, d)
}

func (m *Memory) GetDistribution(ctx context.Context, id engine.DistributionID) (*engine.Distribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.GetDistribution(ctx, id)
}

func (m *Memory) ListDistributions(ctx context.Context, academicYear string) ([]engine.Distribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.ListDistributions(ctx, academicYear)
}

func (m *Memory) DeleteDistribution(ctx context.Context, id engine.DistributionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.DeleteDistribution(ctx, id)
}

func (m *Memory) SaveIndividualDistribution(ctx context.Context, d engine.IndividualDistribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.SaveIndividualDistribution(ctx, d)
}

func (m *Memory) GetIndividualDistribution(ctx context.Context, id engine.DistributionID) (*engine.IndividualDistribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.GetIndividualDistribution(ctx, id)
}

func (m *Memory) ListIndividualDistributions(ctx context.Context, academicYear string) ([]engine.IndividualDistribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.ListIndividualDistributions(ctx, academicYear)
}

func (m *Memory) DeleteIndividualDistribution(ctx context.Context, id engine.DistributionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.DeleteIndividualDistribution(ctx, id)
}

func (m *Memory) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx.HasIdempotencyKey(ctx, key)
}

// =============================================================================
// DATA AND UNLOCKED ACCESS (used inside WithTx)
// =============================================================================

type memData struct {
	textbooks   map[engine.TextbookID]engine.Textbook
	branches    map[engine.BranchID]engine.Branch
	sets        map[engine.SetID]engine.TextbookSet
	teachers    map[engine.TeacherID]engine.Teacher
	students    map[engine.StudentID]engine.Student
	batches     map[engine.DistributionID]engine.Distribution
	individuals map[engine.DistributionID]engine.IndividualDistribution
}

func newMemData() *memData {
	return &memData{
		textbooks:   make(map[engine.TextbookID]engine.Textbook),
		branches:    make(map[engine.BranchID]engine.Branch),
		sets:        make(map[engine.SetID]engine.TextbookSet),
		teachers:    make(map[engine.TeacherID]engine.Teacher),
		students:    make(map[engine.StudentID]engine.Student),
		batches:     make(map[engine.DistributionID]engine.Distribution),
		individuals: make(map[engine.DistributionID]engine.IndividualDistribution),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.textbooks {
		c.textbooks[k] = v
	}
	for k, v := range d.branches {
		c.branches[k] = v
	}
	for k, v := range d.sets {
		c.sets[k] = v
	}
	for k, v := range d.teachers {
		c.teachers[k] = v
	}
	for k, v := range d.students {
		c.students[k] = v
	}
	for k, v := range d.batches {
		c.batches[k] = copyDistribution(v)
	}
	for k, v := range d.individuals {
		c.individuals[k] = v
	}
	return c
}

func copyDistribution(d engine.Distribution) engine.Distribution {
	details := make([]engine.DistributionDetail, len(d.Details))
	copy(details, d.Details)
	d.Details = details
	return d
}

// memTx implements engine.Store directly on memData, without locking.
// Memory's public methods wrap it with the mutex; WithTx hands it to the
// callback while holding the write lock.
type memTx struct {
	d *memData
}

func (t *memTx) SaveTextbook(_ context.Context, tb engine.Textbook) error {
	t.d.textbooks[tb.ID] = tb
	return nil
}

func (t *memTx) GetTextbook(_ context.Context, id engine.TextbookID) (*engine.Textbook, error) {
	tb, ok := t.d.textbooks[id]
	if !ok {
		return nil, nil
	}
	return &tb, nil
}

func (t *memTx) ListTextbooks(_ context.Context) ([]engine.Textbook, error) {
	out := make([]engine.Textbook, 0, len(t.d.textbooks))
	for _, tb := range t.d.textbooks {
		out = append(out, tb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateTextbookStock(_ context.Context, id engine.TextbookID, total, available int) error {
	tb, ok := t.d.textbooks[id]
	if !ok {
		return &engine.NotFoundError{Kind: "textbook", ID: string(id)}
	}
	tb.TotalStock = total
	tb.AvailableStock = available
	t.d.textbooks[id] = tb
	return nil
}

func (t *memTx) SaveBranch(_ context.Context, b engine.Branch) error {
	t.d.branches[b.ID] = b
	return nil
}

func (t *memTx) GetBranch(_ context.Context, id engine.BranchID) (*engine.Branch, error) {
	b, ok := t.d.branches[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *memTx) ListBranches(_ context.Context) ([]engine.Branch, error) {
	out := make([]engine.Branch, 0, len(t.d.branches))
	for _, b := range t.d.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) SaveSet(_ context.Context, s engine.TextbookSet) error {
	ids := make([]engine.TextbookID, len(s.TextbookIDs))
	copy(ids, s.TextbookIDs)
	s.TextbookIDs = ids
	t.d.sets[s.ID] = s
	return nil
}

func (t *memTx) GetSet(_ context.Context, id engine.SetID) (*engine.TextbookSet, error) {
	s, ok := t.d.sets[id]
	if !ok {
		return nil, nil
	}
	ids := make([]engine.TextbookID, len(s.TextbookIDs))
	copy(ids, s.TextbookIDs)
	s.TextbookIDs = ids
	return &s, nil
}

func (t *memTx) ListSets(_ context.Context) ([]engine.TextbookSet, error) {
	out := make([]engine.TextbookSet, 0, len(t.d.sets))
	for _, s := range t.d.sets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) SaveTeacher(_ context.Context, teacher engine.Teacher) error {
	t.d.teachers[teacher.ID] = teacher
	return nil
}

func (t *memTx) GetTeacher(_ context.Context, id engine.TeacherID) (*engine.Teacher, error) {
	teacher, ok := t.d.teachers[id]
	if !ok {
		return nil, nil
	}
	return &teacher, nil
}

func (t *memTx) SaveStudent(_ context.Context, s engine.Student) error {
	t.d.students[s.ID] = s
	return nil
}

func (t *memTx) GetStudent(_ context.Context, id engine.StudentID) (*engine.Student, error) {
	s, ok := t.d.students[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (t *memTx) SaveDistribution(_ context.Context, d engine.Distribution) error {
	t.d.batches[d.ID] = copyDistribution(d)
	return nil
}

func (t *memTx) GetDistribution(_ context.Context, id engine.DistributionID) (*engine.Distribution, error) {
	d, ok := t.d.batches[id]
	if !ok {
		return nil, nil
	}
	d = copyDistribution(d)
	return &d, nil
}

func (t *memTx) ListDistributions(_ context.Context, academicYear string) ([]engine.Distribution, error) {
	out := make([]engine.Distribution, 0, len(t.d.batches))
	for _, d := range t.d.batches {
		if academicYear != "" && d.AcademicYear != academicYear {
			continue
		}
		out = append(out, copyDistribution(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) DeleteDistribution(_ context.Context, id engine.DistributionID) error {
	delete(t.d.batches, id)
	return nil
}

func (t *memTx) SaveIndividualDistribution(_ context.Context, d engine.IndividualDistribution) error {
	t.d.individuals[d.ID] = d
	return nil
}

func (t *memTx) GetIndividualDistribution(_ context.Context, id engine.DistributionID) (*engine.IndividualDistribution, error) {
	d, ok := t.d.individuals[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (t *memTx) ListIndividualDistributions(_ context.Context, academicYear string) ([]engine.IndividualDistribution, error) {
	out := make([]engine.IndividualDistribution, 0, len(t.d.individuals))
	for _, d := range t.d.individuals {
		if academicYear != "" && d.AcademicYear != academicYear {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) DeleteIndividualDistribution(_ context.Context, id engine.DistributionID) error {
	delete(t.d.individuals, id)
	return nil
}

func (t *memTx) HasIdempotencyKey(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	for _, d := range t.d.batches {
		if d.IdempotencyKey == key {
			return true, nil
		}
	}
	for _, d := range t.d.individuals {
		if d.IdempotencyKey == key {
			return true, nil
		}
	}
	return false, nil
}
