// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/merenda/necessity-workflow/workflow"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	necessities   map[workflow.NecessityID]workflow.NecessityRecord
	substitutions map[workflow.SubstitutionID]workflow.SubstitutionRecord
	keys          map[workflow.SubstitutionKey]workflow.SubstitutionID
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		necessities:   make(map[workflow.NecessityID]workflow.NecessityRecord),
		substitutions: make(map[workflow.SubstitutionID]workflow.SubstitutionRecord),
		keys:          make(map[workflow.SubstitutionKey]workflow.SubstitutionID),
		now:           time.Now,
	}
}

// Reset drops every row.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.necessities = make(map[workflow.NecessityID]workflow.NecessityRecord)
	m.substitutions = make(map[workflow.SubstitutionID]workflow.SubstitutionRecord)
	m.keys = make(map[workflow.SubstitutionKey]workflow.SubstitutionID)
	return nil
}

// =============================================================================
// NECESSITIES
// =============================================================================

func (m *Memory) ListNecessities(_ context.Context, filter workflow.Filter) ([]workflow.NecessityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []workflow.NecessityRecord
	for _, n := range m.necessities {
		if filter.MatchNecessity(n) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetNecessity(_ context.Context, id workflow.NecessityID) (workflow.NecessityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.necessities[id]
	if !ok {
		return workflow.NecessityRecord{}, &workflow.NotFoundError{Kind: "necessity", ID: string(id)}
	}
	return n.Clone(), nil
}

func (m *Memory) PutNecessity(_ context.Context, rec workflow.NecessityRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = m.now()
	}
	m.necessities[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) UpdateNecessity(_ context.Context, rec workflow.NecessityRecord, expected workflow.Status) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.necessities[rec.ID]
	if !ok {
		return &workflow.NotFoundError{Kind: "necessity", ID: string(rec.ID)}
	}
	if cur.Status != expected {
		return &workflow.TransitionError{RecordID: string(rec.ID), From: expected, To: rec.Status, Current: cur.Status}
	}
	rec.UpdatedAt = m.now()
	m.necessities[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) SetNecessityStatus(_ context.Context, id workflow.NecessityID, from, to workflow.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.necessities[id]
	if !ok {
		return &workflow.NotFoundError{Kind: "necessity", ID: string(id)}
	}
	if cur.Status != from {
		return &workflow.TransitionError{RecordID: string(id), From: from, To: to, Current: cur.Status}
	}
	cur.Status = to
	cur.UpdatedAt = m.now()
	m.necessities[id] = cur
	return nil
}

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

func (m *Memory) ListSubstitutions(_ context.Context, filter workflow.Filter) ([]workflow.SubstitutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []workflow.SubstitutionRecord
	for _, s := range m.substitutions {
		if filter.MatchSubstitution(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetSubstitution(_ context.Context, id workflow.SubstitutionID) (workflow.SubstitutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.substitutions[id]
	if !ok {
		return workflow.SubstitutionRecord{}, &workflow.NotFoundError{Kind: "substitution", ID: string(id)}
	}
	return s.Clone(), nil
}

func (m *Memory) CreateSubstitution(_ context.Context, rec workflow.SubstitutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.keys[rec.Key()]; taken {
		return workflow.ErrDuplicateKey
	}
	if _, taken := m.substitutions[rec.ID]; taken {
		return workflow.ErrDuplicateKey
	}
	m.substitutions[rec.ID] = rec.Clone()
	m.keys[rec.Key()] = rec.ID
	return nil
}

func (m *Memory) UpdateSubstitution(_ context.Context, rec workflow.SubstitutionRecord, expected workflow.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.substitutions[rec.ID]
	if !ok {
		return &workflow.NotFoundError{Kind: "substitution", ID: string(rec.ID)}
	}
	if cur.Status != expected {
		return &workflow.TransitionError{RecordID: string(rec.ID), From: expected, To: rec.Status, Current: cur.Status}
	}
	// The key and status are fixed by create and the state machine.
	rec.GroupKey, rec.SupplyWeek, rec.ConsumptionWeek = cur.GroupKey, cur.SupplyWeek, cur.ConsumptionWeek
	rec.Scope, rec.SchoolID, rec.Status, rec.CreatedAt = cur.Scope, cur.SchoolID, cur.Status, cur.CreatedAt
	m.substitutions[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) SetSubstitutionStatus(_ context.Context, id workflow.SubstitutionID, from, to workflow.Status, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.substitutions[id]
	if !ok {
		return &workflow.NotFoundError{Kind: "substitution", ID: string(id)}
	}
	if cur.Status != from {
		return &workflow.TransitionError{RecordID: string(id), From: from, To: to, Current: cur.Status}
	}
	cur.Status = to
	cur.StatusNote = note
	cur.UpdatedAt = m.now()
	m.substitutions[id] = cur
	return nil
}

func (m *Memory) DeleteSubstitution(_ context.Context, id workflow.SubstitutionID, expected workflow.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.substitutions[id]
	if !ok {
		return &workflow.NotFoundError{Kind: "substitution", ID: string(id)}
	}
	if cur.Status != expected {
		return &workflow.TransitionError{RecordID: string(id), From: expected, To: expected, Current: cur.Status}
	}
	delete(m.substitutions, id)
	delete(m.keys, cur.Key())
	return nil
}
