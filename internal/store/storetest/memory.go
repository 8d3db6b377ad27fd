// Package storetest provides an in-memory store.Documents for tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"privacy/api/internal/store"
)

type entry struct {
	body    []byte
	version int64
}

// Memory mirrors the matching and ordering rules of store.PostgresDocuments.
// Records are stored in their JSON form so callers never share maps with it.
type Memory struct {
	mu         sync.Mutex
	containers map[string]map[string]entry

	// FailFn, when set, is consulted before every mutation. A non-nil error
	// aborts the operation.
	FailFn func(op, container, id string) error
}

func NewMemory() *Memory {
	return &Memory{containers: map[string]map[string]entry{}}
}

// Seed creates records and stops at the first error.
func (m *Memory) Seed(container string, records ...store.Record) error {
	for _, rec := range records {
		if err := m.Create(context.Background(), container, rec); err != nil {
			return fmt.Errorf("seed %s/%s: %w", container, rec.ID(), err)
		}
	}
	return nil
}

// All returns every record in a container ordered by id.
func (m *Memory) All(container string) []store.Record {
	out, _ := m.Query(context.Background(), container, store.Query{})
	return out
}

// Count returns the number of records in a container.
func (m *Memory) Count(container string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.containers[container])
}

func (m *Memory) Get(_ context.Context, container, id string) (store.Record, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.containers[container][id]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	rec, err := decode(current.body)
	if err != nil {
		return nil, 0, err
	}
	return rec, current.version, nil
}

func (m *Memory) Create(_ context.Context, container string, rec store.Record) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("create %s: document id is required", container)
	}
	if err := m.fail("create", container, id); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", container, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.containers[container]
	if !ok {
		items = map[string]entry{}
		m.containers[container] = items
	}
	if _, exists := items[id]; exists {
		return store.ErrAlreadyExists
	}
	items[id] = entry{body: body, version: 1}
	return nil
}

func (m *Memory) Replace(_ context.Context, container string, rec store.Record, ifVersion int64) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("replace %s: document id is required", container)
	}
	if err := m.fail("replace", container, id); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", container, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.containers[container][id]
	if !ok {
		return store.ErrNotFound
	}
	if ifVersion > 0 && current.version != ifVersion {
		return store.ErrVersionMismatch
	}
	m.containers[container][id] = entry{body: body, version: current.version + 1}
	return nil
}

func (m *Memory) Delete(_ context.Context, container, id string) error {
	if err := m.fail("delete", container, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container][id]; !ok {
		return store.ErrNotFound
	}
	delete(m.containers[container], id)
	return nil
}

func (m *Memory) Query(_ context.Context, container string, q store.Query) ([]store.Record, error) {
	m.mu.Lock()
	items := make([]store.Record, 0, len(m.containers[container]))
	for _, current := range m.containers[container] {
		rec, err := decode(current.body)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		items = append(items, rec)
	}
	m.mu.Unlock()

	var matched []store.Record
	for _, rec := range items {
		ok, err := matches(rec, q)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, rec)
		}
	}

	sortRecords(matched, q.SortBy, q.Desc)

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (m *Memory) fail(op, container, id string) error {
	if m.FailFn == nil {
		return nil
	}
	return m.FailFn(op, container, id)
}

func matches(rec store.Record, q store.Query) (bool, error) {
	for _, cond := range q.Where {
		ok, err := evaluate(rec, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(q.AnyOf) == 0 {
		return true, nil
	}
	for _, cond := range q.AnyOf {
		ok, err := evaluate(rec, cond)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evaluate(rec store.Record, cond store.Cond) (bool, error) {
	if cond.Field == "" {
		return false, fmt.Errorf("query condition requires a field")
	}
	value, present := rec[cond.Field]

	switch cond.Op {
	case store.OpEq:
		if !present {
			return false, nil
		}
		want, err := json.Marshal(cond.Value)
		if err != nil {
			return false, err
		}
		got, err := json.Marshal(value)
		if err != nil {
			return false, err
		}
		return string(got) == string(want), nil
	case store.OpIn:
		values, ok := cond.Value.([]string)
		if !ok {
			return false, fmt.Errorf("condition on %s: in expects []string", cond.Field)
		}
		text, ok := textValue(value, present)
		if !ok {
			return false, nil
		}
		for _, candidate := range values {
			if candidate == text {
				return true, nil
			}
		}
		return false, nil
	case store.OpBefore, store.OpSince, store.OpUntil:
		bound, ok := cond.Value.(time.Time)
		if !ok {
			return false, fmt.Errorf("condition on %s: %s expects time.Time", cond.Field, cond.Op)
		}
		at, ok := rec.Time(cond.Field)
		if !ok {
			return false, nil
		}
		switch cond.Op {
		case store.OpBefore:
			return at.Before(bound), nil
		case store.OpSince:
			return !at.Before(bound), nil
		default:
			return !at.After(bound), nil
		}
	default:
		return false, fmt.Errorf("unsupported condition operator %q", cond.Op)
	}
}

// textValue matches the ->> operator: strings as-is, everything else as JSON.
func textValue(value any, present bool) (string, bool) {
	if !present || value == nil {
		return "", false
	}
	if s, ok := value.(string); ok {
		return s, true
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(raw)), true
}

func sortRecords(records []store.Record, field string, desc bool) {
	sort.SliceStable(records, func(i, j int) bool {
		if field != "" {
			left, leftOK := records[i].Time(field)
			right, rightOK := records[j].Time(field)
			switch {
			case leftOK && !rightOK:
				return true
			case !leftOK && rightOK:
				return false
			case leftOK && rightOK && !left.Equal(right):
				if desc {
					return left.After(right)
				}
				return left.Before(right)
			}
		}
		return records[i].ID() < records[j].ID()
	})
}

func decode(body []byte) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return rec, nil
}
