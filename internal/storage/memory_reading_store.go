package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/damsafe-io/damsafe/internal/readings"
)

var _ readings.Store = (*MemoryReadingStore)(nil)

type readingKey struct {
	instrumentID string
	day          string
}

// MemoryReadingStore is a readings.Store for development and tests.
type MemoryReadingStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[readingKey]*readings.Reading
}

// NewMemoryReadingStore creates an empty store.
func NewMemoryReadingStore() *MemoryReadingStore {
	return &MemoryReadingStore{rows: make(map[readingKey]*readings.Reading)}
}

// Exists reports whether a reading for (instrumentID, day) is stored.
func (s *MemoryReadingStore) Exists(_ context.Context, instrumentID string, day time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rows[readingKey{instrumentID, readings.FormatDay(day)}]

	return ok, nil
}

// Insert stores r unless its (instrument, day) row exists.
func (s *MemoryReadingStore) Insert(_ context.Context, r *readings.Reading) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := readingKey{r.InstrumentID, readings.FormatDay(r.Date)}
	if _, ok := s.rows[key]; ok {
		return false, nil
	}

	s.nextID++
	r.ID = s.nextID

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	s.rows[key] = r.Clone()

	return true, nil
}

// ListByDam returns a page of a dam's readings, newest day first.
func (s *MemoryReadingStore) ListByDam(_ context.Context, q readings.Query) ([]*readings.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*readings.Reading

	for _, r := range s.rows {
		if r.DamID != q.DamID {
			continue
		}

		if !q.From.IsZero() && r.Date.Before(q.From) {
			continue
		}

		if !q.To.IsZero() && r.Date.After(q.To) {
			continue
		}

		matched = append(matched, r.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.After(matched[j].Date)
		}

		return matched[i].InstrumentID < matched[j].InstrumentID
	})

	if q.Offset >= len(matched) {
		return []*readings.Reading{}, nil
	}

	end := len(matched)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}

	return matched[q.Offset:end], nil
}

// Latest returns the newest reading of an instrument or readings.ErrNotFound.
func (s *MemoryReadingStore) Latest(_ context.Context, instrumentID string) (*readings.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *readings.Reading

	for _, r := range s.rows {
		if r.InstrumentID == instrumentID && (latest == nil || r.Date.After(latest.Date)) {
			latest = r
		}
	}

	if latest == nil {
		return nil, fmt.Errorf("%w: instrument %s", readings.ErrNotFound, instrumentID)
	}

	return latest.Clone(), nil
}

// Len returns the number of stored readings.
func (s *MemoryReadingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rows)
}
