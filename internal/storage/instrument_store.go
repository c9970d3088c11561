package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/damsafe-io/damsafe/internal/collection"
)

// ErrInstrumentStoreFailed wraps every unexpected database error of InstrumentStore.
var ErrInstrumentStoreFailed = errors.New("instrument storage failed")

var (
	_ collection.InstrumentSource = (*InstrumentStore)(nil)
	_ collection.InstrumentSource = (*MemoryInstrumentStore)(nil)
)

const instrumentColumns = `id, dam_id, name, station_code, linimetric_ruler, created_at`

// InstrumentStore reads the instruments table maintained by the configuration service.
type InstrumentStore struct {
	conn *Connection
}

// NewInstrumentStore creates an InstrumentStore. Returns ErrNoDatabaseConnection for a nil conn.
func NewInstrumentStore(conn *Connection) (*InstrumentStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &InstrumentStore{conn: conn}, nil
}

// ListEligible returns instruments flagged as linimetric rulers with a station code.
func (s *InstrumentStore) ListEligible(ctx context.Context) ([]*collection.Instrument, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+instrumentColumns+` FROM instruments
		WHERE linimetric_ruler = TRUE AND station_code <> ''
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list eligible: %w", ErrInstrumentStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var list []*collection.Instrument

	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrInstrumentStoreFailed, err)
		}

		list = append(list, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list eligible: %w", ErrInstrumentStoreFailed, err)
	}

	return list, nil
}

// Get returns an instrument or collection.ErrInstrumentNotFound.
func (s *InstrumentStore) Get(ctx context.Context, id string) (*collection.Instrument, error) {
	inst, err := scanInstrument(s.conn.QueryRowContext(ctx,
		`SELECT `+instrumentColumns+` FROM instruments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", collection.ErrInstrumentNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get: %w", ErrInstrumentStoreFailed, err)
	}

	return inst, nil
}

// Save upserts an instrument. The configuration service owns this table in
// production; Save exists for seeding and tests.
func (s *InstrumentStore) Save(ctx context.Context, inst *collection.Instrument) error {
	createdAt := inst.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO instruments (id, dam_id, name, station_code, linimetric_ruler, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			dam_id = EXCLUDED.dam_id,
			name = EXCLUDED.name,
			station_code = EXCLUDED.station_code,
			linimetric_ruler = EXCLUDED.linimetric_ruler`,
		inst.ID, inst.DamID, inst.Name, inst.StationCode, inst.LinimetricRuler, createdAt)
	if err != nil {
		return fmt.Errorf("%w: save: %w", ErrInstrumentStoreFailed, err)
	}

	return nil
}

func scanInstrument(row rowScanner) (*collection.Instrument, error) {
	var inst collection.Instrument

	if err := row.Scan(&inst.ID, &inst.DamID, &inst.Name, &inst.StationCode,
		&inst.LinimetricRuler, &inst.CreatedAt); err != nil {
		return nil, err
	}

	inst.CreatedAt = inst.CreatedAt.UTC()

	return &inst, nil
}

// MemoryInstrumentStore is an InstrumentSource for development and tests.
type MemoryInstrumentStore struct {
	mu          sync.RWMutex
	instruments map[string]*collection.Instrument
}

// NewMemoryInstrumentStore creates a store holding the given instruments.
func NewMemoryInstrumentStore(instruments ...*collection.Instrument) *MemoryInstrumentStore {
	s := &MemoryInstrumentStore{instruments: make(map[string]*collection.Instrument)}

	for _, inst := range instruments {
		_ = s.Save(context.Background(), inst)
	}

	return s
}

// ListEligible returns eligible instruments ordered by id.
func (s *MemoryInstrumentStore) ListEligible(context.Context) ([]*collection.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*collection.Instrument

	for _, inst := range s.instruments {
		if inst.Eligible() {
			c := *inst
			list = append(list, &c)
		}
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list, nil
}

// Get returns an instrument or collection.ErrInstrumentNotFound.
func (s *MemoryInstrumentStore) Get(_ context.Context, id string) (*collection.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instruments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", collection.ErrInstrumentNotFound, id)
	}

	c := *inst

	return &c, nil
}

// Save inserts or replaces an instrument.
func (s *MemoryInstrumentStore) Save(_ context.Context, inst *collection.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *inst
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	s.instruments[c.ID] = &c

	return nil
}
