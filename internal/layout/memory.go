package layout

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/wasteplan/internal/shared"
)

type layoutKey struct {
	period shared.YearMonth
	class  shared.DayClass
}

// MemoryRepository keeps layouts in process. Each replace swaps in a fresh
// slice, so readers holding an old slice never observe a partial write.
type MemoryRepository struct {
	mu      sync.RWMutex
	layouts map[layoutKey][]HeaderDefinition
	byID    map[uuid.UUID]HeaderDefinition
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		layouts: make(map[layoutKey][]HeaderDefinition),
		byID:    make(map[uuid.UUID]HeaderDefinition),
	}
}

// Load returns a copy of the stored layout.
func (m *MemoryRepository) Load(ctx context.Context, ym shared.YearMonth, class shared.DayClass) ([]HeaderDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]HeaderDefinition(nil), m.layouts[layoutKey{ym, class}]...), nil
}

// LoadMonth returns every day-class layout of the month.
func (m *MemoryRepository) LoadMonth(ctx context.Context, ym shared.YearMonth) ([]HeaderDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []HeaderDefinition
	for _, class := range shared.DayClasses() {
		out = append(out, m.layouts[layoutKey{ym, class}]...)
	}
	return out, nil
}

// Replace swaps the layout for (ym, class).
func (m *MemoryRepository) Replace(ctx context.Context, ym shared.YearMonth, class shared.DayClass, defs []HeaderDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := append([]HeaderDefinition(nil), defs...)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := layoutKey{ym, class}
	for _, old := range m.layouts[key] {
		delete(m.byID, old.ID)
	}
	m.layouts[key] = next
	for _, def := range next {
		m.byID[def.ID] = def
	}
	return nil
}

// FindByID resolves a header by id.
func (m *MemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (HeaderDefinition, error) {
	if err := ctx.Err(); err != nil {
		return HeaderDefinition{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.byID[id]
	if !ok {
		return HeaderDefinition{}, shared.NotFound("layout: header " + id.String())
	}
	return def, nil
}
