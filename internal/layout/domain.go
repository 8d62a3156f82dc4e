package layout

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// HeaderDefinition is one declared column of a month's plan grid.
type HeaderDefinition struct {
	ID          uuid.UUID        `json:"id"`
	Period      shared.YearMonth `json:"period"`
	DayClass    shared.DayClass  `json:"day_class"`
	Order       int              `json:"order"`
	Column      shared.ColumnKey `json:"column"`
	DisplayName string           `json:"display_name"`
}

// HeaderInput captures one column submitted for a layout replace.
type HeaderInput struct {
	Order       int
	WasteType   string
	Sequence    int
	DisplayName string
}

// Repository persists header layouts. Replace must swap the whole set atomically.
type Repository interface {
	Load(ctx context.Context, ym shared.YearMonth, class shared.DayClass) ([]HeaderDefinition, error)
	LoadMonth(ctx context.Context, ym shared.YearMonth) ([]HeaderDefinition, error)
	Replace(ctx context.Context, ym shared.YearMonth, class shared.DayClass, defs []HeaderDefinition) error
	FindByID(ctx context.Context, id uuid.UUID) (HeaderDefinition, error)
}

// ColumnIndex resolves column keys of a month against both day-class layouts.
type ColumnIndex struct {
	byKey map[shared.ColumnKey]HeaderDefinition
}

// NewColumnIndex indexes defs. When a column appears in both day classes the
// ordinary-day definition wins.
func NewColumnIndex(defs []HeaderDefinition) ColumnIndex {
	idx := ColumnIndex{byKey: make(map[shared.ColumnKey]HeaderDefinition, len(defs))}
	for _, def := range defs {
		existing, ok := idx.byKey[def.Column]
		if ok && existing.DayClass == shared.DayClassOrdinary {
			continue
		}
		idx.byKey[def.Column] = def
	}
	return idx
}

// Lookup finds the header declared for key.
func (i ColumnIndex) Lookup(key shared.ColumnKey) (HeaderDefinition, bool) {
	def, ok := i.byKey[key]
	return def, ok
}

// Len reports the number of distinct columns.
func (i ColumnIndex) Len() int { return len(i.byKey) }

// OrderOf returns the display order of key, or a value past every declared
// column when key is unknown.
func (i ColumnIndex) OrderOf(key shared.ColumnKey) int {
	if def, ok := i.byKey[key]; ok {
		return def.Order
	}
	return len(i.byKey) + 1
}

func sortByOrder(defs []HeaderDefinition) {
	sort.SliceStable(defs, func(a, b int) bool {
		if defs[a].DayClass != defs[b].DayClass {
			return defs[a].DayClass < defs[b].DayClass
		}
		return defs[a].Order < defs[b].Order
	})
}
