package layout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// Registry owns the ordered column layout per month and day class.
type Registry struct {
	repo   Repository
	logger *slog.Logger
	newID  func() uuid.UUID
}

// NewRegistry builds a Registry on top of repo.
func NewRegistry(repo Repository, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, logger: logger, newID: uuid.New}
}

// GetLayout returns the columns ordered by display position. An unconfigured
// month yields an empty slice.
func (r *Registry) GetLayout(ctx context.Context, ym shared.YearMonth, class shared.DayClass) ([]HeaderDefinition, error) {
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	if !class.Valid() {
		return nil, shared.NewValidationError("day_class", "unknown day class %q", class)
	}
	defs, err := r.repo.Load(ctx, ym, class)
	if err != nil {
		return nil, shared.StorageError("layout: load", err)
	}
	sortByOrder(defs)
	if defs == nil {
		defs = []HeaderDefinition{}
	}
	return defs, nil
}

// Resolve indexes both day-class layouts of the month by column key.
func (r *Registry) Resolve(ctx context.Context, ym shared.YearMonth) (ColumnIndex, error) {
	if err := ym.Validate(); err != nil {
		return ColumnIndex{}, err
	}
	defs, err := r.repo.LoadMonth(ctx, ym)
	if err != nil {
		return ColumnIndex{}, shared.StorageError("layout: load month", err)
	}
	return NewColumnIndex(defs), nil
}

// ReplaceLayout validates inputs in memory and swaps the stored set in one unit.
// Invalid input leaves the previous layout untouched.
func (r *Registry) ReplaceLayout(ctx context.Context, ym shared.YearMonth, class shared.DayClass, inputs []HeaderInput) ([]HeaderDefinition, error) {
	defs, err := r.buildDefinitions(ym, class, inputs)
	if err != nil {
		return nil, err
	}
	if err := r.repo.Replace(ctx, ym, class, defs); err != nil {
		return nil, shared.StorageError("layout: replace", err)
	}
	r.logger.Info("layout replaced",
		slog.String("period", ym.String()),
		slog.String("day_class", string(class)),
		slog.Int("columns", len(defs)))
	return defs, nil
}

// OrderOf returns the display position of a header.
func (r *Registry) OrderOf(ctx context.Context, id uuid.UUID) (int, error) {
	def, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return 0, shared.StorageError("layout: find header", err)
	}
	return def.Order, nil
}

func (r *Registry) buildDefinitions(ym shared.YearMonth, class shared.DayClass, inputs []HeaderInput) ([]HeaderDefinition, error) {
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	if !class.Valid() {
		return nil, shared.NewValidationError("day_class", "unknown day class %q", class)
	}
	if err := ValidateOrders(inputs); err != nil {
		return nil, err
	}
	seen := make(map[shared.ColumnKey]int, len(inputs))
	defs := make([]HeaderDefinition, 0, len(inputs))
	for _, in := range inputs {
		key, err := shared.NewColumnKey(in.WasteType, in.Sequence)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[key]; dup {
			return nil, shared.NewValidationError("column", "%s declared at orders %d and %d", key, prev, in.Order)
		}
		seen[key] = in.Order
		name := strings.TrimSpace(in.DisplayName)
		if name == "" {
			name = defaultDisplayName(key)
		}
		defs = append(defs, HeaderDefinition{
			ID:          r.newID(),
			Period:      ym,
			DayClass:    class,
			Order:       in.Order,
			Column:      key,
			DisplayName: name,
		})
	}
	sortByOrder(defs)
	return defs, nil
}

// ValidateOrders requires the order values to form exactly 1..N.
func ValidateOrders(inputs []HeaderInput) error {
	seen := make([]bool, len(inputs)+1)
	for _, in := range inputs {
		if in.Order < 1 || in.Order > len(inputs) {
			return shared.NewValidationError("order", "orders must be contiguous 1..%d, got %d", len(inputs), in.Order)
		}
		if seen[in.Order] {
			return shared.NewValidationError("order", "order %d used twice", in.Order)
		}
		seen[in.Order] = true
	}
	return nil
}

func defaultDisplayName(key shared.ColumnKey) string {
	if key.Sequence == 1 {
		return key.WasteType
	}
	return fmt.Sprintf("%s(%d)", key.WasteType, key.Sequence)
}
