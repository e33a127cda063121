package shelf

import (
	"context"

	"kioskd/internal/models"
)

// AssignmentLookup is the slice of the shelf repository the resolver needs.
type AssignmentLookup interface {
	GetActiveBySKU(ctx context.Context, sku string) (*models.ShelfAssignment, error)
}

type Resolver struct {
	lookup AssignmentLookup
}

func NewResolver(lookup AssignmentLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve expands line items into the shelf numbers a retrieval device must
// visit, one entry per unit of quantity. Items without an active assignment
// contribute nothing; they must not block order flow. Output follows input
// item order, unit repetitions contiguous.
func (r *Resolver) Resolve(ctx context.Context, items []models.OrderItem) ([]int, error) {
	shelves := make([]int, 0, len(items))
	for _, item := range items {
		a, err := r.lookup.GetActiveBySKU(ctx, item.SKU)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		for i := 0; i < item.Quantity; i++ {
			shelves = append(shelves, a.ShelfNumber)
		}
	}
	return shelves, nil
}

// Shelf zones by product box size: small products go on the lower shelves,
// large ones on the top rows.
const (
	BoxSmall  = "small"
	BoxMedium = "medium"
	BoxLarge  = "large"
)

func CompatibleWithShelf(shelfNumber int, boxSize string) bool {
	switch boxSize {
	case BoxSmall:
		return shelfNumber >= 1 && shelfNumber <= 15
	case BoxMedium:
		return shelfNumber >= 16 && shelfNumber <= 30
	case BoxLarge:
		return shelfNumber >= 31 && shelfNumber <= 40
	}
	return false
}
