package world

import (
	"sync/atomic"

	"github.com/midgard/mapserver/internal/data"
)

// uniqueIDCounter generates unique ids for non-stackable item instances.
// Starts high to avoid collision with ids loaded from the database.
var uniqueIDCounter atomic.Int64

func init() {
	uniqueIDCounter.Store(5_000_000_000)
}

// NextUniqueID returns a fresh unique id for an item instance.
func NextUniqueID() int64 {
	return uniqueIDCounter.Add(1)
}

// Item is a single item instance in an inventory, a storage container or
// a trade window. Two instances stack only when every signature field
// matches; Amount is the only mutable field of a stacked slot.
type Item struct {
	ItemID    int32
	Amount    int32
	Refine    int8
	Attribute int8 // element / broken flag
	Cards     [4]int32
	Bound     data.BoundScope
	UniqueID  int64 // 0 for plain stackables
	ExpireAt  int64 // unix seconds, 0 = never
}

// SignatureEquals reports whether two instances are stack-compatible:
// same template and same full modifier set.
func (it *Item) SignatureEquals(other *Item) bool {
	return it.ItemID == other.ItemID &&
		it.Refine == other.Refine &&
		it.Attribute == other.Attribute &&
		it.Cards == other.Cards &&
		it.Bound == other.Bound &&
		it.UniqueID == other.UniqueID &&
		it.ExpireAt == other.ExpireAt
}

// Clone returns a copy with the given amount.
func (it *Item) Clone(amount int32) *Item {
	c := *it
	c.Amount = amount
	return &c
}
