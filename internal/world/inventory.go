package world

import (
	"github.com/midgard/mapserver/internal/data"
)

const MaxInventorySize = 100

// Inventory holds a player's in-memory item list. Accessed only from the
// game loop goroutine, so no locks are needed.
type Inventory struct {
	Items []*Item

	items *data.ItemTable
}

// NewInventory creates an empty inventory backed by the item templates.
func NewInventory(items *data.ItemTable) *Inventory {
	return &Inventory{
		Items: make([]*Item, 0, 16),
		items: items,
	}
}

// Template returns the static template for an item id, or nil.
func (inv *Inventory) Template(itemID int32) *data.ItemInfo {
	return inv.items.Get(itemID)
}

// Find returns the first slot stack-compatible with it, or nil.
func (inv *Inventory) Find(it *Item) *Item {
	for _, slot := range inv.Items {
		if slot.SignatureEquals(it) {
			return slot
		}
	}
	return nil
}

// FindByItemID returns the first slot holding the template id, or nil.
func (inv *Inventory) FindByItemID(itemID int32) *Item {
	for _, slot := range inv.Items {
		if slot.ItemID == itemID {
			return slot
		}
	}
	return nil
}

// Amount returns the total amount held across all slots compatible with it.
func (inv *Inventory) Amount(it *Item) int32 {
	var total int32
	for _, slot := range inv.Items {
		if slot.SignatureEquals(it) {
			total += slot.Amount
		}
	}
	return total
}

// Size returns the number of occupied slots.
func (inv *Inventory) Size() int { return len(inv.Items) }

// IsFull reports whether no free slot remains.
func (inv *Inventory) IsFull() bool { return len(inv.Items) >= MaxInventorySize }

// Add inserts amount units of it, stacking onto a compatible slot when
// the template is stackable. Returns the affected slot, or nil when the
// inventory is full and a new slot would be needed.
func (inv *Inventory) Add(it *Item, amount int32) *Item {
	if amount <= 0 {
		return nil
	}
	info := inv.items.Get(it.ItemID)
	if info != nil && info.Stackable {
		if slot := inv.Find(it); slot != nil {
			slot.Amount += amount
			return slot
		}
	}
	if inv.IsFull() {
		return nil
	}
	slot := it.Clone(amount)
	inv.Items = append(inv.Items, slot)
	return slot
}

// Remove takes amount units from slots compatible with it. Returns false
// without mutating anything when the inventory holds less than amount.
func (inv *Inventory) Remove(it *Item, amount int32) bool {
	if amount <= 0 {
		return false
	}
	if inv.Amount(it) < amount {
		return false
	}
	remaining := amount
	for i := 0; i < len(inv.Items) && remaining > 0; {
		slot := inv.Items[i]
		if !slot.SignatureEquals(it) {
			i++
			continue
		}
		if slot.Amount > remaining {
			slot.Amount -= remaining
			remaining = 0
			break
		}
		remaining -= slot.Amount
		inv.Items = append(inv.Items[:i], inv.Items[i+1:]...)
	}
	return true
}

// TotalWeight returns the carried weight of all slots.
func (inv *Inventory) TotalWeight() int32 {
	var total int32
	for _, slot := range inv.Items {
		if info := inv.items.Get(slot.ItemID); info != nil {
			total += info.Weight * slot.Amount
		}
	}
	return total
}
