package storage

import (
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/world"
)

// ContainerState tracks the open lifecycle of a container.
type ContainerState int

const (
	StateLoading ContainerState = iota // load request in flight
	StateOpen
)

// Container is an open storage instance: a slot list plus the caps that
// govern it. Owned by the game loop goroutine while open. Mutations are
// rejected until the load ack moves it from loading to open.
type Container struct {
	Kind     world.StorageKind
	State    ContainerState
	Capacity int
	StackCap int32

	Items []*world.Item
	Dirty bool

	items *data.ItemTable
}

func newContainer(kind world.StorageKind, capacity int, stackCap int32, items *data.ItemTable) *Container {
	return &Container{
		Kind:     kind,
		State:    StateLoading,
		Capacity: capacity,
		StackCap: stackCap,
		items:    items,
	}
}

// find returns the slot stack-compatible with it, or nil.
func (ct *Container) find(it *world.Item) *world.Item {
	for _, slot := range ct.Items {
		if slot.SignatureEquals(it) {
			return slot
		}
	}
	return nil
}

// Amount returns the stored amount across slots compatible with it.
func (ct *Container) Amount(it *world.Item) int32 {
	var total int32
	for _, slot := range ct.Items {
		if slot.SignatureEquals(it) {
			total += slot.Amount
		}
	}
	return total
}

// stackCapFor returns the per-slot cap for a template.
func (ct *Container) stackCapFor(info *data.ItemInfo) int32 {
	if info != nil && info.StackCap > 0 {
		return info.StackCap
	}
	return ct.StackCap
}

// add inserts amount units, stacking when possible. A non-Ok result
// means nothing was mutated.
func (ct *Container) add(it *world.Item, amount int32) Result {
	info := ct.items.Get(it.ItemID)
	maxStack := ct.stackCapFor(info)
	if info != nil && info.Stackable {
		if slot := ct.find(it); slot != nil {
			if slot.Amount+amount > maxStack {
				return StackLimit
			}
			slot.Amount += amount
			ct.Dirty = true
			return Ok
		}
	}
	if amount > maxStack {
		return StackLimit
	}
	if len(ct.Items) >= ct.Capacity {
		return NoRoom
	}
	ct.Items = append(ct.Items, it.Clone(amount))
	ct.Dirty = true
	return Ok
}

// remove takes amount units from compatible slots, all or nothing.
func (ct *Container) remove(it *world.Item, amount int32) bool {
	if ct.Amount(it) < amount {
		return false
	}
	remaining := amount
	for i := 0; i < len(ct.Items) && remaining > 0; {
		slot := ct.Items[i]
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
		ct.Items = append(ct.Items[:i], ct.Items[i+1:]...)
	}
	ct.Dirty = true
	return true
}

// toRecord converts the container to its persistence record.
func (ct *Container) toRecord(accountID, guildID int32) intif.StorageRecord {
	rec := intif.StorageRecord{
		AccountID: accountID,
		GuildID:   guildID,
		Premium:   ct.Kind == world.StoragePremium,
		Items:     make([]intif.StorageItem, 0, len(ct.Items)),
	}
	for _, slot := range ct.Items {
		rec.Items = append(rec.Items, intif.StorageItem{
			ItemID:    slot.ItemID,
			Amount:    slot.Amount,
			Refine:    slot.Refine,
			Attribute: slot.Attribute,
			Cards:     slot.Cards,
			Bound:     int8(slot.Bound),
			UniqueID:  slot.UniqueID,
			ExpireAt:  slot.ExpireAt,
		})
	}
	return rec
}

// fromRecord fills the container from its persistence record and opens
// it for mutation.
func (ct *Container) fromRecord(rec intif.StorageRecord) {
	ct.Items = make([]*world.Item, 0, len(rec.Items))
	for _, ri := range rec.Items {
		ct.Items = append(ct.Items, &world.Item{
			ItemID:    ri.ItemID,
			Amount:    ri.Amount,
			Refine:    ri.Refine,
			Attribute: ri.Attribute,
			Cards:     ri.Cards,
			Bound:     data.BoundScope(ri.Bound),
			UniqueID:  ri.UniqueID,
			ExpireAt:  ri.ExpireAt,
		})
	}
	ct.State = StateOpen
	ct.Dirty = false
}
