package world

import (
	"testing"

	"github.com/midgard/mapserver/internal/data"
)

func testItemTable(t *testing.T) *data.ItemTable {
	t.Helper()
	return data.NewItemTable([]data.ItemInfo{
		{ItemID: 501, Name: "Red Potion", Weight: 7, Stackable: true, Tradeable: true, Storable: true, GuildStorable: true},
		{ItemID: 1201, Name: "Knife", Weight: 50, Stackable: false, Tradeable: true, Storable: true, GuildStorable: true},
		{ItemID: 2764, Name: "Wedding Ring", Weight: 1, Stackable: false, Tradeable: false, Storable: false},
	})
}

func TestAddStacksOnMatchingSignature(t *testing.T) {
	inv := NewInventory(testItemTable(t))
	potion := &Item{ItemID: 501}
	inv.Add(potion, 10)
	inv.Add(potion, 5)
	if got := inv.Size(); got != 1 {
		t.Fatalf("slots = %d, want 1", got)
	}
	if got := inv.Amount(potion); got != 15 {
		t.Fatalf("amount = %d, want 15", got)
	}
}

func TestAddSplitsOnDifferentSignature(t *testing.T) {
	inv := NewInventory(testItemTable(t))
	inv.Add(&Item{ItemID: 501}, 10)
	inv.Add(&Item{ItemID: 501, Bound: data.BoundAccount}, 10)
	if got := inv.Size(); got != 2 {
		t.Fatalf("slots = %d, want 2: bound items must not stack with unbound", got)
	}
}

func TestNonStackableAlwaysNewSlot(t *testing.T) {
	inv := NewInventory(testItemTable(t))
	inv.Add(&Item{ItemID: 1201, UniqueID: NextUniqueID()}, 1)
	inv.Add(&Item{ItemID: 1201, UniqueID: NextUniqueID()}, 1)
	if got := inv.Size(); got != 2 {
		t.Fatalf("slots = %d, want 2", got)
	}
}

func TestRemoveIsAllOrNothing(t *testing.T) {
	inv := NewInventory(testItemTable(t))
	potion := &Item{ItemID: 501}
	inv.Add(potion, 10)
	if inv.Remove(potion, 11) {
		t.Fatal("remove should fail when short")
	}
	if got := inv.Amount(potion); got != 10 {
		t.Fatalf("failed remove mutated inventory: amount = %d", got)
	}
	if !inv.Remove(potion, 10) {
		t.Fatal("remove should succeed with exact amount")
	}
	if got := inv.Size(); got != 0 {
		t.Fatalf("slot not freed: %d", got)
	}
}

func TestRemoveSpansSlots(t *testing.T) {
	inv := NewInventory(testItemTable(t))
	knife := &Item{ItemID: 1201}
	// Same signature but non-stackable: each Add lands in its own slot.
	inv.Add(knife, 1)
	inv.Add(knife, 1)
	inv.Add(knife, 1)
	if got := inv.Size(); got != 3 {
		t.Fatalf("slots = %d, want 3", got)
	}
	if !inv.Remove(knife, 2) {
		t.Fatal("remove across slots should succeed")
	}
	if got := inv.Size(); got != 1 {
		t.Fatalf("slots = %d, want 1", got)
	}
}

func TestTotalWeight(t *testing.T) {
	inv := NewInventory(testItemTable(t))
	inv.Add(&Item{ItemID: 501}, 10) // 70
	inv.Add(&Item{ItemID: 1201}, 1) // 50
	if got := inv.TotalWeight(); got != 120 {
		t.Fatalf("weight = %d, want 120", got)
	}
}

func TestStateNameLookupFoldsCase(t *testing.T) {
	st := NewState()
	c := &Character{CharID: 7, Name: "Aeryn"}
	st.Add(c)
	if st.ByName("AERYN") != c {
		t.Fatal("name lookup should be case-insensitive")
	}
	st.Remove(7)
	if st.ByName("aeryn") != nil {
		t.Fatal("removed character still resolvable by name")
	}
}

func TestInRange(t *testing.T) {
	a := &Character{MapID: 1, X: 10, Y: 10}
	b := &Character{MapID: 1, X: 12, Y: 9}
	if !InRange(a, b, 2) {
		t.Error("distance 2 should be in range 2")
	}
	if InRange(a, b, 1) {
		t.Error("distance 2 should be out of range 1")
	}
	b.MapID = 2
	if InRange(a, b, 100) {
		t.Error("different maps are never in range")
	}
}
