package world

import (
	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/group"
)

// StorageKind identifies which container a character has open.
type StorageKind int

const (
	StorageNone StorageKind = iota
	StoragePersonal
	StoragePremium
	StorageGuild
)

// Character holds in-memory data for a player currently in-world.
// Accessed only from the game loop goroutine, so no locks are needed.
type Character struct {
	CharID    int32
	AccountID int32
	Name      string
	Session   clif.Session
	Group     *group.Snapshot

	MapID   int16
	X, Y    int16
	Level   int16
	BaseStr int16
	BaseVit int16

	HP, MaxHP int32
	SP, MaxSP int32

	Zeny      int64
	MaxWeight int32
	Inv       *Inventory

	GuildID       int32
	GuildPosition int // index into the guild position table
	PartyID       int32
	PartyLeader   bool

	// Mercenary loyalty, tracked per guild on the character.
	SwordFaith, SwordCalls int32
	SpearFaith, SpearCalls int32
	ArchFaith, ArchCalls   int32

	// Exclusive interaction state. At most one of these is active; the
	// engines consult Occupied before opening a second surface.
	TradingWith int32 // partner char id, 0 = not trading
	StorageOpen StorageKind
	Vending     bool

	NoItemChecks bool // group override: skip trade/storage item restrictions

	// Dirty marks persisted state as changed; the save sweep clears it.
	Dirty bool
}

// Occupied reports whether the character is in any exclusive interaction.
func (c *Character) Occupied() bool {
	return c.TradingWith != 0 || c.StorageOpen != StorageNone || c.Vending
}

// Weight returns the current carried weight.
func (c *Character) Weight() int32 {
	if c.Inv == nil {
		return 0
	}
	return c.Inv.TotalWeight()
}

// CanCarry reports whether extra weight fits under the limit.
func (c *Character) CanCarry(extra int32) bool {
	return c.Weight()+extra <= c.MaxWeight
}

// Faith returns the loyalty value for a mercenary class.
func (c *Character) Faith(class data.MercenaryClass) int32 {
	switch class {
	case data.MercSword:
		return c.SwordFaith
	case data.MercSpear:
		return c.SpearFaith
	default:
		return c.ArchFaith
	}
}

// AddFaith applies a loyalty delta for a mercenary class, clamped at zero.
func (c *Character) AddFaith(class data.MercenaryClass, delta int32) {
	apply := func(v *int32) {
		*v += delta
		if *v < 0 {
			*v = 0
		}
	}
	switch class {
	case data.MercSword:
		apply(&c.SwordFaith)
	case data.MercSpear:
		apply(&c.SpearFaith)
	default:
		apply(&c.ArchFaith)
	}
	c.Dirty = true
}

// AddCalls increments the summon counter for a mercenary class.
func (c *Character) AddCalls(class data.MercenaryClass) {
	switch class {
	case data.MercSword:
		c.SwordCalls++
	case data.MercSpear:
		c.SpearCalls++
	default:
		c.ArchCalls++
	}
	c.Dirty = true
}

// Message sends a user-visible text line when the character is online.
func (c *Character) Message(text string) {
	if c.Session != nil {
		c.Session.Message(text)
	}
}

// Notify sends a structured event when the character is online.
func (c *Character) Notify(ev clif.Event) {
	if c.Session != nil {
		c.Session.Event(ev)
	}
}
