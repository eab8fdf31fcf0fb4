// Package storage implements account and guild storage: open/close
// lifecycle against the persistence tier, deposit/withdraw with
// stacking and bound-item rules, and the guild storage global lock.
package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/config"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/world"
)

// AuditEntry is one line of the storage audit trail.
type AuditEntry struct {
	CharID    int32
	AccountID int32
	GuildID   int32
	Kind      world.StorageKind
	ItemID    int32
	Amount    int32
	Deposit   bool
}

// Audit records storage movements. The persistence layer implements it
// over the database; tests use an in-memory recorder.
type Audit interface {
	Record(e AuditEntry)
}

// NopAudit discards entries.
type NopAudit struct{}

func (NopAudit) Record(AuditEntry) {}

// Manager owns every open container and the guild storage locks.
type Manager struct {
	cfg   *config.GameplayConfig
	items *data.ItemTable
	cli   *intif.Client
	audit Audit
	log   *zap.Logger

	open       map[int32]*Container // char id -> open container
	guildLocks map[int32]int32      // guild id -> char id holding the lock
}

func NewManager(cfg *config.GameplayConfig, items *data.ItemTable, cli *intif.Client, audit Audit, log *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		items:      items,
		cli:        cli,
		audit:      audit,
		log:        log,
		open:       make(map[int32]*Container),
		guildLocks: make(map[int32]int32),
	}
}

// Open begins the open sequence for a container kind. The character's
// exclusive slot and, for guild storage, the guild lock are reserved
// immediately; the slot contents arrive asynchronously.
func (m *Manager) Open(c *world.Character, kind world.StorageKind, premium bool) error {
	if c.Occupied() {
		return fmt.Errorf("finish your current interaction first")
	}
	capacity := m.cfg.StorageCapacity
	loadKind := intif.KindStorageLoad
	switch kind {
	case world.StoragePersonal:
	case world.StoragePremium:
		if !premium {
			return fmt.Errorf("premium storage requires a premium account")
		}
		capacity = m.cfg.PremiumCapacity
	case world.StorageGuild:
		if c.GuildID == 0 {
			return fmt.Errorf("you are not in a guild")
		}
		if holder, locked := m.guildLocks[c.GuildID]; locked {
			return fmt.Errorf("guild storage is in use (character %d)", holder)
		}
		m.guildLocks[c.GuildID] = c.CharID
		capacity = m.cfg.GuildCapacity
		loadKind = intif.KindGuildStorageLoad
	default:
		return fmt.Errorf("unknown storage kind")
	}

	c.StorageOpen = kind
	ct := newContainer(kind, capacity, m.cfg.StackCap, m.items)
	m.open[c.CharID] = ct

	// The key carries the premium flag so the backend can tell the two
	// account containers apart; saves key on the same triple.
	key := intif.StorageLoadKey{AccountID: c.AccountID, Premium: kind == world.StoragePremium}
	if kind == world.StorageGuild {
		key = intif.StorageLoadKey{GuildID: c.GuildID}
	}
	f := intif.Call[intif.StorageRecord](m.cli, loadKind, key)
	f.Then(func(rec intif.StorageRecord, err error) {
		// The character may have logged out while the load was in flight.
		if m.open[c.CharID] != ct {
			return
		}
		if err != nil {
			m.log.Warn("storage load failed",
				zap.Int32("char", c.CharID),
				zap.Error(err),
			)
			m.release(c)
			c.Message("Storage is unavailable right now.")
			return
		}
		ct.fromRecord(rec)
		c.Notify(clif.Event{Kind: clif.EvStorageOpen, Amount: int32(len(ct.Items))})
	})
	return nil
}

// Container returns the character's open container, or nil.
func (m *Manager) Container(c *world.Character) *Container { return m.open[c.CharID] }

// depositAllowed checks template and bound-scope rules for a deposit.
func (m *Manager) depositAllowed(c *world.Character, ct *Container, it *world.Item) Result {
	if c.NoItemChecks || c.Group.Has(group.PermStorageAnywhere) {
		return Ok
	}
	info := m.items.Get(it.ItemID)
	if info == nil {
		return Invalid
	}
	if ct.Kind == world.StorageGuild {
		if !info.GuildStorable {
			return NoAccess
		}
		// Only unbound and guild-bound items may enter guild storage.
		if it.Bound != data.BoundNone && it.Bound != data.BoundGuild {
			return NoAccess
		}
		return Ok
	}
	if !info.Storable {
		return NoAccess
	}
	// Guild-bound items live in guild storage only.
	if it.Bound == data.BoundGuild {
		return NoAccess
	}
	return Ok
}

// Deposit moves amount units from the inventory into the open container.
func (m *Manager) Deposit(c *world.Character, it *world.Item, amount int32) Result {
	ct := m.open[c.CharID]
	if ct == nil || c.StorageOpen == world.StorageNone || ct.State != StateOpen {
		return Locked
	}
	if amount <= 0 || c.Inv.Amount(it) < amount {
		return Invalid
	}
	if res := m.depositAllowed(c, ct, it); res != Ok {
		return res
	}
	if res := ct.add(it, amount); res != Ok {
		return res
	}
	if !c.Inv.Remove(it, amount) {
		// add succeeded but the inventory changed underneath; undo.
		ct.remove(it, amount)
		return Invalid
	}
	c.Dirty = true
	m.audit.Record(AuditEntry{
		CharID:    c.CharID,
		AccountID: c.AccountID,
		GuildID:   guildFor(c, ct),
		Kind:      ct.Kind,
		ItemID:    it.ItemID,
		Amount:    amount,
		Deposit:   true,
	})
	c.Notify(clif.Event{Kind: clif.EvStorageSlot, Object: int64(it.ItemID), Amount: amount})
	return Ok
}

// Withdraw moves amount units from the open container into the inventory.
func (m *Manager) Withdraw(c *world.Character, it *world.Item, amount int32) Result {
	ct := m.open[c.CharID]
	if ct == nil || c.StorageOpen == world.StorageNone || ct.State != StateOpen {
		return Locked
	}
	if amount <= 0 || ct.Amount(it) < amount {
		return Invalid
	}
	info := m.items.Get(it.ItemID)
	if info != nil && !c.CanCarry(info.Weight*amount) {
		return NoRoom
	}
	if !ct.remove(it, amount) {
		return Invalid
	}
	if c.Inv.Add(it, amount) == nil {
		ct.add(it, amount)
		return NoRoom
	}
	c.Dirty = true
	m.audit.Record(AuditEntry{
		CharID:    c.CharID,
		AccountID: c.AccountID,
		GuildID:   guildFor(c, ct),
		Kind:      ct.Kind,
		ItemID:    it.ItemID,
		Amount:    amount,
		Deposit:   false,
	})
	c.Notify(clif.Event{Kind: clif.EvStorageSlot, Object: int64(it.ItemID), Amount: -amount})
	return Ok
}

// Close saves the container and releases the exclusive slot and any
// guild lock. The save is asynchronous; with SyncStorageClose the guild
// lock is held until the ack arrives.
func (m *Manager) Close(c *world.Character) {
	ct := m.open[c.CharID]
	if ct == nil {
		return
	}
	kind := ct.Kind
	saveKind := intif.KindStorageSave
	if kind == world.StorageGuild {
		saveKind = intif.KindGuildStorageSave
	}

	if !ct.Dirty {
		m.release(c)
		c.Notify(clif.Event{Kind: clif.EvStorageClose})
		return
	}

	rec := ct.toRecord(c.AccountID, guildFor(c, ct))
	if m.cfg.SyncStorageClose && kind == world.StorageGuild {
		guildID := c.GuildID
		f := intif.Call[intif.StorageRecord](m.cli, saveKind, rec)
		delete(m.open, c.CharID)
		c.StorageOpen = world.StorageNone
		f.Then(func(_ intif.StorageRecord, err error) {
			if err != nil {
				m.log.Error("guild storage save failed",
					zap.Int32("guild", guildID),
					zap.Error(err),
				)
			}
			if m.guildLocks[guildID] == c.CharID {
				delete(m.guildLocks, guildID)
			}
		})
		c.Notify(clif.Event{Kind: clif.EvStorageClose})
		return
	}

	m.cli.Notify(saveKind, rec)
	m.release(c)
	c.Notify(clif.Event{Kind: clif.EvStorageClose})
}

// release frees the exclusive slot and guild lock without saving.
func (m *Manager) release(c *world.Character) {
	ct := m.open[c.CharID]
	delete(m.open, c.CharID)
	if ct != nil && ct.Kind == world.StorageGuild && m.guildLocks[c.GuildID] == c.CharID {
		delete(m.guildLocks, c.GuildID)
	}
	c.StorageOpen = world.StorageNone
}

// OnLogout force-closes any open container, saving dirty contents.
func (m *Manager) OnLogout(c *world.Character) {
	if m.open[c.CharID] != nil {
		m.Close(c)
	}
}

// GuildLockHolder returns the char id holding a guild's storage lock, 0
// when free.
func (m *Manager) GuildLockHolder(guildID int32) int32 { return m.guildLocks[guildID] }

func guildFor(c *world.Character, ct *Container) int32 {
	if ct.Kind == world.StorageGuild {
		return c.GuildID
	}
	return 0
}
