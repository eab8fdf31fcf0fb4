package companion

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/sched"
	"github.com/midgard/mapserver/internal/world"
)

// Mercenary is one hired mercenary under contract.
type Mercenary struct {
	ID      int64
	Owner   *world.Character
	Species *data.MercenarySpecies

	HP, SP    int32
	KillCount int32
	Expires   time.Time
	Status    Status

	Dirty bool

	contractTimer sched.Handle
}

// Remaining returns the contract time left.
func (mc *Mercenary) Remaining(now time.Time) time.Duration {
	d := mc.Expires.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// HireMercenary places a mercenary under contract for the duration.
func (e *Engine) HireMercenary(c *world.Character, speciesID int32, duration time.Duration) error {
	if e.mercenarys[c.CharID] != nil {
		return fmt.Errorf("you already have a mercenary under contract")
	}
	sp := e.deps.Species.Mercenary(speciesID)
	if sp == nil {
		return fmt.Errorf("unknown mercenary species %d", speciesID)
	}
	if duration <= 0 {
		return fmt.Errorf("invalid contract duration")
	}

	mc := &Mercenary{
		Owner:   c,
		Species: sp,
		HP:      sp.MaxHP,
		SP:      sp.MaxSP,
		Expires: e.deps.Sched.Now().Add(duration),
	}
	var err error
	if mc.Status, err = transition(StatusNone, StatusPending); err != nil {
		return err
	}
	e.mercenarys[c.CharID] = mc

	f := intif.Call[intif.MercenaryRecord](e.deps.Intif, intif.KindMercenaryCreate, e.mercToRecord(mc))
	f.Then(func(rec intif.MercenaryRecord, err error) {
		if e.mercenarys[c.CharID] != mc {
			return
		}
		if err != nil {
			e.deps.Log.Warn("mercenary hire failed",
				zap.Int32("char", c.CharID),
				zap.Error(err),
			)
			delete(e.mercenarys, c.CharID)
			c.Message("The mercenary guild rejected the contract.")
			return
		}
		mc.ID = rec.MercID
		if st, terr := transition(mc.Status, StatusActive); terr == nil {
			mc.Status = st
		}
		c.AddCalls(sp.Class)
		mc.contractTimer = e.deps.Sched.Schedule(mc.Remaining(e.deps.Sched.Now()), func() {
			e.expireMercenary(c)
		})
		c.Notify(clif.Event{Kind: clif.EvCompanionSpawn, Object: mc.ID})
	})
	return nil
}

// LoadMercenary restores a persisted contract at login. Contracts with
// no time left are discarded.
func (e *Engine) LoadMercenary(c *world.Character, mercID int64) {
	f := intif.Call[intif.MercenaryRecord](e.deps.Intif, intif.KindMercenaryLoad, mercID)
	f.Then(func(rec intif.MercenaryRecord, err error) {
		if err != nil {
			e.deps.Log.Warn("mercenary load failed",
				zap.Int64("merc", mercID),
				zap.Error(err),
			)
			return
		}
		sp := e.deps.Species.Mercenary(rec.SpeciesID)
		if sp == nil || rec.ContractMS <= 0 {
			e.deps.Intif.Notify(intif.KindMercenaryDelete, mercID)
			return
		}
		mc := &Mercenary{
			ID:        rec.MercID,
			Owner:     c,
			Species:   sp,
			HP:        rec.HP,
			SP:        rec.SP,
			KillCount: rec.KillCount,
			Expires:   e.deps.Sched.Now().Add(time.Duration(rec.ContractMS) * time.Millisecond),
			Status:    StatusActive,
		}
		e.mercenarys[c.CharID] = mc
		mc.contractTimer = e.deps.Sched.Schedule(mc.Remaining(e.deps.Sched.Now()), func() {
			e.expireMercenary(c)
		})
		c.Notify(clif.Event{Kind: clif.EvCompanionSpawn, Object: mc.ID})
	})
}

// expireMercenary ends a contract that ran its full course: the guild's
// faith in the employer grows.
func (e *Engine) expireMercenary(c *world.Character) {
	mc := e.mercenarys[c.CharID]
	if mc == nil || mc.Status != StatusActive {
		return
	}
	c.AddFaith(mc.Species.Class, 1)
	c.Message("Your mercenary's contract has ended.")
	e.removeMercenary(mc)
}

// KillMercenary handles the mercenary falling in battle: faith drops.
func (e *Engine) KillMercenary(c *world.Character) error {
	mc := e.mercenarys[c.CharID]
	if mc == nil {
		return fmt.Errorf("no mercenary")
	}
	st, err := transition(mc.Status, StatusDead)
	if err != nil {
		return err
	}
	mc.Status = st
	mc.HP = 0
	c.AddFaith(mc.Species.Class, -1)
	e.removeMercenary(mc)
	return nil
}

// DismissMercenary ends the contract early with no faith change.
func (e *Engine) DismissMercenary(c *world.Character) error {
	mc := e.mercenarys[c.CharID]
	if mc == nil {
		return fmt.Errorf("no mercenary")
	}
	e.removeMercenary(mc)
	return nil
}

// CreditMercenaryKill counts a kill and returns the owner's experience
// credit from the kill formula.
func (e *Engine) CreditMercenaryKill(c *world.Character, targetLevel int16) int64 {
	mc := e.mercenarys[c.CharID]
	if mc == nil || mc.Status != StatusActive {
		return 0
	}
	mc.KillCount++
	mc.Dirty = true
	return int64(e.deps.Scripts.MercExpForKill(int(mc.Species.Level), int(targetLevel)))
}

func (e *Engine) removeMercenary(mc *Mercenary) {
	mc.Status = StatusDeleted
	if mc.contractTimer != 0 {
		e.deps.Sched.Cancel(mc.contractTimer)
		mc.contractTimer = 0
	}
	delete(e.mercenarys, mc.Owner.CharID)
	if mc.ID != 0 {
		// Final state write first: kill count and remaining life must
		// not go stale if the delete is archived downstream.
		e.deps.Intif.Notify(intif.KindMercenarySave, e.mercToRecord(mc))
		e.deps.Intif.Notify(intif.KindMercenaryDelete, mc.ID)
	}
	mc.Owner.Notify(clif.Event{Kind: clif.EvCompanionRemove, Object: mc.ID})
}

func (e *Engine) mercToRecord(mc *Mercenary) intif.MercenaryRecord {
	return intif.MercenaryRecord{
		MercID:     mc.ID,
		OwnerChar:  mc.Owner.CharID,
		SpeciesID:  mc.Species.SpeciesID,
		HP:         mc.HP,
		SP:         mc.SP,
		KillCount:  mc.KillCount,
		ContractMS: mc.Remaining(e.deps.Sched.Now()).Milliseconds(),
	}
}

func (e *Engine) saveMercenary(mc *Mercenary) {
	if mc.ID == 0 {
		return
	}
	e.deps.Intif.Notify(intif.KindMercenarySave, e.mercToRecord(mc))
}

func (e *Engine) detachMercenary(mc *Mercenary) {
	if mc.contractTimer != 0 {
		e.deps.Sched.Cancel(mc.contractTimer)
		mc.contractTimer = 0
	}
	delete(e.mercenarys, mc.Owner.CharID)
}
