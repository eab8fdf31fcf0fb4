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

// Elemental is one summoned elemental spirit. It exists while the owner
// can pay its SP upkeep and its lifetime has not run out.
type Elemental struct {
	ID      int64
	Owner   *world.Character
	Species *data.ElementalSpecies

	HP, SP  int32
	Mode    data.ElementalMode
	Expires time.Time
	Status  Status

	Dirty bool

	lifeTimer   sched.Handle
	upkeepTimer sched.Handle
}

// Remaining returns the lifetime left.
func (el *Elemental) Remaining(now time.Time) time.Duration {
	d := el.Expires.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// SummonElemental binds a new elemental to the character.
func (e *Engine) SummonElemental(c *world.Character, speciesID int32, mode data.ElementalMode, lifetime time.Duration) error {
	if e.elementals[c.CharID] != nil {
		return fmt.Errorf("you already command an elemental")
	}
	sp := e.deps.Species.Elemental(speciesID)
	if sp == nil {
		return fmt.Errorf("unknown elemental species %d", speciesID)
	}
	if lifetime <= 0 {
		return fmt.Errorf("invalid summon duration")
	}
	if c.SP < sp.Upkeep(mode) {
		return fmt.Errorf("not enough SP to sustain the spirit")
	}

	el := &Elemental{
		Owner:   c,
		Species: sp,
		HP:      sp.MaxHP,
		SP:      sp.MaxSP,
		Mode:    mode,
		Expires: e.deps.Sched.Now().Add(lifetime),
	}
	var err error
	if el.Status, err = transition(StatusNone, StatusPending); err != nil {
		return err
	}
	e.elementals[c.CharID] = el

	f := intif.Call[intif.ElementalRecord](e.deps.Intif, intif.KindElementalCreate, e.elemToRecord(el))
	f.Then(func(rec intif.ElementalRecord, err error) {
		if e.elementals[c.CharID] != el {
			return
		}
		if err != nil {
			e.deps.Log.Warn("elemental summon failed",
				zap.Int32("char", c.CharID),
				zap.Error(err),
			)
			delete(e.elementals, c.CharID)
			c.Message("The summoning fizzled.")
			return
		}
		el.ID = rec.ElemID
		if st, terr := transition(el.Status, StatusActive); terr == nil {
			el.Status = st
		}
		e.startElementalTimers(el)
		c.Notify(clif.Event{Kind: clif.EvCompanionSpawn, Object: el.ID})
	})
	return nil
}

func (e *Engine) startElementalTimers(el *Elemental) {
	c := el.Owner
	el.lifeTimer = e.deps.Sched.Schedule(el.Remaining(e.deps.Sched.Now()), func() {
		e.despawnElemental(c, "Your elemental's time in this world ended.")
	})
	el.upkeepTimer = e.deps.Sched.ScheduleEvery(e.deps.Cfg.UpkeepInterval.Std(), func() {
		e.upkeepTick(c)
	})
}

// upkeepTick drains the owner's SP by the mode cost; an unpayable tick
// dismisses the spirit.
func (e *Engine) upkeepTick(c *world.Character) {
	el := e.elementals[c.CharID]
	if el == nil || el.Status != StatusActive {
		return
	}
	cost := el.Species.Upkeep(el.Mode)
	if c.SP < cost {
		e.despawnElemental(c, "Your elemental departed for lack of energy.")
		return
	}
	c.SP -= cost
	c.Dirty = true
	el.Dirty = true
	c.Notify(clif.Event{Kind: clif.EvStatusUpdate, Amount: c.SP})
}

// ChangeElementalMode switches stance; the new upkeep applies from the
// next tick.
func (e *Engine) ChangeElementalMode(c *world.Character, mode data.ElementalMode) error {
	el := e.elementals[c.CharID]
	if el == nil || el.Status != StatusActive {
		return fmt.Errorf("no elemental")
	}
	if mode < data.ElemPassive || mode > data.ElemOffensive {
		return fmt.Errorf("unknown mode")
	}
	el.Mode = mode
	el.Dirty = true
	c.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: el.ID, Extra: int32(mode)})
	return nil
}

// KillElemental handles the spirit falling in battle.
func (e *Engine) KillElemental(c *world.Character) error {
	el := e.elementals[c.CharID]
	if el == nil {
		return fmt.Errorf("no elemental")
	}
	st, err := transition(el.Status, StatusDead)
	if err != nil {
		return err
	}
	el.Status = st
	el.HP = 0
	e.removeElemental(el)
	return nil
}

// DismissElemental releases the spirit voluntarily.
func (e *Engine) DismissElemental(c *world.Character) error {
	el := e.elementals[c.CharID]
	if el == nil {
		return fmt.Errorf("no elemental")
	}
	e.removeElemental(el)
	return nil
}

func (e *Engine) despawnElemental(c *world.Character, reason string) {
	el := e.elementals[c.CharID]
	if el == nil {
		return
	}
	c.Message(reason)
	e.removeElemental(el)
}

func (e *Engine) removeElemental(el *Elemental) {
	el.Status = StatusDeleted
	e.stopElementalTimers(el)
	delete(e.elementals, el.Owner.CharID)
	e.deps.Intif.Notify(intif.KindElementalDelete, el.ID)
	el.Owner.Notify(clif.Event{Kind: clif.EvCompanionRemove, Object: el.ID})
}

func (e *Engine) stopElementalTimers(el *Elemental) {
	if el.lifeTimer != 0 {
		e.deps.Sched.Cancel(el.lifeTimer)
		el.lifeTimer = 0
	}
	if el.upkeepTimer != 0 {
		e.deps.Sched.Cancel(el.upkeepTimer)
		el.upkeepTimer = 0
	}
}

func (e *Engine) elemToRecord(el *Elemental) intif.ElementalRecord {
	return intif.ElementalRecord{
		ElemID:    el.ID,
		OwnerChar: el.Owner.CharID,
		SpeciesID: el.Species.SpeciesID,
		HP:        el.HP,
		SP:        el.SP,
		Mode:      int16(el.Mode),
		LifeMS:    el.Remaining(e.deps.Sched.Now()).Milliseconds(),
	}
}

func (e *Engine) saveElemental(el *Elemental) {
	if el.ID == 0 {
		return
	}
	e.deps.Intif.Notify(intif.KindElementalSave, e.elemToRecord(el))
}

func (e *Engine) detachElemental(el *Elemental) {
	e.stopElementalTimers(el)
	delete(e.elementals, el.Owner.CharID)
}
