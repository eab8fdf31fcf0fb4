package companion

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/sched"
	"github.com/midgard/mapserver/internal/world"
)

const (
	hungerMax   = 100
	starveBand  = 10 // hunger at or below this drains intimacy
	intimacyMax = 100_000
	// loyalIntimacy is the affection floor for evolution.
	loyalIntimacy = 91_000

	maxHomunNameLen = 24
)

// Homunculus is one live homunculus attached to its owner.
type Homunculus struct {
	ID      int64
	Owner   *world.Character
	Species *data.HomunculusSpecies

	Name     string
	Renamed  bool
	Level    int16
	Exp      int64
	SkillPts int16

	HP, MaxHP int32
	SP, MaxSP int32
	Str       int16
	Agi       int16
	Vit       int16
	Int       int16
	Dex       int16
	Luk       int16

	Hunger   int16
	Intimacy int32
	Status   Status
	Skills   map[int32]int8

	Dirty bool

	gaugeTimer sched.Handle
	starving   bool
}

// CreateHomunculus incubates a new homunculus for the character. The id
// is assigned by the persistence tier; the unit activates when the
// creation ack arrives.
func (e *Engine) CreateHomunculus(c *world.Character, speciesID int32) error {
	if e.homunculi[c.CharID] != nil {
		return fmt.Errorf("you already have a homunculus")
	}
	sp := e.deps.Species.Homunculus(speciesID)
	if sp == nil {
		return fmt.Errorf("unknown homunculus species %d", speciesID)
	}

	h := &Homunculus{
		Owner:    c,
		Species:  sp,
		Name:     sp.Name,
		Level:    1,
		HP:       sp.BaseHP,
		MaxHP:    sp.BaseHP,
		SP:       sp.BaseSP,
		MaxSP:    sp.BaseSP,
		Str:      sp.BaseStr,
		Agi:      sp.BaseAgi,
		Vit:      sp.BaseVit,
		Int:      sp.BaseInt,
		Dex:      sp.BaseDex,
		Luk:      sp.BaseLuk,
		Hunger:   32,
		Intimacy: 21_000,
		Skills:   make(map[int32]int8),
	}
	var err error
	if h.Status, err = transition(StatusNone, StatusPending); err != nil {
		return err
	}
	e.homunculi[c.CharID] = h

	f := intif.Call[intif.HomunculusRecord](e.deps.Intif, intif.KindHomunculusCreate, e.homunToRecord(h))
	f.Then(func(rec intif.HomunculusRecord, err error) {
		if e.homunculi[c.CharID] != h {
			return
		}
		if err != nil {
			e.deps.Log.Warn("homunculus create failed",
				zap.Int32("char", c.CharID),
				zap.Error(err),
			)
			delete(e.homunculi, c.CharID)
			c.Message("The incubation failed.")
			return
		}
		h.ID = rec.HomunID
		if e.activateHomunculus(h) == nil {
			c.Notify(clif.Event{Kind: clif.EvCompanionSpawn, Object: h.ID})
		}
	})
	return nil
}

// LoadHomunculus fetches the character's persisted homunculus at login.
// It arrives vaporized; the owner calls it out explicitly.
func (e *Engine) LoadHomunculus(c *world.Character, homunID int64) {
	f := intif.Call[intif.HomunculusRecord](e.deps.Intif, intif.KindHomunculusLoad, homunID)
	f.Then(func(rec intif.HomunculusRecord, err error) {
		if err != nil {
			e.deps.Log.Warn("homunculus load failed",
				zap.Int64("homun", homunID),
				zap.Error(err),
			)
			return
		}
		sp := e.deps.Species.Homunculus(rec.SpeciesID)
		if sp == nil {
			e.deps.Log.Error("homunculus has unknown species",
				zap.Int64("homun", homunID),
				zap.Int32("species", rec.SpeciesID),
			)
			return
		}
		h := e.homunFromRecord(c, sp, rec)
		h.Status = StatusVaporized
		e.homunculi[c.CharID] = h
		c.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: h.ID})
	})
}

// activateHomunculus brings the unit into the world and starts its
// hunger gauge.
func (e *Engine) activateHomunculus(h *Homunculus) error {
	st, err := transition(h.Status, StatusActive)
	if err != nil {
		return err
	}
	h.Status = st
	e.startGauge(h)
	return nil
}

// startGauge schedules the hunger timer at the interval matching the
// current band.
func (e *Engine) startGauge(h *Homunculus) {
	e.stopGauge(h)
	h.starving = h.Hunger <= starveBand
	interval := e.deps.Cfg.HungerInterval.Std()
	if h.starving {
		interval = e.deps.Cfg.StarvingInterval.Std()
	}
	h.gaugeTimer = e.deps.Sched.ScheduleEvery(interval, func() { e.gaugeTick(h) })
}

func (e *Engine) stopGauge(h *Homunculus) {
	if h.gaugeTimer != 0 {
		e.deps.Sched.Cancel(h.gaugeTimer)
		h.gaugeTimer = 0
	}
}

// gaugeTick advances hunger decay and starvation.
func (e *Engine) gaugeTick(h *Homunculus) {
	if h.Status != StatusActive {
		return
	}
	if h.Hunger > 0 {
		h.Hunger--
	}
	h.Dirty = true
	if h.Hunger <= starveBand {
		drain := int32(e.deps.Scripts.CalcStarvationDrain(int(h.Intimacy)))
		h.Intimacy -= drain
		if h.Intimacy <= 0 {
			h.Owner.Message(fmt.Sprintf("%s has run away.", h.Name))
			e.DeleteHomunculus(h.Owner)
			return
		}
		h.Owner.Message(fmt.Sprintf("%s is starving!", h.Name))
	}
	// Reschedule when the band changed.
	if (h.Hunger <= starveBand) != h.starving {
		e.startGauge(h)
	}
	h.Owner.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: h.ID})
}

// FeedHomunculus consumes one unit of the species food from the owner's
// inventory and applies the hunger-band intimacy effect.
func (e *Engine) FeedHomunculus(c *world.Character) error {
	h := e.homunculi[c.CharID]
	if h == nil || h.Status != StatusActive {
		return fmt.Errorf("no homunculus to feed")
	}
	food := &world.Item{ItemID: h.Species.FoodItemID}
	if c.Inv.Amount(food) < 1 {
		return fmt.Errorf("you have no food for %s", h.Name)
	}
	eff := e.deps.Scripts.CalcFeedEffect(int(h.Hunger))
	c.Inv.Remove(food, 1)
	c.Dirty = true

	h.Hunger += int16(eff.HungerDelta)
	if h.Hunger > hungerMax {
		h.Hunger = hungerMax
	}
	h.Intimacy += int32(eff.IntimacyDelta)
	if h.Intimacy > intimacyMax {
		h.Intimacy = intimacyMax
	}
	h.Dirty = true
	if h.Intimacy <= 0 {
		c.Message(fmt.Sprintf("%s hated that and ran away.", h.Name))
		e.DeleteHomunculus(c)
		return nil
	}
	if eff.Overfeed {
		c.Message(fmt.Sprintf("%s did not want to be fed.", h.Name))
	}
	if (h.Hunger <= starveBand) != h.starving {
		e.startGauge(h)
	}
	c.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: h.ID})
	return nil
}

// VaporizeHomunculus dismisses an active, healthy homunculus into rest.
func (e *Engine) VaporizeHomunculus(c *world.Character) error {
	h := e.homunculi[c.CharID]
	if h == nil {
		return fmt.Errorf("no homunculus")
	}
	if h.HP <= 0 {
		return fmt.Errorf("%s cannot rest while incapacitated", h.Name)
	}
	st, err := transition(h.Status, StatusVaporized)
	if err != nil {
		return err
	}
	h.Status = st
	h.Dirty = true
	e.stopGauge(h)
	e.saveHomunculus(h)
	c.Notify(clif.Event{Kind: clif.EvCompanionRemove, Object: h.ID})
	return nil
}

// CallHomunculus brings a resting homunculus back out.
func (e *Engine) CallHomunculus(c *world.Character) error {
	h := e.homunculi[c.CharID]
	if h == nil {
		return fmt.Errorf("no homunculus")
	}
	if err := e.activateHomunculus(h); err != nil {
		return err
	}
	c.Notify(clif.Event{Kind: clif.EvCompanionSpawn, Object: h.ID})
	return nil
}

// KillHomunculus marks the homunculus dead (combat callback).
func (e *Engine) KillHomunculus(c *world.Character) error {
	h := e.homunculi[c.CharID]
	if h == nil {
		return fmt.Errorf("no homunculus")
	}
	st, err := transition(h.Status, StatusDead)
	if err != nil {
		return err
	}
	h.Status = st
	h.HP = 0
	h.Dirty = true
	e.stopGauge(h)
	c.Notify(clif.Event{Kind: clif.EvCompanionRemove, Object: h.ID})
	return nil
}

// ResurrectHomunculus revives a dead homunculus with the given HP share.
func (e *Engine) ResurrectHomunculus(c *world.Character, hpRatio float64) error {
	h := e.homunculi[c.CharID]
	if h == nil {
		return fmt.Errorf("no homunculus")
	}
	if h.Status != StatusDead {
		return fmt.Errorf("%s is not dead", h.Name)
	}
	hp := int32(float64(h.MaxHP) * hpRatio)
	if hp < 1 {
		hp = 1
	}
	h.HP = hp
	if err := e.activateHomunculus(h); err != nil {
		return err
	}
	h.Dirty = true
	c.Notify(clif.Event{Kind: clif.EvCompanionSpawn, Object: h.ID})
	return nil
}

// DeleteHomunculus removes the homunculus permanently.
func (e *Engine) DeleteHomunculus(c *world.Character) {
	h := e.homunculi[c.CharID]
	if h == nil {
		return
	}
	h.Status = StatusDeleted
	e.stopGauge(h)
	delete(e.homunculi, c.CharID)
	e.deps.Intif.Notify(intif.KindHomunculusDelete, h.ID)
	c.Notify(clif.Event{Kind: clif.EvCompanionRemove, Object: h.ID})
}

// RenameHomunculus sets the display name. Allowed once.
func (e *Engine) RenameHomunculus(c *world.Character, name string) error {
	h := e.homunculi[c.CharID]
	if h == nil {
		return fmt.Errorf("no homunculus")
	}
	if h.Renamed {
		return fmt.Errorf("%s has already been named", h.Name)
	}
	if name == "" || len(name) > maxHomunNameLen {
		return fmt.Errorf("invalid name")
	}
	h.Name = name
	h.Renamed = true
	h.Dirty = true
	e.deps.Intif.Notify(intif.KindHomunculusRename, e.homunToRecord(h))
	c.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: h.ID})
	return nil
}

// GainHomunExp credits experience and applies any level-ups, rolling
// stat growth per level.
func (e *Engine) GainHomunExp(c *world.Character, exp int64) {
	h := e.homunculi[c.CharID]
	if h == nil || h.Status != StatusActive || exp <= 0 {
		return
	}
	h.Exp += exp
	h.Dirty = true
	for h.Level < h.Species.MaxLevel &&
		h.Exp >= e.deps.Scripts.HomunExpForLevel(int(h.Level)+1) {
		h.Level++
		// One skill point every third level.
		if h.Level%3 == 0 {
			h.SkillPts++
		}
		g := h.Species.Growth
		h.MaxHP += e.rollRange(g.HP)
		h.MaxSP += e.rollRange(g.SP)
		h.Str += int16(e.rollRange(g.Str))
		h.Agi += int16(e.rollRange(g.Agi))
		h.Vit += int16(e.rollRange(g.Vit))
		h.Int += int16(e.rollRange(g.Int))
		h.Dex += int16(e.rollRange(g.Dex))
		h.Luk += int16(e.rollRange(g.Luk))
		h.HP = h.MaxHP
		h.SP = h.MaxSP
		c.Message(fmt.Sprintf("%s reached level %d!", h.Name, h.Level))
	}
	c.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: h.ID})
}

// EvolveHomunculus advances a loyal homunculus to its evolution target,
// applying the one-time bonus rolls and resetting intimacy.
func (e *Engine) EvolveHomunculus(c *world.Character) error {
	h := e.homunculi[c.CharID]
	if h == nil || h.Status != StatusActive {
		return fmt.Errorf("no active homunculus")
	}
	sp := h.Species
	if !sp.CanEvolve() {
		return fmt.Errorf("%s cannot evolve", h.Name)
	}
	if h.Level < sp.EvoMinLevel {
		return fmt.Errorf("%s is not experienced enough", h.Name)
	}
	if h.Intimacy < loyalIntimacy {
		return fmt.Errorf("%s is not loyal enough", h.Name)
	}
	target := e.deps.Species.Homunculus(sp.EvoSpeciesID)
	if target == nil {
		return fmt.Errorf("evolution target %d missing", sp.EvoSpeciesID)
	}

	h.Species = target
	b := sp.EvoBonus
	h.MaxHP += e.rollRange(b.HP)
	h.MaxSP += e.rollRange(b.SP)
	h.Str += int16(e.rollRange(b.Str))
	h.Agi += int16(e.rollRange(b.Agi))
	h.Vit += int16(e.rollRange(b.Vit))
	h.Int += int16(e.rollRange(b.Int))
	h.Dex += int16(e.rollRange(b.Dex))
	h.Luk += int16(e.rollRange(b.Luk))
	h.HP = h.MaxHP
	h.SP = h.MaxSP
	h.Intimacy = e.deps.Cfg.EvoIntimacy
	h.Dirty = true
	e.saveHomunculus(h)
	c.Message(fmt.Sprintf("%s evolved into %s!", h.Name, target.Name))
	c.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: h.ID})
	return nil
}

// MutateHomunculus transforms an evolved homunculus into one of its
// mutation targets.
func (e *Engine) MutateHomunculus(c *world.Character, targetID int32) error {
	h := e.homunculi[c.CharID]
	if h == nil || h.Status != StatusActive {
		return fmt.Errorf("no active homunculus")
	}
	sp := h.Species
	if !sp.CanMutateTo(targetID) {
		return fmt.Errorf("%s cannot mutate into species %d", h.Name, targetID)
	}
	if h.Level < sp.MutateReqLvl {
		return fmt.Errorf("%s is not experienced enough", h.Name)
	}
	target := e.deps.Species.Homunculus(targetID)
	if target == nil {
		return fmt.Errorf("mutation target %d missing", targetID)
	}
	h.Species = target
	h.Intimacy = e.deps.Cfg.MutateIntimacy
	h.Dirty = true
	e.saveHomunculus(h)
	c.Message(fmt.Sprintf("%s mutated into %s!", h.Name, target.Name))
	c.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: h.ID})
	return nil
}

// LearnHomunSkill spends a skill point on a tree skill.
func (e *Engine) LearnHomunSkill(c *world.Character, skillID int32) error {
	h := e.homunculi[c.CharID]
	if h == nil {
		return fmt.Errorf("no homunculus")
	}
	if h.SkillPts < 1 {
		return fmt.Errorf("%s has no skill points", h.Name)
	}
	slot := h.Species.SkillSlotFor(skillID)
	if slot == nil {
		return fmt.Errorf("%s cannot learn that skill", h.Name)
	}
	if h.Level < slot.ReqLevel {
		return fmt.Errorf("%s must reach level %d first", h.Name, slot.ReqLevel)
	}
	if h.Skills[skillID] >= slot.MaxLevel {
		return fmt.Errorf("that skill is already mastered")
	}
	h.Skills[skillID]++
	h.SkillPts--
	h.Dirty = true
	c.Notify(clif.Event{Kind: clif.EvCompanionInfo, Object: h.ID})
	return nil
}

// --- persistence mapping ---

func (e *Engine) homunToRecord(h *Homunculus) intif.HomunculusRecord {
	skills := make(map[int32]int8, len(h.Skills))
	for k, v := range h.Skills {
		skills[k] = v
	}
	return intif.HomunculusRecord{
		HomunID:   h.ID,
		OwnerChar: h.Owner.CharID,
		SpeciesID: h.Species.SpeciesID,
		Name:      h.Name,
		Level:     h.Level,
		Exp:       h.Exp,
		SkillPts:  h.SkillPts,
		HP:        h.HP,
		MaxHP:     h.MaxHP,
		SP:        h.SP,
		MaxSP:     h.MaxSP,
		Str:       h.Str,
		Agi:       h.Agi,
		Vit:       h.Vit,
		Int:       h.Int,
		Dex:       h.Dex,
		Luk:       h.Luk,
		Hunger:    h.Hunger,
		Intimacy:  h.Intimacy,
		Vaporized: h.Status == StatusVaporized,
		Skills:    skills,
	}
}

func (e *Engine) homunFromRecord(c *world.Character, sp *data.HomunculusSpecies, rec intif.HomunculusRecord) *Homunculus {
	skills := make(map[int32]int8, len(rec.Skills))
	for k, v := range rec.Skills {
		skills[k] = v
	}
	return &Homunculus{
		ID:       rec.HomunID,
		Owner:    c,
		Species:  sp,
		Name:     rec.Name,
		Renamed:  rec.Name != sp.Name,
		Level:    rec.Level,
		Exp:      rec.Exp,
		SkillPts: rec.SkillPts,
		HP:       rec.HP,
		MaxHP:    rec.MaxHP,
		SP:       rec.SP,
		MaxSP:    rec.MaxSP,
		Str:      rec.Str,
		Agi:      rec.Agi,
		Vit:      rec.Vit,
		Int:      rec.Int,
		Dex:      rec.Dex,
		Luk:      rec.Luk,
		Hunger:   rec.Hunger,
		Intimacy: rec.Intimacy,
		Skills:   skills,
	}
}

func (e *Engine) saveHomunculus(h *Homunculus) {
	if h.ID == 0 {
		return
	}
	e.deps.Intif.Notify(intif.KindHomunculusSave, e.homunToRecord(h))
}

func (e *Engine) detachHomunculus(h *Homunculus) {
	e.stopGauge(h)
	delete(e.homunculi, h.Owner.CharID)
}
