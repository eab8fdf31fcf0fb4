package companion

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/config"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/sched"
	"github.com/midgard/mapserver/internal/scripting"
	"github.com/midgard/mapserver/internal/world"
)

// Deps bundles what the companion engines need from the rest of the
// server.
type Deps struct {
	Cfg     *config.GameplayConfig
	Species *data.SpeciesTable
	Scripts *scripting.Engine
	Sched   *sched.Scheduler
	Intif   *intif.Client
	Log     *zap.Logger

	// Roll returns a random int in [min, max]. Tests pin it.
	Roll func(min, max int32) int32
}

// Engine owns every live companion, indexed by owner.
type Engine struct {
	deps Deps

	homunculi  map[int32]*Homunculus // owner char id -> homunculus
	mercenarys map[int32]*Mercenary
	elementals map[int32]*Elemental
}

func NewEngine(deps Deps) *Engine {
	if deps.Roll == nil {
		deps.Roll = defaultRoll
	}
	return &Engine{
		deps:       deps,
		homunculi:  make(map[int32]*Homunculus),
		mercenarys: make(map[int32]*Mercenary),
		elementals: make(map[int32]*Elemental),
	}
}

func defaultRoll(min, max int32) int32 {
	if max <= min {
		return min
	}
	return min + rand.Int31n(max-min+1)
}

// rollRange applies a growth range.
func (e *Engine) rollRange(r data.GrowthRange) int32 {
	return e.deps.Roll(r.Min, r.Max)
}

// Homunculus returns the owner's homunculus, or nil.
func (e *Engine) Homunculus(ownerID int32) *Homunculus { return e.homunculi[ownerID] }

// Mercenary returns the owner's mercenary, or nil.
func (e *Engine) Mercenary(ownerID int32) *Mercenary { return e.mercenarys[ownerID] }

// Elemental returns the owner's elemental, or nil.
func (e *Engine) Elemental(ownerID int32) *Elemental { return e.elementals[ownerID] }

// OnLogout saves and detaches every companion of the character.
// Homunculi vaporize; mercenaries and elementals keep their remaining
// time persisted.
func (e *Engine) OnLogout(c *world.Character) {
	if h := e.homunculi[c.CharID]; h != nil {
		if h.Status == StatusActive {
			_ = e.VaporizeHomunculus(c)
		}
		e.saveHomunculus(h)
		e.detachHomunculus(h)
	}
	if mc := e.mercenarys[c.CharID]; mc != nil {
		e.saveMercenary(mc)
		e.detachMercenary(mc)
	}
	if el := e.elementals[c.CharID]; el != nil {
		e.saveElemental(el)
		e.detachElemental(el)
	}
}

// SaveSweep persists every dirty companion. Called periodically by the
// game loop.
func (e *Engine) SaveSweep() {
	for _, h := range e.homunculi {
		if h.Dirty {
			e.saveHomunculus(h)
			h.Dirty = false
		}
	}
	for _, mc := range e.mercenarys {
		if mc.Dirty {
			e.saveMercenary(mc)
			mc.Dirty = false
		}
	}
	for _, el := range e.elementals {
		if el.Dirty {
			e.saveElemental(el)
			el.Dirty = false
		}
	}
}
