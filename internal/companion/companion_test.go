package companion

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/config"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/sched"
	"github.com/midgard/mapserver/internal/scripting"
	"github.com/midgard/mapserver/internal/world"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const feedFormulas = `
function calc_feed_effect(hunger)
    local delta
    local overfeed = false
    if hunger >= 91 then
        delta = -5000
        overfeed = true
    elseif hunger >= 76 then
        delta = -500
        overfeed = true
    elseif hunger >= 26 then
        delta = 7500
    elseif hunger >= 11 then
        delta = 10000
    else
        delta = 5000
    end
    return { intimacy_delta = delta, hunger_delta = 10, overfeed = overfeed }
end
function calc_starvation_drain(intimacy) return 100 end
function homun_exp_for_level(level)
    if level <= 1 then return 0 end
    return 100 * (level - 1)
end
function merc_exp_for_kill(merc_level, target_level) return 10 end
`

type env struct {
	eng   *Engine
	tr    *intif.MemTransport
	cli   *intif.Client
	sch   *sched.Scheduler
	cfg   *config.GameplayConfig
	items *data.ItemTable
}

func newEnv(t *testing.T) *env {
	t.Helper()
	species, err := data.NewSpeciesTable(
		[]data.HomunculusSpecies{
			{
				SpeciesID: 6001, Name: "Lif", FoodItemID: 537, MaxLevel: 99,
				BaseHP: 150, BaseSP: 40,
				BaseStr: 17, BaseAgi: 20, BaseVit: 15, BaseInt: 35, BaseDex: 24, BaseLuk: 12,
				Growth: data.StatGrowth{
					HP: data.GrowthRange{Min: 60, Max: 100}, SP: data.GrowthRange{Min: 4, Max: 9},
					Str: data.GrowthRange{Min: 1, Max: 2}, Agi: data.GrowthRange{Min: 1, Max: 2},
					Vit: data.GrowthRange{Min: 1, Max: 2}, Int: data.GrowthRange{Min: 1, Max: 2},
					Dex: data.GrowthRange{Min: 1, Max: 2}, Luk: data.GrowthRange{Min: 1, Max: 2},
				},
				EvoSpeciesID: 6009, EvoMinLevel: 10,
				EvoBonus: data.StatGrowth{HP: data.GrowthRange{Min: 800, Max: 1200}},
				SkillTree: []data.SkillSlot{
					{SkillID: 8001, MaxLevel: 5, ReqLevel: 1},
					{SkillID: 8002, MaxLevel: 3, ReqLevel: 20},
				},
			},
			{
				SpeciesID: 6009, Name: "Lif Evolved", FoodItemID: 537, MaxLevel: 99,
				MutateTargets: []int32{6048}, MutateReqLvl: 99,
			},
			{SpeciesID: 6048, Name: "Eira", FoodItemID: 537, MaxLevel: 175},
		},
		[]data.MercenarySpecies{
			{SpeciesID: 7001, Name: "Fencer", Class: data.MercSword, Level: 20, MaxHP: 800, MaxSP: 100},
		},
		[]data.ElementalSpecies{
			{
				SpeciesID: 9001, Name: "Agni", Element: "agni", Scale: 1, Level: 100,
				MaxHP: 2000, MaxSP: 200,
				UpkeepPassive: 5, UpkeepDefensive: 10, UpkeepOffensive: 20,
			},
		},
	)
	if err != nil {
		t.Fatalf("species table: %v", err)
	}
	items := data.NewItemTable([]data.ItemInfo{
		{ItemID: 537, Name: "Pet Food", Weight: 1, Stackable: true, Tradeable: true, Storable: true},
	})
	scripts, err := scripting.NewEngine(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("scripting: %v", err)
	}
	t.Cleanup(scripts.Close)
	if err := scripts.DoString(feedFormulas); err != nil {
		t.Fatalf("formulas: %v", err)
	}

	tr := &intif.MemTransport{}
	sch := sched.New(t0, zap.NewNop())
	cli := intif.NewClient(tr, sch, 5*time.Second, zap.NewNop())
	cfg := &config.Default().Gameplay
	eng := NewEngine(Deps{
		Cfg:     cfg,
		Species: species,
		Scripts: scripts,
		Sched:   sch,
		Intif:   cli,
		Log:     zap.NewNop(),
		Roll:    func(min, max int32) int32 { return min },
	})
	return &env{eng: eng, tr: tr, cli: cli, sch: sch, cfg: cfg, items: items}
}

func (e *env) newChar(id int32) *world.Character {
	return &world.Character{
		CharID:    id,
		Name:      "Owner",
		Session:   clif.NopSession{},
		Group:     group.NewSnapshot(0, "Player", 0),
		MaxWeight: 10_000,
		SP:        100,
		MaxSP:     100,
		Inv:       world.NewInventory(e.items),
	}
}

// ackCreate answers the single queued create/hire request with an id.
func (e *env) ackCreate(t *testing.T, id int64) {
	t.Helper()
	reqs := e.tr.Drain()
	if len(reqs) != 1 {
		t.Fatalf("queued %d requests, want 1", len(reqs))
	}
	var payload any
	switch reqs[0].Kind {
	case intif.KindHomunculusCreate:
		rec := reqs[0].Payload.(intif.HomunculusRecord)
		rec.HomunID = id
		payload = rec
	case intif.KindMercenaryCreate:
		rec := reqs[0].Payload.(intif.MercenaryRecord)
		rec.MercID = id
		payload = rec
	case intif.KindElementalCreate:
		rec := reqs[0].Payload.(intif.ElementalRecord)
		rec.ElemID = id
		payload = rec
	default:
		t.Fatalf("unexpected request kind %d", reqs[0].Kind)
	}
	e.cli.Deliver(intif.Ack{Seq: reqs[0].Seq, Kind: reqs[0].Kind, Payload: payload})
}

func activeHomun(t *testing.T, e *env, c *world.Character) *Homunculus {
	t.Helper()
	if err := e.eng.CreateHomunculus(c, 6001); err != nil {
		t.Fatalf("create: %v", err)
	}
	e.ackCreate(t, 42)
	h := e.eng.Homunculus(c.CharID)
	if h == nil || h.Status != StatusActive {
		t.Fatalf("homunculus not active after ack: %+v", h)
	}
	return h
}

func TestCreateHomunculusPendingUntilAck(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	if err := e.eng.CreateHomunculus(c, 6001); err != nil {
		t.Fatalf("create: %v", err)
	}
	h := e.eng.Homunculus(c.CharID)
	if h.Status != StatusPending {
		t.Fatalf("status = %v, want pending", h.Status)
	}
	if err := e.eng.CreateHomunculus(c, 6001); err == nil {
		t.Fatal("second create while pending should fail")
	}
	e.ackCreate(t, 42)
	if h.Status != StatusActive || h.ID != 42 {
		t.Fatalf("after ack: %+v", h)
	}
}

func TestCreateFailureClearsSlot(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	if err := e.eng.CreateHomunculus(c, 6001); err != nil {
		t.Fatalf("create: %v", err)
	}
	reqs := e.tr.Drain()
	e.cli.Deliver(intif.Ack{Seq: reqs[0].Seq, Kind: reqs[0].Kind, Err: "db down"})
	if e.eng.Homunculus(c.CharID) != nil {
		t.Fatal("failed create should clear the slot")
	}
}

func TestFeedBands(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	c.Inv.Add(&world.Item{ItemID: 537}, 10)

	h.Hunger, h.Intimacy = 50, 20_000
	if err := e.eng.FeedHomunculus(c); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if h.Intimacy != 27_500 || h.Hunger != 60 {
		t.Errorf("normal feed: intimacy=%d hunger=%d", h.Intimacy, h.Hunger)
	}

	h.Hunger, h.Intimacy = 95, 20_000
	if err := e.eng.FeedHomunculus(c); err != nil {
		t.Fatalf("overfeed: %v", err)
	}
	if h.Intimacy != 15_000 {
		t.Errorf("overfeed intimacy = %d, want 15000", h.Intimacy)
	}
	if h.Hunger != 100 {
		t.Errorf("hunger should clamp at 100, got %d", h.Hunger)
	}

	if got := c.Inv.Amount(&world.Item{ItemID: 537}); got != 8 {
		t.Errorf("food remaining = %d, want 8", got)
	}
}

func TestFeedWithoutFoodFails(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	activeHomun(t, e, c)
	if err := e.eng.FeedHomunculus(c); err == nil {
		t.Fatal("feeding with no food should fail")
	}
}

func TestStarvationDeletesAtZeroIntimacy(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	h.Hunger = 5
	h.Intimacy = 150
	e.eng.startGauge(h)

	// Two starving ticks at 100 intimacy each.
	e.sch.Advance(t0.Add(e.cfg.StarvingInterval.Std()))
	if e.eng.Homunculus(c.CharID) == nil {
		t.Fatal("deleted after first tick; should survive at 50")
	}
	e.sch.Advance(t0.Add(2 * e.cfg.StarvingInterval.Std()))
	if e.eng.Homunculus(c.CharID) != nil {
		t.Fatal("homunculus should run away at zero intimacy")
	}
}

func TestHungerDecayTick(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	start := h.Hunger
	e.sch.Advance(t0.Add(e.cfg.HungerInterval.Std()))
	if h.Hunger != start-1 {
		t.Errorf("hunger = %d, want %d", h.Hunger, start-1)
	}
}

func TestVaporizeAndCall(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)

	if err := e.eng.VaporizeHomunculus(c); err != nil {
		t.Fatalf("vaporize: %v", err)
	}
	if h.Status != StatusVaporized {
		t.Fatalf("status = %v", h.Status)
	}
	// Gauge stops while resting.
	hungerAtRest := h.Hunger
	e.sch.Advance(t0.Add(10 * e.cfg.HungerInterval.Std()))
	if h.Hunger != hungerAtRest {
		t.Error("hunger should not decay while vaporized")
	}
	if err := e.eng.CallHomunculus(c); err != nil {
		t.Fatalf("call: %v", err)
	}
	if h.Status != StatusActive {
		t.Fatalf("status after call = %v", h.Status)
	}
}

func TestDeadHomunculusCannotVaporize(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	if err := e.eng.KillHomunculus(c); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if err := e.eng.VaporizeHomunculus(c); err == nil {
		t.Fatal("vaporizing a dead homunculus should fail")
	}
	if err := e.eng.ResurrectHomunculus(c, 0.5); err != nil {
		t.Fatalf("resurrect: %v", err)
	}
	if h.Status != StatusActive || h.HP != h.MaxHP/2 {
		t.Errorf("after resurrect: status=%v hp=%d", h.Status, h.HP)
	}
}

func TestLevelUpRollsGrowth(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	baseHP, baseStr := h.MaxHP, h.Str

	e.eng.GainHomunExp(c, 250) // levels 2 and 3 at 100 exp per level
	if h.Level != 3 {
		t.Fatalf("level = %d, want 3", h.Level)
	}
	// Roll is pinned to min.
	if h.MaxHP != baseHP+2*60 {
		t.Errorf("maxhp = %d, want %d", h.MaxHP, baseHP+120)
	}
	if h.Str != baseStr+2 {
		t.Errorf("str = %d, want %d", h.Str, baseStr+2)
	}
	if h.HP != h.MaxHP {
		t.Error("level up should heal to full")
	}
}

func TestSkillPointEveryThirdLevel(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)

	e.eng.GainHomunExp(c, 100) // level 2
	if h.Level != 2 || h.SkillPts != 0 {
		t.Fatalf("level %d pts %d, want level 2 with no points", h.Level, h.SkillPts)
	}
	e.eng.GainHomunExp(c, 100) // level 3
	if h.Level != 3 || h.SkillPts != 1 {
		t.Fatalf("level %d pts %d, want the first point at level 3", h.Level, h.SkillPts)
	}
	e.eng.GainHomunExp(c, 300) // level 6
	if h.Level != 6 || h.SkillPts != 2 {
		t.Fatalf("level %d pts %d, want 2 points by level 6", h.Level, h.SkillPts)
	}
}

func TestEvolveRequiresLoyaltyAndLevel(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)

	h.Level, h.Intimacy = 5, intimacyMax
	if err := e.eng.EvolveHomunculus(c); err == nil {
		t.Fatal("under-leveled evolve should fail")
	}
	h.Level, h.Intimacy = 10, 50_000
	if err := e.eng.EvolveHomunculus(c); err == nil {
		t.Fatal("disloyal evolve should fail")
	}
	h.Intimacy = intimacyMax
	baseHP := h.MaxHP
	if err := e.eng.EvolveHomunculus(c); err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if h.Species.SpeciesID != 6009 {
		t.Errorf("species = %d, want 6009", h.Species.SpeciesID)
	}
	if h.MaxHP != baseHP+800 {
		t.Errorf("evo bonus hp = %d, want %d", h.MaxHP, baseHP+800)
	}
	if h.Intimacy != e.cfg.EvoIntimacy {
		t.Errorf("intimacy = %d, want reset to %d", h.Intimacy, e.cfg.EvoIntimacy)
	}
}

func TestMutate(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	h.Level, h.Intimacy = 10, intimacyMax
	if err := e.eng.EvolveHomunculus(c); err != nil {
		t.Fatalf("evolve: %v", err)
	}

	if err := e.eng.MutateHomunculus(c, 6048); err == nil {
		t.Fatal("mutate below required level should fail")
	}
	h.Level = 99
	if err := e.eng.MutateHomunculus(c, 6048); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if h.Species.SpeciesID != 6048 {
		t.Errorf("species = %d, want 6048", h.Species.SpeciesID)
	}
	if h.Intimacy != e.cfg.MutateIntimacy {
		t.Errorf("intimacy = %d", h.Intimacy)
	}
}

func TestLearnSkill(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	h.SkillPts = 2

	if err := e.eng.LearnHomunSkill(c, 8002); err == nil {
		t.Fatal("skill above level requirement should fail")
	}
	if err := e.eng.LearnHomunSkill(c, 9999); err == nil {
		t.Fatal("skill outside the tree should fail")
	}
	if err := e.eng.LearnHomunSkill(c, 8001); err != nil {
		t.Fatalf("learn: %v", err)
	}
	if h.Skills[8001] != 1 || h.SkillPts != 1 {
		t.Errorf("skills=%v pts=%d", h.Skills, h.SkillPts)
	}
}

func TestRenameOnce(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	if err := e.eng.RenameHomunculus(c, "Snowball"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if h.Name != "Snowball" {
		t.Errorf("name = %q", h.Name)
	}
	if err := e.eng.RenameHomunculus(c, "Again"); err == nil {
		t.Fatal("second rename should fail")
	}
}

func TestLogoutVaporizesAndSaves(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	h := activeHomun(t, e, c)
	e.tr.Drain()
	e.eng.OnLogout(c)
	if e.eng.Homunculus(c.CharID) != nil {
		t.Fatal("homunculus should detach on logout")
	}
	reqs := e.tr.Drain()
	var saw bool
	for _, r := range reqs {
		if r.Kind == intif.KindHomunculusSave {
			rec := r.Payload.(intif.HomunculusRecord)
			if rec.HomunID == h.ID && rec.Vaporized {
				saw = true
			}
		}
	}
	if !saw {
		t.Error("logout should persist the homunculus as vaporized")
	}
}

func TestMercenaryContractLifecycle(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	if err := e.eng.HireMercenary(c, 7001, 30*time.Minute); err != nil {
		t.Fatalf("hire: %v", err)
	}
	e.ackCreate(t, 77)
	mc := e.eng.Mercenary(c.CharID)
	if mc == nil || mc.Status != StatusActive {
		t.Fatalf("mercenary not active: %+v", mc)
	}
	if c.SwordCalls != 1 {
		t.Errorf("sword calls = %d, want 1", c.SwordCalls)
	}

	if exp := e.eng.CreditMercenaryKill(c, 25); exp != 10 {
		t.Errorf("kill exp = %d, want 10 from the formula", exp)
	}
	if mc.KillCount != 1 {
		t.Errorf("kills = %d", mc.KillCount)
	}

	e.sch.Advance(t0.Add(31 * time.Minute))
	if e.eng.Mercenary(c.CharID) != nil {
		t.Fatal("contract should expire")
	}
	if c.SwordFaith != 1 {
		t.Errorf("faith after full contract = %d, want 1", c.SwordFaith)
	}
}

func TestMercenaryDeathCostsFaith(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	c.SwordFaith = 5
	if err := e.eng.HireMercenary(c, 7001, 30*time.Minute); err != nil {
		t.Fatalf("hire: %v", err)
	}
	e.ackCreate(t, 78)
	if err := e.eng.KillMercenary(c); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if c.SwordFaith != 4 {
		t.Errorf("faith = %d, want 4", c.SwordFaith)
	}
	if e.eng.Mercenary(c.CharID) != nil {
		t.Error("dead mercenary should be removed")
	}
}

func TestMercenaryRemovalSavesFinalState(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	if err := e.eng.HireMercenary(c, 7001, 30*time.Minute); err != nil {
		t.Fatalf("hire: %v", err)
	}
	e.ackCreate(t, 79)
	e.eng.CreditMercenaryKill(c, 25)
	if err := e.eng.KillMercenary(c); err != nil {
		t.Fatalf("kill: %v", err)
	}

	reqs := e.tr.Drain()
	if len(reqs) != 2 {
		t.Fatalf("queued %d requests, want save then delete", len(reqs))
	}
	if reqs[0].Kind != intif.KindMercenarySave {
		t.Fatalf("first request kind = %d, want save", reqs[0].Kind)
	}
	rec := reqs[0].Payload.(intif.MercenaryRecord)
	if rec.MercID != 79 || rec.HP != 0 || rec.KillCount != 1 {
		t.Errorf("final save = %+v, want zero life and the kill recorded", rec)
	}
	if reqs[1].Kind != intif.KindMercenaryDelete || reqs[1].Payload.(int64) != 79 {
		t.Errorf("second request = %+v, want the delete", reqs[1])
	}
}

func TestElementalUpkeepDrainsAndDespawns(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	c.SP = 25
	if err := e.eng.SummonElemental(c, 9001, data.ElemOffensive, time.Hour); err != nil {
		t.Fatalf("summon: %v", err)
	}
	e.ackCreate(t, 90)
	el := e.eng.Elemental(c.CharID)
	if el == nil || el.Status != StatusActive {
		t.Fatalf("elemental not active: %+v", el)
	}

	e.sch.Advance(t0.Add(e.cfg.UpkeepInterval.Std()))
	if c.SP != 5 {
		t.Errorf("sp after one offensive tick = %d, want 5", c.SP)
	}
	// Next tick is unpayable at 20 SP.
	e.sch.Advance(t0.Add(2 * e.cfg.UpkeepInterval.Std()))
	if e.eng.Elemental(c.CharID) != nil {
		t.Fatal("elemental should despawn when upkeep is unpayable")
	}
}

func TestElementalModeChangesCost(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	c.SP = 100
	if err := e.eng.SummonElemental(c, 9001, data.ElemPassive, time.Hour); err != nil {
		t.Fatalf("summon: %v", err)
	}
	e.ackCreate(t, 91)
	if err := e.eng.ChangeElementalMode(c, data.ElemDefensive); err != nil {
		t.Fatalf("mode: %v", err)
	}
	e.sch.Advance(t0.Add(e.cfg.UpkeepInterval.Std()))
	if c.SP != 90 {
		t.Errorf("sp = %d, want 90 after defensive tick", c.SP)
	}
}

func TestElementalLifetimeExpires(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	c.SP = 1_000_000
	if err := e.eng.SummonElemental(c, 9001, data.ElemPassive, time.Minute); err != nil {
		t.Fatalf("summon: %v", err)
	}
	e.ackCreate(t, 92)
	e.sch.Advance(t0.Add(2 * time.Minute))
	if e.eng.Elemental(c.CharID) != nil {
		t.Fatal("elemental should despawn when its time runs out")
	}
}

func TestSummonNeedsUpkeepSP(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1)
	c.SP = 3
	if err := e.eng.SummonElemental(c, 9001, data.ElemPassive, time.Hour); err == nil {
		t.Fatal("summon without upkeep SP should fail")
	}
}
