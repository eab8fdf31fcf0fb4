package handler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/channel"
	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/companion"
	"github.com/midgard/mapserver/internal/config"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/guild"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/party"
	"github.com/midgard/mapserver/internal/sched"
	"github.com/midgard/mapserver/internal/scripting"
	"github.com/midgard/mapserver/internal/storage"
	"github.com/midgard/mapserver/internal/trade"
	"github.com/midgard/mapserver/internal/world"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const groupsYAML = `
groups:
  - id: 0
    name: Player
    level: 0
  - id: 99
    name: Admin
    level: 99
    permissions: [item_unconditional, command_any]
`

type env struct {
	deps *Deps
	tr   *intif.MemTransport
	sch  *sched.Scheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "groups.yaml")
	if err := os.WriteFile(path, []byte(groupsYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	groups, err := group.Load(path)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}

	items := data.NewItemTable(nil)
	species, err := data.NewSpeciesTable(nil, nil, nil)
	if err != nil {
		t.Fatalf("species: %v", err)
	}
	scripts, err := scripting.NewEngine(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("scripting: %v", err)
	}
	t.Cleanup(scripts.Close)

	tr := &intif.MemTransport{}
	sch := sched.New(t0, zap.NewNop())
	cli := intif.NewClient(tr, sch, 5*time.Second, zap.NewNop())
	cfg := config.Default()
	log := zap.NewNop()

	deps := &Deps{
		Config:   cfg,
		Log:      log,
		World:    world.NewState(),
		Groups:   groups,
		Channels: channel.NewManager(log),
		Storage:  storage.NewManager(&cfg.Gameplay, items, cli, storage.NopAudit{}, log),
		Trade:    trade.NewManager(&cfg.Gameplay, items, trade.NopLedger{}, log),
		Companions: companion.NewEngine(companion.Deps{
			Cfg: &cfg.Gameplay, Species: species, Scripts: scripts,
			Sched: sch, Intif: cli, Log: log,
		}),
		Guilds:  guild.NewManager(cli, log),
		Parties: party.NewManager(cli, log),
		Intif:   cli,
		Sched:   sch,
	}
	return &env{deps: deps, tr: tr, sch: sch}
}

func (e *env) newChar(id int32, name string) *world.Character {
	return &world.Character{
		CharID:    id,
		AccountID: id + 1000,
		Name:      name,
		Session:   clif.NopSession{},
		MapID:     5,
		Level:     50,
	}
}

// ackAccount answers the pending account lookup with the given group.
func (e *env) ackAccount(t *testing.T, cli *intif.Client, groupID int) {
	t.Helper()
	reqs := e.tr.Drain()
	if len(reqs) != 1 {
		t.Fatalf("sent %d requests, want 1", len(reqs))
	}
	if reqs[0].Kind != intif.KindAccountInfo {
		t.Fatalf("kind = %d, want account info", reqs[0].Kind)
	}
	cli.Deliver(intif.Ack{
		Seq:  reqs[0].Seq,
		Kind: reqs[0].Kind,
		Payload: intif.AccountInfoRecord{
			AccountID: reqs[0].Payload.(int32),
			GroupID:   groupID,
		},
	})
}

func TestEnterWorldAttachesGroup(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1, "Alice")

	EnterWorld(e.deps, c)
	if e.deps.World.ByCharID(1) != c {
		t.Fatal("character not registered")
	}
	if c.Group != nil {
		t.Fatal("group attached before the account ack")
	}

	e.ackAccount(t, e.deps.Intif, 99)
	if c.Group == nil || c.Group.Name != "Admin" {
		t.Fatalf("group = %+v, want Admin", c.Group)
	}
	if !c.NoItemChecks {
		t.Fatal("item_unconditional not applied")
	}
}

func TestEnterWorldJoinsMapChannel(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1, "Alice")

	EnterWorld(e.deps, c)
	ch := e.deps.Channels.Get("map5")
	if ch == nil || !ch.HasMember(1) {
		t.Fatal("not in the map channel")
	}
}

func TestLateAckForGoneCharacterIgnored(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1, "Alice")

	EnterWorld(e.deps, c)
	LeaveWorld(e.deps, c)
	e.tr.Drain() // drop the character save notify
	// The account ack arrives after logout; nothing should attach.
	e.sch.Advance(t0.Add(10 * time.Second))
	if c.Group != nil {
		t.Fatal("group attached after logout")
	}
}

func TestLeaveWorldSavesAndDetaches(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1, "Alice")

	EnterWorld(e.deps, c)
	e.ackAccount(t, e.deps.Intif, 0)
	c.Zeny = 5000
	c.Dirty = true

	LeaveWorld(e.deps, c)
	if e.deps.World.ByCharID(1) != nil {
		t.Fatal("still registered after leave")
	}
	if c.Dirty {
		t.Fatal("dirty flag survived the save")
	}
	reqs := e.tr.Drain()
	if len(reqs) != 1 || reqs[0].Kind != intif.KindCharacterSave {
		t.Fatalf("requests = %+v, want one character save", reqs)
	}
	rec := reqs[0].Payload.(intif.CharacterRecord)
	if rec.Zeny != 5000 || rec.CharID != 1 {
		t.Fatalf("saved record = %+v", rec)
	}
}

const groupsYAMLDemoted = `
groups:
  - id: 0
    name: Player
    level: 0
  - id: 99
    name: Admin
    level: 99
    permissions: [command_any]
`

func TestReloadGroupsRefreshesSessions(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1, "Alice")
	EnterWorld(e.deps, c)
	e.ackAccount(t, e.deps.Intif, 99)
	if !c.NoItemChecks {
		t.Fatal("admin did not get item_unconditional")
	}

	path := filepath.Join(t.TempDir(), "groups.yaml")
	if err := os.WriteFile(path, []byte(groupsYAMLDemoted), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReloadGroups(e.deps, path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.NoItemChecks {
		t.Fatal("stale permission survived the reload")
	}
	if c.Group == nil || !c.Group.Has(group.PermCommandAny) {
		t.Fatal("new snapshot not applied")
	}
}

func TestMoveMapSwitchesChannel(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1, "Alice")

	EnterWorld(e.deps, c)
	MoveMap(e.deps, c, 7, 120, 80)

	if c.MapID != 7 || c.X != 120 || c.Y != 80 {
		t.Fatalf("position = map %d (%d,%d)", c.MapID, c.X, c.Y)
	}
	if old := e.deps.Channels.Get("map5"); old != nil && old.HasMember(1) {
		t.Fatal("still in the old map channel")
	}
	ch := e.deps.Channels.Get("map7")
	if ch == nil || !ch.HasMember(1) {
		t.Fatal("not in the new map channel")
	}
	if !c.Dirty {
		t.Fatal("move did not mark the character dirty")
	}
}
