package guild

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/sched"
	"github.com/midgard/mapserver/internal/world"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	msgs   []string
	events []clif.Event
}

func (r *recorder) Message(text string) { r.msgs = append(r.msgs, text) }
func (r *recorder) Event(ev clif.Event) { r.events = append(r.events, ev) }
func (r *recorder) saw(sub string) bool {
	for _, m := range r.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type env struct {
	mgr *Manager
	tr  *intif.MemTransport
	cli *intif.Client
	sch *sched.Scheduler

	nextGuildID int32
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tr := &intif.MemTransport{}
	sch := sched.New(t0, zap.NewNop())
	cli := intif.NewClient(tr, sch, 5*time.Second, zap.NewNop())
	return &env{
		mgr: NewManager(cli, zap.NewNop()),
		tr:  tr,
		cli: cli,
		sch: sch,
	}
}

func (e *env) newChar(id int32, name string) *world.Character {
	return &world.Character{
		CharID:  id,
		Name:    name,
		Level:   50,
		Session: &recorder{},
		Group:   group.NewSnapshot(0, "Player", 0),
	}
}

func rec(c *world.Character) *recorder { return c.Session.(*recorder) }

// ack answers the single queued request; creates get an id assigned.
func (e *env) ack(t *testing.T) {
	t.Helper()
	reqs := e.tr.Drain()
	if len(reqs) != 1 {
		t.Fatalf("queued %d requests, want 1", len(reqs))
	}
	var payload any = intif.GuildRecord{}
	if reqs[0].Kind == intif.KindGuildCreate {
		e.nextGuildID++
		g := reqs[0].Payload.(intif.GuildRecord)
		g.GuildID = e.nextGuildID
		payload = g
	}
	e.cli.Deliver(intif.Ack{Seq: reqs[0].Seq, Kind: reqs[0].Kind, Payload: payload})
}

// nack fails the single queued request.
func (e *env) nack(t *testing.T, msg string) {
	t.Helper()
	reqs := e.tr.Drain()
	if len(reqs) != 1 {
		t.Fatalf("queued %d requests, want 1", len(reqs))
	}
	e.cli.Deliver(intif.Ack{Seq: reqs[0].Seq, Kind: reqs[0].Kind, Err: msg})
}

func found(t *testing.T, e *env, c *world.Character, name string) *Guild {
	t.Helper()
	if err := e.mgr.Create(c, name); err != nil {
		t.Fatalf("create: %v", err)
	}
	e.ack(t)
	g := e.mgr.Get(c.GuildID)
	if g == nil {
		t.Fatalf("guild not registered after ack")
	}
	return g
}

func join(t *testing.T, e *env, g *Guild, inviter, target *world.Character) {
	t.Helper()
	if err := e.mgr.Invite(inviter, target); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := e.mgr.AcceptInvite(target); err != nil {
		t.Fatalf("accept: %v", err)
	}
	e.ack(t)
	if target.GuildID != g.ID {
		t.Fatalf("target not in guild after ack")
	}
}

func TestCreateAppliesOnAck(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1, "Alice")
	if err := e.mgr.Create(c, "Midgard Knights"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.GuildID != 0 {
		t.Fatal("membership applied before the persistence ack")
	}
	if e.mgr.Count() != 0 {
		t.Fatal("guild visible before the persistence ack")
	}
	e.ack(t)
	if c.GuildID == 0 {
		t.Fatal("membership not applied after ack")
	}
	g := e.mgr.Get(c.GuildID)
	if g.MasterChar != c.CharID || len(g.Members) != 1 {
		t.Fatalf("master row wrong: %+v", g)
	}
	if e.mgr.GetByName("midgard knights") != g {
		t.Fatal("name lookup should fold case")
	}
}

func TestCreateFailureReleasesName(t *testing.T) {
	e := newEnv(t)
	c := e.newChar(1, "Alice")
	if err := e.mgr.Create(c, "Knights"); err != nil {
		t.Fatalf("create: %v", err)
	}
	// The name is reserved while the create is in flight.
	if err := e.mgr.Create(e.newChar(2, "Bob"), "knights"); err == nil {
		t.Fatal("duplicate name should be rejected while pending")
	}
	e.nack(t, "name taken")
	if c.GuildID != 0 {
		t.Fatal("failed create must not join the founder")
	}
	if err := e.mgr.Create(e.newChar(2, "Bob"), "Knights"); err != nil {
		t.Fatalf("name should be free after failure: %v", err)
	}
}

func TestInviteNeedsRankPermission(t *testing.T) {
	e := newEnv(t)
	master := e.newChar(1, "Alice")
	g := found(t, e, master, "Knights")
	member := e.newChar(2, "Bob")
	join(t, e, g, master, member)

	stranger := e.newChar(3, "Carol")
	if err := e.mgr.Invite(member, stranger); err == nil {
		t.Fatal("newcomer rank must not invite")
	}
	// Grant the rank the invite bit and retry.
	idx := int(g.MemberByChar(member.CharID).Position)
	if err := e.mgr.SetPosition(master, idx, "Officer", PosInvite, 0); err != nil {
		t.Fatalf("set position: %v", err)
	}
	e.tr.Drain()
	if err := e.mgr.Invite(member, stranger); err != nil {
		t.Fatalf("officer should invite: %v", err)
	}
}

func TestJoinAppliesOnAck(t *testing.T) {
	e := newEnv(t)
	master := e.newChar(1, "Alice")
	g := found(t, e, master, "Knights")
	target := e.newChar(2, "Bob")
	if err := e.mgr.Invite(master, target); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := e.mgr.AcceptInvite(target); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if target.GuildID != 0 || len(g.Members) != 1 {
		t.Fatal("join applied before ack")
	}
	e.nack(t, "char row locked")
	if target.GuildID != 0 || len(g.Members) != 1 {
		t.Fatal("failed join must not add the member")
	}
	if !rec(target).saw("failed") {
		t.Fatal("target should be told the join failed")
	}
}

func TestLeaveAndExpel(t *testing.T) {
	e := newEnv(t)
	master := e.newChar(1, "Alice")
	g := found(t, e, master, "Knights")
	bob := e.newChar(2, "Bob")
	carol := e.newChar(3, "Carol")
	join(t, e, g, master, bob)
	join(t, e, g, master, carol)

	if err := e.mgr.Leave(master); err == nil {
		t.Fatal("master with members must not leave")
	}

	if err := e.mgr.Leave(bob); err != nil {
		t.Fatalf("leave: %v", err)
	}
	e.ack(t)
	if bob.GuildID != 0 || g.MemberByChar(bob.CharID) != nil {
		t.Fatal("bob should be gone after ack")
	}

	if err := e.mgr.Expel(carol, master.CharID, "coup"); err == nil {
		t.Fatal("newcomer must not expel, least of all the master")
	}
	if err := e.mgr.Expel(master, carol.CharID, "inactive"); err != nil {
		t.Fatalf("expel: %v", err)
	}
	e.ack(t)
	if carol.GuildID != 0 || g.MemberByChar(carol.CharID) != nil {
		t.Fatal("carol should be expelled after ack")
	}
	if len(g.Expulsions) != 1 || g.Expulsions[0].Reason != "inactive" {
		t.Fatalf("expulsion log: %+v", g.Expulsions)
	}
	if !rec(carol).saw("expelled") {
		t.Fatal("carol should be told why")
	}
}

func TestPassLeadership(t *testing.T) {
	e := newEnv(t)
	master := e.newChar(1, "Alice")
	g := found(t, e, master, "Knights")
	bob := e.newChar(2, "Bob")
	join(t, e, g, master, bob)

	e.mgr.RestrictedMaps = map[int16]bool{42: true}
	master.MapID = 42
	if err := e.mgr.PassLeadership(master, bob.CharID); err == nil {
		t.Fatal("transfer on a restricted map should fail")
	}
	master.MapID = 1
	if err := e.mgr.PassLeadership(master, bob.CharID); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if g.MasterChar != bob.CharID || g.MemberByChar(bob.CharID).Position != 0 {
		t.Fatal("bob should hold position 0")
	}
	if g.MemberByChar(master.CharID).Position == 0 {
		t.Fatal("old master should drop to a lower rank")
	}
}

func TestAllianceNeedsConsent(t *testing.T) {
	e := newEnv(t)
	alice := e.newChar(1, "Alice")
	bob := e.newChar(2, "Bob")
	ga := found(t, e, alice, "Knights")
	gb := found(t, e, bob, "Rogues")

	if err := e.mgr.FormAlliance(alice, gb.ID, false); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if len(ga.Alliances) != 0 || len(gb.Alliances) != 0 {
		t.Fatal("alliance must not form before consent")
	}
	if !rec(bob).saw("alliance") {
		t.Fatal("the other master should hear the proposal")
	}
	if err := e.mgr.AcceptAlliance(bob, ga.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(ga.Alliances) != 1 || len(gb.Alliances) != 1 {
		t.Fatal("alliance should be mutual")
	}

	if err := e.mgr.BreakAlliance(alice, gb.ID); err != nil {
		t.Fatalf("break: %v", err)
	}
	if len(ga.Alliances) != 0 || len(gb.Alliances) != 0 {
		t.Fatal("mutual alliances break on both sides")
	}
}

func TestOppositionIsUnilateralAndCapped(t *testing.T) {
	e := newEnv(t)
	alice := e.newChar(1, "Alice")
	ga := found(t, e, alice, "Knights")

	var rivals []*Guild
	for i := int32(0); i < 4; i++ {
		c := e.newChar(10+i, "Rival")
		rivals = append(rivals, found(t, e, c, "Rivals"+string(rune('A'+i))))
	}
	for i := 0; i < maxOppositions; i++ {
		if err := e.mgr.FormAlliance(alice, rivals[i].ID, true); err != nil {
			t.Fatalf("opposition %d: %v", i, err)
		}
		if len(rivals[i].Alliances) != 0 {
			t.Fatal("opposition is one-sided")
		}
	}
	if err := e.mgr.FormAlliance(alice, rivals[3].ID, true); err == nil {
		t.Fatal("opposition past the cap should fail")
	}
	if got := ga.countEdges(true); got != maxOppositions {
		t.Fatalf("oppositions = %d, want %d", got, maxOppositions)
	}
}

func TestExpLevelsAndExtensionSkill(t *testing.T) {
	e := newEnv(t)
	master := e.newChar(1, "Alice")
	g := found(t, e, master, "Knights")

	base := g.MaxMembers()
	e.mgr.AddExp(g, 1_000_000) // exactly level 1 -> 2
	if g.Level != 2 {
		t.Fatalf("level = %d, want 2", g.Level)
	}
	if g.MaxMembers() != base+membersPerLevel {
		t.Fatalf("cap should grow with level")
	}

	if err := e.mgr.LearnSkill(master, SkillExtension); err != nil {
		t.Fatalf("learn: %v", err)
	}
	if g.MaxMembers() != base+membersPerLevel+membersPerExtLvl {
		t.Fatalf("cap should grow with extension")
	}
	// Level 2 guild cannot train past skill level 1 immediately.
	if err := e.mgr.LearnSkill(master, SkillExtension); err != nil {
		t.Fatalf("learn 2: %v", err)
	}
	if err := e.mgr.LearnSkill(master, SkillExtension); err == nil {
		t.Fatal("training past guild level should fail")
	}
}

func TestLoginLogoutTracking(t *testing.T) {
	e := newEnv(t)
	master := e.newChar(1, "Alice")
	g := found(t, e, master, "Knights")
	bob := e.newChar(2, "Bob")
	join(t, e, g, master, bob)

	e.mgr.OnLogout(bob)
	if g.MemberByChar(bob.CharID).Char != nil {
		t.Fatal("logout should detach the member row")
	}
	bob.Level = 60
	e.mgr.OnLogin(bob)
	m := g.MemberByChar(bob.CharID)
	if m.Char != bob || m.Level != 60 {
		t.Fatal("login should reattach and refresh the row")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	e := newEnv(t)
	master := e.newChar(1, "Alice")
	g := found(t, e, master, "Knights")
	bob := e.newChar(2, "Bob")
	join(t, e, g, master, bob)
	e.mgr.Expel(master, bob.CharID, "testing")
	e.ack(t)
	e.mgr.AddExp(g, 2_500_000)

	snapshot := e.mgr.toRecord(g)
	fresh := newEnv(t)
	g2 := fresh.mgr.Restore(snapshot)
	if g2.Name != g.Name || g2.Level != g.Level || g2.MasterChar != g.MasterChar {
		t.Fatalf("restored guild differs: %+v", g2)
	}
	if len(g2.Expulsions) != 1 || g2.Expulsions[0].Reason != "testing" {
		t.Fatalf("expulsion log lost: %+v", g2.Expulsions)
	}
	if fresh.mgr.GetByName("knights") != g2 {
		t.Fatal("restored guild should be findable by name")
	}
}
