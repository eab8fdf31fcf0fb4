// Package guild implements guild shared state: membership, positions
// with permission bits, alliances and oppositions, the expulsion log,
// notices and guild growth. The persistence tier stays authoritative:
// membership mutations apply only once the save ack comes back.
package guild

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/world"
)

// Position permission bits.
const (
	PosInvite int32 = 0x01
	PosExpel  int32 = 0x10
)

// SkillExtension is the guild skill that raises the member cap.
const SkillExtension int32 = 10004

const (
	maxPositions      = 20
	maxAlliances      = 3
	maxOppositions    = 3
	baseMaxMembers    = 16
	membersPerLevel   = 2
	membersPerExtLvl  = 4
	maxExtensionLevel = 10
	expPerLevel       = 1_000_000
	maxNameLen        = 24
)

// Member is one guild member row; Char is nil while offline.
type Member struct {
	CharID   int32
	Name     string
	Level    int16
	Position int16
	Char     *world.Character
}

// Position is one rank of the guild ladder.
type Position struct {
	Name    string
	Mode    int32
	TaxRate int16
}

// Alliance is one edge to another guild.
type Alliance struct {
	GuildID    int32
	Name       string
	Opposition bool
}

// Expulsion is one line of the expulsion log.
type Expulsion struct {
	Name   string
	Reason string
}

// Guild is the authoritative in-memory guild state.
type Guild struct {
	ID         int32
	Name       string
	MasterChar int32
	Level      int16
	Exp        int64
	Notice     string
	NoticeBody string

	Members     []*Member
	Positions   []Position
	Alliances   []Alliance
	Expulsions  []Expulsion
	SkillLevels map[int32]int8

	Dirty bool
}

// MaxMembers grows with guild level and the extension skill.
func (g *Guild) MaxMembers() int {
	n := baseMaxMembers + int(g.Level)*membersPerLevel
	return n + int(g.SkillLevels[SkillExtension])*membersPerExtLvl
}

// MemberByChar returns the member row for a char id, or nil.
func (g *Guild) MemberByChar(charID int32) *Member {
	for _, m := range g.Members {
		if m.CharID == charID {
			return m
		}
	}
	return nil
}

// positionMode returns the permission bits of a member's rank.
func (g *Guild) positionMode(m *Member) int32 {
	if int(m.Position) < len(g.Positions) {
		return g.Positions[m.Position].Mode
	}
	return 0
}

// can reports whether the member holds a permission bit or mastership.
func (g *Guild) can(c *world.Character, bit int32) bool {
	if c.CharID == g.MasterChar || c.Group.Has(group.PermGuildAdmin) {
		return true
	}
	m := g.MemberByChar(c.CharID)
	return m != nil && g.positionMode(m)&bit != 0
}

// broadcast notifies every online member.
func (g *Guild) broadcast(ev clif.Event) {
	for _, m := range g.Members {
		if m.Char != nil {
			m.Char.Notify(ev)
		}
	}
}

// allianceOffer keys a pending bilateral alliance proposal.
type allianceOffer struct {
	from, to int32
}

// Manager owns every loaded guild.
type Manager struct {
	cli *intif.Client
	log *zap.Logger

	guilds  map[int32]*Guild
	byName  map[string]*Guild
	invites map[int32]int32 // invited char id -> guild id
	offers  map[allianceOffer]bool

	// RestrictedMaps blocks leadership transfer while the master stands
	// on one of them (castle grounds during siege).
	RestrictedMaps map[int16]bool
}

func NewManager(cli *intif.Client, log *zap.Logger) *Manager {
	return &Manager{
		cli:     cli,
		log:     log,
		guilds:  make(map[int32]*Guild),
		byName:  make(map[string]*Guild),
		invites: make(map[int32]int32),
		offers:  make(map[allianceOffer]bool),
	}
}

// Get returns a guild by id, or nil.
func (m *Manager) Get(id int32) *Guild { return m.guilds[id] }

// GetByName returns a guild by name (case-insensitive), or nil.
func (m *Manager) GetByName(name string) *Guild { return m.byName[world.FoldName(name)] }

// Count returns the number of loaded guilds.
func (m *Manager) Count() int { return len(m.guilds) }

// defaultPositions builds the initial rank ladder.
func defaultPositions() []Position {
	ps := make([]Position, 0, maxPositions)
	ps = append(ps, Position{Name: "GuildMaster", Mode: PosInvite | PosExpel})
	for i := 1; i < maxPositions-1; i++ {
		ps = append(ps, Position{Name: "Position"})
	}
	ps = append(ps, Position{Name: "Newcomer"})
	return ps
}

// Create founds a new guild with the character as master. The guild
// becomes visible once the persistence tier assigns its id.
func (m *Manager) Create(c *world.Character, name string) error {
	if c.GuildID != 0 {
		return fmt.Errorf("you are already in a guild")
	}
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("invalid guild name")
	}
	if m.byName[world.FoldName(name)] != nil {
		return fmt.Errorf("a guild named %q already exists", name)
	}
	g := &Guild{
		Name:        name,
		MasterChar:  c.CharID,
		Level:       1,
		Positions:   defaultPositions(),
		SkillLevels: make(map[int32]int8),
		Members: []*Member{{
			CharID: c.CharID, Name: c.Name, Level: c.Level, Position: 0, Char: c,
		}},
	}
	// Reserve the name while the create round-trips.
	m.byName[world.FoldName(name)] = g

	f := intif.Call[intif.GuildRecord](m.cli, intif.KindGuildCreate, m.toRecord(g))
	f.Then(func(rec intif.GuildRecord, err error) {
		if err != nil {
			m.log.Warn("guild create failed", zap.String("name", name), zap.Error(err))
			delete(m.byName, world.FoldName(name))
			c.Message("The guild could not be founded.")
			return
		}
		if c.GuildID != 0 {
			// Founder joined another guild while the create was in
			// flight; the stored row is orphaned and gets cleaned up.
			delete(m.byName, world.FoldName(name))
			m.cli.Notify(intif.KindGuildSave, intif.GuildRecord{GuildID: rec.GuildID})
			return
		}
		g.ID = rec.GuildID
		m.guilds[g.ID] = g
		c.GuildID = g.ID
		c.GuildPosition = 0
		c.Dirty = true
		c.Notify(clif.Event{Kind: clif.EvGuildInfo, Actor: c.CharID, Text: g.Name})
		m.log.Info("guild founded",
			zap.Int32("guild", g.ID),
			zap.String("name", name),
			zap.Int32("master", c.CharID),
		)
	})
	return nil
}

// Invite asks target to join the inviter's guild.
func (m *Manager) Invite(c, target *world.Character) error {
	g := m.guilds[c.GuildID]
	if g == nil {
		return fmt.Errorf("you are not in a guild")
	}
	if !g.can(c, PosInvite) {
		return fmt.Errorf("your rank cannot invite")
	}
	if target.GuildID != 0 {
		return fmt.Errorf("%s is already in a guild", target.Name)
	}
	if _, pending := m.invites[target.CharID]; pending {
		return fmt.Errorf("%s is considering another guild", target.Name)
	}
	if len(g.Members) >= g.MaxMembers() {
		return fmt.Errorf("the guild is full")
	}
	m.invites[target.CharID] = g.ID
	target.Notify(clif.Event{Kind: clif.EvGuildInvite, Actor: c.CharID, Text: g.Name})
	return nil
}

// AcceptInvite joins the invited character at the lowest rank once the
// persistence tier acknowledges the membership write.
func (m *Manager) AcceptInvite(target *world.Character) error {
	gid, ok := m.invites[target.CharID]
	if !ok {
		return fmt.Errorf("no pending guild invitation")
	}
	delete(m.invites, target.CharID)
	g := m.guilds[gid]
	if g == nil {
		return fmt.Errorf("that guild no longer exists")
	}
	if len(g.Members) >= g.MaxMembers() {
		return fmt.Errorf("the guild is full")
	}
	newcomer := int16(len(g.Positions) - 1)
	req := intif.GuildMemberRecord{
		GuildID: g.ID,
		CharID:  target.CharID, Name: target.Name, Level: target.Level,
		Online: true, Position: newcomer,
	}
	f := intif.Call[intif.GuildRecord](m.cli, intif.KindGuildMemberUpdate, req)
	f.Then(func(_ intif.GuildRecord, err error) {
		if err != nil {
			m.log.Warn("guild join failed",
				zap.Int32("guild", g.ID),
				zap.Int32("char", target.CharID),
				zap.Error(err),
			)
			target.Message("Joining the guild failed.")
			return
		}
		if m.guilds[g.ID] != g || target.GuildID != 0 {
			return
		}
		g.Members = append(g.Members, &Member{
			CharID: target.CharID, Name: target.Name, Level: target.Level,
			Position: newcomer, Char: target,
		})
		target.GuildID = g.ID
		target.GuildPosition = int(newcomer)
		target.Dirty = true
		g.broadcast(clif.Event{Kind: clif.EvGuildInfo, Actor: target.CharID, Text: target.Name})
	})
	return nil
}

// DeclineInvite drops a pending invitation.
func (m *Manager) DeclineInvite(target *world.Character) {
	delete(m.invites, target.CharID)
}

// Leave removes the character. The master can only leave by disbanding.
func (m *Manager) Leave(c *world.Character) error {
	g := m.guilds[c.GuildID]
	if g == nil {
		return fmt.Errorf("you are not in a guild")
	}
	if c.CharID == g.MasterChar {
		if len(g.Members) > 1 {
			return fmt.Errorf("pass leadership or disband first")
		}
		return m.Disband(c)
	}
	req := intif.GuildMemberRecord{GuildID: g.ID, CharID: c.CharID, Position: -1}
	f := intif.Call[intif.GuildRecord](m.cli, intif.KindGuildMemberUpdate, req)
	f.Then(func(_ intif.GuildRecord, err error) {
		if err != nil {
			m.log.Warn("guild leave failed",
				zap.Int32("guild", g.ID),
				zap.Int32("char", c.CharID),
				zap.Error(err),
			)
			c.Message("Leaving the guild failed.")
			return
		}
		if c.GuildID != g.ID {
			return
		}
		m.removeMember(g, c.CharID)
		c.GuildID = 0
		c.Dirty = true
		g.broadcast(clif.Event{Kind: clif.EvGuildInfo, Actor: c.CharID, Text: c.Name})
	})
	return nil
}

// Expel kicks a member and records the reason.
func (m *Manager) Expel(c *world.Character, targetID int32, reason string) error {
	g := m.guilds[c.GuildID]
	if g == nil {
		return fmt.Errorf("you are not in a guild")
	}
	if !g.can(c, PosExpel) {
		return fmt.Errorf("your rank cannot expel")
	}
	if targetID == g.MasterChar {
		return fmt.Errorf("the guild master cannot be expelled")
	}
	mem := g.MemberByChar(targetID)
	if mem == nil {
		return fmt.Errorf("no such member")
	}
	req := intif.GuildMemberRecord{GuildID: g.ID, CharID: targetID, Position: -1}
	f := intif.Call[intif.GuildRecord](m.cli, intif.KindGuildMemberUpdate, req)
	f.Then(func(_ intif.GuildRecord, err error) {
		if err != nil {
			m.log.Warn("guild expel failed",
				zap.Int32("guild", g.ID),
				zap.Int32("char", targetID),
				zap.Error(err),
			)
			c.Message("The expulsion failed.")
			return
		}
		if g.MemberByChar(targetID) == nil {
			return
		}
		g.Expulsions = append(g.Expulsions, Expulsion{Name: mem.Name, Reason: reason})
		if mem.Char != nil {
			mem.Char.GuildID = 0
			mem.Char.Dirty = true
			mem.Char.Message(fmt.Sprintf("You were expelled from %s: %s", g.Name, reason))
		}
		m.removeMember(g, targetID)
		g.broadcast(clif.Event{Kind: clif.EvGuildInfo, Actor: targetID, Text: mem.Name})
	})
	return nil
}

func (m *Manager) removeMember(g *Guild, charID int32) {
	for i, mem := range g.Members {
		if mem.CharID == charID {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			break
		}
	}
	g.Dirty = true
}

// PassLeadership transfers mastership to another member. Not allowed
// while the master stands on a restricted map.
func (m *Manager) PassLeadership(c *world.Character, targetID int32) error {
	g := m.guilds[c.GuildID]
	if g == nil || c.CharID != g.MasterChar {
		return fmt.Errorf("only the guild master can do that")
	}
	if m.RestrictedMaps[c.MapID] && !c.Group.Has(group.PermBypassMapRestriction) {
		return fmt.Errorf("leadership cannot change hands here")
	}
	next := g.MemberByChar(targetID)
	if next == nil {
		return fmt.Errorf("no such member")
	}
	old := g.MemberByChar(c.CharID)
	g.MasterChar = targetID
	next.Position = 0
	if next.Char != nil {
		next.Char.GuildPosition = 0
	}
	if old != nil {
		old.Position = int16(len(g.Positions) - 1)
		c.GuildPosition = int(old.Position)
	}
	g.Dirty = true
	g.broadcast(clif.Event{Kind: clif.EvGuildInfo, Actor: targetID, Text: next.Name})
	m.save(g)
	return nil
}

// Disband dissolves the guild entirely.
func (m *Manager) Disband(c *world.Character) error {
	g := m.guilds[c.GuildID]
	if g == nil || c.CharID != g.MasterChar {
		return fmt.Errorf("only the guild master can disband")
	}
	for _, mem := range g.Members {
		if mem.Char != nil {
			mem.Char.GuildID = 0
			mem.Char.Dirty = true
			mem.Char.Message(fmt.Sprintf("%s has been disbanded.", g.Name))
		}
	}
	delete(m.guilds, g.ID)
	delete(m.byName, world.FoldName(g.Name))
	m.cli.Notify(intif.KindGuildSave, intif.GuildRecord{GuildID: g.ID})
	m.log.Info("guild disbanded", zap.Int32("guild", g.ID), zap.String("name", g.Name))
	return nil
}

// SetNotice updates the guild notice.
func (m *Manager) SetNotice(c *world.Character, subject, body string) error {
	g := m.guilds[c.GuildID]
	if g == nil {
		return fmt.Errorf("you are not in a guild")
	}
	if c.CharID != g.MasterChar && !c.Group.Has(group.PermGuildAdmin) {
		return fmt.Errorf("only the guild master can change the notice")
	}
	g.Notice = subject
	g.NoticeBody = body
	g.Dirty = true
	g.broadcast(clif.Event{Kind: clif.EvGuildInfo, Text: subject})
	m.save(g)
	return nil
}

// SetPosition redefines one rank of the ladder.
func (m *Manager) SetPosition(c *world.Character, idx int, name string, mode int32, tax int16) error {
	g := m.guilds[c.GuildID]
	if g == nil || c.CharID != g.MasterChar {
		return fmt.Errorf("only the guild master can change positions")
	}
	if idx < 0 || idx >= len(g.Positions) {
		return fmt.Errorf("no such position")
	}
	if idx == 0 && mode&(PosInvite|PosExpel) != (PosInvite|PosExpel) {
		return fmt.Errorf("the master position keeps full rights")
	}
	if tax < 0 || tax > 50 {
		return fmt.Errorf("tax rate out of range")
	}
	g.Positions[idx] = Position{Name: name, Mode: mode, TaxRate: tax}
	g.Dirty = true
	m.save(g)
	return nil
}

// AssignPosition moves a member to a different rank.
func (m *Manager) AssignPosition(c *world.Character, targetID int32, idx int) error {
	g := m.guilds[c.GuildID]
	if g == nil || c.CharID != g.MasterChar {
		return fmt.Errorf("only the guild master can assign positions")
	}
	if idx <= 0 || idx >= len(g.Positions) {
		return fmt.Errorf("no such position")
	}
	mem := g.MemberByChar(targetID)
	if mem == nil {
		return fmt.Errorf("no such member")
	}
	if targetID == g.MasterChar {
		return fmt.Errorf("the master holds position 0")
	}
	mem.Position = int16(idx)
	if mem.Char != nil {
		mem.Char.GuildPosition = idx
	}
	g.Dirty = true
	m.save(g)
	return nil
}

// countEdges tallies existing alliance edges of one kind.
func (g *Guild) countEdges(opposition bool) int {
	n := 0
	for _, a := range g.Alliances {
		if a.Opposition == opposition {
			n++
		}
	}
	return n
}

// FormAlliance records an opposition unilaterally; alliances need the
// other master's consent via AcceptAlliance.
func (m *Manager) FormAlliance(c *world.Character, otherID int32, opposition bool) error {
	g := m.guilds[c.GuildID]
	if g == nil || c.CharID != g.MasterChar {
		return fmt.Errorf("only the guild master can do that")
	}
	other := m.guilds[otherID]
	if other == nil {
		return fmt.Errorf("no such guild")
	}
	if other.ID == g.ID {
		return fmt.Errorf("a guild cannot ally itself")
	}
	for _, a := range g.Alliances {
		if a.GuildID == otherID {
			return fmt.Errorf("there is already a pact with %s", other.Name)
		}
	}
	limit := maxAlliances
	if opposition {
		limit = maxOppositions
	}
	if g.countEdges(opposition) >= limit {
		return fmt.Errorf("no more pacts of that kind")
	}
	if opposition {
		g.Alliances = append(g.Alliances, Alliance{GuildID: otherID, Name: other.Name, Opposition: true})
		g.Dirty = true
		m.save(g)
		return nil
	}
	if other.countEdges(false) >= maxAlliances {
		return fmt.Errorf("%s cannot take more allies", other.Name)
	}
	m.offers[allianceOffer{from: g.ID, to: otherID}] = true
	if master := other.MemberByChar(other.MasterChar); master != nil && master.Char != nil {
		master.Char.Notify(clif.Event{Kind: clif.EvGuildInfo, Actor: g.ID, Text: g.Name})
		master.Char.Message(fmt.Sprintf("%s proposes an alliance.", g.Name))
	}
	return nil
}

// AcceptAlliance seals a proposed alliance on both sides.
func (m *Manager) AcceptAlliance(c *world.Character, fromID int32) error {
	g := m.guilds[c.GuildID]
	if g == nil || c.CharID != g.MasterChar {
		return fmt.Errorf("only the guild master can do that")
	}
	if !m.offers[allianceOffer{from: fromID, to: g.ID}] {
		return fmt.Errorf("no alliance was proposed")
	}
	delete(m.offers, allianceOffer{from: fromID, to: g.ID})
	other := m.guilds[fromID]
	if other == nil {
		return fmt.Errorf("that guild no longer exists")
	}
	if g.countEdges(false) >= maxAlliances || other.countEdges(false) >= maxAlliances {
		return fmt.Errorf("no more alliances")
	}
	g.Alliances = append(g.Alliances, Alliance{GuildID: other.ID, Name: other.Name})
	other.Alliances = append(other.Alliances, Alliance{GuildID: g.ID, Name: g.Name})
	g.Dirty = true
	other.Dirty = true
	m.save(g)
	m.save(other)
	return nil
}

// RejectAlliance declines a proposed alliance.
func (m *Manager) RejectAlliance(c *world.Character, fromID int32) {
	if g := m.guilds[c.GuildID]; g != nil {
		delete(m.offers, allianceOffer{from: fromID, to: g.ID})
	}
}

// BreakAlliance removes an edge; mutual alliances break on both sides.
func (m *Manager) BreakAlliance(c *world.Character, otherID int32) error {
	g := m.guilds[c.GuildID]
	if g == nil || c.CharID != g.MasterChar {
		return fmt.Errorf("only the guild master can do that")
	}
	removed := false
	mutual := false
	for i, a := range g.Alliances {
		if a.GuildID == otherID {
			mutual = !a.Opposition
			g.Alliances = append(g.Alliances[:i], g.Alliances[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return fmt.Errorf("no pact with that guild")
	}
	g.Dirty = true
	if mutual {
		if other := m.guilds[otherID]; other != nil {
			for i, a := range other.Alliances {
				if a.GuildID == g.ID {
					other.Alliances = append(other.Alliances[:i], other.Alliances[i+1:]...)
					other.Dirty = true
					m.save(other)
					break
				}
			}
		}
	}
	m.save(g)
	return nil
}

// AddExp credits guild experience and applies level growth.
func (m *Manager) AddExp(g *Guild, exp int64) {
	if exp <= 0 {
		return
	}
	g.Exp += exp
	for g.Exp >= int64(g.Level)*expPerLevel {
		g.Exp -= int64(g.Level) * expPerLevel
		g.Level++
		g.broadcast(clif.Event{Kind: clif.EvGuildInfo, Amount: int32(g.Level)})
	}
	g.Dirty = true
}

// LearnSkill raises a guild skill by one level.
func (m *Manager) LearnSkill(c *world.Character, skillID int32) error {
	g := m.guilds[c.GuildID]
	if g == nil || c.CharID != g.MasterChar {
		return fmt.Errorf("only the guild master can direct guild training")
	}
	if skillID != SkillExtension {
		return fmt.Errorf("unknown guild skill")
	}
	if g.SkillLevels[skillID] >= maxExtensionLevel {
		return fmt.Errorf("that skill is already mastered")
	}
	if int(g.Level) <= int(g.SkillLevels[skillID]) {
		return fmt.Errorf("the guild must grow before training further")
	}
	g.SkillLevels[skillID]++
	g.Dirty = true
	g.broadcast(clif.Event{Kind: clif.EvGuildInfo, Extra: skillID})
	m.save(g)
	return nil
}

// OnLogin attaches a character to their guild's member row.
func (m *Manager) OnLogin(c *world.Character) {
	g := m.guilds[c.GuildID]
	if g == nil {
		return
	}
	if mem := g.MemberByChar(c.CharID); mem != nil {
		mem.Char = c
		mem.Level = c.Level
		c.GuildPosition = int(mem.Position)
	}
}

// OnLogout detaches the member row.
func (m *Manager) OnLogout(c *world.Character) {
	delete(m.invites, c.CharID)
	g := m.guilds[c.GuildID]
	if g == nil {
		return
	}
	if mem := g.MemberByChar(c.CharID); mem != nil {
		mem.Char = nil
	}
}

// SaveSweep persists every dirty guild.
func (m *Manager) SaveSweep() {
	for _, g := range m.guilds {
		if g.Dirty {
			m.save(g)
		}
	}
}

func (m *Manager) save(g *Guild) {
	m.cli.Notify(intif.KindGuildSave, m.toRecord(g))
	g.Dirty = false
}

func (m *Manager) toRecord(g *Guild) intif.GuildRecord {
	rec := intif.GuildRecord{
		GuildID:     g.ID,
		Name:        g.Name,
		MasterChar:  g.MasterChar,
		Level:       g.Level,
		Exp:         g.Exp,
		MaxMembers:  int16(g.MaxMembers()),
		Notice:      g.Notice,
		NoticeBody:  g.NoticeBody,
		SkillLevels: g.SkillLevels,
	}
	for i, p := range g.Positions {
		rec.Positions = append(rec.Positions, intif.GuildPositionRecord{
			Index: int16(i), Name: p.Name, Mode: p.Mode, TaxRate: p.TaxRate,
		})
	}
	for _, mem := range g.Members {
		rec.Members = append(rec.Members, intif.GuildMemberRecord{
			CharID: mem.CharID, Name: mem.Name, Level: mem.Level,
			Online: mem.Char != nil, Position: mem.Position,
		})
	}
	for _, a := range g.Alliances {
		rec.Alliances = append(rec.Alliances, intif.GuildAllianceRecord{
			GuildID: a.GuildID, Name: a.Name, Opposition: a.Opposition,
		})
	}
	for _, ex := range g.Expulsions {
		rec.Expulsions = append(rec.Expulsions, intif.GuildExpulsionRecord{
			Name: ex.Name, Reason: ex.Reason,
		})
	}
	return rec
}

// Restore rebuilds a guild from its persistence record at boot.
func (m *Manager) Restore(rec intif.GuildRecord) *Guild {
	g := &Guild{
		ID:          rec.GuildID,
		Name:        rec.Name,
		MasterChar:  rec.MasterChar,
		Level:       rec.Level,
		Exp:         rec.Exp,
		Notice:      rec.Notice,
		NoticeBody:  rec.NoticeBody,
		SkillLevels: rec.SkillLevels,
	}
	if g.SkillLevels == nil {
		g.SkillLevels = make(map[int32]int8)
	}
	for _, p := range rec.Positions {
		g.Positions = append(g.Positions, Position{Name: p.Name, Mode: p.Mode, TaxRate: p.TaxRate})
	}
	if len(g.Positions) == 0 {
		g.Positions = defaultPositions()
	}
	for _, mem := range rec.Members {
		g.Members = append(g.Members, &Member{
			CharID: mem.CharID, Name: mem.Name, Level: mem.Level, Position: mem.Position,
		})
	}
	for _, a := range rec.Alliances {
		g.Alliances = append(g.Alliances, Alliance{GuildID: a.GuildID, Name: a.Name, Opposition: a.Opposition})
	}
	for _, ex := range rec.Expulsions {
		g.Expulsions = append(g.Expulsions, Expulsion{Name: ex.Name, Reason: ex.Reason})
	}
	m.guilds[g.ID] = g
	m.byName[world.FoldName(g.Name)] = g
	return g
}
