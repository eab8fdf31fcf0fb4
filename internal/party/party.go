// Package party implements party grouping: membership, leadership,
// exp-share and item-distribution policies, and member broadcasts.
package party

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/world"
)

const (
	maxMembers      = 12
	maxNameLen      = 24
	shareLevelRange = 15
)

// Member is one party member row; Char is nil while offline.
type Member struct {
	CharID int32
	Name   string
	Level  int16
	Char   *world.Character
}

// Party is the authoritative in-memory party state.
type Party struct {
	ID         int32
	Name       string
	LeaderChar int32

	// Policy flags. ExpShare splits kill experience evenly among
	// eligible members; ItemShare hands picked-up loot around the
	// party in turn; ItemPickup does the same for zeny.
	ExpShare   bool
	ItemShare  bool
	ItemPickup bool

	Members []*Member

	shareIdx int // round-robin cursor for item distribution
	Dirty    bool
}

// MemberByChar returns the member row for a char id, or nil.
func (p *Party) MemberByChar(charID int32) *Member {
	for _, m := range p.Members {
		if m.CharID == charID {
			return m
		}
	}
	return nil
}

// broadcast notifies every online member.
func (p *Party) broadcast(ev clif.Event) {
	for _, m := range p.Members {
		if m.Char != nil {
			m.Char.Notify(ev)
		}
	}
}

// Manager owns every loaded party.
type Manager struct {
	cli *intif.Client
	log *zap.Logger

	parties map[int32]*Party
	invites map[int32]int32 // invited char id -> party id
}

func NewManager(cli *intif.Client, log *zap.Logger) *Manager {
	return &Manager{
		cli:     cli,
		log:     log,
		parties: make(map[int32]*Party),
		invites: make(map[int32]int32),
	}
}

// Get returns a party by id, or nil.
func (m *Manager) Get(id int32) *Party { return m.parties[id] }

// Count returns the number of loaded parties.
func (m *Manager) Count() int { return len(m.parties) }

// Create forms a new party led by the character. The party becomes
// visible once the persistence tier assigns its id.
func (m *Manager) Create(c *world.Character, name string) error {
	if c.PartyID != 0 {
		return fmt.Errorf("you are already in a party")
	}
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("invalid party name")
	}
	p := &Party{
		Name:       name,
		LeaderChar: c.CharID,
		ExpShare:   true,
		Members: []*Member{{
			CharID: c.CharID, Name: c.Name, Level: c.Level, Char: c,
		}},
	}
	f := intif.Call[intif.PartyRecord](m.cli, intif.KindPartyCreate, m.toRecord(p))
	f.Then(func(rec intif.PartyRecord, err error) {
		if err != nil {
			m.log.Warn("party create failed", zap.String("name", name), zap.Error(err))
			c.Message("The party could not be formed.")
			return
		}
		if c.PartyID != 0 {
			m.cli.Notify(intif.KindPartySave, intif.PartyRecord{PartyID: rec.PartyID})
			return
		}
		p.ID = rec.PartyID
		m.parties[p.ID] = p
		c.PartyID = p.ID
		c.PartyLeader = true
		c.Dirty = true
		c.Notify(clif.Event{Kind: clif.EvPartyInfo, Actor: c.CharID, Text: p.Name})
	})
	return nil
}

// Invite asks target to join the inviter's party. Only the leader may
// invite.
func (m *Manager) Invite(c, target *world.Character) error {
	p := m.parties[c.PartyID]
	if p == nil {
		return fmt.Errorf("you are not in a party")
	}
	if p.LeaderChar != c.CharID {
		return fmt.Errorf("only the party leader can invite")
	}
	if target.PartyID != 0 {
		return fmt.Errorf("%s is already in a party", target.Name)
	}
	if _, pending := m.invites[target.CharID]; pending {
		return fmt.Errorf("%s is considering another party", target.Name)
	}
	if len(p.Members) >= maxMembers {
		return fmt.Errorf("the party is full")
	}
	m.invites[target.CharID] = p.ID
	target.Notify(clif.Event{Kind: clif.EvPartyInvite, Actor: c.CharID, Text: p.Name})
	return nil
}

// AcceptInvite joins the invited character once the persistence tier
// acknowledges the membership write.
func (m *Manager) AcceptInvite(target *world.Character) error {
	pid, ok := m.invites[target.CharID]
	if !ok {
		return fmt.Errorf("no pending party invitation")
	}
	delete(m.invites, target.CharID)
	p := m.parties[pid]
	if p == nil {
		return fmt.Errorf("that party no longer exists")
	}
	if len(p.Members) >= maxMembers {
		return fmt.Errorf("the party is full")
	}
	req := m.toRecord(p)
	req.Members = append(req.Members, target.CharID)
	f := intif.Call[intif.PartyRecord](m.cli, intif.KindPartySave, req)
	f.Then(func(_ intif.PartyRecord, err error) {
		if err != nil {
			m.log.Warn("party join failed",
				zap.Int32("party", p.ID),
				zap.Int32("char", target.CharID),
				zap.Error(err),
			)
			target.Message("Joining the party failed.")
			return
		}
		// The party may have dissolved, filled up, or the character
		// joined elsewhere while the write was in flight.
		if m.parties[p.ID] != p || target.PartyID != 0 {
			return
		}
		if len(p.Members) >= maxMembers {
			target.Message("The party filled up.")
			return
		}
		p.Members = append(p.Members, &Member{
			CharID: target.CharID, Name: target.Name, Level: target.Level, Char: target,
		})
		target.PartyID = p.ID
		target.Dirty = true
		p.broadcast(clif.Event{Kind: clif.EvPartyInfo, Actor: target.CharID, Text: target.Name})
	})
	return nil
}

// DeclineInvite drops a pending invitation.
func (m *Manager) DeclineInvite(target *world.Character) {
	delete(m.invites, target.CharID)
}

// Leave removes the character. A leaving leader hands the lead to the
// next member; the last member dissolves the party.
func (m *Manager) Leave(c *world.Character) error {
	p := m.parties[c.PartyID]
	if p == nil {
		return fmt.Errorf("you are not in a party")
	}
	m.removeMember(p, c)
	return nil
}

// Expel kicks a member; leader only, and never the leader themselves.
func (m *Manager) Expel(c *world.Character, targetID int32) error {
	p := m.parties[c.PartyID]
	if p == nil {
		return fmt.Errorf("you are not in a party")
	}
	if p.LeaderChar != c.CharID {
		return fmt.Errorf("only the party leader can expel")
	}
	if targetID == c.CharID {
		return fmt.Errorf("leave the party instead")
	}
	mem := p.MemberByChar(targetID)
	if mem == nil {
		return fmt.Errorf("no such member")
	}
	if mem.Char != nil {
		mem.Char.Message(fmt.Sprintf("You were removed from %s.", p.Name))
	}
	m.removeMember(p, mem.Char)
	if mem.Char == nil {
		// Offline expulsion: strip the row and let the persisted
		// character pick the change up at next login.
		for i, row := range p.Members {
			if row.CharID == targetID {
				p.Members = append(p.Members[:i], p.Members[i+1:]...)
				break
			}
		}
		p.Dirty = true
		m.save(p)
	}
	return nil
}

func (m *Manager) removeMember(p *Party, c *world.Character) {
	if c == nil {
		return
	}
	for i, mem := range p.Members {
		if mem.CharID == c.CharID {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			break
		}
	}
	c.PartyID = 0
	c.PartyLeader = false
	c.Dirty = true
	if len(p.Members) == 0 {
		delete(m.parties, p.ID)
		m.cli.Notify(intif.KindPartySave, intif.PartyRecord{PartyID: p.ID})
		return
	}
	if p.LeaderChar == c.CharID {
		p.LeaderChar = p.Members[0].CharID
		if p.Members[0].Char != nil {
			p.Members[0].Char.PartyLeader = true
			p.Members[0].Char.Message("You are now the party leader.")
		}
	}
	p.Dirty = true
	p.broadcast(clif.Event{Kind: clif.EvPartyInfo, Actor: c.CharID, Text: c.Name})
	m.save(p)
}

// PassLeadership transfers the lead to another member.
func (m *Manager) PassLeadership(c *world.Character, targetID int32) error {
	p := m.parties[c.PartyID]
	if p == nil || p.LeaderChar != c.CharID {
		return fmt.Errorf("only the party leader can do that")
	}
	next := p.MemberByChar(targetID)
	if next == nil {
		return fmt.Errorf("no such member")
	}
	p.LeaderChar = targetID
	c.PartyLeader = false
	if next.Char != nil {
		next.Char.PartyLeader = true
	}
	p.Dirty = true
	p.broadcast(clif.Event{Kind: clif.EvPartyInfo, Actor: targetID, Text: next.Name})
	m.save(p)
	return nil
}

// SetPolicy updates the distribution flags; leader only.
func (m *Manager) SetPolicy(c *world.Character, expShare, itemShare, itemPickup bool) error {
	p := m.parties[c.PartyID]
	if p == nil || p.LeaderChar != c.CharID {
		return fmt.Errorf("only the party leader can change party rules")
	}
	p.ExpShare = expShare
	p.ItemShare = itemShare
	p.ItemPickup = itemPickup
	p.Dirty = true
	p.broadcast(clif.Event{Kind: clif.EvPartyInfo})
	m.save(p)
	return nil
}

// shareEligible reports whether a member takes part in a split started
// by the killer: online, same map, within the share level range.
func shareEligible(killer *world.Character, mem *Member) bool {
	if mem.Char == nil || mem.Char.MapID != killer.MapID {
		return false
	}
	d := mem.Char.Level - killer.Level
	if d < 0 {
		d = -d
	}
	return d <= shareLevelRange
}

// ShareExp splits kill experience among eligible members. With sharing
// off (or nobody else eligible) the killer keeps the full amount. The
// returned map is keyed by char id.
func (m *Manager) ShareExp(killer *world.Character, exp int64) map[int32]int64 {
	out := make(map[int32]int64)
	p := m.parties[killer.PartyID]
	if p == nil || !p.ExpShare || exp <= 0 {
		out[killer.CharID] = exp
		return out
	}
	var takers []*Member
	for _, mem := range p.Members {
		if shareEligible(killer, mem) {
			takers = append(takers, mem)
		}
	}
	if len(takers) <= 1 {
		out[killer.CharID] = exp
		return out
	}
	cut := exp / int64(len(takers))
	for _, mem := range takers {
		out[mem.CharID] = cut
	}
	out[killer.CharID] += exp % int64(len(takers))
	return out
}

// NextLooter picks the member who receives a picked-up item under the
// item-share policy, walking the party round-robin. With sharing off
// the finder keeps it.
func (m *Manager) NextLooter(finder *world.Character) *world.Character {
	p := m.parties[finder.PartyID]
	if p == nil || !p.ItemShare {
		return finder
	}
	for i := 0; i < len(p.Members); i++ {
		p.shareIdx = (p.shareIdx + 1) % len(p.Members)
		mem := p.Members[p.shareIdx]
		if shareEligible(finder, mem) {
			return mem.Char
		}
	}
	return finder
}

// NotifyLevelUp refreshes the member row and tells the party.
func (m *Manager) NotifyLevelUp(c *world.Character) {
	p := m.parties[c.PartyID]
	if p == nil {
		return
	}
	if mem := p.MemberByChar(c.CharID); mem != nil {
		mem.Level = c.Level
	}
	p.broadcast(clif.Event{Kind: clif.EvPartyInfo, Actor: c.CharID, Amount: int32(c.Level)})
}

// NotifyDeath tells the party a member fell.
func (m *Manager) NotifyDeath(c *world.Character) {
	p := m.parties[c.PartyID]
	if p == nil {
		return
	}
	p.broadcast(clif.Event{Kind: clif.EvPartyInfo, Actor: c.CharID, Extra: 1})
}

// NotifyPosition pushes a member's map position to the party.
func (m *Manager) NotifyPosition(c *world.Character) {
	p := m.parties[c.PartyID]
	if p == nil {
		return
	}
	p.broadcast(clif.Event{
		Kind:   clif.EvPartyInfo,
		Actor:  c.CharID,
		Object: int64(c.MapID),
		Amount: int32(c.X),
		Extra:  int32(c.Y),
	})
}

// OnLogin attaches a character to their party's member row.
func (m *Manager) OnLogin(c *world.Character) {
	p := m.parties[c.PartyID]
	if p == nil {
		c.PartyID = 0
		return
	}
	if mem := p.MemberByChar(c.CharID); mem != nil {
		mem.Char = c
		mem.Level = c.Level
		c.PartyLeader = p.LeaderChar == c.CharID
		p.broadcast(clif.Event{Kind: clif.EvPartyInfo, Actor: c.CharID})
	}
}

// OnLogout detaches the member row.
func (m *Manager) OnLogout(c *world.Character) {
	delete(m.invites, c.CharID)
	p := m.parties[c.PartyID]
	if p == nil {
		return
	}
	if mem := p.MemberByChar(c.CharID); mem != nil {
		mem.Char = nil
		p.broadcast(clif.Event{Kind: clif.EvPartyInfo, Actor: c.CharID})
	}
}

// SaveSweep persists every dirty party.
func (m *Manager) SaveSweep() {
	for _, p := range m.parties {
		if p.Dirty {
			m.save(p)
		}
	}
}

func (m *Manager) save(p *Party) {
	m.cli.Notify(intif.KindPartySave, m.toRecord(p))
	p.Dirty = false
}

func (m *Manager) toRecord(p *Party) intif.PartyRecord {
	rec := intif.PartyRecord{
		PartyID:    p.ID,
		Name:       p.Name,
		LeaderChar: p.LeaderChar,
		ExpShare:   p.ExpShare,
		ItemShare:  p.ItemShare,
		ItemPickup: p.ItemPickup,
	}
	for _, mem := range p.Members {
		rec.Members = append(rec.Members, mem.CharID)
	}
	return rec
}

// Restore rebuilds a party from its persistence record at boot. Member
// names and levels fill in as members log in.
func (m *Manager) Restore(rec intif.PartyRecord) *Party {
	p := &Party{
		ID:         rec.PartyID,
		Name:       rec.Name,
		LeaderChar: rec.LeaderChar,
		ExpShare:   rec.ExpShare,
		ItemShare:  rec.ItemShare,
		ItemPickup: rec.ItemPickup,
	}
	for _, id := range rec.Members {
		p.Members = append(p.Members, &Member{CharID: id})
	}
	m.parties[p.ID] = p
	return p
}
