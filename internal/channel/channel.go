// Package channel implements chat channels: player-created rooms with
// passwords and ban lists, plus per-map and per-guild singleton channels
// managed by the server.
package channel

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/world"
)

// Type classifies a channel.
type Type int

const (
	TypePublic Type = iota // player-created, joinable by name
	TypeMap                // one per map, auto-join on enter
	TypeGuild              // one per guild, auto-join for members
)

// Colors players may pick with setcolor. Values are client RGB.
var Colors = map[string]uint32{
	"default": 0xFFFFFF,
	"red":     0xFF0000,
	"orange":  0xFFA500,
	"yellow":  0xFFFF00,
	"green":   0x00FF00,
	"cyan":    0x00FFFF,
	"blue":    0x0000FF,
	"violet":  0xEE82EE,
}

const (
	maxNameLen     = 20
	maxPassLen     = 20
	maxJoinedPer   = 10
	maxMsgLen      = 150
	maxMsgWait     = 10 * time.Second
	defaultMsgWait = 0 * time.Second
)

// Option is a per-channel behavior toggle.
type Option int

const (
	OptSelfAnnounce  Option = iota // announce joins and leaves
	OptCanChat                     // members other than moderators may speak
	OptCanLeave                    // members other than moderators may leave
	OptAutojoin                    // map channels pull players in on map change
	OptColorOverride               // plain members may change the color
)

// Options maps the setopt command spelling to the toggle.
var Options = map[string]Option{
	"selfannounce":  OptSelfAnnounce,
	"canchat":       OptCanChat,
	"canleave":      OptCanLeave,
	"autojoin":      OptAutojoin,
	"coloroverride": OptColorOverride,
}

// Channel is one chat room. Owned by the game loop goroutine.
type Channel struct {
	Name    string // folded key
	Display string
	Kind    Type
	OwnerID int32 // creating character, 0 for server channels
	Color   uint32

	password string
	opts     map[Option]bool
	msgWait  time.Duration

	members  map[int32]*world.Character
	banned   map[int32]string // char id -> name at ban time
	lastMsg  map[int32]time.Time
	boundMap int16 // TypeMap only
	guildID  int32 // TypeGuild only
}

// defaultOpts seeds the toggles for a fresh channel. Map channels pull
// players in by default.
func defaultOpts(kind Type) map[Option]bool {
	o := map[Option]bool{
		OptCanChat:  true,
		OptCanLeave: true,
	}
	if kind == TypeMap {
		o[OptAutojoin] = true
	}
	return o
}

func (ch *Channel) MemberCount() int { return len(ch.members) }

// Opt reports whether a toggle is on.
func (ch *Channel) Opt(opt Option) bool { return ch.opts[opt] }

// HasMember reports whether the character is joined.
func (ch *Channel) HasMember(charID int32) bool {
	_, ok := ch.members[charID]
	return ok
}

// broadcast delivers a channel line to every member.
func (ch *Channel) broadcast(text string) {
	for _, m := range ch.members {
		m.Notify(clif.Event{Kind: clif.EvChannelMsg, Text: text, Extra: int32(ch.Color)})
	}
}

// Manager owns all channels and the per-player join/bind state.
type Manager struct {
	log *zap.Logger

	channels   map[string]*Channel // folded name -> channel
	mapChans   map[int16]*Channel
	guildChans map[int32]*Channel

	joined map[int32][]*Channel // char id -> joined channels
	bound  map[int32]*Channel   // char id -> channel receiving plain chat
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		log:        log,
		channels:   make(map[string]*Channel),
		mapChans:   make(map[int16]*Channel),
		guildChans: make(map[int32]*Channel),
		joined:     make(map[int32][]*Channel),
		bound:      make(map[int32]*Channel),
	}
}

// Get returns a channel by name (case-insensitive), or nil.
func (m *Manager) Get(name string) *Channel { return m.channels[world.FoldName(name)] }

// Create makes a new public channel owned by the creator, who joins it.
func (m *Manager) Create(c *world.Character, name, password string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("invalid channel name")
	}
	if len(password) > maxPassLen {
		return fmt.Errorf("invalid channel password")
	}
	key := world.FoldName(name)
	if _, exists := m.channels[key]; exists {
		return fmt.Errorf("channel %q already exists", name)
	}
	ch := &Channel{
		Name:     key,
		Display:  name,
		Kind:     TypePublic,
		OwnerID:  c.CharID,
		Color:    Colors["default"],
		password: password,
		opts:     defaultOpts(TypePublic),
		members:  make(map[int32]*world.Character),
		banned:   make(map[int32]string),
		lastMsg:  make(map[int32]time.Time),
		msgWait:  defaultMsgWait,
	}
	m.channels[key] = ch
	m.log.Info("channel created",
		zap.String("channel", name),
		zap.Int32("owner", c.CharID),
	)
	return m.addMember(ch, c)
}

// Join adds the character to a public channel, checking password and ban.
func (m *Manager) Join(c *world.Character, name, password string) error {
	ch := m.Get(name)
	if ch == nil || ch.Kind != TypePublic {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if _, banned := ch.banned[c.CharID]; banned {
		return fmt.Errorf("you are banned from channel %q", ch.Display)
	}
	if ch.password != "" && ch.password != password && !c.Group.Has(group.PermChannelAdmin) {
		return fmt.Errorf("wrong password for channel %q", ch.Display)
	}
	if ch.HasMember(c.CharID) {
		return fmt.Errorf("already in channel %q", ch.Display)
	}
	if len(m.joined[c.CharID]) >= maxJoinedPer {
		return fmt.Errorf("too many joined channels")
	}
	if err := m.addMember(ch, c); err != nil {
		return err
	}
	if ch.Opt(OptSelfAnnounce) {
		ch.broadcast(fmt.Sprintf("#%s: %s joined", ch.Display, c.Name))
	}
	return nil
}

func (m *Manager) addMember(ch *Channel, c *world.Character) error {
	ch.members[c.CharID] = c
	m.joined[c.CharID] = append(m.joined[c.CharID], ch)
	return nil
}

// Leave removes the character; empty player channels are destroyed.
// Channels with the can-leave toggle off hold plain members.
func (m *Manager) Leave(c *world.Character, name string) error {
	ch := m.Get(name)
	if ch == nil || !ch.HasMember(c.CharID) {
		return fmt.Errorf("not in channel %q", name)
	}
	if !ch.Opt(OptCanLeave) && !m.canModerate(ch, c) {
		return fmt.Errorf("you cannot leave channel %q", ch.Display)
	}
	m.removeMember(ch, c.CharID)
	if ch.Opt(OptSelfAnnounce) {
		ch.broadcast(fmt.Sprintf("#%s: %s left", ch.Display, c.Name))
	}
	return nil
}

func (m *Manager) removeMember(ch *Channel, charID int32) {
	delete(ch.members, charID)
	delete(ch.lastMsg, charID)
	list := m.joined[charID]
	for i, j := range list {
		if j == ch {
			m.joined[charID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if m.bound[charID] == ch {
		delete(m.bound, charID)
	}
	if ch.Kind == TypePublic && len(ch.members) == 0 {
		delete(m.channels, ch.Name)
		m.log.Info("channel destroyed", zap.String("channel", ch.Display))
	}
}

// Send posts a message to a joined channel, honoring the message delay.
func (m *Manager) Send(c *world.Character, name, msg string, now time.Time) error {
	ch := m.Get(name)
	if ch == nil || !ch.HasMember(c.CharID) {
		return fmt.Errorf("not in channel %q", name)
	}
	if msg == "" || len(msg) > maxMsgLen {
		return fmt.Errorf("invalid message")
	}
	if !ch.Opt(OptCanChat) && !m.canModerate(ch, c) {
		return fmt.Errorf("channel %q is muted", ch.Display)
	}
	if ch.msgWait > 0 && !c.Group.Has(group.PermChannelAdmin) {
		if last, ok := ch.lastMsg[c.CharID]; ok && now.Sub(last) < ch.msgWait {
			return fmt.Errorf("wait before sending another message")
		}
	}
	ch.lastMsg[c.CharID] = now
	ch.broadcast(fmt.Sprintf("#%s %s: %s", ch.Display, c.Name, msg))
	return nil
}

// canModerate reports owner or channel-admin rights.
func (m *Manager) canModerate(ch *Channel, c *world.Character) bool {
	return ch.OwnerID == c.CharID || c.Group.Has(group.PermChannelAdmin)
}

// Ban kicks and bans a member. The owner and channel admins cannot be
// banned.
func (m *Manager) Ban(c *world.Character, name string, target *world.Character) error {
	ch := m.Get(name)
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if !m.canModerate(ch, c) {
		return fmt.Errorf("you do not moderate channel %q", ch.Display)
	}
	if target.CharID == ch.OwnerID {
		return fmt.Errorf("cannot ban the channel owner")
	}
	if target.Group.Has(group.PermChannelAdmin) {
		return fmt.Errorf("cannot ban a channel administrator")
	}
	ch.banned[target.CharID] = target.Name
	if ch.HasMember(target.CharID) {
		m.removeMember(ch, target.CharID)
		target.Message(fmt.Sprintf("You were banned from #%s", ch.Display))
	}
	return nil
}

// Kick removes a member without recording a ban; rejoining stays open.
func (m *Manager) Kick(c *world.Character, name string, target *world.Character) error {
	ch := m.Get(name)
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if !m.canModerate(ch, c) {
		return fmt.Errorf("you do not moderate channel %q", ch.Display)
	}
	if target.CharID == ch.OwnerID {
		return fmt.Errorf("cannot kick the channel owner")
	}
	if target.Group.Has(group.PermChannelAdmin) {
		return fmt.Errorf("cannot kick a channel administrator")
	}
	if !ch.HasMember(target.CharID) {
		return fmt.Errorf("%s is not in channel %q", target.Name, ch.Display)
	}
	m.removeMember(ch, target.CharID)
	target.Message(fmt.Sprintf("You were kicked from #%s", ch.Display))
	return nil
}

// Unban lifts a ban by character id.
func (m *Manager) Unban(c *world.Character, name string, targetID int32) error {
	ch := m.Get(name)
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if !m.canModerate(ch, c) {
		return fmt.Errorf("you do not moderate channel %q", ch.Display)
	}
	if _, ok := ch.banned[targetID]; !ok {
		return fmt.Errorf("character is not banned")
	}
	delete(ch.banned, targetID)
	return nil
}

// UnbanAll clears the ban list.
func (m *Manager) UnbanAll(c *world.Character, name string) error {
	ch := m.Get(name)
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if !m.canModerate(ch, c) {
		return fmt.Errorf("you do not moderate channel %q", ch.Display)
	}
	ch.banned = make(map[int32]string)
	return nil
}

// Delete tears a public channel down, removing every member first.
// Server-managed map and guild channels cannot be deleted.
func (m *Manager) Delete(c *world.Character, name string) error {
	ch := m.Get(name)
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if ch.Kind != TypePublic {
		return fmt.Errorf("channel %q is managed by the server", ch.Display)
	}
	if !m.canModerate(ch, c) {
		return fmt.Errorf("you do not moderate channel %q", ch.Display)
	}
	ch.broadcast(fmt.Sprintf("#%s was closed by %s", ch.Display, c.Name))
	for id := range ch.members {
		m.removeMember(ch, id)
	}
	// removeMember reaps the channel with the last member; an already
	// empty channel still needs the map entry dropped.
	delete(m.channels, ch.Name)
	return nil
}

// BanList returns the names recorded at ban time.
func (m *Manager) BanList(c *world.Character, name string) ([]string, error) {
	ch := m.Get(name)
	if ch == nil {
		return nil, fmt.Errorf("channel %q does not exist", name)
	}
	if !m.canModerate(ch, c) {
		return nil, fmt.Errorf("you do not moderate channel %q", ch.Display)
	}
	names := make([]string, 0, len(ch.banned))
	for _, n := range ch.banned {
		names = append(names, n)
	}
	return names, nil
}

// SetOption flips a channel toggle; owner or channel admin only.
func (m *Manager) SetOption(c *world.Character, name string, opt Option, on bool) error {
	ch := m.Get(name)
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if !m.canModerate(ch, c) {
		return fmt.Errorf("you do not moderate channel %q", ch.Display)
	}
	ch.opts[opt] = on
	return nil
}

// SetMsgDelay sets the per-member minimum interval between messages.
func (m *Manager) SetMsgDelay(c *world.Character, name string, d time.Duration) error {
	ch := m.Get(name)
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if !m.canModerate(ch, c) {
		return fmt.Errorf("you do not moderate channel %q", ch.Display)
	}
	if d < 0 || d > maxMsgWait {
		return fmt.Errorf("delay out of range")
	}
	ch.msgWait = d
	return nil
}

// SetColor changes the channel text color. Plain members may do it only
// on channels with the color-override toggle on.
func (m *Manager) SetColor(c *world.Character, name, color string) error {
	ch := m.Get(name)
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", name)
	}
	if !m.canModerate(ch, c) {
		if !ch.Opt(OptColorOverride) || !ch.HasMember(c.CharID) {
			return fmt.Errorf("you do not moderate channel %q", ch.Display)
		}
	}
	v, ok := Colors[color]
	if !ok {
		return fmt.Errorf("unknown color %q", color)
	}
	ch.Color = v
	return nil
}

// Bind routes the character's plain chat into a joined channel.
func (m *Manager) Bind(c *world.Character, name string) error {
	ch := m.Get(name)
	if ch == nil || !ch.HasMember(c.CharID) {
		return fmt.Errorf("not in channel %q", name)
	}
	m.bound[c.CharID] = ch
	return nil
}

// Unbind releases the plain-chat binding.
func (m *Manager) Unbind(c *world.Character) {
	delete(m.bound, c.CharID)
}

// Bound returns the channel the character's plain chat is bound to, or nil.
func (m *Manager) Bound(charID int32) *Channel { return m.bound[charID] }

// JoinMapChannel moves the character onto a map's singleton channel,
// creating it on first use. A map channel with autojoin turned off
// stops pulling arrivals in.
func (m *Manager) JoinMapChannel(c *world.Character, mapID int16) {
	ch, ok := m.mapChans[mapID]
	if !ok {
		ch = &Channel{
			Name:     world.FoldName(fmt.Sprintf("map%d", mapID)),
			Display:  "map",
			Kind:     TypeMap,
			Color:    Colors["default"],
			opts:     defaultOpts(TypeMap),
			members:  make(map[int32]*world.Character),
			banned:   make(map[int32]string),
			lastMsg:  make(map[int32]time.Time),
			boundMap: mapID,
		}
		m.mapChans[mapID] = ch
		m.channels[ch.Name] = ch
	}
	if !ch.Opt(OptAutojoin) {
		return
	}
	_ = m.addMember(ch, c)
}

// LeaveMapChannel removes the character from a map's channel.
func (m *Manager) LeaveMapChannel(c *world.Character, mapID int16) {
	if ch, ok := m.mapChans[mapID]; ok && ch.HasMember(c.CharID) {
		m.removeMember(ch, c.CharID)
	}
}

// GuildChannel returns the singleton channel for a guild, creating it on
// first use.
func (m *Manager) GuildChannel(guildID int32) *Channel {
	ch, ok := m.guildChans[guildID]
	if !ok {
		ch = &Channel{
			Name:    world.FoldName(fmt.Sprintf("guild%d", guildID)),
			Display: "guild",
			Kind:    TypeGuild,
			Color:   Colors["default"],
			opts:    defaultOpts(TypeGuild),
			members: make(map[int32]*world.Character),
			banned:  make(map[int32]string),
			lastMsg: make(map[int32]time.Time),
			guildID: guildID,
		}
		m.guildChans[guildID] = ch
		m.channels[ch.Name] = ch
	}
	return ch
}

// JoinGuildChannel adds a member to their guild's channel.
func (m *Manager) JoinGuildChannel(c *world.Character) {
	if c.GuildID == 0 {
		return
	}
	ch := m.GuildChannel(c.GuildID)
	if !ch.HasMember(c.CharID) {
		_ = m.addMember(ch, c)
	}
}

// QuitAll drops the character from every channel (logout path).
func (m *Manager) QuitAll(c *world.Character) {
	list := append([]*Channel(nil), m.joined[c.CharID]...)
	for _, ch := range list {
		m.removeMember(ch, c.CharID)
	}
	delete(m.joined, c.CharID)
	delete(m.bound, c.CharID)
}
