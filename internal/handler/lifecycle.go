package handler

import (
	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/world"
)

// EnterWorld registers a character as in-world and attaches it to its
// guild, party and map channel. The group snapshot comes back async
// from the account lookup; until then the character runs with no
// elevated permissions.
func EnterWorld(d *Deps, c *world.Character) {
	d.World.Add(c)

	intif.Call[intif.AccountInfoRecord](d.Intif, intif.KindAccountInfo, c.AccountID).
		Then(func(rec intif.AccountInfoRecord, err error) {
			if err != nil {
				d.Log.Warn("account lookup failed",
					zap.Int32("account", c.AccountID),
					zap.Error(err),
				)
				return
			}
			if d.World.ByCharID(c.CharID) != c {
				return // logged out before the ack
			}
			c.Group = d.Groups.Get(rec.GroupID)
			if c.Group != nil {
				c.NoItemChecks = c.Group.Has(group.PermItemUnconditional)
			}
		})

	d.Guilds.OnLogin(c)
	d.Parties.OnLogin(c)
	d.Channels.JoinMapChannel(c, c.MapID)
	if c.GuildID != 0 {
		d.Channels.JoinGuildChannel(c)
	}

	d.Log.Info("character entered world",
		zap.Int32("char", c.CharID),
		zap.String("name", c.Name),
		zap.Int16("map", c.MapID),
	)
}

// LeaveWorld tears down every interaction the character holds, saves
// its persisted state and unregisters it. Safe to call for characters
// that never finished entering.
func LeaveWorld(d *Deps, c *world.Character) {
	d.Trade.OnLogout(c)
	d.Storage.OnLogout(c)
	d.Companions.OnLogout(c)
	d.Guilds.OnLogout(c)
	d.Parties.OnLogout(c)
	d.Channels.QuitAll(c)

	d.Intif.Notify(intif.KindCharacterSave, CharRecord(c))
	c.Dirty = false
	d.World.Remove(c.CharID)

	d.Log.Info("character left world",
		zap.Int32("char", c.CharID),
		zap.String("name", c.Name),
	)
}

// MoveMap relocates a character, switching its map channel and pushing
// the new position to party members.
func MoveMap(d *Deps, c *world.Character, mapID int16, x, y int16) {
	if mapID != c.MapID {
		d.Channels.LeaveMapChannel(c, c.MapID)
		d.Channels.JoinMapChannel(c, mapID)
	}
	c.MapID = mapID
	c.X, c.Y = x, y
	c.Dirty = true
	d.Parties.NotifyPosition(c)
}

// CharRecord snapshots the character fields the persistence tier owns.
func CharRecord(c *world.Character) intif.CharacterRecord {
	return intif.CharacterRecord{
		CharID:     c.CharID,
		MapID:      c.MapID,
		X:          c.X,
		Y:          c.Y,
		Zeny:       c.Zeny,
		SwordFaith: c.SwordFaith,
		SwordCalls: c.SwordCalls,
		SpearFaith: c.SpearFaith,
		SpearCalls: c.SpearCalls,
		ArchFaith:  c.ArchFaith,
		ArchCalls:  c.ArchCalls,
	}
}
