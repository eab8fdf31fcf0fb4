package handler

import (
	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/world"
)

// ReloadGroups rebuilds the group table from disk and swaps the cached
// snapshot of every online character. Characters whose group vanished
// from the new table drop to no permissions. Runs on the game loop.
func ReloadGroups(d *Deps, path string) error {
	table, err := group.Load(path)
	if err != nil {
		return err
	}
	d.Groups = table

	refreshed := 0
	d.World.Each(func(c *world.Character) {
		if c.Group == nil {
			return
		}
		c.Group = table.Get(c.Group.GroupID)
		c.NoItemChecks = c.Group.Has(group.PermItemUnconditional)
		refreshed++
	})
	d.Log.Info("group table reloaded",
		zap.Int("groups", table.Count()),
		zap.Int("sessions", refreshed),
	)
	return nil
}
