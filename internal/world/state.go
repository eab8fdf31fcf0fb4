package world

import (
	"golang.org/x/text/cases"
)

var nameCaser = cases.Fold()

// FoldName normalizes a character or channel name for lookups.
func FoldName(s string) string { return nameCaser.String(s) }

// State is the authoritative in-memory world. Owned by the game loop
// goroutine; every mutation happens there.
type State struct {
	players map[int32]*Character
	byName  map[string]*Character
	ground  []*GroundItem
}

func NewState() *State {
	return &State{
		players: make(map[int32]*Character),
		byName:  make(map[string]*Character),
	}
}

// Add registers a character as in-world.
func (s *State) Add(c *Character) {
	s.players[c.CharID] = c
	s.byName[FoldName(c.Name)] = c
}

// Remove unregisters a character by id.
func (s *State) Remove(charID int32) {
	c, ok := s.players[charID]
	if !ok {
		return
	}
	delete(s.players, charID)
	delete(s.byName, FoldName(c.Name))
}

// ByCharID returns the in-world character with the given id, or nil.
func (s *State) ByCharID(charID int32) *Character { return s.players[charID] }

// ByName returns the in-world character with the given name
// (case-insensitive), or nil.
func (s *State) ByName(name string) *Character { return s.byName[FoldName(name)] }

// Count returns the number of in-world characters.
func (s *State) Count() int { return len(s.players) }

// Each calls fn for every in-world character. fn must not Add or Remove.
func (s *State) Each(fn func(*Character)) {
	for _, c := range s.players {
		fn(c)
	}
}

// GroundItem is an item lying on a map cell. Items land here when a
// transfer could not fit them into the target inventory.
type GroundItem struct {
	Item  *Item
	MapID int16
	X, Y  int16
}

// Drop places amount units of it on the ground at the character's feet.
func (s *State) Drop(c *Character, it *Item, amount int32) *GroundItem {
	g := &GroundItem{Item: it.Clone(amount), MapID: c.MapID, X: c.X, Y: c.Y}
	s.ground = append(s.ground, g)
	return g
}

// GroundItems returns the items lying on a map.
func (s *State) GroundItems(mapID int16) []*GroundItem {
	var out []*GroundItem
	for _, g := range s.ground {
		if g.MapID == mapID {
			out = append(out, g)
		}
	}
	return out
}

// InRange reports whether two characters are on the same map within a
// Chebyshev distance of radius cells.
func InRange(a, b *Character, radius int16) bool {
	if a.MapID != b.MapID {
		return false
	}
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx <= radius
	}
	return dy <= radius
}
