package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BoundScope classifies how an item instance is soul-bound. Bound items
// may only move within their scope (e.g. guild-bound items between
// guildmates). The scope is carried on the item instance; templates only
// declare whether a bound instance may enter storage at all.
type BoundScope int

const (
	BoundNone BoundScope = iota
	BoundAccount
	BoundGuild
	BoundParty
	BoundCharacter
)

// ItemInfo holds static per-item flags used by storage and trade rules.
type ItemInfo struct {
	ItemID    int32  `yaml:"item_id"`
	Name      string `yaml:"name"`
	Weight    int32  `yaml:"weight"`
	Stackable bool   `yaml:"stackable"`
	// StackCap overrides the global per-slot cap when positive.
	StackCap      int32 `yaml:"stack_cap"`
	Tradeable     bool  `yaml:"tradeable"`
	Storable      bool  `yaml:"storable"`
	GuildStorable bool  `yaml:"guild_storable"`
}

type itemListFile struct {
	Items []ItemInfo `yaml:"items"`
}

// ItemTable holds item templates indexed by item ID.
type ItemTable struct {
	items map[int32]*ItemInfo
}

// NewItemTable builds a table from in-memory templates.
func NewItemTable(items []ItemInfo) *ItemTable {
	t := &ItemTable{items: make(map[int32]*ItemInfo, len(items))}
	for i := range items {
		info := &items[i]
		t.items[info.ItemID] = info
	}
	return t
}

// LoadItemTable loads item templates from a YAML file.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read item table: %w", err)
	}
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse item table: %w", err)
	}
	return NewItemTable(f.Items), nil
}

// Get returns an item template by ID, or nil if not found.
func (t *ItemTable) Get(itemID int32) *ItemInfo { return t.items[itemID] }

// Count returns the number of loaded templates.
func (t *ItemTable) Count() int { return len(t.items) }
