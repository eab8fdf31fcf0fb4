// Package group implements the player-group permission engine: groups
// are loaded from YAML at startup, inheritance is flattened once, and
// sessions hold resolved snapshots so the hot path never walks the graph.
package group

import (
	"fmt"
	"os"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Permission is a single capability bit.
type Permission uint64

const (
	PermTradeAnywhere Permission = 1 << iota
	PermTradeBound
	PermStorageAnywhere
	PermGuildAdmin
	PermChannelAdmin
	PermCommandAny
	PermItemUnconditional
	PermBypassMapRestriction
	PermViewAuditLog
	PermAccountAction
)

var permNames = map[string]Permission{
	"trade_anywhere":         PermTradeAnywhere,
	"trade_bound":            PermTradeBound,
	"storage_anywhere":       PermStorageAnywhere,
	"guild_admin":            PermGuildAdmin,
	"channel_admin":          PermChannelAdmin,
	"command_any":            PermCommandAny,
	"item_unconditional":     PermItemUnconditional,
	"bypass_map_restriction": PermBypassMapRestriction,
	"view_audit_log":         PermViewAuditLog,
	"account_action":         PermAccountAction,
}

// CommandKind splits the two allow-lists a group carries.
type CommandKind int

const (
	AtCommand CommandKind = iota
	CharCommand
)

// Snapshot is a group's fully resolved permission view. Sessions cache
// one at login; Reload hands out fresh snapshots.
type Snapshot struct {
	GroupID     int
	Name        string
	Level       int
	LogCommands bool

	perms    Permission
	atCmds   map[string]bool
	charCmds map[string]bool
}

// NewSnapshot builds a standalone snapshot. Used for the fallback group
// of sessions whose account lookup failed, and by tests.
func NewSnapshot(id int, name string, level int, perms ...Permission) *Snapshot {
	s := &Snapshot{
		GroupID:  id,
		Name:     name,
		Level:    level,
		atCmds:   make(map[string]bool),
		charCmds: make(map[string]bool),
	}
	for _, p := range perms {
		s.perms |= p
	}
	return s
}

// Has reports whether the flag is granted (directly or by inheritance).
func (s *Snapshot) Has(p Permission) bool {
	if s == nil {
		return false
	}
	return s.perms&p != 0
}

// CanUseCommand reports whether the named command is allow-listed.
func (s *Snapshot) CanUseCommand(name string, kind CommandKind) bool {
	if s == nil {
		return false
	}
	if s.perms&PermCommandAny != 0 {
		return true
	}
	key := foldName(name)
	if kind == CharCommand {
		return s.charCmds[key]
	}
	return s.atCmds[key]
}

type groupEntry struct {
	ID          int      `yaml:"id"`
	Name        string   `yaml:"name"`
	Level       int      `yaml:"level"`
	Inherit     []string `yaml:"inherit"`
	Permissions []string `yaml:"permissions"`
	AtCommands  []string `yaml:"commands"`
	CharCmds    []string `yaml:"char_commands"`
	LogCommands bool     `yaml:"log_commands"`
}

type groupsFile struct {
	Groups []groupEntry `yaml:"groups"`
}

// Table holds the resolved groups. Immutable after Resolve; Reload
// builds a new Table and swaps the reference on the game loop.
type Table struct {
	byID   map[int]*Snapshot
	byName map[string]*Snapshot
}

// maxResolvePasses bounds inheritance folding; the graph depth of any
// sane configuration is far below this, so leftovers mean a cycle or a
// missing reference.
const maxResolvePasses = 64

var caser = cases.Fold()

func foldName(s string) string { return caser.String(s) }

// Load reads group definitions from YAML and resolves inheritance.
// Unresolvable groups (cyclic or missing parents) are a fatal
// configuration error.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read groups: %w", err)
	}
	var f groupsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse groups: %w", err)
	}
	return resolve(f.Groups)
}

// resolve flattens the inheritance graph within a bounded number of
// passes: each pass folds every group whose parents are all resolved.
func resolve(entries []groupEntry) (*Table, error) {
	byName := make(map[string]*groupEntry, len(entries))
	for i := range entries {
		e := &entries[i]
		key := foldName(e.Name)
		if _, dup := byName[key]; dup {
			return nil, fmt.Errorf("duplicate group name %q", e.Name)
		}
		byName[key] = e
	}

	t := &Table{
		byID:   make(map[int]*Snapshot, len(entries)),
		byName: make(map[string]*Snapshot, len(entries)),
	}
	resolved := make(map[string]*Snapshot, len(entries))

	for pass := 0; pass < maxResolvePasses; pass++ {
		progressed := false
		for i := range entries {
			e := &entries[i]
			key := foldName(e.Name)
			if _, done := resolved[key]; done {
				continue
			}
			parents := make([]*Snapshot, 0, len(e.Inherit))
			ready := true
			for _, pn := range e.Inherit {
				p, ok := resolved[foldName(pn)]
				if !ok {
					if _, exists := byName[foldName(pn)]; !exists {
						return nil, fmt.Errorf("group %q inherits unknown group %q", e.Name, pn)
					}
					ready = false
					break
				}
				parents = append(parents, p)
			}
			if !ready {
				continue
			}
			snap, err := fold(e, parents)
			if err != nil {
				return nil, err
			}
			resolved[key] = snap
			t.byID[snap.GroupID] = snap
			t.byName[key] = snap
			progressed = true
		}
		if len(resolved) == len(entries) {
			return t, nil
		}
		if !progressed {
			break
		}
	}

	var stuck []string
	for i := range entries {
		if _, done := resolved[foldName(entries[i].Name)]; !done {
			stuck = append(stuck, entries[i].Name)
		}
	}
	return nil, fmt.Errorf("group inheritance did not resolve (cycle or missing reference): %v", stuck)
}

// fold builds a snapshot from a group's own grants plus the union of
// its already-resolved parents.
func fold(e *groupEntry, parents []*Snapshot) (*Snapshot, error) {
	snap := &Snapshot{
		GroupID:     e.ID,
		Name:        e.Name,
		Level:       e.Level,
		LogCommands: e.LogCommands,
		atCmds:      make(map[string]bool),
		charCmds:    make(map[string]bool),
	}
	for _, name := range e.Permissions {
		p, ok := permNames[name]
		if !ok {
			return nil, fmt.Errorf("group %q: unknown permission %q", e.Name, name)
		}
		snap.perms |= p
	}
	for _, c := range e.AtCommands {
		snap.atCmds[foldName(c)] = true
	}
	for _, c := range e.CharCmds {
		snap.charCmds[foldName(c)] = true
	}
	for _, p := range parents {
		snap.perms |= p.perms
		for c := range p.atCmds {
			snap.atCmds[c] = true
		}
		for c := range p.charCmds {
			snap.charCmds[c] = true
		}
	}
	return snap, nil
}

// Get returns the snapshot for a group id, or nil.
func (t *Table) Get(id int) *Snapshot { return t.byID[id] }

// GetByName returns the snapshot for a group name (case-insensitive).
func (t *Table) GetByName(name string) *Snapshot { return t.byName[foldName(name)] }

// Count returns the number of resolved groups.
func (t *Table) Count() int { return len(t.byID) }
