// Package companion implements the lifecycle engines for the three
// companion unit types: homunculi, mercenaries and elementals. All state
// lives on the game loop goroutine; persistence happens asynchronously
// through the intif client.
package companion

import "fmt"

// Status is the lifecycle state of a companion.
type Status int

const (
	StatusNone Status = iota
	StatusPending
	StatusActive
	StatusVaporized
	StatusDead
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusVaporized:
		return "vaporized"
	case StatusDead:
		return "dead"
	case StatusDeleted:
		return "deleted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// transitions lists the legal moves. Deletion is reachable from every
// live state and is terminal.
var transitions = map[Status][]Status{
	StatusNone:      {StatusPending},
	StatusPending:   {StatusActive, StatusDeleted},
	StatusActive:    {StatusVaporized, StatusDead, StatusDeleted},
	StatusVaporized: {StatusActive, StatusDeleted},
	StatusDead:      {StatusActive, StatusDeleted},
}

// transition validates and applies a status change. Every status
// mutation in the package goes through here.
func transition(cur Status, to Status) (Status, error) {
	for _, t := range transitions[cur] {
		if t == to {
			return to, nil
		}
	}
	return cur, fmt.Errorf("illegal transition %s -> %s", cur, to)
}
