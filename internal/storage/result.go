package storage

// Result is the typed outcome of a container mutation. The packet layer
// maps non-Ok results to the client's denial messages.
type Result int

const (
	Ok         Result = iota
	NoRoom            // capacity or carry weight exhausted
	StackLimit        // per-slot stack cap reached
	Invalid           // unknown item, bad amount, or amount not held
	NoAccess          // template or bound-scope rules forbid the move
	Locked            // container not open, or its load is still in flight
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case NoRoom:
		return "no room"
	case StackLimit:
		return "stack limit reached"
	case Invalid:
		return "invalid request"
	case NoAccess:
		return "not allowed"
	case Locked:
		return "storage locked"
	}
	return "unknown result"
}
