// Package clif is the boundary to the network/packet layer. The core
// never touches raw bytes: engines hand fully-formed notifications to a
// Session and the packet layer (out of tree) encodes them for the client.
package clif

// EventKind tags an outbound notification.
type EventKind int

const (
	EvMessage EventKind = iota
	EvStatusUpdate
	EvItemUpdate
	EvItemDrop
	EvCompanionInfo
	EvCompanionSpawn
	EvCompanionRemove
	EvStorageSlot
	EvStorageOpen
	EvStorageClose
	EvTradeRequest
	EvTradeOpen
	EvTradeStage
	EvTradeLock
	EvTradeComplete
	EvTradeCancel
	EvGuildInfo
	EvGuildInvite
	EvPartyInfo
	EvPartyInvite
	EvChannelMsg
)

// Event is a single outbound notification. Fields are used per kind;
// unused fields stay zero.
type Event struct {
	Kind   EventKind
	Text   string
	Actor  int32 // originating character, when relevant
	Object int64 // companion id, slot index, zeny amount, ...
	Amount int32
	Extra  int32
}

// Session is one connected client's outbound channel. Implementations
// live in the packet layer; tests use a recorder.
type Session interface {
	// Message delivers a user-visible text line. Every rejected
	// operation produces exactly one of these for the initiating actor.
	Message(text string)
	// Event delivers a structured notification (status bars, trade
	// window updates, companion panels, ...).
	Event(ev Event)
}

// NopSession discards everything; used for offline members.
type NopSession struct{}

func (NopSession) Message(string) {}
func (NopSession) Event(Event)    {}
