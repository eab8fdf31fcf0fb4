// Package trade implements the two-party trade protocol. Staged offers
// never leave the source inventory: everything is re-validated against
// live state at commit time, and the exchange is written to the economic
// ledger before any item moves.
package trade

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/clif"
	"github.com/midgard/mapserver/internal/config"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/world"
)

const maxStagedSlots = 10

// LedgerItem is one item line of a completed exchange.
type LedgerItem struct {
	FromChar int32
	ToChar   int32
	ItemID   int32
	Amount   int32
}

// LedgerEntry is the durable record of one completed trade, written
// before the exchange mutates any inventory.
type LedgerEntry struct {
	TradeID uint64
	CharA   int32
	CharB   int32
	ZenyAB  int64 // zeny moved from A to B
	ZenyBA  int64
	Items   []LedgerItem
}

// Ledger persists completed trades. The persistence layer implements it
// over the database; tests use an in-memory recorder.
type Ledger interface {
	Record(e LedgerEntry) error
}

// NopLedger discards entries.
type NopLedger struct{}

func (NopLedger) Record(LedgerEntry) error { return nil }

type stagedItem struct {
	item   *world.Item
	amount int32
}

type side struct {
	c      *world.Character
	staged []stagedItem
	zeny   int64
	ok     bool
}

func (s *side) reset() {
	s.staged = nil
	s.zeny = 0
	s.ok = false
}

// Trade is one active negotiation between two characters.
type Trade struct {
	ID uint64
	a  *side
	b  *side
}

func (t *Trade) sideOf(c *world.Character) *side {
	if t.a.c == c {
		return t.a
	}
	return t.b
}

func (t *Trade) partnerOf(c *world.Character) *side {
	if t.a.c == c {
		return t.b
	}
	return t.a
}

// Manager owns all pending requests and active trades.
type Manager struct {
	cfg    *config.GameplayConfig
	items  *data.ItemTable
	ledger Ledger
	log    *zap.Logger

	nextID   uint64
	requests map[int32]int32   // target char id -> initiator char id
	active   map[int32]*Trade  // char id -> trade (both parties)
	blocked  map[int32]bool    // chars caught by ExploitBlock this session
}

func NewManager(cfg *config.GameplayConfig, items *data.ItemTable, ledger Ledger, log *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		items:    items,
		ledger:   ledger,
		log:      log,
		requests: make(map[int32]int32),
		active:   make(map[int32]*Trade),
		blocked:  make(map[int32]bool),
	}
}

// Active returns the character's trade, or nil.
func (m *Manager) Active(c *world.Character) *Trade { return m.active[c.CharID] }

// canGiveItems checks the session-level trade restriction. Both parties
// must pass it before a window opens.
func (m *Manager) canGiveItems(c *world.Character) error {
	if m.blocked[c.CharID] {
		return fmt.Errorf("trading is disabled for %s", c.Name)
	}
	return nil
}

// Request asks target to trade. Both parties must be free, in range,
// and not blocked by a prior exploit attempt.
func (m *Manager) Request(c, target *world.Character) error {
	if err := m.canGiveItems(c); err != nil {
		return fmt.Errorf("trading is disabled for you")
	}
	if err := m.canGiveItems(target); err != nil {
		return err
	}
	if c == target {
		return fmt.Errorf("you cannot trade with yourself")
	}
	if c.Occupied() {
		return fmt.Errorf("finish your current interaction first")
	}
	if target.Occupied() {
		return fmt.Errorf("%s is busy", target.Name)
	}
	if _, pending := m.requests[target.CharID]; pending {
		return fmt.Errorf("%s is considering another trade", target.Name)
	}
	if !c.Group.Has(group.PermTradeAnywhere) && !world.InRange(c, target, int16(m.cfg.TradeRadius)) {
		return fmt.Errorf("%s is too far away", target.Name)
	}
	m.requests[target.CharID] = c.CharID
	target.Notify(clif.Event{Kind: clif.EvTradeRequest, Actor: c.CharID, Text: c.Name})
	return nil
}

// Accept opens the trade windows for a pending request.
func (m *Manager) Accept(target *world.Character, st *world.State) error {
	initiatorID, ok := m.requests[target.CharID]
	if !ok {
		return fmt.Errorf("no pending trade request")
	}
	delete(m.requests, target.CharID)
	initiator := st.ByCharID(initiatorID)
	if initiator == nil {
		return fmt.Errorf("the other party is gone")
	}
	if initiator.Occupied() || target.Occupied() {
		return fmt.Errorf("one of you is busy now")
	}
	// The restriction may have tripped between request and accept.
	if err := m.canGiveItems(initiator); err != nil {
		return err
	}
	if err := m.canGiveItems(target); err != nil {
		return err
	}
	if !initiator.Group.Has(group.PermTradeAnywhere) && !world.InRange(initiator, target, int16(m.cfg.TradeRadius)) {
		return fmt.Errorf("too far apart")
	}

	m.nextID++
	t := &Trade{
		ID: m.nextID,
		a:  &side{c: initiator},
		b:  &side{c: target},
	}
	m.active[initiator.CharID] = t
	m.active[target.CharID] = t
	initiator.TradingWith = target.CharID
	target.TradingWith = initiator.CharID
	initiator.Notify(clif.Event{Kind: clif.EvTradeOpen, Actor: target.CharID})
	target.Notify(clif.Event{Kind: clif.EvTradeOpen, Actor: initiator.CharID})
	return nil
}

// Decline rejects a pending request.
func (m *Manager) Decline(target *world.Character, st *world.State) {
	initiatorID, ok := m.requests[target.CharID]
	if !ok {
		return
	}
	delete(m.requests, target.CharID)
	if initiator := st.ByCharID(initiatorID); initiator != nil {
		initiator.Message(fmt.Sprintf("%s declined the trade.", target.Name))
	}
}

// stageAllowed checks template and bound rules for offering an item.
func (m *Manager) stageAllowed(c *world.Character, it *world.Item) error {
	if c.NoItemChecks || c.Group.Has(group.PermItemUnconditional) {
		return nil
	}
	info := m.items.Get(it.ItemID)
	if info == nil {
		return fmt.Errorf("unknown item")
	}
	if !info.Tradeable {
		return fmt.Errorf("%s cannot be traded", info.Name)
	}
	if it.Bound != data.BoundNone && !c.Group.Has(group.PermTradeBound) {
		return fmt.Errorf("bound items cannot be traded")
	}
	return nil
}

// StageItem offers amount units of an inventory item. The inventory is
// not touched: the offer is validated again at commit.
func (m *Manager) StageItem(c *world.Character, it *world.Item, amount int32) error {
	t := m.active[c.CharID]
	if t == nil {
		return fmt.Errorf("you are not trading")
	}
	s := t.sideOf(c)
	if s.ok || t.partnerOf(c).ok {
		return fmt.Errorf("the offer is locked")
	}
	if amount <= 0 {
		return fmt.Errorf("invalid amount")
	}
	if err := m.stageAllowed(c, it); err != nil {
		return err
	}
	var already int32
	for _, st := range s.staged {
		if st.item.SignatureEquals(it) {
			already += st.amount
		}
	}
	if c.Inv.Amount(it) < already+amount {
		return fmt.Errorf("you do not have that many")
	}
	if len(s.staged) >= maxStagedSlots {
		return fmt.Errorf("no more trade slots")
	}
	s.staged = append(s.staged, stagedItem{item: it.Clone(amount), amount: amount})
	t.partnerOf(c).c.Notify(clif.Event{
		Kind:   clif.EvTradeStage,
		Actor:  c.CharID,
		Object: int64(it.ItemID),
		Amount: amount,
	})
	return nil
}

// StageZeny sets the zeny offer (replacing any previous value).
func (m *Manager) StageZeny(c *world.Character, zeny int64) error {
	t := m.active[c.CharID]
	if t == nil {
		return fmt.Errorf("you are not trading")
	}
	s := t.sideOf(c)
	if s.ok || t.partnerOf(c).ok {
		return fmt.Errorf("the offer is locked")
	}
	if zeny < 0 || zeny > c.Zeny {
		return fmt.Errorf("you do not have that much zeny")
	}
	s.zeny = zeny
	t.partnerOf(c).c.Notify(clif.Event{Kind: clif.EvTradeStage, Actor: c.CharID, Object: zeny})
	return nil
}

// Confirm locks this side's offer. With both offers locked the trade
// waits for a final Commit press; either party may still cancel.
func (m *Manager) Confirm(c *world.Character) error {
	t := m.active[c.CharID]
	if t == nil {
		return fmt.Errorf("you are not trading")
	}
	s := t.sideOf(c)
	if s.ok {
		return nil
	}
	s.ok = true
	t.partnerOf(c).c.Notify(clif.Event{Kind: clif.EvTradeLock, Actor: c.CharID})
	return nil
}

// Commit is the final press. It requires both offers locked and runs the
// atomic check and exchange.
func (m *Manager) Commit(c *world.Character, st *world.State) error {
	t := m.active[c.CharID]
	if t == nil {
		return fmt.Errorf("you are not trading")
	}
	if !t.a.ok || !t.b.ok {
		return fmt.Errorf("both offers must be locked first")
	}
	m.commit(t, st)
	return nil
}

// Cancel aborts the trade. Nothing was deducted, so there is nothing to
// restore; both windows close.
func (m *Manager) Cancel(c *world.Character) {
	t := m.active[c.CharID]
	if t == nil {
		return
	}
	m.teardown(t)
	t.a.c.Notify(clif.Event{Kind: clif.EvTradeCancel})
	t.b.c.Notify(clif.Event{Kind: clif.EvTradeCancel})
}

// OnLogout cancels any active trade and drops pending requests.
func (m *Manager) OnLogout(c *world.Character) {
	m.Cancel(c)
	delete(m.requests, c.CharID)
}

func (m *Manager) teardown(t *Trade) {
	delete(m.active, t.a.c.CharID)
	delete(m.active, t.b.c.CharID)
	t.a.c.TradingWith = 0
	t.b.c.TradingWith = 0
	t.a.reset()
	t.b.reset()
}

// revalidate re-checks one side's full offer against live state.
func (m *Manager) revalidate(s *side) error {
	// Sum staged amounts per signature, then compare against live.
	for _, st := range s.staged {
		var total int32
		for _, other := range s.staged {
			if other.item.SignatureEquals(st.item) {
				total += other.amount
			}
		}
		if s.c.Inv.Amount(st.item) < total {
			return fmt.Errorf("staged %d of item %d, inventory has %d",
				total, st.item.ItemID, s.c.Inv.Amount(st.item))
		}
	}
	if s.zeny > s.c.Zeny {
		return fmt.Errorf("staged %d zeny, holding %d", s.zeny, s.c.Zeny)
	}
	return nil
}

// incomingWeight sums the template weight of one side's offer.
func (m *Manager) incomingWeight(s *side) int32 {
	var w int32
	for _, st := range s.staged {
		if info := m.items.Get(st.item.ItemID); info != nil {
			w += info.Weight * st.amount
		}
	}
	return w
}

// commit re-validates both offers against live state and, if everything
// still holds, writes the ledger entry and performs the exchange.
func (m *Manager) commit(t *Trade, st *world.State) {
	for _, s := range []*side{t.a, t.b} {
		if err := m.revalidate(s); err != nil {
			m.flagExploit(t, s, err)
			return
		}
	}

	// Zeny overflow on either recipient aborts cleanly.
	if t.a.c.Zeny-t.a.zeny+t.b.zeny > m.cfg.MaxZeny ||
		t.b.c.Zeny-t.b.zeny+t.a.zeny > m.cfg.MaxZeny {
		m.abort(t, "The trade would exceed the zeny limit.")
		return
	}

	if m.cfg.RecheckTradeWeight {
		gainA := m.incomingWeight(t.b) - m.incomingWeight(t.a)
		gainB := m.incomingWeight(t.a) - m.incomingWeight(t.b)
		if gainA > 0 && !t.a.c.CanCarry(gainA) {
			m.abort(t, fmt.Sprintf("%s cannot carry the goods.", t.a.c.Name))
			return
		}
		if gainB > 0 && !t.b.c.CanCarry(gainB) {
			m.abort(t, fmt.Sprintf("%s cannot carry the goods.", t.b.c.Name))
			return
		}
	}

	entry := LedgerEntry{
		TradeID: t.ID,
		CharA:   t.a.c.CharID,
		CharB:   t.b.c.CharID,
		ZenyAB:  t.a.zeny,
		ZenyBA:  t.b.zeny,
	}
	for _, st := range t.a.staged {
		entry.Items = append(entry.Items, LedgerItem{
			FromChar: t.a.c.CharID, ToChar: t.b.c.CharID,
			ItemID: st.item.ItemID, Amount: st.amount,
		})
	}
	for _, st := range t.b.staged {
		entry.Items = append(entry.Items, LedgerItem{
			FromChar: t.b.c.CharID, ToChar: t.a.c.CharID,
			ItemID: st.item.ItemID, Amount: st.amount,
		})
	}
	if err := m.ledger.Record(entry); err != nil {
		m.log.Error("trade ledger write failed",
			zap.Uint64("trade", t.ID),
			zap.Error(err),
		)
		m.abort(t, "The trade could not be recorded; nothing was exchanged.")
		return
	}

	m.exchange(st, t.a, t.b)
	m.exchange(st, t.b, t.a)
	a, b := t.a.c, t.b.c
	a.Dirty = true
	b.Dirty = true
	m.teardown(t)
	a.Notify(clif.Event{Kind: clif.EvTradeComplete})
	b.Notify(clif.Event{Kind: clif.EvTradeComplete})
	m.log.Info("trade completed",
		zap.Uint64("trade", entry.TradeID),
		zap.Int32("char_a", entry.CharA),
		zap.Int32("char_b", entry.CharB),
		zap.Int("items", len(entry.Items)),
	)
}

// exchange moves one side's offer to the partner. Validation already
// passed, so failures here cannot happen on the giving side; a recipient
// whose inventory filled up mid-exchange gets the goods at their feet.
func (m *Manager) exchange(st *world.State, from, to *side) {
	for _, sg := range from.staged {
		if to.c.Inv.Add(sg.item, sg.amount) == nil {
			st.Drop(to.c, sg.item, sg.amount)
			to.c.Notify(clif.Event{Kind: clif.EvItemDrop, Object: int64(sg.item.ItemID), Amount: sg.amount})
			to.c.Message("Your inventory is full; the goods landed at your feet.")
		}
		from.c.Inv.Remove(sg.item, sg.amount)
	}
	from.c.Zeny -= from.zeny
	to.c.Zeny += from.zeny
}

// abort cancels a commit for a benign reason, telling both parties.
func (m *Manager) abort(t *Trade, reason string) {
	a, b := t.a.c, t.b.c
	m.teardown(t)
	a.Message(reason)
	b.Message(reason)
	a.Notify(clif.Event{Kind: clif.EvTradeCancel})
	b.Notify(clif.Event{Kind: clif.EvTradeCancel})
}

// flagExploit handles a commit-time mismatch between a staged offer and
// live state: the signature of a duplication attempt.
func (m *Manager) flagExploit(t *Trade, s *side, cause error) {
	offender := s.c
	partner := t.partnerOf(offender).c
	m.log.Warn("trade offer no longer matches inventory",
		zap.Uint64("trade", t.ID),
		zap.Int32("char", offender.CharID),
		zap.String("name", offender.Name),
		zap.String("cause", cause.Error()),
		zap.String("policy", string(m.cfg.ExploitPolicy)),
	)
	switch m.cfg.ExploitPolicy {
	case config.ExploitNotify:
		partner.Message(fmt.Sprintf("Trade cancelled: %s's offer was no longer valid.", offender.Name))
	case config.ExploitBlock:
		partner.Message(fmt.Sprintf("Trade cancelled: %s's offer was no longer valid.", offender.Name))
		offender.Message("Trading has been disabled for this session.")
		m.blocked[offender.CharID] = true
	}
	a, b := t.a.c, t.b.c
	m.teardown(t)
	a.Notify(clif.Event{Kind: clif.EvTradeCancel})
	b.Notify(clif.Event{Kind: clif.EvTradeCancel})
}
