// Package intif is the asynchronous boundary to the persistence tier
// (char-server). Requests are fire-and-forget over a Transport; acks come
// back tagged with the request sequence and are delivered on the game
// loop, resolving the future registered for that sequence. Acks for
// sequences that already timed out or vanished are ignored.
package intif

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/sched"
)

// Kind tags a request/ack pair.
type Kind uint16

const (
	KindHomunculusCreate Kind = iota + 1
	KindHomunculusLoad
	KindHomunculusSave
	KindHomunculusDelete
	KindHomunculusRename
	KindMercenaryCreate
	KindMercenaryLoad
	KindMercenarySave
	KindMercenaryDelete
	KindElementalCreate
	KindElementalLoad
	KindElementalSave
	KindElementalDelete
	KindStorageLoad
	KindStorageSave
	KindGuildStorageLoad
	KindGuildStorageSave
	KindGuildCreate
	KindGuildLoad
	KindGuildSave
	KindGuildMemberUpdate
	KindPartyCreate
	KindPartyLoad
	KindPartySave
	KindCharacterSave
	KindAccountInfo
)

// ErrTimeout is delivered to a future whose ack never arrived within the
// client deadline.
var ErrTimeout = errors.New("intif: request timed out")

// Request is the outbound envelope.
type Request struct {
	Seq     uint64
	Kind    Kind
	Payload any
}

// Ack is the inbound envelope. Err is the remote failure text, empty on
// success.
type Ack struct {
	Seq     uint64
	Kind    Kind
	Err     string
	Payload any
}

// Transport carries requests to the persistence tier. Implementations
// deliver acks back by calling Client.Deliver on the game loop.
type Transport interface {
	Send(req Request) error
}

// Future resolves exactly once, on the game loop goroutine. Callbacks
// registered after resolution run immediately.
type Future[T any] struct {
	done bool
	val  T
	err  error
	cbs  []func(T, error)
}

// Then registers a callback for the result.
func (f *Future[T]) Then(fn func(T, error)) {
	if f.done {
		fn(f.val, f.err)
		return
	}
	f.cbs = append(f.cbs, fn)
}

func (f *Future[T]) resolve(val T, err error) {
	if f.done {
		return
	}
	f.done = true
	f.val = val
	f.err = err
	for _, fn := range f.cbs {
		fn(val, err)
	}
	f.cbs = nil
}

type pending struct {
	kind    Kind
	timeout sched.Handle
	resolve func(Ack)
}

// Client multiplexes requests over a Transport, matching acks to futures
// by sequence number and expiring unanswered requests via the scheduler.
// Owned by the game loop goroutine.
type Client struct {
	transport Transport
	sch       *sched.Scheduler
	log       *zap.Logger
	deadline  time.Duration
	nextSeq   uint64
	inflight  map[uint64]*pending
}

func NewClient(transport Transport, sch *sched.Scheduler, deadline time.Duration, log *zap.Logger) *Client {
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	return &Client{
		transport: transport,
		sch:       sch,
		log:       log,
		deadline:  deadline,
		inflight:  make(map[uint64]*pending),
	}
}

// Inflight reports how many requests await an ack.
func (c *Client) Inflight() int { return len(c.inflight) }

// Call sends a request and returns a typed future for its ack payload.
// The future fails with ErrTimeout if no ack arrives within the client
// deadline, and with the remote error when the ack carries one.
func Call[T any](c *Client, kind Kind, payload any) *Future[T] {
	f := &Future[T]{}
	c.nextSeq++
	seq := c.nextSeq

	p := &pending{kind: kind}
	p.resolve = func(ack Ack) {
		if ack.Err != "" {
			var zero T
			f.resolve(zero, fmt.Errorf("intif %d: %s", kind, ack.Err))
			return
		}
		val, ok := ack.Payload.(T)
		if !ok {
			var zero T
			f.resolve(zero, fmt.Errorf("intif %d: unexpected ack payload %T", kind, ack.Payload))
			return
		}
		f.resolve(val, nil)
	}
	p.timeout = c.sch.Schedule(c.deadline, func() {
		if _, ok := c.inflight[seq]; !ok {
			return
		}
		delete(c.inflight, seq)
		c.log.Warn("intif request timed out",
			zap.Uint64("seq", seq),
			zap.Uint16("kind", uint16(kind)),
		)
		var zero T
		f.resolve(zero, ErrTimeout)
	})
	c.inflight[seq] = p

	if err := c.transport.Send(Request{Seq: seq, Kind: kind, Payload: payload}); err != nil {
		delete(c.inflight, seq)
		c.sch.Cancel(p.timeout)
		var zero T
		f.resolve(zero, fmt.Errorf("intif send: %w", err))
	}
	return f
}

// Notify sends a request without registering for an ack. Used for
// best-effort saves where the caller keeps no continuation. Sequence 0
// tells the backend no ack is expected.
func (c *Client) Notify(kind Kind, payload any) {
	if err := c.transport.Send(Request{Seq: 0, Kind: kind, Payload: payload}); err != nil {
		c.log.Warn("intif notify failed",
			zap.Uint16("kind", uint16(kind)),
			zap.Error(err),
		)
	}
}

// Deliver routes an ack to its pending future. Unmatched acks are
// dropped: the request may have timed out, or its subject vanished.
func (c *Client) Deliver(ack Ack) {
	p, ok := c.inflight[ack.Seq]
	if !ok {
		c.log.Debug("intif ack without pending request",
			zap.Uint64("seq", ack.Seq),
			zap.Uint16("kind", uint16(ack.Kind)),
		)
		return
	}
	delete(c.inflight, ack.Seq)
	c.sch.Cancel(p.timeout)
	p.resolve(ack)
}
