package intif

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/sched"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(deadline time.Duration) (*Client, *MemTransport, *sched.Scheduler) {
	tr := &MemTransport{}
	sch := sched.New(t0, zap.NewNop())
	c := NewClient(tr, sch, deadline, zap.NewNop())
	return c, tr, sch
}

func TestCallResolvesOnAck(t *testing.T) {
	c, tr, _ := newTestClient(5 * time.Second)

	f := Call[HomunculusRecord](c, KindHomunculusLoad, int64(42))
	var got HomunculusRecord
	var gotErr error
	resolved := false
	f.Then(func(r HomunculusRecord, err error) {
		got, gotErr, resolved = r, err, true
	})

	reqs := tr.Drain()
	if len(reqs) != 1 {
		t.Fatalf("sent %d requests, want 1", len(reqs))
	}
	c.Deliver(Ack{
		Seq:     reqs[0].Seq,
		Kind:    KindHomunculusLoad,
		Payload: HomunculusRecord{HomunID: 42, Name: "Lif"},
	})

	if !resolved {
		t.Fatal("future not resolved")
	}
	if gotErr != nil {
		t.Fatalf("err = %v", gotErr)
	}
	if got.Name != "Lif" {
		t.Errorf("payload name = %q", got.Name)
	}
	if c.Inflight() != 0 {
		t.Errorf("inflight = %d after ack", c.Inflight())
	}
}

func TestCallTimesOut(t *testing.T) {
	c, tr, sch := newTestClient(2 * time.Second)

	f := Call[HomunculusRecord](c, KindHomunculusLoad, int64(1))
	var gotErr error
	f.Then(func(_ HomunculusRecord, err error) { gotErr = err })

	sch.Advance(t0.Add(3 * time.Second))
	if !errors.Is(gotErr, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", gotErr)
	}
	if c.Inflight() != 0 {
		t.Errorf("inflight = %d after timeout", c.Inflight())
	}

	// A late ack for the expired seq is dropped silently.
	reqs := tr.Drain()
	c.Deliver(Ack{Seq: reqs[0].Seq, Kind: KindHomunculusLoad, Payload: HomunculusRecord{}})
}

func TestLateThenRunsImmediately(t *testing.T) {
	c, tr, _ := newTestClient(5 * time.Second)
	f := Call[AccountInfoRecord](c, KindAccountInfo, int32(9))
	reqs := tr.Drain()
	c.Deliver(Ack{Seq: reqs[0].Seq, Kind: KindAccountInfo, Payload: AccountInfoRecord{GroupID: 3}})

	ran := false
	f.Then(func(r AccountInfoRecord, err error) {
		if err != nil || r.GroupID != 3 {
			t.Errorf("got %+v, %v", r, err)
		}
		ran = true
	})
	if !ran {
		t.Fatal("callback after resolution should run immediately")
	}
}

func TestRemoteErrorPropagates(t *testing.T) {
	c, tr, _ := newTestClient(5 * time.Second)
	f := Call[StorageRecord](c, KindStorageLoad, int32(7))
	var gotErr error
	f.Then(func(_ StorageRecord, err error) { gotErr = err })

	reqs := tr.Drain()
	c.Deliver(Ack{Seq: reqs[0].Seq, Kind: KindStorageLoad, Err: "no such account"})
	if gotErr == nil || gotErr.Error() == "" {
		t.Fatalf("err = %v, want remote error", gotErr)
	}
}

func TestSendFailureFailsFast(t *testing.T) {
	c, tr, sch := newTestClient(5 * time.Second)
	tr.FailSend = errors.New("link down")

	f := Call[StorageRecord](c, KindStorageLoad, int32(7))
	var gotErr error
	f.Then(func(_ StorageRecord, err error) { gotErr = err })
	if gotErr == nil {
		t.Fatal("expected immediate failure")
	}
	if c.Inflight() != 0 {
		t.Errorf("inflight = %d", c.Inflight())
	}
	if sch.Pending() != 0 {
		t.Errorf("timeout timer leaked: pending = %d", sch.Pending())
	}
}

func TestWrongPayloadTypeFails(t *testing.T) {
	c, tr, _ := newTestClient(5 * time.Second)
	f := Call[StorageRecord](c, KindStorageLoad, int32(7))
	var gotErr error
	f.Then(func(_ StorageRecord, err error) { gotErr = err })

	reqs := tr.Drain()
	c.Deliver(Ack{Seq: reqs[0].Seq, Kind: KindStorageLoad, Payload: "bogus"})
	if gotErr == nil {
		t.Fatal("expected payload type error")
	}
}
