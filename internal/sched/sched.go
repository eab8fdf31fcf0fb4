package sched

import (
	"container/heap"
	"time"

	"go.uber.org/zap"
)

// Handle identifies a scheduled timer. The zero Handle is never issued.
type Handle uint64

// Scheduler is a cooperative timer wheel. It owns no goroutines: the game
// loop calls Advance once per tick and due callbacks run sequentially on
// that goroutine, so callbacks may touch world state without locks.
type Scheduler struct {
	now    time.Time
	heap   timerHeap
	byID   map[Handle]*timer
	nextID Handle
	log    *zap.Logger
}

type timer struct {
	id        Handle
	fireAt    time.Time
	interval  time.Duration // 0 = one-shot
	fn        func()
	cancelled bool
	index     int // heap index
}

func New(start time.Time, log *zap.Logger) *Scheduler {
	return &Scheduler{
		now:  start,
		byID: make(map[Handle]*timer),
		log:  log,
	}
}

// Now returns the scheduler's current tick time.
func (s *Scheduler) Now() time.Time { return s.now }

// Schedule registers fn to run once, delay from now. A non-positive delay
// fires on the next Advance.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) Handle {
	return s.add(delay, 0, fn)
}

// ScheduleEvery registers fn to run repeatedly at the given interval,
// first firing one interval from now. The interval must be positive.
func (s *Scheduler) ScheduleEvery(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return s.add(interval, interval, fn)
}

func (s *Scheduler) add(delay, interval time.Duration, fn func()) Handle {
	s.nextID++
	t := &timer{
		id:       s.nextID,
		fireAt:   s.now.Add(delay),
		interval: interval,
		fn:       fn,
	}
	heap.Push(&s.heap, t)
	s.byID[t.id] = t
	return t.id
}

// Cancel removes a pending timer. Cancelling a fired or unknown handle is
// a no-op. A cancelled timer never fires.
func (s *Scheduler) Cancel(h Handle) {
	t, ok := s.byID[h]
	if !ok {
		return
	}
	// Mark instead of removing from the heap: Advance may be walking it.
	t.cancelled = true
	delete(s.byID, h)
}

// Pending reports how many timers are live (scheduled and not cancelled).
func (s *Scheduler) Pending() int { return len(s.byID) }

// Advance moves the clock to now and dispatches every timer due at or
// before it, in fire-time order. Each callback runs to completion before
// the next; a panicking callback is recovered and logged and the wheel
// stays intact.
func (s *Scheduler) Advance(now time.Time) {
	if now.After(s.now) {
		s.now = now
	}
	for s.heap.Len() > 0 {
		t := s.heap[0]
		if t.cancelled {
			heap.Pop(&s.heap)
			continue
		}
		if t.fireAt.After(s.now) {
			break
		}
		heap.Pop(&s.heap)
		if t.interval > 0 {
			// Reschedule before dispatch so the callback can Cancel itself.
			t.fireAt = t.fireAt.Add(t.interval)
			heap.Push(&s.heap, t)
		} else {
			delete(s.byID, t.id)
		}
		s.dispatch(t)
	}
}

func (s *Scheduler) dispatch(t *timer) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Error("timer callback panicked",
					zap.Uint64("handle", uint64(t.id)),
					zap.Any("panic", r),
				)
			}
		}
	}()
	t.fn()
}

// --- heap plumbing ---

type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
