// Package sched provides one-shot deferred callbacks measured in host ticks.
//
// The scheduler is not safe for concurrent use: it is advanced by the
// engine loop and callbacks run on that same goroutine.
package sched

import (
	"container/heap"
	"time"
)

const DefaultTick = 50 * time.Millisecond

type Handle interface {
	// Cancel prevents the callback from running. It reports whether the
	// timer was still pending.
	Cancel() bool
}

type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Handle
}

type TickScheduler struct {
	tick time.Duration
	now  uint64
	seq  uint64
	q    timerQueue
}

func NewTickScheduler(tick time.Duration) *TickScheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &TickScheduler{tick: tick}
}

// Ticks converts a delay into whole ticks, never less than one.
func (s *TickScheduler) Ticks(delay time.Duration) uint64 {
	n := delay / s.tick
	if n < 1 {
		return 1
	}
	return uint64(n)
}

func (s *TickScheduler) Schedule(delay time.Duration, fn func()) Handle {
	s.seq++
	t := &timer{
		due: s.now + s.Ticks(delay),
		seq: s.seq,
		fn:  fn,
	}
	heap.Push(&s.q, t)
	return t
}

// Advance moves time forward one tick and runs every callback that became due.
func (s *TickScheduler) Advance() int {
	s.now++
	fired := 0
	for s.q.Len() > 0 {
		t := s.q[0]
		if t.due > s.now {
			break
		}
		heap.Pop(&s.q)
		if t.cancelled {
			continue
		}
		t.fired = true
		t.fn()
		fired++
	}
	return fired
}

func (s *TickScheduler) Now() uint64 { return s.now }

// Pending counts timers that are neither cancelled nor fired.
func (s *TickScheduler) Pending() int {
	n := 0
	for _, t := range s.q {
		if !t.cancelled {
			n++
		}
	}
	return n
}

type timer struct {
	due       uint64
	seq       uint64
	fn        func()
	cancelled bool
	fired     bool
}

func (t *timer) Cancel() bool {
	if t.cancelled || t.fired {
		return false
	}
	t.cancelled = true
	return true
}

type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}
func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x any)   { *q = append(*q, x.(*timer)) }
func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
