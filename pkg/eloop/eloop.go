// Package eloop is a single-threaded event loop driving timers and
// descriptor readiness. Everything scheduled on a Loop runs on its Run
// goroutine, one callback at a time; other goroutines reach the loop only
// through Post or Do.
package eloop

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type timer struct {
	deadline  time.Time
	seq       uint64
	tag       interface{}
	fn        func()
	cancelled bool
}

// timerHeap orders by deadline, then by insertion for equal deadlines.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) {
	*h = append(*h, x.(*timer))
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

type Loop struct {
	timers timerHeap
	seq    uint64
	fds    map[int]func()

	wakeR, wakeW int

	mu      sync.Mutex
	posted  []func()
	stopped bool
}

func New() (*Loop, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &Loop{
		fds:   make(map[int]func()),
		wakeR: p[0],
		wakeW: p[1],
	}, nil
}

// ScheduleAfter runs fn once after d on the loop goroutine. The tag groups
// timers for CancelAll.
func (l *Loop) ScheduleAfter(d time.Duration, tag interface{}, fn func()) {
	l.seq++
	heap.Push(&l.timers, &timer{
		deadline: time.Now().Add(d),
		seq:      l.seq,
		tag:      tag,
		fn:       fn,
	})
}

// CancelAll drops every pending timer carrying tag. A due timer that has not
// been dispatched yet is dropped too.
func (l *Loop) CancelAll(tag interface{}) {
	for _, t := range l.timers {
		if t.tag == tag {
			t.cancelled = true
		}
	}
}

// RegisterReadable invokes fn on the loop whenever fd is readable.
func (l *Loop) RegisterReadable(fd int, fn func()) {
	l.fds[fd] = fn
}

// DeregisterReadable stops watching fd.
func (l *Loop) DeregisterReadable(fd int) {
	delete(l.fds, fd)
}

// Post queues fn to run on the loop goroutine. Safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	var b [1]byte
	unix.Write(l.wakeW, b[:]) // best effort; a full pipe already wakes
}

// Do runs fn on the loop goroutine and waits for it. Must not be called from
// the loop goroutine itself.
func (l *Loop) Do(fn func()) {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Stop makes Run return after the current callback finishes.
func (l *Loop) Stop() {
	l.Post(func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
	})
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Run dispatches events until Stop. Pending timers fire in deadline order;
// ready descriptors are served in poll order, revalidated against the
// current registration so a handler may deregister another.
func (l *Loop) Run() error {
	for !l.isStopped() {
		timeout := -1
		if len(l.timers) > 0 {
			d := time.Until(l.timers[0].deadline)
			if d < 0 {
				d = 0
			}
			timeout = int(d / time.Millisecond)
			if timeout == 0 && d > 0 {
				timeout = 1
			}
		}

		pfds := make([]unix.PollFd, 0, len(l.fds)+1)
		pfds = append(pfds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
		for fd := range l.fds {
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}

		_, err := unix.Poll(pfds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}

		for _, pfd := range pfds {
			if pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
				continue
			}
			if int(pfd.Fd) == l.wakeR {
				l.drainWake()
				continue
			}
			// Revalidate: an earlier handler may have deregistered it.
			if fn, ok := l.fds[int(pfd.Fd)]; ok {
				fn()
			}
		}

		l.fireDue()
	}
	return nil
}

// Close releases the wake pipe. Call only after Run returned.
func (l *Loop) Close() {
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
}

func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}

	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range posted {
		fn()
	}
}

func (l *Loop) fireDue() {
	now := time.Now()
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		t := heap.Pop(&l.timers).(*timer)
		if t.cancelled {
			continue
		}
		t.fn()
	}
}
