package mesh

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// eventLoop runs posted closures one at a time on a single goroutine. All
// client call state is owned by it, so no other locking is needed. The mailbox
// is unbounded: Post never blocks, which lets network callbacks, timers and
// capture completions hand work over from any goroutine.
type eventLoop struct {
	mu      sync.Mutex
	queue   deque.Deque[func()]
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		var fn func()
		if l.queue.Len() > 0 {
			fn = l.queue.PopFront()
		}
		stopped := l.stopped
		l.mu.Unlock()

		switch {
		case fn != nil:
			fn()
		case stopped:
			return
		default:
			<-l.wake
		}
	}
}

// post queues fn. It reports false once the loop has been stopped.
func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue.PushBack(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the loop and waits for it. Must not be called from the loop.
func (l *eventLoop) do(fn func()) bool {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// afterFunc posts fn once d has elapsed.
func (l *eventLoop) afterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.post(fn) })
}

// stop drains what is already queued, then ends the loop.
func (l *eventLoop) stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}
