package peer

import (
	"sync"

	"github.com/frostbyte73/core"
)

// dispatcher delivers events in order on its own goroutine. Delivery starts
// with the first listener, so events raised before anyone listens are kept.
type dispatcher[L any] struct {
	mu        sync.Mutex
	listeners map[int]L
	next      int
	queue     []func(L)
	started   bool
	wake      chan struct{}
	done      core.Fuse
}

func newDispatcher[L any]() *dispatcher[L] {
	return &dispatcher[L]{listeners: make(map[int]L), wake: make(chan struct{}, 1)}
}

func (d *dispatcher[L]) listen(l L) (stop func()) {
	d.mu.Lock()
	id := d.next
	d.next++
	d.listeners[id] = l
	if !d.started {
		d.started = true
		go d.run()
	}
	d.mu.Unlock()
	d.signal()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.listeners, id)
		})
	}
}

func (d *dispatcher[L]) emit(e func(L)) {
	d.mu.Lock()
	d.queue = append(d.queue, e)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher[L]) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher[L]) run() {
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.done.Watch():
			d.drain()
			return
		}
	}
}

func (d *dispatcher[L]) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue = d.queue[1:]
		ls := make([]L, 0, len(d.listeners))
		for _, l := range d.listeners {
			ls = append(ls, l)
		}
		d.mu.Unlock()

		for _, l := range ls {
			e(l)
		}
	}
}

// close stops delivery after the queued events are flushed.
func (d *dispatcher[L]) close() { d.done.Break() }
