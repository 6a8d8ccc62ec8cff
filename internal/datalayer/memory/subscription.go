package memory

import (
	"sync"

	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
)

// subscription delivers batches to one listener on its own goroutine, in
// the order they were enqueued, without ever blocking the publisher.
type subscription struct {
	fn datalayer.Listener

	mu    sync.Mutex
	queue [][]datalayer.Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSubscription(fn datalayer.Listener) *subscription {
	s := &subscription{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription) enqueue(batch []datalayer.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, batch)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(batch)
		}
	}
}
