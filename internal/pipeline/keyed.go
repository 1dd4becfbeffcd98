package pipeline

import (
	"context"
	"sync"

	"github.com/couchcryptid/hydroalert-service/internal/observability"
)

// keyedMutex serializes work per key without a global lock held across the
// work itself. Entries are reference counted and removed when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// laneSet runs jobs serially per key and in parallel across keys. A lane
// goroutine exists only while its key has queued work. Submit and Drain may
// be called concurrently and Drain may be called any number of times.
type laneSet struct {
	mu      sync.Mutex
	lanes   map[string][]func()
	idle    chan struct{} // closed while no lane is running
	metrics *observability.Metrics
}

func newLaneSet(metrics *observability.Metrics) *laneSet {
	idle := make(chan struct{})
	close(idle)
	return &laneSet{lanes: make(map[string][]func()), idle: idle, metrics: metrics}
}

// Submit queues job behind any earlier jobs for key.
func (l *laneSet) Submit(key string, job func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if queue, running := l.lanes[key]; running {
		l.lanes[key] = append(queue, job)
		return
	}
	if len(l.lanes) == 0 {
		l.idle = make(chan struct{})
	}
	l.lanes[key] = []func(){job}
	l.metrics.ActiveLanes.Inc()
	go l.run(key)
}

func (l *laneSet) run(key string) {
	for {
		l.mu.Lock()
		queue := l.lanes[key]
		if len(queue) == 0 {
			delete(l.lanes, key)
			l.metrics.ActiveLanes.Dec()
			if len(l.lanes) == 0 {
				close(l.idle)
			}
			l.mu.Unlock()
			return
		}
		job := queue[0]
		queue[0] = nil
		l.lanes[key] = queue[1:]
		l.mu.Unlock()

		job()
	}
}

// Drain waits until no lane is running or ctx expires. Jobs submitted while
// Drain waits extend the wait.
func (l *laneSet) Drain(ctx context.Context) error {
	for {
		l.mu.Lock()
		idle := l.idle
		running := len(l.lanes) > 0
		l.mu.Unlock()
		if !running {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
