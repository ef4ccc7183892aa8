// Package queue serializes outbound writes to the target system. At most one
// call is in flight at any time and calls complete in submission order.
package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Item is one queued write. Done runs after Call returns, with its error,
// before the next item is started.
type Item struct {
	Name string
	Call func(ctx context.Context) error
	Done func(err error)
}

type job struct {
	ctx  context.Context
	item Item
}

// Queue is a FIFO of writes drained by a single worker.
type Queue struct {
	log zerolog.Logger

	mu       sync.Mutex
	jobs     []job
	inFlight bool
	idle     chan struct{}
}

// New returns an idle queue.
func New(log zerolog.Logger) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{log: log, idle: idle}
}

// Enqueue appends item and starts draining if the queue is idle.
func (q *Queue) Enqueue(ctx context.Context, item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, job{ctx: ctx, item: item})
	q.log.Debug().Str("item", item.Name).Int("queued", len(q.jobs)).Msg("request queued")
	if q.inFlight {
		return
	}
	q.inFlight = true
	q.idle = make(chan struct{})
	go q.drain()
}

// IsEmpty reports whether nothing is queued and nothing is in flight.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.inFlight && len(q.jobs) == 0
}

// Pending returns the number of queued items including the one in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.jobs)
	if q.inFlight {
		n++
	}
	return n
}

// Wait blocks until the queue is drained or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.inFlight = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		next := q.jobs[0]
		q.jobs[0] = job{}
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		q.run(next)
	}
}

func (q *Queue) run(j job) {
	err := j.ctx.Err()
	if err == nil {
		err = j.item.Call(j.ctx)
	}
	if err != nil {
		q.log.Debug().Err(err).Str("item", j.item.Name).Msg("request failed")
	} else {
		q.log.Debug().Str("item", j.item.Name).Msg("request completed")
	}
	if j.item.Done != nil {
		j.item.Done(err)
	}
}
