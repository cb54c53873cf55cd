package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/1ureka/ctlmux/internal/protocol"
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// deliveryQueue is an unbounded FIFO shared by the two listeners (producers)
// and any number of Receive callers (consumers).
//
// ready holds at most one wakeup token. A producer deposits one after every
// push; a consumer that leaves items behind passes the token on, so no waiter
// sleeps while the queue is non-empty.
type deliveryQueue struct {
	mu    sync.Mutex
	items *linkedlistqueue.Queue
	ready chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		items: linkedlistqueue.New(),
		ready: make(chan struct{}, 1),
	}
}

// push appends msg and wakes one waiting consumer. It never blocks.
func (q *deliveryQueue) push(msg protocol.ControlMessage) {
	q.mu.Lock()
	q.items.Enqueue(msg)
	q.mu.Unlock()
	q.signal()
}

func (q *deliveryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest message, blocking while the queue is
// empty. If ctx is done, pop returns ErrInterrupted without consuming.
func (q *deliveryQueue) pop(ctx context.Context) (protocol.ControlMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			// The wakeup token may have been ours; hand it to the next waiter.
			if q.size() > 0 {
				q.signal()
			}
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		q.mu.Lock()
		v, ok := q.items.Dequeue()
		more := !q.items.Empty()
		q.mu.Unlock()

		if ok {
			if more {
				q.signal()
			}
			return v.(protocol.ControlMessage), nil
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
		}
	}
}

// size reports the number of queued messages.
func (q *deliveryQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}
