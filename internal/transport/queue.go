package transport

// EventQueue is a bounded event buffer with overwrite-oldest semantics.
//
// Hardware readers must never block on a slow consumer: when the buffer is
// full the oldest event is discarded and the new one is kept. Battery and
// button events are safe to drop; the export path sizes its queue to the
// largest burst the hardware can produce, so sample events are not dropped in
// practice.
type EventQueue struct {
	ch      chan Event
	dropped uint64
}

// NewEventQueue creates a queue with the given capacity.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		panic("transport: event queue capacity must be > 0")
	}
	return &EventQueue{ch: make(chan Event, capacity)}
}

// C returns the receive side of the queue. Consumers range over it until the
// queue is closed.
func (q *EventQueue) C() <-chan Event {
	return q.ch
}

// Push inserts an event, discarding the oldest buffered event if the queue is
// full. It never blocks.
func (q *EventQueue) Push(ev Event) {
	select {
	case q.ch <- ev:
	default:
		select {
		case <-q.ch:
			q.dropped++
		default:
		}
		q.ch <- ev
	}
}

// Len returns the number of buffered events.
func (q *EventQueue) Len() int { return len(q.ch) }

// Dropped returns how many events were discarded to make room. Only the
// pushing goroutine may call this.
func (q *EventQueue) Dropped() uint64 { return q.dropped }

// Close closes the queue. Push panics after Close.
func (q *EventQueue) Close() { close(q.ch) }
