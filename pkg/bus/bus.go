package bus

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

// Per-tick drain limits, highest priority first.
const (
	maxHighPerTick   = 15
	maxNormalPerTick = 10
	maxLowPerTick    = 5
)

// DefaultDispatchPeriod is the interval between dispatcher ticks.
const DefaultDispatchPeriod = 100 * time.Millisecond

// queue is a FIFO event queue with its own lock so that posting to one
// priority never contends with another.
type queue struct {
	mu sync.Mutex
	l  *list.List
}

func newQueue() *queue {
	return &queue{l: list.New()}
}

func (q *queue) push(ev Event) {
	q.mu.Lock()
	q.l.PushBack(ev)
	q.mu.Unlock()
}

// pop removes and returns the oldest event. The second return is false when
// the queue is empty.
func (q *queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.l.Front()
	if front == nil {
		return Event{}, false
	}
	q.l.Remove(front)
	return front.Value.(Event), true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l.Len()
}

// Bus is a prioritized event bus. Events are posted to one of three queues
// and drained by a single dispatcher goroutine at a fixed period. Within one
// priority delivery is FIFO; per tick the dispatcher drains high, then
// normal, then low.
type Bus struct {
	high   *queue
	normal *queue
	low    *queue

	subMu       sync.RWMutex
	subscribers map[EventType][]Handler

	period time.Duration
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	startMu  sync.Mutex
}

// New creates a bus with the default dispatch period.
func New(logger *slog.Logger) *Bus {
	return NewWithPeriod(logger, DefaultDispatchPeriod)
}

// NewWithPeriod creates a bus with a custom dispatch period. Used by tests
// to run ticks faster.
func NewWithPeriod(logger *slog.Logger, period time.Duration) *Bus {
	return &Bus{
		high:        newQueue(),
		normal:      newQueue(),
		low:         newQueue(),
		subscribers: make(map[EventType][]Handler),
		period:      period,
		logger:      logger.With("component", "bus"),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers a handler for an event type. Handlers for one type are
// invoked in subscription order.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], h)
}

// PostHigh enqueues an event at high priority.
func (b *Bus) PostHigh(ev Event) {
	b.high.push(ev)
}

// Post enqueues an event at normal priority.
func (b *Bus) Post(ev Event) {
	b.normal.push(ev)
}

// PostLow enqueues an event at low priority.
func (b *Bus) PostLow(ev Event) {
	b.low.push(ev)
}

// Start launches the dispatcher goroutine.
func (b *Bus) Start() {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.started {
		return
	}
	b.started = true

	b.wg.Add(1)
	go b.run()
	b.logger.Info("Event bus started", "period", b.period)
}

// Stop signals the dispatcher to exit and waits for it. Events still queued
// are dropped.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
	b.logger.Info("Event bus stopped",
		"dropped_high", b.high.len(),
		"dropped_normal", b.normal.len(),
		"dropped_low", b.low.len())
}

func (b *Bus) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.dispatchTick()
		}
	}
}

// dispatchTick drains up to the per-priority limits, highest first.
func (b *Bus) dispatchTick() {
	b.drain(b.high, maxHighPerTick)
	b.drain(b.normal, maxNormalPerTick)
	b.drain(b.low, maxLowPerTick)
}

func (b *Bus) drain(q *queue, limit int) {
	for i := 0; i < limit; i++ {
		ev, ok := q.pop()
		if !ok {
			return
		}
		b.deliver(ev)
	}
}

// deliver invokes every subscribed handler for the event. Runs with no queue
// lock held so handlers may post further events.
func (b *Bus) deliver(ev Event) {
	b.subMu.RLock()
	handlers := b.subscribers[ev.Type]
	b.subMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panicked",
						"event", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
