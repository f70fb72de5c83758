package events

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrBusStopped = errors.New("event bus stopped")
	ErrBusFull    = errors.New("event bus queue full")
)

const handlerTimeout = 30 * time.Second

// Bus is an in-memory, non-durable event bus. Publish never blocks: when the queue is full
// the event is dropped and ErrBusFull returned. Handlers run on the dispatch goroutine with a
// bounded fanout.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string][]Handler
	queue       chan Event
	startOnce   sync.Once
	stopOnce    sync.Once
	stopped     chan struct{}
	done        chan struct{}
	concurrency int
	log         *zap.Logger
}

func NewBus(queueSize int, logger *zap.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:        make(map[string][]Handler),
		queue:       make(chan Event, queueSize),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
		concurrency: 8,
		log:         logger.With(zap.String("component", "event_bus")),
	}
}

func (b *Bus) Subscribe(eventName string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.dispatchLoop(context.WithoutCancel(ctx))
		b.log.Info("event_bus_started")
	})
}

// Stop stops accepting events and waits for queued ones to drain or ctx to expire.
func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		close(b.stopped)
		select {
		case <-b.done:
		case <-ctx.Done():
			b.log.Warn("event_bus_drain_timeout", zap.Int("pending", len(b.queue)))
		}
		b.log.Info("event_bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e == nil {
		return nil
	}
	select {
	case <-b.stopped:
		return ErrBusStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case b.queue <- e:
		b.log.Debug("event_enqueued", zap.String("event", e.EventName()))
		return nil
	default:
		b.log.Warn("event_dropped_queue_full",
			zap.String("event", e.EventName()),
			zap.Int("capacity", cap(b.queue)),
		)
		return ErrBusFull
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case e := <-b.queue:
			b.fanout(ctx, e)
		case <-b.stopped:
			for {
				select {
				case e := <-b.queue:
					b.fanout(ctx, e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) fanout(ctx context.Context, e Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("event_dropped_no_subscriber", zap.String("event", name))
		return
	}

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		h := h
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event_handler_panic",
						zap.String("event", name),
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())),
					)
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
			defer cancel()
			if err := h(hctx, e); err != nil {
				b.log.Warn("event_handler_error", zap.String("event", name), zap.Error(err))
			}
		}()
	}
	wg.Wait()
}
