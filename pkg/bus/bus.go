// Package bus is a small keyed publish/subscribe bus. Delivery to subscribers never blocks the
// publisher's worker: a subscriber that falls behind loses messages.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type Message[K comparable, M any] struct {
	Key     K
	Message M
}

type Publisher[M any] func(ctx context.Context, msg M)
type Subscriber[K comparable, M any] func(ctx context.Context) <-chan Message[K, M]

type Bus[K comparable, M any] struct {
	log        *zap.Logger
	bufferSize int
	ready      chan struct{}
	startOnce  sync.Once

	ch chan Message[K, M]
	// closeMu orders channel closes after in-flight deliveries.
	closeMu    sync.RWMutex
	keySubs    *xsync.MapOf[K, map[chan Message[K, M]]struct{}]
	globalSubs *xsync.MapOf[chan Message[K, M], struct{}]
	dropped    *xsync.Counter
}

type Option func(*options)

type options struct {
	bufferSize int
}

func WithBufferSize(n int) Option {
	return func(o *options) {
		o.bufferSize = n
	}
}

func NewBus[K comparable, M any](logger *zap.Logger, opts ...Option) *Bus[K, M] {
	o := options{bufferSize: 64}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[K, M]{
		log:        logger,
		bufferSize: o.bufferSize,
		ready:      make(chan struct{}),

		ch:         make(chan Message[K, M], o.bufferSize),
		keySubs:    xsync.NewMapOf[K, map[chan Message[K, M]]struct{}](),
		globalSubs: xsync.NewMapOf[chan Message[K, M], struct{}](),
		dropped:    xsync.NewCounter(),
	}
}

// Start launches the delivery worker. It returns immediately; the worker stops with ctx.
func (b *Bus[K, M]) Start(ctx context.Context) error {
	if b.bufferSize < 0 {
		return fmt.Errorf("buffer size must not be negative")
	}
	started := false
	b.startOnce.Do(func() {
		started = true
		go b.run(ctx)
		close(b.ready)
	})
	if !started {
		return fmt.Errorf("bus already started")
	}
	return nil
}

func (b *Bus[K, M]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.ch:
			b.process(msg)
		}
	}
}

func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

// Dropped is the number of messages lost to a full queue or a full subscriber.
func (b *Bus[K, M]) Dropped() int64 {
	return b.dropped.Value()
}

func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
	case b.ch <- Message[K, M]{Key: key, Message: msg}:
	}
}

// TryPublish queues msg without waiting. It reports false when the queue is full.
func (b *Bus[K, M]) TryPublish(key K, msg M) bool {
	select {
	case b.ch <- Message[K, M]{Key: key, Message: msg}:
		return true
	default:
		b.dropped.Inc()
		return false
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

func (b *Bus[K, M]) CreateSubscriber(key ...K) Subscriber[K, M] {
	return func(ctx context.Context) <-chan Message[K, M] {
		return b.Subscribe(ctx, key...)
	}
}

func (b *Bus[K, M]) process(msg Message[K, M]) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	b.globalSubs.Range(func(sub chan Message[K, M], _ struct{}) bool {
		b.deliver(sub, msg)
		return true
	})
	subs, ok := b.keySubs.Load(msg.Key)
	if !ok {
		return
	}
	for sub := range subs {
		b.deliver(sub, msg)
	}
}

func (b *Bus[K, M]) deliver(sub chan Message[K, M], msg Message[K, M]) {
	select {
	case sub <- msg:
	default:
		b.dropped.Inc()
		b.log.Debug("subscriber is full, message dropped", zap.Any("key", msg.Key))
	}
}

// Subscribe returns a channel receiving messages for the given keys, or every message when no
// key is given. The channel is closed once ctx is done.
func (b *Bus[K, M]) Subscribe(ctx context.Context, key ...K) <-chan Message[K, M] {
	ch := make(chan Message[K, M], b.bufferSize)
	if len(key) == 0 {
		b.globalSubs.Store(ch, struct{}{})
		go func() {
			<-ctx.Done()
			b.closeMu.Lock()
			b.globalSubs.Delete(ch)
			close(ch)
			b.closeMu.Unlock()
		}()
		return ch
	}
	for _, k := range key {
		b.keySubs.Compute(k, func(val map[chan Message[K, M]]struct{}, ok bool) (map[chan Message[K, M]]struct{}, bool) {
			next := make(map[chan Message[K, M]]struct{}, len(val)+1)
			for c := range val {
				next[c] = struct{}{}
			}
			next[ch] = struct{}{}
			return next, false
		})
	}
	go func() {
		<-ctx.Done()
		b.closeMu.Lock()
		for _, k := range key {
			b.keySubs.Compute(k, func(val map[chan Message[K, M]]struct{}, ok bool) (map[chan Message[K, M]]struct{}, bool) {
				next := make(map[chan Message[K, M]]struct{}, len(val))
				for c := range val {
					if c != ch {
						next[c] = struct{}{}
					}
				}
				return next, len(next) == 0
			})
		}
		close(ch)
		b.closeMu.Unlock()
	}()
	return ch
}
