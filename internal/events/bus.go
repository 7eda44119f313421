package events

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// Bus is a typed, in-process event bus connecting ingress (HTTP, NATS, file
// watcher, scheduler) to the orchestrator, and the orchestrator to its observers.
//
// Two delivery modes exist:
//   - Publish blocks until every matching subscriber accepted the event or ctx ends.
//     Ingress uses it so no mutation is lost.
//   - Notify never blocks; a subscriber whose buffer is full misses the event and
//     the drop is counted. The orchestrator uses it so observers cannot stall it.
//
// The bus is not durable; the session event log lives in internal/eventstore.
type Bus struct {
	mu       sync.RWMutex
	subs     map[reflect.Type]map[uint64]*subscriber
	nextID   atomic.Uint64
	dropped  atomic.Uint64
	isClosed atomic.Bool
	once     sync.Once
}

type subscriber struct {
	deliver func(ctx context.Context, evt any, block bool) (bool, error)
	close   func()
}

func NewBus() *Bus {
	return &Bus{subs: make(map[reflect.Type]map[uint64]*subscriber)}
}

// Subscribe registers a buffered subscription for events of type T. When T is
// an interface, every event whose concrete type implements T is delivered, in
// publish order, on the same channel.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	eventType := reflect.TypeFor[T]()
	ch := make(chan T, buffer)

	var closeOnce sync.Once

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed.Load() {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID.Add(1)
	done := make(chan struct{})
	var gate sync.RWMutex
	sub := &subscriber{
		deliver: func(ctx context.Context, evt any, block bool) (bool, error) {
			v, ok := evt.(T)
			if !ok {
				return false, ferrors.InternalError("event type mismatch").
					WithContext("expected", eventType.String()).
					WithContext("actual", reflect.TypeOf(evt).String()).
					Build()
			}
			gate.RLock()
			defer gate.RUnlock()
			select {
			case <-done:
				return false, nil
			default:
			}
			if !block {
				select {
				case ch <- v:
					return true, nil
				default:
					return false, nil
				}
			}
			select {
			case ch <- v:
				return true, nil
			case <-done:
				return false, nil
			case <-ctx.Done():
				return false, ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event publish canceled").
					WithContext("event_type", eventType.String()).
					Build()
			}
		},
		// done wakes blocked senders; the write lock waits for them to leave
		// before the channel is closed.
		close: func() {
			closeOnce.Do(func() {
				close(done)
				gate.Lock()
				close(ch)
				gate.Unlock()
			})
		},
	}
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]*subscriber)
	}
	b.subs[eventType][id] = sub

	var unsubOnce sync.Once
	return ch, func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			if typeSubs, ok := b.subs[eventType]; ok {
				delete(typeSubs, id)
				if len(typeSubs) == 0 {
					delete(b.subs, eventType)
				}
			}
			b.mu.Unlock()
			sub.close()
		})
	}
}

// Publish delivers evt to all matching subscribers, blocking on full buffers.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}
	if b.isClosed.Load() {
		return ferrors.RuntimeError("event bus is closed").Build()
	}
	for _, s := range b.targets(evt) {
		if _, err := s.deliver(ctx, evt, true); err != nil {
			return err
		}
	}
	return nil
}

// Notify delivers evt without blocking. It returns the number of subscribers
// that missed the event because their buffer was full.
func (b *Bus) Notify(evt any) int {
	if b == nil || evt == nil || b.isClosed.Load() {
		return 0
	}
	missed := 0
	for _, s := range b.targets(evt) {
		if ok, _ := s.deliver(context.Background(), evt, false); !ok {
			missed++
		}
	}
	if missed > 0 {
		b.dropped.Add(uint64(missed))
	}
	return missed
}

// Dropped reports how many Notify deliveries were skipped since creation.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) targets(evt any) []*subscriber {
	evtType := reflect.TypeOf(evt)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*subscriber
	for subType, typeSubs := range b.subs {
		if subType != evtType && (subType.Kind() != reflect.Interface || !evtType.Implements(subType)) {
			continue
		}
		for _, s := range typeSubs {
			out = append(out, s)
		}
	}
	return out
}

// Close closes the bus and every subscription channel.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.isClosed.Store(true)
		var toClose []*subscriber
		for _, typeSubs := range b.subs {
			for _, s := range typeSubs {
				toClose = append(toClose, s)
			}
		}
		b.subs = make(map[reflect.Type]map[uint64]*subscriber)
		b.mu.Unlock()

		for _, s := range toClose {
			s.close()
		}
	})
}
