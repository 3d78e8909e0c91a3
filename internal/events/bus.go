package events

import (
	"sync"
	"time"
)

// defaultQueueSize — ёмкость очереди одного подписчика.
const defaultQueueSize = 256

// Handler — функция обработки события подписчиком.
type Handler func(Event)

// Bus — шина событий engine.
//
// Публикация не блокируется медленными подписчиками: каждый подписчик
// получает события через собственную ограниченную очередь. Если очередь
// переполнена, события отбрасываются, а подписчик получает событие
// Backpressure с количеством потерянных событий, как только очередь
// освобождается.
//
// FIFO-очередь на подписчика сохраняет порядок публикации, поэтому
// события одного узла никогда не приходят подписчику в другом порядке.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	queueSize   int
	closed      bool
}

// subscriber — один подписчик с очередью и счётчиком потерь.
type subscriber struct {
	ch      chan Event
	dropped int
	mu      sync.Mutex
	done    chan struct{}
}

// NewBus создаёт шину. queueSize <= 0 — значение по умолчанию (256).
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		subscribers: make(map[int]*subscriber),
		queueSize:   queueSize,
	}
}

// Subscribe регистрирует обработчик и возвращает функцию отписки.
//
// Обработчик вызывается в отдельной горутине подписчика и не должен
// паниковать; блокировка обработчика ведёт к переполнению его очереди
// и событиям Backpressure, но не останавливает engine.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++

	sub := &subscriber{
		ch:   make(chan Event, b.queueSize),
		done: make(chan struct{}),
	}
	b.subscribers[id] = sub

	go sub.drain(handler)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(s.ch)
		}
	}
}

// drain — цикл доставки событий одному подписчику.
func (s *subscriber) drain(handler Handler) {
	defer close(s.done)
	for event := range s.ch {
		handler(event)
	}
}

// Publish рассылает событие всем текущим подписчикам.
//
// Никогда не блокируется: переполненная очередь подписчика приводит
// к дропу события и последующему Backpressure-сигналу.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		sub.offer(event)
	}
}

// offer пытается доставить событие подписчику без блокировки.
func (s *subscriber) offer(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Сначала отдаём накопленный Backpressure-сигнал, чтобы подписчик
	// узнал о потерях до следующего обычного события.
	if s.dropped > 0 {
		bp := Event{
			Kind:      KindBackpressure,
			RunID:     event.RunID,
			Timestamp: time.Now(),
			Dropped:   s.dropped,
		}
		select {
		case s.ch <- bp:
			s.dropped = 0
		default:
			// Очередь всё ещё полна — копим дальше
			s.dropped++
			return
		}
	}

	select {
	case s.ch <- event:
	default:
		s.dropped++
	}
}

// SubscriberCount возвращает количество активных подписчиков.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close закрывает шину и все очереди подписчиков.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}
