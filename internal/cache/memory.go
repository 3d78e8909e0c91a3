package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/smolenkov/conveyor/internal/domain"
)

// defaultMaxEntries — граница размера in-memory кэша по умолчанию.
const defaultMaxEntries = 1024

// entry — запись кэша.
type entry struct {
	fingerprint string
	output      *domain.Output
	expiresAt   time.Time
}

// Memory — in-memory реализация Cache: LRU с ленивой TTL-эвикцией.
//
// Просроченные записи удаляются при lookup; при превышении размера
// вытесняется least recently used запись.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front — самая свежая
	maxEntries int
	now        func() time.Time
}

// NewMemory создаёт in-memory кэш. maxEntries <= 0 — значение по умолчанию.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Lookup возвращает результат по fingerprint.
func (m *Memory) Lookup(_ context.Context, fingerprint string) (*domain.Output, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}

	ent := elem.Value.(*entry)
	if m.now().After(ent.expiresAt) {
		// Просроченная запись — как будто её нет
		m.order.Remove(elem)
		delete(m.entries, fingerprint)
		return nil, false, nil
	}

	m.order.MoveToFront(elem)
	return ent.output, true, nil
}

// Store сохраняет результат с TTL.
func (m *Memory) Store(_ context.Context, fingerprint string, output *domain.Output, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.now().Add(ttl)

	if elem, ok := m.entries[fingerprint]; ok {
		ent := elem.Value.(*entry)
		ent.output = output
		ent.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return nil
	}

	elem := m.order.PushFront(&entry{
		fingerprint: fingerprint,
		output:      output,
		expiresAt:   expiresAt,
	})
	m.entries[fingerprint] = elem

	// Вытесняем LRU при превышении размера
	for len(m.entries) > m.maxEntries {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*entry).fingerprint)
	}

	return nil
}

// Len возвращает текущее количество записей.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
