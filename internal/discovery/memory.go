package discovery

import (
	"context"
	"log"
	"sort"
	"sync"
)

// watchBuffer bounds how far a watcher may fall behind. A watcher whose
// buffer is full is closed so its owner re-watches and resyncs.
const watchBuffer = 64

// Memory is an in-process Table.
type Memory struct {
	mu       sync.Mutex
	records  map[string]string
	watchers map[chan Record]struct{}
}

// NewMemory creates an empty in-process table.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]string),
		watchers: make(map[chan Record]struct{}),
	}
}

// Publish implements Table.
func (m *Memory) Publish(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.records[rec.Service]; ok {
		if current == rec.Addr {
			return nil
		}
		return ErrConflict
	}
	m.records[rec.Service] = rec.Addr
	m.broadcastLocked(Record{Service: rec.Service, Addr: rec.Addr})
	return nil
}

// Remove implements Table.
func (m *Memory) Remove(_ context.Context, service, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.records[service]; !ok || current != addr {
		return nil
	}
	delete(m.records, service)
	m.broadcastLocked(Record{Service: service, Addr: addr, Removed: true})
	return nil
}

// Owner returns the address currently advertising service.
func (m *Memory) Owner(service string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.records[service]
	return addr, ok
}

// List implements Table.
func (m *Memory) List(context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]Record, 0, len(m.records))
	for service, addr := range m.records {
		records = append(records, Record{Service: service, Addr: addr})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Service < records[j].Service
	})
	return records, nil
}

// Watch implements Table.
func (m *Memory) Watch(ctx context.Context) (<-chan Record, error) {
	ch := make(chan Record, watchBuffer)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) broadcastLocked(rec Record) {
	for ch := range m.watchers {
		select {
		case ch <- rec:
		default:
			log.Printf("discovery: watcher fell behind at %s@%s, closing it", rec.Service, rec.Addr)
			delete(m.watchers, ch)
			close(ch)
		}
	}
}
