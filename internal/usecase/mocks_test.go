package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// mockStore implements domain.StateStore in memory with JSON round-trips.
type mockStore struct {
	mu     sync.Mutex
	values map[string][]byte
	getErr error
	setErr error
	sets   int
}

func newMockStore() *mockStore {
	return &mockStore{values: make(map[string][]byte)}
}

func (m *mockStore) Get(ctx context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return false, m.getErr
	}
	raw, ok := m.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *mockStore) Set(ctx context.Context, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m.values[k] = raw
	}
	m.sets++
	return nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) put(key string, v any) {
	raw, _ := json.Marshal(v)
	m.mu.Lock()
	m.values[key] = raw
	m.mu.Unlock()
}

func (m *mockStore) timer() domain.TimerRecord {
	var r domain.TimerRecord
	_, _ = m.Get(context.Background(), domain.KeyTimerData, &r)
	return r
}

func (m *mockStore) cycleCount() int {
	var n int
	_, _ = m.Get(context.Background(), domain.KeyCycleCount, &n)
	return n
}

// mockScheduler implements domain.WakeupScheduler and lets tests fire by hand.
type mockScheduler struct {
	pending   map[string]time.Time
	handler   domain.WakeupHandler
	scheduled int
	canceled  int
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{pending: make(map[string]time.Time)}
}

func (m *mockScheduler) Schedule(name string, fireAt time.Time) {
	m.pending[name] = fireAt
	m.scheduled++
}

func (m *mockScheduler) Cancel(name string) {
	delete(m.pending, name)
	m.canceled++
}

func (m *mockScheduler) Pending(name string) (time.Time, bool) {
	t, ok := m.pending[name]
	return t, ok
}

func (m *mockScheduler) Handle(h domain.WakeupHandler) { m.handler = h }

// fire delivers the pending wake-up through the registered handler, like the real scheduler.
func (m *mockScheduler) fire(name string) bool {
	if _, ok := m.pending[name]; !ok {
		return false
	}
	delete(m.pending, name)
	m.handler(context.Background(), name)
	return true
}

// mockBroadcaster records every published message.
type mockBroadcaster struct {
	messages []domain.Message
}

func (m *mockBroadcaster) Publish(ctx context.Context, msg domain.Message) {
	m.messages = append(m.messages, msg)
}

func (m *mockBroadcaster) last() domain.Message {
	return m.messages[len(m.messages)-1]
}

type injection struct {
	tabID string
	kind  domain.InjectionKind
}

// mockTabs implements domain.TabManager over a fixed page list.
type mockTabs struct {
	tabs      []domain.Tab
	injectErr map[string]error
	injected  []injection
}

func (m *mockTabs) Query(ctx context.Context, q domain.TabQuery) []domain.Tab {
	var out []domain.Tab
	for _, t := range m.tabs {
		if q.ActiveOnly && !t.Active {
			continue
		}
		if len(q.Schemes) > 0 && !matchesScheme(t.URL, q.Schemes) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (m *mockTabs) Inject(ctx context.Context, tabID string, inj domain.Injection) error {
	if err := m.injectErr[tabID]; err != nil {
		return err
	}
	m.injected = append(m.injected, injection{tabID: tabID, kind: inj.Kind})
	return nil
}

func (m *mockTabs) kinds(tabID string) []domain.InjectionKind {
	var out []domain.InjectionKind
	for _, i := range m.injected {
		if i.tabID == tabID {
			out = append(out, i.kind)
		}
	}
	return out
}

func matchesScheme(url string, schemes []string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(url, s+"://") {
			return true
		}
	}
	return false
}

// fakeClock is a settable domain.Clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
