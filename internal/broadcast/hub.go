// Package broadcast implements the best-effort fan-out of timer notifications
// to UI surfaces and open pages.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// DefaultBuffer is the per-listener queue depth.
const DefaultBuffer = 16

var (
	// ErrNoReceiver means the page is open but no agent is attached to it.
	ErrNoReceiver = errors.New("no receiver attached")
	// ErrBufferFull means the listener is not draining its queue.
	ErrBufferFull = errors.New("listener buffer full")
	// ErrPageNotFound means the page ID is unknown.
	ErrPageNotFound = errors.New("page not found")
)

// Subscription is a UI surface listening for TIMER_UPDATED.
type Subscription struct {
	ID string
	C  <-chan domain.Message
}

type surface struct {
	id string
	ch chan domain.Message
}

type page struct {
	tab domain.Tab
	ch  chan domain.Message // nil while no agent is attached
}

// DeliveryError records one failed delivery.
type DeliveryError struct {
	ListenerID string
	Err        error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ListenerID, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }

// PublishReport is the per-listener outcome of one Publish.
type PublishReport struct {
	Delivered int
	Failed    []DeliveryError
}

// Hub implements domain.Broadcaster and domain.TabManager.
// Delivery never blocks: a listener that cannot take a message loses it.
type Hub struct {
	mu       sync.RWMutex
	surfaces map[string]*surface
	pages    map[string]*page
	order    []string // page IDs in open order
	buffer   int
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		surfaces: make(map[string]*surface),
		pages:    make(map[string]*page),
		buffer:   DefaultBuffer,
		logger:   logger,
	}
}

// Subscribe registers a UI surface.
func (h *Hub) Subscribe() Subscription {
	s := &surface{id: uuid.New().String(), ch: make(chan domain.Message, h.buffer)}
	h.mu.Lock()
	h.surfaces[s.id] = s
	h.mu.Unlock()
	h.logger.Debug("surface subscribed", zap.String("id", s.id))
	return Subscription{ID: s.id, C: s.ch}
}

// Unsubscribe removes a UI surface and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.surfaces[id]
	if ok {
		delete(h.surfaces, id)
		close(s.ch)
	}
	h.mu.Unlock()
}

// OpenPage registers a page. If active, it becomes the single focused page.
func (h *Hub) OpenPage(rawURL string, active bool) domain.Tab {
	tab := domain.Tab{ID: uuid.New().String(), URL: rawURL, Active: active}

	h.mu.Lock()
	if active {
		h.deactivateLocked()
	}
	h.pages[tab.ID] = &page{tab: tab}
	h.order = append(h.order, tab.ID)
	h.mu.Unlock()

	h.logger.Debug("page opened", zap.String("id", tab.ID), zap.String("url", rawURL))
	return tab
}

// UpdatePage records navigation or focus changes.
func (h *Hub) UpdatePage(id string, rawURL *string, active *bool) (domain.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pages[id]
	if !ok {
		return domain.Tab{}, ErrPageNotFound
	}
	if rawURL != nil {
		p.tab.URL = *rawURL
	}
	if active != nil {
		if *active {
			h.deactivateLocked()
		}
		p.tab.Active = *active
	}
	return p.tab, nil
}

// ClosePage removes a page and closes its attached receiver if any.
func (h *Hub) ClosePage(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pages[id]
	if !ok {
		return ErrPageNotFound
	}
	if p.ch != nil {
		close(p.ch)
	}
	delete(h.pages, id)
	for i, pid := range h.order {
		if pid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return nil
}

// Attach connects the page agent's receiver. Only one receiver per page;
// attaching again replaces the previous one.
func (h *Hub) Attach(id string) (<-chan domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pages[id]
	if !ok {
		return nil, ErrPageNotFound
	}
	if p.ch != nil {
		close(p.ch)
	}
	p.ch = make(chan domain.Message, h.buffer)
	return p.ch, nil
}

// Detach disconnects the receiver. The page stays open; deliveries to it
// fail with ErrNoReceiver until a new agent attaches.
func (h *Hub) Detach(id string, ch <-chan domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pages[id]
	if !ok || p.ch == nil {
		return
	}
	// Ignore a stale detach from a receiver that was already replaced.
	var current <-chan domain.Message = p.ch
	if current != ch {
		return
	}
	close(p.ch)
	p.ch = nil
}

// Publish delivers msg to every surface and every page. Failures are
// logged and reported, never returned.
func (h *Hub) Publish(ctx context.Context, msg domain.Message) {
	h.PublishReport(ctx, msg)
}

// PublishReport is Publish that also returns the per-listener outcome.
func (h *Hub) PublishReport(ctx context.Context, msg domain.Message) PublishReport {
	var report PublishReport

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, s := range h.surfaces {
		if err := offer(s.ch, msg); err != nil {
			report.Failed = append(report.Failed, DeliveryError{ListenerID: id, Err: err})
			continue
		}
		report.Delivered++
	}
	for _, id := range h.order {
		if err := h.deliverLocked(id, msg); err != nil {
			report.Failed = append(report.Failed, DeliveryError{ListenerID: id, Err: err})
			continue
		}
		report.Delivered++
	}

	for _, f := range report.Failed {
		h.logger.Debug("broadcast delivery skipped",
			zap.String("listener", f.ListenerID),
			zap.Error(f.Err))
	}
	return report
}

// Query returns the pages matching q, in open order.
func (h *Hub) Query(ctx context.Context, q domain.TabQuery) []domain.Tab {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tabs := make([]domain.Tab, 0, len(h.order))
	for _, id := range h.order {
		tab := h.pages[id].tab
		if q.ActiveOnly && !tab.Active {
			continue
		}
		if len(q.Schemes) > 0 && !hasScheme(tab.URL, q.Schemes) {
			continue
		}
		tabs = append(tabs, tab)
	}
	return tabs
}

// Inject sends an INJECT message to a single page.
func (h *Hub) Inject(ctx context.Context, tabID string, inj domain.Injection) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deliverLocked(tabID, domain.Message{Type: domain.TypeInject, Injection: &inj})
}

// Counts returns the number of surfaces and pages.
func (h *Hub) Counts() (surfaces, pages int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.surfaces), len(h.pages)
}

func (h *Hub) deliverLocked(id string, msg domain.Message) error {
	p, ok := h.pages[id]
	if !ok {
		return ErrPageNotFound
	}
	if p.ch == nil {
		return ErrNoReceiver
	}
	return offer(p.ch, msg)
}

func (h *Hub) deactivateLocked() {
	for _, p := range h.pages {
		p.tab.Active = false
	}
}

func offer(ch chan domain.Message, msg domain.Message) error {
	select {
	case ch <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

func hasScheme(rawURL string, schemes []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}

// Ensure Hub implements the controller's ports.
var (
	_ domain.Broadcaster = (*Hub)(nil)
	_ domain.TabManager  = (*Hub)(nil)
)
