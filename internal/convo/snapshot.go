package convo

import (
	"sync"
	"time"

	"order-chatbot/internal/dmc"
)

// Snapshot is the result of one listing call: the rendered summary and the
// releasable orders it was rendered from. It is not modified after creation.
type Snapshot struct {
	Plant   string
	Text    string
	TakenAt time.Time

	orders []dmc.Order
	byID   map[string]int
}

func newSnapshot(plant string, orders []dmc.Order, text string, takenAt time.Time) *Snapshot {
	byID := make(map[string]int, len(orders))
	for i, o := range orders {
		// first occurrence wins, like the first matching summary line
		if _, ok := byID[o.Order]; !ok {
			byID[o.Order] = i
		}
	}
	return &Snapshot{Plant: plant, Text: text, TakenAt: takenAt, orders: orders, byID: byID}
}

// Empty reports whether the snapshot holds no orders.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.orders) == 0
}

// Lookup finds an order by id.
func (s *Snapshot) Lookup(orderID string) (dmc.Order, bool) {
	if s == nil {
		return dmc.Order{}, false
	}
	i, ok := s.byID[orderID]
	if !ok {
		return dmc.Order{}, false
	}
	return s.orders[i], true
}

// Orders returns a copy of the orders in display order.
func (s *Snapshot) Orders() []dmc.Order {
	if s == nil {
		return nil
	}
	out := make([]dmc.Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// LastListing holds the most recent snapshot. Replace swaps it wholesale;
// readers always see a complete snapshot.
type LastListing struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// Replace stores s, discarding the previous snapshot even when s is empty.
func (l *LastListing) Replace(s *Snapshot) {
	l.mu.Lock()
	l.snap = s
	l.mu.Unlock()
}

// Current returns the stored snapshot, or nil before the first listing.
func (l *LastListing) Current() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}
