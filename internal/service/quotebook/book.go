package quotebook

import (
	"sync"
	"time"

	"FinLearn/internal/domain/models"
)

// Book holds the last quote per symbol.
type Book struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

func New() *Book {
	return &Book{quotes: make(map[string]models.Quote)}
}

// Update stores q unless a newer quote for the symbol is already held.
func (b *Book) Update(q models.Quote) bool {
	if q.Symbol == "" || q.Price <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.quotes[q.Symbol]; ok && cur.Time.After(q.Time) {
		return false
	}
	b.quotes[q.Symbol] = q
	return true
}

func (b *Book) LastPrice(symbol string) (float64, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	if !ok {
		return 0, time.Time{}, false
	}
	return q.Price, q.Time, true
}

// Snapshot copies the current quotes.
func (b *Book) Snapshot() map[string]models.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]models.Quote, len(b.quotes))
	for k, v := range b.quotes {
		out[k] = v
	}
	return out
}
