package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"fixedswap/native/swap"
	"fixedswap/services/swapd/api"
)

const (
	historyLimit     = 1024
	subscriberBuffer = 32
)

// Hub fans committed swaps and pair changes out to stream subscribers. Slow
// subscribers miss events rather than stalling the engine; they can resume
// from their last cursor.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	history []api.Event
	subs    map[uint64]chan api.Event
}

var _ swap.Observer = (*Hub)(nil)

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan api.Event)}
}

// SwapExecuted publishes a settled swap.
func (h *Hub) SwapExecuted(_ context.Context, receipt swap.Receipt) {
	view := api.ReceiptFrom(receipt)
	h.publish(api.Event{
		Type:  api.EventSwap,
		Actor: view.Trader,
		Swap:  &view,
		At:    view.ExecutedAt,
	})
}

// PairChanged publishes a pair lifecycle event.
func (h *Hub) PairChanged(_ context.Context, event swap.PairEvent) {
	state := event.State
	view := api.PairFrom(&state)
	h.publish(api.Event{
		Type:  api.EventPair,
		Kind:  string(event.Kind),
		Actor: event.Actor.Hex(),
		Pair:  &view,
		At:    event.At.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Hub) publish(event api.Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.seq++
	event.Sequence = h.seq
	event.Cursor = strconv.FormatUint(event.Sequence, 10)
	h.history = append(h.history, event)
	if len(h.history) > historyLimit {
		excess := len(h.history) - historyLimit
		trimmed := make([]api.Event, historyLimit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	// Sends stay under the lock so cancel cannot close a channel mid-send.
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a subscriber. Events with a sequence above cursor that
// are still in history are returned as backlog. The returned cancel function
// is idempotent and is invoked automatically when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan api.Event, func(), []api.Event) {
	updates := make(chan api.Event, subscriberBuffer)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	backlog := make([]api.Event, 0, len(h.history))
	for _, entry := range h.history {
		if entry.Sequence > since {
			backlog = append(backlog, entry)
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
