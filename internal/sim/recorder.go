package sim

import (
	"sync"

	"github.com/atmx/options-market/internal/market"
	"github.com/atmx/options-market/internal/metrics"
	"github.com/atmx/options-market/internal/model"
)

// Recorder is the engine's publisher during a run. It buffers events until
// the driver flushes them to the journal at the end of each round, counts
// them in metrics, and forwards them to an optional downstream publisher
// such as the websocket hub.
type Recorder struct {
	mu      sync.Mutex
	pending []model.Event
	next    market.Publisher
}

// NewRecorder creates a recorder. next may be nil.
func NewRecorder(next market.Publisher) *Recorder {
	return &Recorder{next: next}
}

// Publish implements market.Publisher.
func (r *Recorder) Publish(e model.Event) {
	r.mu.Lock()
	r.pending = append(r.pending, e)
	r.mu.Unlock()

	metrics.ObserveEvent(e)
	if r.next != nil {
		r.next.Publish(e)
	}
}

// Drain returns and clears the buffered events.
func (r *Recorder) Drain() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}
