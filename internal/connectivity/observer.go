package connectivity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Observer owns the online/offline state and fans transition events out to
// subscribers. State changes come in through Report, typically from a
// Prober; each committed transition is delivered to every subscriber in
// arrival order.
//
// Rapid flapping is damped: a flip arriving inside the debounce window
// since the last committed transition is ignored, and the next report wins.
type Observer struct {
	mu       sync.Mutex
	online   bool
	lastFlip time.Time
	debounce time.Duration
	subs     map[int]chan bool
	nextID   int
	now      func() time.Time
	log      zerolog.Logger
}

func NewObserver(initialOnline bool, debounce time.Duration, log zerolog.Logger) *Observer {
	return &Observer{
		online:   initialOnline,
		debounce: debounce,
		subs:     make(map[int]chan bool),
		now:      time.Now,
		log:      log,
	}
}

// Online reports the current state.
func (o *Observer) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// Subscribe returns a channel receiving the new state on every committed
// transition, plus a cancel func. A slow subscriber that fills its buffer
// misses events rather than blocking the rest.
func (o *Observer) Subscribe() (<-chan bool, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	ch := make(chan bool, 16)
	o.subs[id] = ch

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
	return ch, cancel
}

// Report feeds an observed state into the observer. Same-state reports are
// no-ops; a genuine flip is committed and broadcast unless it lands inside
// the debounce window.
func (o *Observer) Report(online bool) {
	o.mu.Lock()
	if online == o.online {
		o.mu.Unlock()
		return
	}
	now := o.now()
	if !o.lastFlip.IsZero() && now.Sub(o.lastFlip) < o.debounce {
		o.mu.Unlock()
		o.log.Debug().Bool("online", online).Msg("connectivity flap ignored")
		return
	}
	o.online = online
	o.lastFlip = now
	targets := make([]chan bool, 0, len(o.subs))
	for _, ch := range o.subs {
		targets = append(targets, ch)
	}
	o.mu.Unlock()

	o.log.Info().Bool("online", online).Msg("connectivity changed")
	for _, ch := range targets {
		select {
		case ch <- online:
		default:
			o.log.Warn().Msg("connectivity subscriber buffer full, event dropped")
		}
	}
}
