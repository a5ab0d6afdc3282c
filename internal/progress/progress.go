// Package progress carries progress events from long-running passes to observers.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Channels engines publish on.
const (
	ChannelImport   = "import"
	ChannelMerge    = "merge"
	ChannelBalances = "balances"
	ChannelPrices   = "prices"
	ChannelNetworth = "networth"
)

// Event one [percent|indeterminate, message] tuple.
type Event struct {
	Account       string    `json:"account,omitempty"`
	Channel       string    `json:"channel,omitempty"`
	Percent       float64   `json:"percent"`
	Indeterminate bool      `json:"indeterminate,omitempty"`
	Message       string    `json:"message"`
	Time          time.Time `json:"time"`
}

func (e Event) String() string {
	if e.Indeterminate {
		return fmt.Sprintf("[-] %s", e.Message)
	}
	return fmt.Sprintf("[%.0f%%] %s", e.Percent, e.Message)
}

// Reporter receives progress events. Implementations must not block.
type Reporter interface {
	Report(e Event)
}

// Percent builds an event with a known completion percentage.
func Percent(p float64, format string, args ...any) Event {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return Event{Percent: p, Message: fmt.Sprintf(format, args...), Time: time.Now()}
}

// Message builds an indeterminate event.
func Message(format string, args ...any) Event {
	return Event{Indeterminate: true, Message: fmt.Sprintf(format, args...), Time: time.Now()}
}

// Ratio converts done/total into a percentage clamped to [0, 100].
func Ratio(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	p := float64(done) * 100 / float64(total)
	if p > 100 {
		return 100
	}
	return p
}

type nop struct{}

func (nop) Report(Event) {}

// Nop discards every event.
var Nop Reporter = nop{}

// Or returns r, or Nop when r is nil.
func Or(r Reporter) Reporter {
	if r == nil {
		return Nop
	}
	return r
}

// Recorder keeps every event in order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report appends the event.
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Messages returns recorded messages in order.
func (r *Recorder) Messages() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Message
	}
	return out
}
