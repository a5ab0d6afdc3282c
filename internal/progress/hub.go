package progress

import "sync"

const defaultBuffer = 256

type topic struct {
	account string
	channel string
}

// Hub fans out progress events to subscribers of an (account, channel) topic.
// Publishing never blocks: events for a subscriber with a full buffer are dropped.
type Hub struct {
	mu     sync.RWMutex
	subs   map[topic]map[*Subscription]struct{}
	buffer int
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[topic]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription cancellable handle returned by Subscribe.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	hub   *Hub
	topic topic
	once  sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if subs, ok := s.hub.subs[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.hub.subs, s.topic)
			}
		}
		close(s.ch)
	})
}

// Subscribe returns a subscription receiving events of account on channel.
// An empty channel subscribes to every channel of the account.
func (h *Hub) Subscribe(account, channel string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, topic: topic{account: account, channel: channel}}

	h.mu.Lock()
	if _, ok := h.subs[sub.topic]; !ok {
		h.subs[sub.topic] = make(map[*Subscription]struct{})
	}
	h.subs[sub.topic][sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish delivers e to subscribers of (account, channel) and of (account, "").
func (h *Hub) Publish(account, channel string, e Event) {
	e.Account = account
	e.Channel = channel

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range []topic{{account, channel}, {account, ""}} {
		for sub := range h.subs[t] {
			select {
			case sub.ch <- e:
			default:
				// drop for slow consumer
			}
		}
	}
}

// Reporter returns a Reporter publishing on (account, channel).
func (h *Hub) Reporter(account, channel string) Reporter {
	return hubReporter{hub: h, account: account, channel: channel}
}

type hubReporter struct {
	hub     *Hub
	account string
	channel string
}

func (r hubReporter) Report(e Event) {
	r.hub.Publish(r.account, r.channel, e)
}

// Tee returns a Reporter forwarding to every non-nil reporter.
func Tee(reporters ...Reporter) Reporter {
	out := make(multi, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multi []Reporter

func (m multi) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// Stamp returns a Reporter that tags events with account and channel before forwarding to r.
func Stamp(account, channel string, r Reporter) Reporter {
	if r == nil {
		return nil
	}
	return stamped{account: account, channel: channel, next: r}
}

type stamped struct {
	account string
	channel string
	next    Reporter
}

func (s stamped) Report(e Event) {
	e.Account = s.account
	e.Channel = s.channel
	s.next.Report(e)
}
