package eventbus

import (
	"sync"
	"time"
)

const (
	TopicCycle       = "monitor.cycle"
	TopicPost        = "monitor.post"
	TopicFetchFailed = "monitor.fetch_failed"
)

// Event is an in-memory notification. Data is one of the payload types
// below, keyed by Type.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// CycleDone is published after every scheduled cycle and manual check.
type CycleDone struct {
	ID              string        `json:"id"`
	Manual          bool          `json:"manual"`
	Checked         int           `json:"checked"`
	Failed          int           `json:"failed"`
	AccountsWithNew int           `json:"accounts_with_new"`
	NewPosts        int           `json:"new_posts"`
	Took            time.Duration `json:"took"`
}

// PostDelivered is published once per dispatched post.
type PostDelivered struct {
	UID     int64  `json:"uid"`
	PostID  string `json:"post_id"`
	OK      int    `json:"ok"`
	Failed  int    `json:"failed"`
	Skipped bool   `json:"skipped,omitempty"`
}

// FetchFailed is published when an account check fails.
type FetchFailed struct {
	UID   int64  `json:"uid"`
	Error string `json:"error"`
}

// Bus fans events out to subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[chan Event]struct{}{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
}
