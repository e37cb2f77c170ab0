package service

import (
	"sync"

	"github.com/flovyn/flovyn/internal/metrics"
)

// Notification tells idle pollers that new work may be available on a queue.
// Delivery is best effort: a dropped notification only costs one poll-backoff
// interval, never correctness. Periodic polling is the backstop.
type Notification struct {
	Type  string `json:"type"` // "workflow", "task" or "agent"
	Queue string `json:"queue"`
	Kind  string `json:"kind"`
}

const (
	WorkflowNotification = "workflow"
	TaskNotification     = "task"
	AgentNotification    = "agent"
)

// Notifier is an in-process broadcast hub with per-subscriber buffered
// channels. Slow subscribers lose notifications rather than blocking the
// dispatcher.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Notification)}
}

// Subscribe returns a notification channel and a cancel function. The channel
// is closed on cancel or when the notifier shuts down.
func (n *Notifier) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan Notification, buffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
}

// Notify fans out without blocking. A full subscriber buffer drops the
// notification for that subscriber.
func (n *Notifier) Notify(notif Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- notif:
		default:
			metrics.NotificationsDropped.Inc()
		}
	}
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
