package intake

import (
	"sync"

	"portalbridge/internal/task"
)

// Outbox hands posts and alerts from the intake loop to the orchestrator.
// Take snapshots and clears it atomically, a push racing a Take lands in the
// next Take.
type Outbox struct {
	mu     sync.Mutex
	posts  []Post
	alerts []task.Task
	notify chan struct{}
}

func NewOutbox() *Outbox {
	return &Outbox{notify: make(chan struct{}, 1)}
}

func (o *Outbox) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Outbox) Push(posts ...Post) {
	if len(posts) == 0 {
		return
	}
	o.mu.Lock()
	o.posts = append(o.posts, posts...)
	o.mu.Unlock()
	o.signal()
}

func (o *Outbox) PushAlerts(alerts ...task.Task) {
	if len(alerts) == 0 {
		return
	}
	o.mu.Lock()
	o.alerts = append(o.alerts, alerts...)
	o.mu.Unlock()
	o.signal()
}

// Take returns everything pushed so far and empties the outbox.
func (o *Outbox) Take() ([]Post, []task.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	posts, alerts := o.posts, o.alerts
	o.posts, o.alerts = nil, nil
	return posts, alerts
}

// Pending reports whether posts are waiting for delivery.
func (o *Outbox) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.posts) > 0
}

// Notify receives a value after pushes, several pushes may coalesce into one.
func (o *Outbox) Notify() <-chan struct{} {
	return o.notify
}
