package engine

import "sync"

// Event announces a submission's arrival in a terminal state.
type Event struct {
	SubmissionID string  `json:"submission_id"`
	Status       string  `json:"status"`
	Result       string  `json:"result"`
	Grade        float64 `json:"grade"`
}

// Notifier fans out terminal-state events to subscribers waiting on a
// submission, so callers can block on completion instead of polling the
// store. Safe for concurrent use.
//
// Finished topics are retained as markers carrying the terminal event, so a
// late subscriber (one arriving after completion) receives the event
// immediately instead of blocking forever.
type Notifier struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan Event
	nextID int
	done   bool
	final  Event
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{topics: make(map[string]*topic)}
}

// Subscribe returns a channel that receives the submission's terminal event
// and an unsubscribe function. The channel is closed after the event is
// delivered. If the submission already finished, the event is delivered
// immediately.
func (n *Notifier) Subscribe(submissionID string) (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[submissionID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		n.topics[submissionID] = t
	}

	ch := make(chan Event, 1)
	if t.done {
		ch <- t.final
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(t.subs, id)
	}
}

// Done delivers the terminal event to all subscribers and marks the topic
// finished for late subscribers. A second Done for the same submission
// replaces the marker but wakes nobody.
func (n *Notifier) Done(submissionID string, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[submissionID]
	if !ok {
		n.topics[submissionID] = &topic{subs: make(map[int]chan Event), done: true, final: ev}
		return
	}

	t.final = ev
	if t.done {
		return
	}
	t.done = true
	for id, ch := range t.subs {
		ch <- ev
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops the topic. Called when a submission is evicted so markers do
// not accumulate for deleted ids.
func (n *Notifier) Forget(submissionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.topics, submissionID)
}
