package orchestrator

import "sync"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// LogBroker fans out the output lines of each launched server to subscribers.
// It is safe for concurrent use.
//
// A topic is closed when its server fails to launch or is shut down. Closed
// topics are kept as markers so a late subscriber gets a closed channel.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs   map[int]chan string
	nextID int
	closed bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

// Subscribe returns a channel that receives output lines of a launch and an
// unsubscribe function. If the topic is already closed the channel is closed.
func (b *LogBroker) Subscribe(launchID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[launchID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan string)}
		b.topics[launchID] = t
	}

	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a line to all subscribers of a launch. Lines are dropped for
// subscribers whose buffers are full.
func (b *LogBroker) Publish(launchID string, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[launchID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close ends the topic of a launch, closing every subscriber channel.
func (b *LogBroker) Close(launchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[launchID]
	if !ok {
		b.topics[launchID] = &logTopic{subs: make(map[int]chan string), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
