package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/flowgraph/attractor/internal/events"
)

// Broadcaster fans out one pipeline's events to any number of SSE
// clients. One Broadcaster per pipeline run; registered as the run's
// sole events.Observer.
type Broadcaster struct {
	mu      sync.Mutex
	history []events.Event
	clients map[uint64]chan events.Event
	nextID  uint64
	closed  bool
	doneCh  chan struct{}
}

// NewBroadcaster creates a new, open broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uint64]chan events.Event),
		doneCh:  make(chan struct{}),
	}
}

// Observer returns an events.Observer suitable for emitter.On.
func (b *Broadcaster) Observer() events.Observer {
	return b.Send
}

// Send records and fans out ev. A slow client is dropped rather than
// allowed to block the engine goroutine.
func (b *Broadcaster) Send(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns a replay-then-live events channel, a done channel
// closed when the broadcaster itself closes, and an unsubscribe func.
func (b *Broadcaster) Subscribe() (<-chan events.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan events.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++
	for _, ev := range b.history {
		ch <- ev
	}
	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}
	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close marks the run finished; no more events will be sent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// History returns a copy of every event sent so far.
func (b *Broadcaster) History() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, len(b.history))
	copy(out, b.history)
	return out
}

// WriteSSE streams b's events to w as Server-Sent Events until the
// client disconnects or the broadcaster closes.
func WriteSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	evCh, doneCh, unsub := b.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evCh:
			if !ok {
				select {
				case <-doneCh:
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
