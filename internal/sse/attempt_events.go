package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"eventtix/internal/models"
)

// AttemptEventEmitter manages SSE connections and broadcasts purchase
// attempt transitions to the clients following each attempt.
type AttemptEventEmitter struct {
	// key: attemptID, value: client channels
	clients map[string][]chan models.AttemptTransition
	mu      sync.RWMutex
}

func NewAttemptEventEmitter() *AttemptEventEmitter {
	return &AttemptEventEmitter{clients: make(map[string][]chan models.AttemptTransition)}
}

// Subscribe adds a client to an attempt's transitions. The channel is closed
// when ctx ends.
func (e *AttemptEventEmitter) Subscribe(ctx context.Context, attemptID string) <-chan models.AttemptTransition {
	clientChan := make(chan models.AttemptTransition, 10)

	e.mu.Lock()
	e.clients[attemptID] = append(e.clients[attemptID], clientChan)
	e.mu.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.remove(attemptID, clientChan)
	}()

	return clientChan
}

// Observe broadcasts a transition to every subscribed client.
func (e *AttemptEventEmitter) Observe(ctx context.Context, t models.AttemptTransition) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, clientChan := range e.clients[t.Attempt.ID] {
		// Non-blocking send so a slow client never holds up a purchase
		select {
		case clientChan <- t:
		default:
		}
	}
}

func (e *AttemptEventEmitter) remove(attemptID string, clientChan chan models.AttemptTransition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[attemptID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[attemptID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[attemptID]) == 0 {
		delete(e.clients, attemptID)
	}
}

// ClientCount returns the number of clients currently following an attempt.
func (e *AttemptEventEmitter) ClientCount(attemptID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[attemptID])
}

// Stream writes the attempt's current snapshot and then every transition
// until the attempt reaches a terminal state or the client goes away.
func (e *AttemptEventEmitter) Stream(w http.ResponseWriter, r *http.Request, current models.PurchaseAttempt, heartbeat time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// subscribe before writing the snapshot so no transition falls in between
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := e.Subscribe(ctx, current.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", current); err != nil {
		return
	}
	flusher.Flush()
	if current.State.Terminal() {
		return
	}

	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case t, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, "transition", t); err != nil {
				return
			}
			flusher.Flush()
			if t.To.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
