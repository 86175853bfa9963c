// ABOUTME: Fan-out of message events to connected observers and event sinks
// ABOUTME: Per-observer buffered queues keep one slow consumer from stalling the rest

package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// observerBuffer is how many frames an observer may fall behind before it
// is disconnected.
const observerBuffer = 64

// writeTimeout bounds a single frame write to one observer.
const writeTimeout = 10 * time.Second

// ObserverConn is the transport an observer's frames are written to.
type ObserverConn interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Sink receives every broadcast event, for delivery outside the process
// (message brokers, audit pipelines). Sink failures are logged and never
// affect observers or the ingestion path.
type Sink interface {
	Publish(ctx context.Context, event MessageEvent) error
}

// observer is one connected real-time consumer.
type observer struct {
	id     string
	conn   ObserverConn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (o *observer) stop() {
	o.once.Do(func() {
		close(o.done)
		o.conn.Close()
	})
}

// Hub broadcasts persisted messages to every connected observer and every
// configured sink. Frames reach each observer in broadcast order; a consumer
// that stops draining is dropped rather than allowed to block the others.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*observer
	sinkQueue chan MessageEvent
	sinks     []Sink
	logger    *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a hub. Sinks are optional.
func New(logger *slog.Logger, sinks ...Sink) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		observers: make(map[string]*observer),
		sinkQueue: make(chan MessageEvent, 256),
		sinks:     sinks,
		logger:    logger.With("component", "hub"),
		closed:    make(chan struct{}),
	}
	if len(sinks) > 0 {
		go h.pumpSinks()
	}
	return h
}

// Attach registers an observer connection and blocks until ctx is canceled,
// the connection fails, or the observer falls too far behind. The connection
// is closed before returning.
func (h *Hub) Attach(ctx context.Context, conn ObserverConn) {
	obs := &observer{
		id:     uuid.New().String(),
		conn:   conn,
		frames: make(chan []byte, observerBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.observers[obs.id] = obs
	count := len(h.observers)
	h.mu.Unlock()

	h.logger.Info("observer connected", "observer_id", obs.id, "observers", count)
	defer func() {
		h.detach(obs)
		h.logger.Info("observer disconnected", "observer_id", obs.id)
	}()

	for {
		select {
		case frame := <-obs.frames:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, frame)
			cancel()
			if err != nil {
				h.logger.Debug("observer write failed", "observer_id", obs.id, "error", err)
				return
			}
		case <-obs.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) detach(obs *observer) {
	h.mu.Lock()
	delete(h.observers, obs.id)
	h.mu.Unlock()
	obs.stop()
}

// Broadcast fans an event out to all observers and sinks. It never blocks:
// an observer with a full queue is disconnected, and a full sink queue
// drops the event with a warning.
func (h *Hub) Broadcast(event MessageEvent) {
	frame, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", "error", err)
		return
	}

	var stalled []*observer

	h.mu.RLock()
	for _, obs := range h.observers {
		select {
		case obs.frames <- frame:
		default:
			stalled = append(stalled, obs)
		}
	}
	h.mu.RUnlock()

	for _, obs := range stalled {
		h.logger.Warn("observer too slow, dropping", "observer_id", obs.id)
		h.detach(obs)
	}

	if len(h.sinks) > 0 {
		select {
		case h.sinkQueue <- event:
		case <-h.closed:
		default:
			h.logger.Warn("sink queue full, event not published", "message_id", event.ID)
		}
	}
}

// ObserverCount returns how many observers are attached.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// pumpSinks delivers queued events to every sink in order.
func (h *Hub) pumpSinks() {
	for {
		select {
		case event := <-h.sinkQueue:
			for _, sink := range h.sinks {
				ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
				if err := sink.Publish(ctx, event); err != nil {
					h.logger.Warn("sink publish failed", "message_id", event.ID, "error", err)
				}
				cancel()
			}
		case <-h.closed:
			return
		}
	}
}

// Close disconnects all observers and stops the sink pump.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closed) })

	h.mu.Lock()
	observers := make([]*observer, 0, len(h.observers))
	for _, obs := range h.observers {
		observers = append(observers, obs)
	}
	h.observers = make(map[string]*observer)
	h.mu.Unlock()

	for _, obs := range observers {
		obs.stop()
	}
}
