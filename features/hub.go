package features

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/agentbridge/cancellation"
	"github.com/ggoodman/agentbridge/executor"
	"github.com/google/uuid"
)

// Observer receives every snapshot passed to Hub.Update while attached.
type Observer func(ConfigFeatures)

// observerBox gives each attachment its own identity. Two attachments of the
// same func value are distinct boxes and are detached independently.
type observerBox struct {
	id       string
	fn       Observer
	detached atomic.Bool
}

// Hub stores the latest ConfigFeatures and broadcasts updates.
type Hub struct {
	log  *slog.Logger
	exec executor.Executor

	mu        sync.RWMutex
	current   ConfigFeatures
	observers []*observerBox
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger used for observer failures.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithExecutor makes the hub apply observer removal on exec. Without it,
// removal happens on the goroutine that resolves the attachment token.
func WithExecutor(exec executor.Executor) HubOption {
	return func(h *Hub) { h.exec = exec }
}

// WithInitial overrides the starting snapshot.
func WithInitial(f ConfigFeatures) HubOption {
	return func(h *Hub) { h.current = f }
}

// NewHub returns a Hub holding Disabled.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{log: slog.Default(), current: Disabled}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Get returns the latest snapshot.
func (h *Hub) Get() ConfigFeatures {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Update replaces the snapshot and synchronously notifies every attached
// observer, including when f equals the previous snapshot.
func (h *Hub) Update(f ConfigFeatures) {
	h.mu.Lock()
	h.current = f
	observers := make([]*observerBox, len(h.observers))
	copy(observers, h.observers)
	h.mu.Unlock()

	for _, box := range observers {
		if box.detached.Load() {
			continue
		}
		h.notify(box, f)
	}
}

func (h *Hub) notify(box *observerBox, f ConfigFeatures) {
	defer func() {
		if p := recover(); p != nil {
			h.log.Error("features.observer.panic",
				slog.String("observer", box.id),
				slog.String("err", fmt.Sprint(p)))
		}
	}()
	box.fn(f)
}

// Attach registers o and returns a token that detaches it once resolved by
// either Dispose or Abort.
func (h *Hub) Attach(o Observer) *cancellation.Token {
	box := &observerBox{id: uuid.NewString(), fn: o}
	tok := cancellation.New(cancellation.WithLogger(h.log))

	h.mu.Lock()
	h.observers = append(h.observers, box)
	h.mu.Unlock()

	tok.OnFinished(func(bool) {
		box.detached.Store(true)
		if h.exec == nil {
			h.remove(box)
			return
		}
		if err := h.exec.Submit(func() { h.remove(box) }); err != nil {
			h.remove(box)
		}
	})
	return tok
}

// Len returns the number of attached observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

func (h *Hub) remove(box *observerBox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.observers {
		if b == box {
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			return
		}
	}
}
