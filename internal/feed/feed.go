// Package feed carries newly inserted messages from the send path to live
// subscribers.
package feed

import (
	"context"
	"slices"
	"sync"

	"github.com/matheus3301/gram/internal/bus"
	"github.com/matheus3301/gram/internal/store"
	"go.uber.org/zap"
)

// KindInserted is the bus event kind for a stored message.
const KindInserted = "message.inserted"

// Inserted is one live-feed event.
type Inserted struct {
	Message      store.Message      `json:"message"`
	Conversation store.Conversation `json:"conversation"`
	Participants []string           `json:"participants"`
}

// Involves reports whether userID is a participant of the event's conversation.
func (e *Inserted) Involves(userID string) bool {
	return slices.Contains(e.Participants, userID)
}

// Subscription is a cancellable stream of insert events. Events is closed
// when the subscription is cancelled or lost.
type Subscription interface {
	Events() <-chan Inserted
	Cancel()
}

// Feed opens subscriptions scoped to a user. An empty userID subscribes to
// the unfiltered global stream.
type Feed interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

// Hub is the in-process feed backed by the event bus.
type Hub struct {
	bus     *bus.Bus
	bufSize int
	logger  *zap.Logger
}

// NewHub creates a hub on b. bufSize bounds how far a subscriber may fall
// behind before it is dropped.
func NewHub(b *bus.Bus, bufSize int, logger *zap.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{bus: b, bufSize: bufSize, logger: logger}
}

// Publish emits an insert event to every subscriber.
func (h *Hub) Publish(evt Inserted) {
	dropped := h.bus.Publish(bus.NewEvent(KindInserted, evt))
	if dropped > 0 {
		h.logger.Warn("feed subscribers dropped for lagging",
			zap.Int("dropped", dropped),
			zap.Int64("message_id", evt.Message.ID))
	}
}

// Subscribe implements Feed. Events not involving userID are filtered out
// before they reach the subscriber.
func (h *Hub) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, unsub := h.bus.Subscribe(KindInserted, h.bufSize)
	s := &hubSubscription{
		out:   make(chan Inserted),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		unsub: unsub,
	}
	go s.forward(ch, userID, h.logger)
	return s, nil
}

type hubSubscription struct {
	out   chan Inserted
	stop  chan struct{}
	done  chan struct{}
	unsub func()
	once  sync.Once
}

func (s *hubSubscription) forward(ch <-chan bus.Event, userID string, logger *zap.Logger) {
	defer close(s.done)
	defer close(s.out)
	for evt := range ch {
		ins, ok := evt.Payload.(Inserted)
		if !ok {
			logger.Error("unexpected feed payload", zap.String("kind", evt.Kind))
			continue
		}
		if userID != "" && !ins.Involves(userID) {
			continue
		}
		select {
		case s.out <- ins:
		case <-s.stop:
			return
		}
	}
}

func (s *hubSubscription) Events() <-chan Inserted { return s.out }

// Cancel stops delivery and waits for the forwarder to exit.
func (s *hubSubscription) Cancel() {
	s.once.Do(func() {
		close(s.stop)
		s.unsub()
	})
	<-s.done
}
