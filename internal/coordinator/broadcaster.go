package coordinator

import (
	"sync"

	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultSubscriptionBuffer is the per-subscriber event buffer.
const DefaultSubscriptionBuffer = 64

// Subscription receives status updates for one agent on C.
// C is closed by Unsubscribe or Broadcaster.Close.
type Subscription struct {
	ID      string
	AgentID string
	C       <-chan models.StatusUpdateMessage

	ch chan models.StatusUpdateMessage
}

// Broadcaster fans trigger status changes out to observers of an agent.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[string]map[string]*Subscription // agentID -> subscription ID -> subscription
	bufferSize int
	closed     bool
	logger     zerolog.Logger
}

// NewBroadcaster creates a Broadcaster. A non-positive bufferSize uses DefaultSubscriptionBuffer.
func NewBroadcaster(bufferSize int, logger zerolog.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriptionBuffer
	}
	return &Broadcaster{
		subs:       make(map[string]map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     logger.With().Str("component", "status_broadcaster").Logger(),
	}
}

// Subscribe registers interest in agentID. After Close it returns a subscription whose channel is already closed.
func (b *Broadcaster) Subscribe(agentID string) *Subscription {
	ch := make(chan models.StatusUpdateMessage, b.bufferSize)
	sub := &Subscription{
		ID:      uuid.New().String(),
		AgentID: agentID,
		C:       ch,
		ch:      ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return sub
	}
	if _, ok := b.subs[agentID]; !ok {
		b.subs[agentID] = make(map[string]*Subscription)
	}
	b.subs[agentID][sub.ID] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. It is safe to call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	agentSubs, ok := b.subs[sub.AgentID]
	if !ok {
		return
	}
	if _, ok := agentSubs[sub.ID]; !ok {
		return
	}
	delete(agentSubs, sub.ID)
	if len(agentSubs) == 0 {
		delete(b.subs, sub.AgentID)
	}
	close(sub.ch)
}

// Publish sends a status update to every subscriber of agentID without blocking.
// Subscribers with a full buffer miss the update. It returns the number of deliveries.
func (b *Broadcaster) Publish(agentID, backupName string, status models.TriggerStatus) int {
	msg := models.StatusUpdateMessage{
		Type:       models.MessageStatusUpdate,
		BackupName: backupName,
		Status:     status,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs[agentID] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			b.logger.Warn().
				Str("subscription_id", sub.ID).
				Str("agent_id", agentID).
				Msg("subscriber buffer full, dropping status update")
		}
	}
	return delivered
}

// SubscriberCount returns how many observers follow agentID.
func (b *Broadcaster) SubscriberCount(agentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[agentID])
}

// Close closes every subscription. Later Publish calls deliver nothing.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, agentSubs := range b.subs {
		for _, sub := range agentSubs {
			close(sub.ch)
		}
	}
	b.subs = make(map[string]map[string]*Subscription)
}
