package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
)

// Pending is the future for one tracked request.
type Pending struct {
	RequestID string
	CreatedAt time.Time

	done   chan struct{}
	once   sync.Once
	result *models.TriggerResult
	err    error
}

func newPending(requestID string, now time.Time) *Pending {
	return &Pending{
		RequestID: requestID,
		CreatedAt: now,
		done:      make(chan struct{}),
	}
}

// Done is closed once the request is resolved or rejected.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request settles or ctx ends.
// Every caller of Wait on the same Pending observes the same result and error values.
func (p *Pending) Wait(ctx context.Context) (*models.TriggerResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) settle(result *models.TriggerResult, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Correlator pairs outgoing requests with their eventual responses by request ID.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Pending
	now     func() time.Time
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]*Pending),
		now:     time.Now,
	}
}

// Track starts tracking requestID. Tracking an ID twice returns the existing future.
func (c *Correlator) Track(requestID string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[requestID]; ok {
		return p
	}
	p := newPending(requestID, c.now())
	c.pending[requestID] = p
	return p
}

// Resolve fulfils requestID with result. Unknown or settled IDs are ignored.
func (c *Correlator) Resolve(requestID string, result *models.TriggerResult) bool {
	p := c.take(requestID)
	if p == nil {
		return false
	}
	p.settle(result, nil)
	return true
}

// Reject fails requestID with err. Unknown or settled IDs are ignored.
func (c *Correlator) Reject(requestID string, err error) bool {
	p := c.take(requestID)
	if p == nil {
		return false
	}
	p.settle(nil, err)
	return true
}

func (c *Correlator) take(requestID string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[requestID]
	if !ok {
		return nil
	}
	delete(c.pending, requestID)
	return p
}

// Len returns the number of outstanding requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Outstanding returns the outstanding request IDs in sorted order.
func (c *Correlator) Outstanding() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	sort.Strings(ids)
	return ids
}
