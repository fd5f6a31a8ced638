package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/MacJediWizard/strongbox/pkg/models"
)

var errConnClosed = errors.New("connection closed")

// fakeConn records every message sent to it.
type fakeConn struct {
	mu      sync.Mutex
	open    bool
	sent    []any
	reason  string
	sendErr error
	sentCh  chan models.TriggerBackupMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{open: true, sentCh: make(chan models.TriggerBackupMessage, 16)}
}

func (f *fakeConn) Send(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errConnClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, v)
	if msg, ok := v.(models.TriggerBackupMessage); ok {
		f.sentCh <- msg
	}
	return nil
}

func (f *fakeConn) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.reason = reason
	return nil
}

func (f *fakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) closeReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// waiterCount returns how many callers attached to the in-flight trigger.
func (c *Coordinator) waiterCount(agentID, backupName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[lockKey(agentID, backupName)]; ok {
		return l.waiters
	}
	return 0
}
