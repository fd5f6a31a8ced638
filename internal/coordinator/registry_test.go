package coordinator

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistry_RegisterAndIsLive(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	conn := newFakeConn()

	if r.IsLive("agent-1") {
		t.Fatal("expected unknown agent to not be live")
	}

	r.Register("agent-1", conn)
	if !r.IsLive("agent-1") {
		t.Fatal("expected registered agent to be live")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 connection, got %d", r.Count())
	}

	conn.Close("test")
	if r.IsLive("agent-1") {
		t.Error("expected closed connection to not be live")
	}
}

func TestRegistry_ReplaceClosesOld(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	first := newFakeConn()
	second := newFakeConn()

	r.Register("agent-1", first)
	r.Register("agent-1", second)

	if first.IsOpen() {
		t.Error("expected first connection to be closed")
	}
	if got := first.closeReason(); got != CloseReasonReplaced {
		t.Errorf("expected close reason %q, got %q", CloseReasonReplaced, got)
	}
	got, ok := r.Get("agent-1")
	if !ok || got != second {
		t.Error("expected second connection to be stored")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 connection, got %d", r.Count())
	}
}

func TestRegistry_StaleUnregisterKeepsNewer(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	first := newFakeConn()
	second := newFakeConn()

	r.Register("agent-1", first)
	r.Register("agent-1", second)

	if r.Unregister("agent-1", first) {
		t.Error("expected stale unregister to report false")
	}
	if !r.IsLive("agent-1") {
		t.Fatal("expected newer connection to survive stale unregister")
	}

	if !r.Unregister("agent-1", second) {
		t.Error("expected unregister of current connection to report true")
	}
	if r.IsLive("agent-1") {
		t.Error("expected agent to be gone after unregister")
	}
	if r.Unregister("agent-1", second) {
		t.Error("expected second unregister to report false")
	}
}

func TestRegistry_ReregisterSameConn(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	conn := newFakeConn()

	r.Register("agent-1", conn)
	r.Register("agent-1", conn)

	if !conn.IsOpen() {
		t.Error("registering the same connection twice must not close it")
	}
}
