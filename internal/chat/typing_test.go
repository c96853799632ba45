package chat

import (
	"testing"
	"time"

	"github.com/astromatch/chatkit/internal/protocol"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTypingRunEmitsOnceThenDebounces(t *testing.T) {
	tr := newFakeTransport()
	c := NewTypingCoordinator(tr, "me", 30*time.Millisecond, time.Second)

	// Three keystrokes inside the debounce window: three typing
	// emissions but exactly one stop_typing after the window lapses.
	c.InputChanged("conv1", "h")
	c.InputChanged("conv1", "he")
	c.InputChanged("conv1", "hey")

	if got := tr.emissions(protocol.EventTyping); got != 3 {
		t.Fatalf("typing emissions = %d, want 3", got)
	}
	if got := tr.emissions(protocol.EventStopTyping); got != 0 {
		t.Fatalf("stop_typing before debounce = %d, want 0", got)
	}

	waitFor(t, time.Second, func() bool {
		return tr.emissions(protocol.EventStopTyping) == 1
	})

	// The run ended; nothing more fires.
	time.Sleep(60 * time.Millisecond)
	if got := tr.emissions(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stop_typing = %d, want exactly 1", got)
	}
}

func TestKeystrokeResetsDebounce(t *testing.T) {
	tr := newFakeTransport()
	c := NewTypingCoordinator(tr, "me", 50*time.Millisecond, time.Second)

	c.InputChanged("conv1", "h")
	time.Sleep(30 * time.Millisecond)
	c.InputChanged("conv1", "he") // inside the window: timer rearmed

	time.Sleep(30 * time.Millisecond)
	if got := tr.emissions(protocol.EventStopTyping); got != 0 {
		t.Fatalf("stop_typing fired %d times despite reset", got)
	}
}

func TestEmptyInputStopsImmediately(t *testing.T) {
	tr := newFakeTransport()
	c := NewTypingCoordinator(tr, "me", time.Hour, time.Second)

	c.InputChanged("conv1", "hello")
	c.InputChanged("conv1", "")

	if got := tr.emissions(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stop_typing = %d, want immediate emission on clear", got)
	}
}

func TestStopWithoutRunEmitsNothing(t *testing.T) {
	tr := newFakeTransport()
	c := NewTypingCoordinator(tr, "me", time.Hour, time.Second)

	c.Stop("conv1")
	c.InputChanged("conv1", "")

	if got := tr.emissions(protocol.EventStopTyping); got != 0 {
		t.Fatalf("stop_typing = %d without an active run", got)
	}
}

func TestRemoteAutoClears(t *testing.T) {
	tr := newFakeTransport()
	c := NewTypingCoordinator(tr, "me", time.Hour, 30*time.Millisecond)

	c.SetRemote("conv1", "them", true)
	if !c.IsCounterpartTyping("conv1") {
		t.Fatal("remote flag not set")
	}

	// No stop_typing ever arrives; the flag must clear on its own.
	waitFor(t, time.Second, func() bool {
		return !c.IsCounterpartTyping("conv1")
	})
}

func TestRemoteSelfGuard(t *testing.T) {
	tr := newFakeTransport()
	c := NewTypingCoordinator(tr, "me", time.Hour, time.Second)

	c.SetRemote("conv1", "me", true)
	if c.IsCounterpartTyping("conv1") {
		t.Fatal("own id set the remote flag")
	}
}

func TestCloseConversationEndsRun(t *testing.T) {
	tr := newFakeTransport()
	c := NewTypingCoordinator(tr, "me", time.Hour, time.Second)

	c.InputChanged("conv1", "draft")
	c.SetRemote("conv1", "them", true)
	c.CloseConversation("conv1")

	if got := tr.emissions(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stop_typing on close = %d, want 1", got)
	}
	if c.IsCounterpartTyping("conv1") {
		t.Fatal("remote flag survived the close")
	}
}
