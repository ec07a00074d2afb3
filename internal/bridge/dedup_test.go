package bridge

import (
	"testing"
	"time"
)

func TestTryAcquireBlocksDuplicates(t *testing.T) {
	g := NewDedupGuard(time.Minute)
	defer g.Close()

	if !g.TryAcquire("tts-req-1") {
		t.Fatal("first acquire refused")
	}
	if g.TryAcquire("tts-req-1") {
		t.Error("duplicate acquire succeeded inside the window")
	}
	if !g.TryAcquire("tts-req-2") {
		t.Error("unrelated key refused")
	}
	if g.Len() != 2 {
		t.Errorf("Len = %d, want 2", g.Len())
	}
}

func TestReleaseReopensKey(t *testing.T) {
	g := NewDedupGuard(time.Minute)
	defer g.Close()

	g.TryAcquire("tts-req-1")
	g.Release("tts-req-1")

	if !g.TryAcquire("tts-req-1") {
		t.Error("acquire refused after release")
	}
	// Releasing something never held is a no-op.
	g.Release("never-held")
}

func TestWindowExpiryReopensKey(t *testing.T) {
	g := NewDedupGuard(10 * time.Millisecond)
	defer g.Close()

	g.TryAcquire("tts-req-1")

	deadline := time.Now().Add(2 * time.Second)
	for !g.TryAcquire("tts-req-1") {
		if time.Now().After(deadline) {
			t.Fatal("key never auto-released after the window")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseRejectsAcquire(t *testing.T) {
	g := NewDedupGuard(time.Minute)
	g.TryAcquire("tts-req-1")
	g.Close()

	if g.TryAcquire("tts-req-2") {
		t.Error("acquire succeeded after Close")
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d after Close, want 0", g.Len())
	}
}
