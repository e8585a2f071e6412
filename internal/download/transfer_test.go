package download

import (
	"context"
	"testing"
	"time"
)

func TestStallGuardCancelsAfterNoProgress(t *testing.T) {
	g := newStallGuardTimeout(context.Background(), false, 20*time.Millisecond)
	defer g.stop()

	select {
	case <-g.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("stall guard never canceled its context")
	}
	if !g.stalled {
		t.Error("stalled = false, want true")
	}
}

func TestStallGuardProgressResetsDeadline(t *testing.T) {
	g := newStallGuardTimeout(context.Background(), false, 50*time.Millisecond)
	defer g.stop()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		g.progress(1)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-g.ctx.Done():
		t.Error("context canceled despite continuous forward progress")
	default:
	}
}

func TestStallGuardDisabledNeverCancels(t *testing.T) {
	g := newStallGuardTimeout(context.Background(), true, 10*time.Millisecond)
	defer g.stop()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-g.ctx.Done():
		t.Error("disabled stall guard canceled its context")
	default:
	}
	if g.stalled {
		t.Error("stalled = true, want false for a disabled guard")
	}
}
