package broker

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"reelforge/internal/models"
)

func newTestBroker() *Broker {
	return New(log.New(io.Discard, "", 0))
}

func collect(t *testing.T, s *Subscription) []models.Event {
	t.Helper()
	var out []models.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("subscription did not close; got %d events", len(out))
		}
	}
}

func TestLateSubscriberGetsBufferThenLive(t *testing.T) {
	b := newTestBroker()
	if _, err := b.Create("j1", "p"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = b.AppendLog("j1", "one")
	_ = b.AppendLog("j1", "two")

	sub, err := b.Subscribe("j1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = b.AppendLog("j1", "three")
	if err := b.Finish("j1", &models.VideoData{FinalVideoPath: "out.mp4"}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	events := collect(t, sub)
	want := []string{"one", "two", "three"}
	if len(events) != len(want)+1 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	for i, w := range want {
		if events[i].Message != w || events[i].Status != models.StatusProgress {
			t.Fatalf("event %d = %+v, want %q", i, events[i], w)
		}
	}
	last := events[len(events)-1]
	if last.Status != models.StatusFinished || last.VideoData == nil || last.VideoData.FinalVideoPath != "out.mp4" {
		t.Fatalf("unexpected terminal event %+v", last)
	}
}

func TestTerminalIsAbsorbing(t *testing.T) {
	b := newTestBroker()
	_, _ = b.Create("j1", "p")
	if err := b.Fail("j1", errors.New("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := b.Finish("j1", nil); err == nil {
		t.Fatalf("expected finish after fail to be rejected")
	}
	if err := b.Cancel("j1"); err == nil {
		t.Fatalf("expected cancel after fail to be rejected")
	}
	if err := b.AppendLog("j1", "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected late log to be dropped, got %v", err)
	}
	snap, _ := b.Snapshot("j1")
	if snap.Status != models.StatusFailed || snap.Error != "boom" || len(snap.Logs) != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSubscribeAfterTerminal(t *testing.T) {
	b := newTestBroker()
	_, _ = b.Create("j1", "p")
	_ = b.AppendLog("j1", "only")
	_ = b.Cancel("j1")

	sub, err := b.Subscribe("j1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	events := collect(t, sub)
	if len(events) != 2 || events[0].Message != "only" || events[1].Status != models.StatusCancelled {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestSubscribeUnknown(t *testing.T) {
	b := newTestBroker()
	if _, err := b.Subscribe("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := b.Abort("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAbortArmsTokenOnce(t *testing.T) {
	b := newTestBroker()
	ctx, _ := b.Create("j1", "p")
	if err := b.Abort("j1"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("token not armed")
	}
	if err := b.Abort("j1"); err != nil {
		t.Fatalf("second abort should be a no-op, got %v", err)
	}
	snap, _ := b.Snapshot("j1")
	if snap.Status != models.StatusProgress || !snap.Cancelling {
		t.Fatalf("abort must not change status: %+v", snap)
	}
	_ = b.Cancel("j1")
	if err := b.Abort("j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("abort on terminal job should report not found, got %v", err)
	}
}

func TestUnsubscribeDoesNotAffectJob(t *testing.T) {
	b := newTestBroker()
	_, _ = b.Create("j1", "p")
	sub, _ := b.Subscribe("j1")
	sub.Close()
	collect(t, sub)
	_ = b.AppendLog("j1", "after")
	snap, _ := b.Snapshot("j1")
	if snap.Observers != 0 || snap.Status != models.StatusProgress || len(snap.Logs) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSlowObserverDoesNotBlockBroadcast(t *testing.T) {
	b := newTestBroker()
	_, _ = b.Create("j1", "p")
	sub, _ := b.Subscribe("j1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = b.AppendLog("j1", fmt.Sprintf("line %d", i))
		}
		_ = b.Finish("j1", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on an idle observer")
	}

	events := collect(t, sub)
	if len(events) != 1001 {
		t.Fatalf("got %d events", len(events))
	}
	for i := 0; i < 1000; i++ {
		if events[i].Message != fmt.Sprintf("line %d", i) {
			t.Fatalf("out of order at %d: %q", i, events[i].Message)
		}
	}
	if !events[1000].Terminal() {
		t.Fatalf("terminal event must be last")
	}
}

func TestConcurrentAttachDetach(t *testing.T) {
	b := newTestBroker()
	_, _ = b.Create("j1", "p")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := b.Subscribe("j1")
			if err != nil {
				return
			}
			sub.Close()
		}()
	}
	for i := 0; i < 50; i++ {
		_ = b.AppendLog("j1", "x")
	}
	wg.Wait()
	_ = b.Finish("j1", nil)
}

func TestLoggerSplitsLines(t *testing.T) {
	b := newTestBroker()
	_, _ = b.Create("j1", "p")
	logger := b.Logger("j1")
	logger.Printf("generating image %d", 1)
	logger.Printf("multi\nline")

	snap, _ := b.Snapshot("j1")
	want := []string{"generating image 1", "multi", "line"}
	if len(snap.Logs) != len(want) {
		t.Fatalf("logs = %v", snap.Logs)
	}
	for i := range want {
		if snap.Logs[i] != want[i] {
			t.Fatalf("logs = %v", snap.Logs)
		}
	}
}

func TestRemoveAndSweep(t *testing.T) {
	b := newTestBroker()
	now := time.Now()
	b.now = func() time.Time { return now }
	_, _ = b.Create("running", "p")
	_, _ = b.Create("old", "p")
	_, _ = b.Create("fresh", "p")

	if err := b.Remove("running"); !errors.Is(err, ErrActive) {
		t.Fatalf("expected ErrActive, got %v", err)
	}
	_ = b.Finish("old", nil)
	b.now = func() time.Time { return now.Add(time.Hour) }
	_ = b.Finish("fresh", nil)

	if n := b.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("swept %d jobs", n)
	}
	if _, err := b.Snapshot("old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old job should be gone")
	}
	if len(b.List()) != 2 {
		t.Fatalf("expected two remaining jobs")
	}
	if err := b.Remove("fresh"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	b := newTestBroker()
	_, _ = b.Create("j1", "p")
	if _, err := b.Create("j1", "p"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}
