package janitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/janitor"
	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/store/memory"
)

func enqueueFailed(t *testing.T, store *memory.Store) *job.Job {
	t.Helper()

	j := job.New("ch", []byte("{}"), false)
	if err := store.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.AckFailure(context.Background(), j.ID, id.Nil, "gone"); err != nil {
		t.Fatalf("fail job: %v", err)
	}
	return j
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	if _, err := janitor.New(memory.New(), "not a schedule", time.Hour); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSweep_RemovesExpiredTerminalJobs(t *testing.T) {
	store := memory.New()
	terminal := enqueueFailed(t, store)

	pending := job.New("ch", []byte("{}"), false)
	if err := store.EnqueueJob(context.Background(), pending); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	s, err := janitor.New(store, "@hourly", 0)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := store.GetJob(context.Background(), terminal.ID); !errors.Is(err, requeuest.ErrJobNotFound) {
		t.Errorf("terminal job lookup = %v, want ErrJobNotFound", err)
	}
	if _, err := store.GetJob(context.Background(), pending.ID); err != nil {
		t.Errorf("pending job was purged: %v", err)
	}
}

func TestSweep_RespectsRetention(t *testing.T) {
	store := memory.New()
	enqueueFailed(t, store)

	s, err := janitor.New(store, "@hourly", time.Hour)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0 inside retention window", removed)
	}
}

func TestLoop_SweepsOnSchedule(t *testing.T) {
	store := memory.New()
	terminal := enqueueFailed(t, store)

	s, err := janitor.New(store, "@every 10ms", 0)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := s.Stop(context.Background()); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.GetJob(context.Background(), terminal.ID); errors.Is(err, requeuest.ErrJobNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("terminal job never purged")
}
