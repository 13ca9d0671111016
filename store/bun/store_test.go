//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
	bunstore "github.com/famedly/requeuest/store/bun"
)

// setupTestStore creates a Postgres container and returns a connected,
// migrated Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("requeuest_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db)
	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("ch", []byte(`{"method":"GET"}`), false)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, requeuest.ErrJobAlreadyExists) {
		t.Errorf("duplicate enqueue err = %v, want ErrJobAlreadyExists", err)
	}

	w := id.NewWorkerID()
	claimed, err := s.ClaimJob(ctx, w, []string{"ch"}, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}
	if claimed.State != job.StateClaimed || claimed.AttemptCount != 1 {
		t.Errorf("claimed state=%q attempts=%d", claimed.State, claimed.AttemptCount)
	}

	if err := s.StartJob(ctx, claimed.ID, w); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RenewLease(ctx, claimed.ID, w, time.Minute); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if err := s.AckSuccess(ctx, claimed.ID, w, []byte("ok")); err != nil {
		t.Fatalf("ack: %v", err)
	}

	c, err := s.GetCompletion(ctx, j.ID)
	if err != nil {
		t.Fatalf("get completion: %v", err)
	}
	if string(c.Response) != "ok" {
		t.Errorf("response = %q", c.Response)
	}

	// Lease is gone: further transitions are rejected.
	if err := s.AckSuccess(ctx, claimed.ID, w, nil); !errors.Is(err, requeuest.ErrNotLeaseOwner) {
		t.Errorf("double ack err = %v, want ErrNotLeaseOwner", err)
	}
}

func TestEnqueueJobTx_FollowsCallerTransaction(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Rolled back with the caller's transaction: no job persisted.
	rolledBack := job.New("txch", []byte(`{}`), true)
	tx, err := s.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := bunstore.EnqueueJobTx(ctx, tx, rolledBack); err != nil {
		t.Fatalf("enqueue in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := s.GetJob(ctx, rolledBack.ID); !errors.Is(err, requeuest.ErrJobNotFound) {
		t.Errorf("job survived rollback: err = %v, want ErrJobNotFound", err)
	}

	// Committed with the caller's transaction: job and sequence persist.
	committed := job.New("txch", []byte(`{}`), true)
	tx, err = s.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := bunstore.EnqueueJobTx(ctx, tx, committed); err != nil {
		t.Fatalf("enqueue in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := s.GetJob(ctx, committed.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Sequence == nil {
		t.Error("ordered job has no sequence")
	}
}

func TestOrderedChannel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := job.New("ordered", []byte(`{}`), true)
	second := job.New("ordered", []byte(`{}`), true)
	if err := s.EnqueueJob(ctx, first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if first.Sequence == nil || second.Sequence == nil || *second.Sequence <= *first.Sequence {
		t.Fatalf("sequences not increasing: %v, %v", first.Sequence, second.Sequence)
	}

	w := id.NewWorkerID()
	got, err := s.ClaimJob(ctx, w, nil, time.Minute)
	if err != nil || got == nil {
		t.Fatalf("claim: job=%v err=%v", got, err)
	}
	if got.ID.String() != first.ID.String() {
		t.Fatalf("claimed %s, want %s", got.ID, first.ID)
	}

	blocked, err := s.ClaimJob(ctx, id.NewWorkerID(), nil, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if blocked != nil {
		t.Fatalf("claimed %s while predecessor outstanding", blocked.ID)
	}

	if err := s.AckSuccess(ctx, got.ID, w, nil); err != nil {
		t.Fatalf("ack: %v", err)
	}
	got, err = s.ClaimJob(ctx, w, nil, time.Minute)
	if err != nil || got == nil {
		t.Fatalf("claim after gate opened: job=%v err=%v", got, err)
	}
	if got.ID.String() != second.ID.String() {
		t.Errorf("claimed %s, want %s", got.ID, second.ID)
	}
}

func TestAckRetryAndFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("ch", []byte(`{}`), false)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := id.NewWorkerID()
	claimed, _ := s.ClaimJob(ctx, w, nil, time.Minute)
	if err := s.AckRetry(ctx, claimed.ID, w, time.Now().UTC().Add(time.Hour), "503"); err != nil {
		t.Fatalf("ack retry: %v", err)
	}

	current, _ := s.GetJob(ctx, j.ID)
	if current.State != job.StateRetryScheduled || current.LastError != "503" {
		t.Errorf("state=%q last_error=%q", current.State, current.LastError)
	}

	if err := s.AckFailure(ctx, j.ID, id.Nil, "gave up"); err != nil {
		t.Fatalf("ack failure: %v", err)
	}
	current, _ = s.GetJob(ctx, j.ID)
	if current.State != job.StateFailed {
		t.Errorf("state = %q, want failed", current.State)
	}
}

func TestNotifyRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.SubscribeEnqueued(ctx, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := s.NotifyEnqueued(ctx, "ch"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case ch := <-sub:
		if ch != "ch" {
			t.Errorf("got %q, want ch", ch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
}
