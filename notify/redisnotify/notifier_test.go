//go:build integration

package redisnotify_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/notify/redisnotify"
)

// setupNotifier starts a Redis container and returns a connected Notifier.
func setupNotifier(t *testing.T) *redisnotify.Notifier {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return redisnotify.New(client)
}

func TestEnqueuedRoundTrip(t *testing.T) {
	n := setupNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := n.SubscribeEnqueued(ctx, []string{"watched"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Subscription setup races with the first publish; retry until the
	// notification lands, as a polling consumer would.
	deadline := time.After(5 * time.Second)
	for {
		if err := n.NotifyEnqueued(ctx, "ignored"); err != nil {
			t.Fatalf("notify: %v", err)
		}
		if err := n.NotifyEnqueued(ctx, "watched"); err != nil {
			t.Fatalf("notify: %v", err)
		}

		select {
		case ch := <-sub:
			if ch != "watched" {
				t.Fatalf("got %q, want watched", ch)
			}
			return
		case <-deadline:
			t.Fatal("notification not delivered")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestCompletedRoundTrip(t *testing.T) {
	n := setupNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := n.SubscribeCompleted(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	jobID := id.NewJobID()
	deadline := time.After(5 * time.Second)
	for {
		if err := n.NotifyCompleted(ctx, jobID); err != nil {
			t.Fatalf("notify: %v", err)
		}

		select {
		case got := <-sub:
			if got.String() != jobID.String() {
				t.Fatalf("got %s, want %s", got, jobID)
			}
			return
		case <-deadline:
			t.Fatal("notification not delivered")
		case <-time.After(100 * time.Millisecond):
		}
	}
}
