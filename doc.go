// Package requeuest provides a durable queue for outbound HTTP requests.
//
// Callers enqueue a request description on a named channel and requeuest
// guarantees at-least-once delivery, retrying with backoff until the
// callee answers with an accepted status code. All queue state lives in a
// shared relational store, so delivery survives process restarts and an
// arbitrary number of worker processes can service the same channels
// without any coordination beyond the store itself.
//
// # Quick start
//
//	store, err := postgres.New(ctx, "postgres://localhost/app?sslmode=disable")
//	if err != nil { ... }
//	if err := store.Migrate(ctx); err != nil { ... }
//
//	c, err := client.New(ctx, store, store,
//	    client.WithChannels("my_service"),
//	)
//	defer c.Close(ctx)
//
//	req, _ := request.Get("https://foo.bar/baz", nil)
//	jobID, err := c.Spawn(ctx, "my_service", req)
//
// Channels with ordering enabled (the default) deliver requests strictly
// in enqueue order, one at a time per channel. SpawnReturning blocks,
// with no timeout, until the request eventually succeeds and returns the
// response the callee produced.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package requeuest
