// Package memory implements per-agent memory logs and a shared pool of
// detached memory bundles on top of a store.Store.
//
// Every memory item is owned by exactly one place: an agent's log or a pool
// bundle. DetachMemory moves the items an agent's log held when it started
// into a new bundle and trims them from the log; AttachMemory consumes a
// bundle and installs its items in the destination agent.
//
//	st := store.NewInMemoryStore()
//	pool := memory.NewPool(st)
//	a := memory.NewAgent("1", st)
//	b := memory.NewAgent("2", st)
//
//	_ = a.AddMemory(ctx, "a")
//	id, _ := a.DetachMemory(ctx, pool)
//	ok, _ := b.AttachMemory(ctx, pool, id) // b now holds ["a"], id is gone
//
// # Storage layout
//
//	agent:<id>:mem   list of items, oldest first
//	pool:<id>        JSON array of items
//	pool_ids         set of live bundle ids
//	agents           set of registered agent ids
//	agents:seq       counter for sequential agent ids
//	lock:agent:<id>  advisory lock held by StoreLocker
//	claim:pool:<id>  short-lived marker held by a Remove in progress
//
// The store offers no cross-key transactions. Multi-key operations order
// their writes so that a failure leaves the smaller inconsistency, then
// compensate. A failed compensation is reported as a *ConsistencyError
// wrapping ErrConsistencyViolation; Pool.Verify lists any divergence left
// behind.
//
// # Concurrency
//
// AddMemory is a single append and may interleave with other appends.
// ClearMemory, DetachMemory, AttachMemory and LoadMemory hold a per-agent
// Locker. The default LocalLocker covers one process; StoreLocker covers
// several processes sharing a store.
package memory
