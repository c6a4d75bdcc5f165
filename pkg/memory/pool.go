package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/store"
)

// Pool holds detached memory bundles. Each bundle is a JSON array stored
// under "pool:<id>" and its id is listed in the "pool_ids" set.
//
// Invariant: every indexed id has a blob and every blob is indexed. The blob
// is written before the index entry, and removing a bundle deletes both in
// one logical step, under a claim, with rollback on partial failure.
type Pool struct {
	store    store.Store
	ids      IDGenerator
	attempts int
	logger   logger.Logger
}

// NewPool creates a pool on st.
func NewPool(st store.Store, opts ...Option) *Pool {
	s := newSettings(opts)
	return &Pool{
		store:    st,
		ids:      s.ids,
		attempts: s.idAttempts,
		logger:   logger.ForComponent(s.logger, "memory/pool"),
	}
}

// Add stores items as a new bundle and returns its id.
func (p *Pool) Add(ctx context.Context, items []string) (id string, err error) {
	ctx, done := startOp(ctx, "pool.add", attribute.Int("bundle.items", len(items)))
	defer done(&err)

	blob, err := encodeItems(items)
	if err != nil {
		return "", opError("pool.add", "bundle", "", err)
	}

	for attempt := 1; attempt <= p.attempts; attempt++ {
		id = p.ids.NewID()
		created, err := p.store.SetNX(ctx, bundleKey(id), blob, 0)
		if err != nil {
			return "", opError("pool.add", "bundle", id, err)
		}
		if !created {
			p.logger.Warn("Bundle id already in use, regenerating", map[string]interface{}{
				"operation": "pool_add",
				"bundle_id": id,
				"attempt":   attempt,
			})
			continue
		}

		if _, err := p.store.SAdd(ctx, poolIndexKey, id); err != nil {
			return "", p.rollbackAdd(ctx, id, err)
		}

		p.logger.Debug("Bundle added to pool", map[string]interface{}{
			"operation": "pool_add",
			"bundle_id": id,
			"items":     len(items),
		})
		return id, nil
	}

	return "", opError("pool.add", "bundle", "", fmt.Errorf("%w after %d attempts", ErrIDCollision, p.attempts))
}

// rollbackAdd deletes a blob whose index entry could not be written.
func (p *Pool) rollbackAdd(ctx context.Context, id string, cause error) error {
	cctx, cancel := compensationContext(ctx)
	defer cancel()

	if _, err := p.store.Del(cctx, bundleKey(id)); err != nil {
		p.logger.Error("Failed to roll back unindexed bundle", map[string]interface{}{
			"operation": "pool_add",
			"bundle_id": id,
			"error":     err,
			"cause":     cause,
		})
		return &ConsistencyError{
			Op:          "pool.add",
			BundleID:    id,
			BlobPresent: true,
			Detail:      "index add failed and blob cleanup failed",
			Err:         errors.Join(cause, err),
		}
	}

	p.logger.Warn("Rolled back bundle after index failure", map[string]interface{}{
		"operation": "pool_add",
		"bundle_id": id,
		"error":     cause,
	})
	return opError("pool.add", "bundle", id, cause)
}

// Get returns a bundle's items without removing it.
func (p *Pool) Get(ctx context.Context, id string) ([]string, bool, error) {
	blob, found, err := p.store.Get(ctx, bundleKey(id))
	if err != nil {
		return nil, false, opError("pool.get", "bundle", id, err)
	}
	if !found {
		return nil, false, nil
	}
	items, err := decodeItems(blob)
	if err != nil {
		return nil, false, &ConsistencyError{Op: "pool.get", BundleID: id, BlobPresent: true, Detail: "undecodable bundle", Err: err}
	}
	return items, true, nil
}

// Remove deletes a bundle and returns its items. An absent, unindexed id is
// not an error. A half-present bundle yields a ConsistencyError and nothing
// is changed.
//
// A remover first claims the bundle under "claim:pool:<id>", then deletes the
// blob and the index entry, then drops the claim. When two callers race,
// the claim picks the one that receives the items; the other sees the
// bundle as absent, including while the winner sits between its two deletes.
func (p *Pool) Remove(ctx context.Context, id string) (items []string, found bool, err error) {
	ctx, done := startOp(ctx, "pool.remove", attribute.String("bundle.id", id))
	defer done(&err)

	blob, blobPresent, err := p.store.Get(ctx, bundleKey(id))
	if err != nil {
		return nil, false, opError("pool.remove", "bundle", id, err)
	}
	indexed, err := p.store.SIsMember(ctx, poolIndexKey, id)
	if err != nil {
		return nil, false, opError("pool.remove", "bundle", id, err)
	}

	switch {
	case !blobPresent && !indexed:
		return nil, false, nil
	case !blobPresent:
		return nil, false, p.checkIndexedWithoutBlob(ctx, id)
	case !indexed:
		return nil, false, p.divergence(id, false, true, "bundle missing from index")
	}

	items, err = decodeItems(blob)
	if err != nil {
		return nil, false, &ConsistencyError{Op: "pool.remove", BundleID: id, IndexEntry: true, BlobPresent: true, Detail: "undecodable bundle", Err: err}
	}

	claimed, err := p.store.SetNX(ctx, claimKey(id), uuid.NewString(), claimTTL)
	if err != nil {
		return nil, false, opError("pool.remove", "bundle", id, err)
	}
	if !claimed {
		p.logger.Debug("Bundle claimed by a concurrent remove", map[string]interface{}{
			"operation": "pool_remove",
			"bundle_id": id,
		})
		return nil, false, nil
	}
	defer p.releaseClaim(ctx, id)

	deleted, err := p.store.Del(ctx, bundleKey(id))
	if err != nil {
		return nil, false, opError("pool.remove", "bundle", id, err)
	}
	if deleted == 0 {
		// A concurrent Remove finished between our reads and our claim.
		return nil, false, nil
	}

	if _, err := p.store.SRem(ctx, poolIndexKey, id); err != nil {
		return nil, false, p.rollbackRemove(ctx, id, blob, err)
	}

	p.logger.Debug("Bundle removed from pool", map[string]interface{}{
		"operation": "pool_remove",
		"bundle_id": id,
		"items":     len(items),
	})
	return items, true, nil
}

// checkIndexedWithoutBlob tells an in-flight remove from an orphaned index
// entry. The claim is dropped only after SRem, so once the claim is gone a
// finished remove has also cleared the index.
func (p *Pool) checkIndexedWithoutBlob(ctx context.Context, id string) error {
	_, claimed, err := p.store.Get(ctx, claimKey(id))
	if err != nil {
		return opError("pool.remove", "bundle", id, err)
	}
	if claimed {
		return nil
	}
	indexed, err := p.store.SIsMember(ctx, poolIndexKey, id)
	if err != nil {
		return opError("pool.remove", "bundle", id, err)
	}
	if !indexed {
		return nil
	}
	return p.divergence(id, true, false, "index entry without bundle")
}

func (p *Pool) divergence(id string, indexed, blobPresent bool, detail string) error {
	p.logger.Error("Pool divergence detected", map[string]interface{}{
		"operation":    "pool_remove",
		"bundle_id":    id,
		"indexed":      indexed,
		"blob_present": blobPresent,
	})
	return &ConsistencyError{
		Op:          "pool.remove",
		BundleID:    id,
		IndexEntry:  indexed,
		BlobPresent: blobPresent,
		Detail:      detail,
	}
}

func (p *Pool) releaseClaim(ctx context.Context, id string) {
	cctx, cancel := compensationContext(ctx)
	defer cancel()
	if _, err := p.store.Del(cctx, claimKey(id)); err != nil {
		p.logger.Warn("Failed to release bundle claim", map[string]interface{}{
			"operation": "pool_remove",
			"bundle_id": id,
			"error":     err,
			"ttl":       claimTTL.String(),
		})
	}
}

// rollbackRemove writes back a blob whose index entry could not be removed.
func (p *Pool) rollbackRemove(ctx context.Context, id, blob string, cause error) error {
	cctx, cancel := compensationContext(ctx)
	defer cancel()

	if err := p.store.Set(cctx, bundleKey(id), blob); err != nil {
		p.logger.Error("Failed to restore bundle after index failure", map[string]interface{}{
			"operation": "pool_remove",
			"bundle_id": id,
			"error":     err,
			"cause":     cause,
		})
		return &ConsistencyError{
			Op:         "pool.remove",
			BundleID:   id,
			IndexEntry: true,
			Detail:     "index removal failed and blob restore failed",
			Err:        errors.Join(cause, err),
		}
	}

	p.logger.Warn("Restored bundle after index failure", map[string]interface{}{
		"operation": "pool_remove",
		"bundle_id": id,
		"error":     cause,
	})
	return opError("pool.remove", "bundle", id, cause)
}

// restore puts items back under an existing id. Used to undo an attach.
func (p *Pool) restore(ctx context.Context, id string, items []string) error {
	blob, err := encodeItems(items)
	if err != nil {
		return err
	}
	created, err := p.store.SetNX(ctx, bundleKey(id), blob, 0)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("bundle %s reappeared during rollback", id)
	}
	if _, err := p.store.SAdd(ctx, poolIndexKey, id); err != nil {
		return err
	}
	return nil
}

// ListIDs returns the ids of all bundles in the pool, in no particular order.
func (p *Pool) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := p.store.SMembers(ctx, poolIndexKey)
	if err != nil {
		return nil, opError("pool.list", "bundle", "", err)
	}
	return ids, nil
}

// Discard removes a bundle without handing its items to an agent.
func (p *Pool) Discard(ctx context.Context, id string) (bool, error) {
	_, found, err := p.Remove(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		p.logger.Info("Bundle discarded", map[string]interface{}{
			"operation": "pool_discard",
			"bundle_id": id,
		})
	}
	return found, nil
}

// Report is the result of Verify.
type Report struct {
	Indexed int
	// Orphaned ids are indexed but have no blob.
	Orphaned []string
	// Unindexed ids have a blob but no index entry.
	Unindexed []string
}

// Consistent reports whether no divergence was found.
func (r Report) Consistent() bool {
	return len(r.Orphaned) == 0 && len(r.Unindexed) == 0
}

// Verify compares the pool index with the stored blobs. It never repairs.
func (p *Pool) Verify(ctx context.Context) (report Report, err error) {
	ctx, done := startOp(ctx, "pool.verify")
	defer done(&err)

	indexed, err := p.store.SMembers(ctx, poolIndexKey)
	if err != nil {
		return Report{}, opError("pool.verify", "bundle", "", err)
	}
	keys, err := p.store.Keys(ctx, bundleKeyPrefix+"*")
	if err != nil {
		return Report{}, opError("pool.verify", "bundle", "", err)
	}

	blobs := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		blobs[strings.TrimPrefix(k, bundleKeyPrefix)] = struct{}{}
	}
	inIndex := make(map[string]struct{}, len(indexed))
	for _, id := range indexed {
		inIndex[id] = struct{}{}
		if _, ok := blobs[id]; !ok {
			report.Orphaned = append(report.Orphaned, id)
		}
	}
	for id := range blobs {
		if _, ok := inIndex[id]; !ok {
			report.Unindexed = append(report.Unindexed, id)
		}
	}
	sort.Strings(report.Orphaned)
	sort.Strings(report.Unindexed)
	report.Indexed = len(indexed)

	if !report.Consistent() {
		p.logger.Warn("Pool verification found divergence", map[string]interface{}{
			"operation": "pool_verify",
			"orphaned":  len(report.Orphaned),
			"unindexed": len(report.Unindexed),
		})
	}
	return report, nil
}
