package memory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/store"
)

// AttachMode decides what happens to an agent's existing memory on attach.
type AttachMode int

const (
	// AttachReplace discards the current log and installs the bundle.
	AttachReplace AttachMode = iota
	// AttachAppend adds the bundle items after the current log.
	AttachAppend
	// AttachRequireEmpty refuses to attach onto a non-empty log.
	AttachRequireEmpty
)

func (m AttachMode) String() string {
	switch m {
	case AttachReplace:
		return "replace"
	case AttachAppend:
		return "append"
	case AttachRequireEmpty:
		return "require-empty"
	default:
		return fmt.Sprintf("AttachMode(%d)", int(m))
	}
}

// ParseAttachMode maps "replace", "append" or "require-empty" to a mode.
// The empty string selects AttachReplace.
func ParseAttachMode(s string) (AttachMode, error) {
	switch s {
	case "", "replace":
		return AttachReplace, nil
	case "append":
		return AttachAppend, nil
	case "require-empty", "empty":
		return AttachRequireEmpty, nil
	default:
		return AttachReplace, fmt.Errorf("unknown attach mode %q: %w", s, ErrInvalidConfiguration)
	}
}

// Agent is a handle on one agent's ordered memory log, stored as a list
// under "agent:<id>:mem". A missing list is an empty log.
//
// Appends are not serialized and may interleave. Clear, detach, attach and
// load hold the agent's lock for their whole sequence.
type Agent struct {
	id     string
	store  store.Store
	locker Locker
	logger logger.Logger
}

// NewAgent returns a handle for id. Nothing is written until the first append.
func NewAgent(id string, st store.Store, opts ...Option) *Agent {
	s := newSettings(opts)
	return &Agent{
		id:     id,
		store:  st,
		locker: s.locker,
		logger: logger.ForComponent(s.logger, "memory/agent"),
	}
}

// ID returns the agent id.
func (a *Agent) ID() string {
	return a.id
}

func (a *Agent) key() string {
	return agentMemKey(a.id)
}

func (a *Agent) withLock(ctx context.Context, op string, fn func() error) error {
	unlock, err := a.locker.Lock(ctx, agentLockKey(a.id))
	if err != nil {
		a.logger.Warn("Could not acquire agent lock", map[string]interface{}{
			"operation": op,
			"agent_id":  a.id,
			"error":     err,
		})
		return err
	}
	defer unlock()
	return fn()
}

// AddMemory appends one item to the end of the log.
func (a *Agent) AddMemory(ctx context.Context, item string) error {
	if _, err := a.store.RPush(ctx, a.key(), item); err != nil {
		return opError("agent.add", "agent", a.id, err)
	}
	a.logger.Debug("Memory item appended", map[string]interface{}{
		"operation": "agent_add",
		"agent_id":  a.id,
	})
	return nil
}

// QueryMemory returns the whole log, oldest first. A missing log is empty.
func (a *Agent) QueryMemory(ctx context.Context) ([]string, error) {
	items, err := a.store.LRange(ctx, a.key(), 0, -1)
	if err != nil {
		return nil, opError("agent.query", "agent", a.id, err)
	}
	return items, nil
}

// ClearMemory empties the log. Clearing an empty log succeeds.
func (a *Agent) ClearMemory(ctx context.Context) (err error) {
	ctx, done := startOp(ctx, "agent.clear", attribute.String("agent.id", a.id))
	defer done(&err)

	return a.withLock(ctx, "agent_clear", func() error {
		if _, err := a.store.Del(ctx, a.key()); err != nil {
			return opError("agent.clear", "agent", a.id, err)
		}
		return nil
	})
}

// DetachMemory moves the log into a new pool bundle and returns its id.
// Exactly the items read at the start move; an item appended while the
// detach runs stays in the log. On error the log is left as it was.
func (a *Agent) DetachMemory(ctx context.Context, pool *Pool) (id string, err error) {
	ctx, done := startOp(ctx, "agent.detach", attribute.String("agent.id", a.id))
	defer done(&err)

	err = a.withLock(ctx, "agent_detach", func() error {
		items, err := a.store.LRange(ctx, a.key(), 0, -1)
		if err != nil {
			return opError("agent.detach", "agent", a.id, err)
		}

		id, err = pool.Add(ctx, items)
		if err != nil {
			return err
		}

		if len(items) > 0 {
			if err := a.store.LTrim(ctx, a.key(), int64(len(items)), -1); err != nil {
				return a.rollbackDetach(ctx, pool, id, err)
			}
		}

		a.logger.Info("Memory detached to pool", map[string]interface{}{
			"operation": "agent_detach",
			"agent_id":  a.id,
			"bundle_id": id,
			"items":     len(items),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// rollbackDetach removes the bundle created for a detach whose log trim
// failed, so the items are not owned twice.
func (a *Agent) rollbackDetach(ctx context.Context, pool *Pool, id string, cause error) error {
	cctx, cancel := compensationContext(ctx)
	defer cancel()

	_, found, err := pool.Remove(cctx, id)
	if err == nil && !found {
		err = fmt.Errorf("bundle %s vanished: %w", id, ErrBundleNotFound)
	}
	if err != nil {
		a.logger.Error("Failed to roll back detach", map[string]interface{}{
			"operation": "agent_detach",
			"agent_id":  a.id,
			"bundle_id": id,
			"error":     err,
			"cause":     cause,
		})
		return &ConsistencyError{
			Op:          "agent.detach",
			BundleID:    id,
			AgentID:     a.id,
			IndexEntry:  true,
			BlobPresent: true,
			Detail:      "log clear failed and bundle rollback failed; items are owned by both",
			Err:         errors.Join(cause, err),
		}
	}

	a.logger.Warn("Rolled back detach after log trim failure", map[string]interface{}{
		"operation": "agent_detach",
		"agent_id":  a.id,
		"bundle_id": id,
		"error":     cause,
	})
	return opError("agent.detach", "agent", a.id, cause)
}

// AttachMemory moves bundle id from the pool into this agent, replacing its
// current log. It returns false, changing nothing, when no such bundle exists.
func (a *Agent) AttachMemory(ctx context.Context, pool *Pool, id string) (bool, error) {
	return a.AttachMemoryWithMode(ctx, pool, id, AttachReplace)
}

// AttachMemoryWithMode is AttachMemory with an explicit policy for existing
// memory. AttachRequireEmpty fails with ErrAgentNotEmpty before touching the
// pool when the log has items.
func (a *Agent) AttachMemoryWithMode(ctx context.Context, pool *Pool, id string, mode AttachMode) (attached bool, err error) {
	ctx, done := startOp(ctx, "agent.attach",
		attribute.String("agent.id", a.id),
		attribute.String("bundle.id", id),
		attribute.String("attach.mode", mode.String()),
	)
	defer done(&err)

	err = a.withLock(ctx, "agent_attach", func() error {
		previous, err := a.currentLog(ctx, mode)
		if err != nil {
			return err
		}

		items, found, err := pool.Remove(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			a.logger.Debug("Bundle not in pool", map[string]interface{}{
				"operation": "agent_attach",
				"agent_id":  a.id,
				"bundle_id": id,
			})
			return nil
		}

		if err := a.writeAttached(ctx, mode, items); err != nil {
			return a.rollbackAttach(ctx, pool, id, previous, items, err)
		}

		attached = true
		a.logger.Info("Memory attached from pool", map[string]interface{}{
			"operation": "agent_attach",
			"agent_id":  a.id,
			"bundle_id": id,
			"items":     len(items),
			"mode":      mode.String(),
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	return attached, nil
}

// currentLog returns the log to restore if the attach write fails. For
// AttachRequireEmpty only the length is read and a non-empty log is refused.
func (a *Agent) currentLog(ctx context.Context, mode AttachMode) ([]string, error) {
	if mode == AttachRequireEmpty {
		n, err := a.store.LLen(ctx, a.key())
		if err != nil {
			return nil, opError("agent.attach", "agent", a.id, err)
		}
		if n > 0 {
			return nil, opError("agent.attach", "agent", a.id, ErrAgentNotEmpty)
		}
		return []string{}, nil
	}
	previous, err := a.store.LRange(ctx, a.key(), 0, -1)
	if err != nil {
		return nil, opError("agent.attach", "agent", a.id, err)
	}
	return previous, nil
}

func (a *Agent) writeAttached(ctx context.Context, mode AttachMode, items []string) error {
	if mode == AttachReplace {
		return a.replaceLog(ctx, items)
	}
	if len(items) == 0 {
		return nil
	}
	_, err := a.store.RPush(ctx, a.key(), items...)
	return err
}

// replaceLog overwrites the log with items.
func (a *Agent) replaceLog(ctx context.Context, items []string) error {
	if _, err := a.store.Del(ctx, a.key()); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	_, err := a.store.RPush(ctx, a.key(), items...)
	return err
}

// rollbackAttach restores the previous log and puts the bundle back under
// the same id.
func (a *Agent) rollbackAttach(ctx context.Context, pool *Pool, id string, previous, items []string, cause error) error {
	cctx, cancel := compensationContext(ctx)
	defer cancel()

	logErr := a.replaceLog(cctx, previous)
	poolErr := pool.restore(cctx, id, items)
	if logErr == nil && poolErr == nil {
		a.logger.Warn("Rolled back attach after log write failure", map[string]interface{}{
			"operation": "agent_attach",
			"agent_id":  a.id,
			"bundle_id": id,
			"error":     cause,
		})
		return opError("agent.attach", "agent", a.id, cause)
	}

	a.logger.Error("Failed to roll back attach", map[string]interface{}{
		"operation":  "agent_attach",
		"agent_id":   a.id,
		"bundle_id":  id,
		"log_error":  logErr,
		"pool_error": poolErr,
		"cause":      cause,
	})
	return &ConsistencyError{
		Op:       "agent.attach",
		BundleID: id,
		AgentID:  a.id,
		Detail:   "log write failed and rollback was incomplete",
		Err:      errors.Join(cause, logErr, poolErr),
	}
}
