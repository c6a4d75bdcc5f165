package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/store"
)

// maxSpawnAttempts bounds how many sequence numbers Spawn skips over when
// ids were registered by hand.
const maxSpawnAttempts = 1000

// Registry tracks which agent ids exist, in the "agents" set, and issues
// sequential ids from the "agents:seq" counter.
type Registry struct {
	store  store.Store
	opts   []Option
	logger logger.Logger
}

// NewRegistry creates a registry. opts are also passed to every Agent it returns.
func NewRegistry(st store.Store, opts ...Option) *Registry {
	s := newSettings(opts)
	return &Registry{
		store:  st,
		opts:   opts,
		logger: logger.ForComponent(s.logger, "memory/registry"),
	}
}

// Spawn registers an agent. With an empty id the next free sequential id is
// used. Spawning an existing id returns that agent.
func (r *Registry) Spawn(ctx context.Context, id string) (*Agent, error) {
	if id != "" {
		if err := validateAgentID(id); err != nil {
			return nil, err
		}
		added, err := r.store.SAdd(ctx, agentsKey, id)
		if err != nil {
			return nil, opError("registry.spawn", "agent", id, err)
		}
		r.logSpawn(id, added == 1)
		return NewAgent(id, r.store, r.opts...), nil
	}

	for i := 0; i < maxSpawnAttempts; i++ {
		seq, err := r.store.Incr(ctx, agentSeqKey)
		if err != nil {
			return nil, opError("registry.spawn", "agent", "", err)
		}
		candidate := strconv.FormatInt(seq, 10)
		added, err := r.store.SAdd(ctx, agentsKey, candidate)
		if err != nil {
			return nil, opError("registry.spawn", "agent", candidate, err)
		}
		if added == 1 {
			r.logSpawn(candidate, true)
			return NewAgent(candidate, r.store, r.opts...), nil
		}
	}
	return nil, opError("registry.spawn", "agent", "", fmt.Errorf("no free sequential id after %d attempts", maxSpawnAttempts))
}

func (r *Registry) logSpawn(id string, created bool) {
	r.logger.Info("Agent registered", map[string]interface{}{
		"operation": "registry_spawn",
		"agent_id":  id,
		"created":   created,
	})
}

// Get returns the registered agent id, or an error wrapping ErrAgentNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Agent, error) {
	ok, err := r.store.SIsMember(ctx, agentsKey, id)
	if err != nil {
		return nil, opError("registry.get", "agent", id, err)
	}
	if !ok {
		return nil, opError("registry.get", "agent", id, ErrAgentNotFound)
	}
	return NewAgent(id, r.store, r.opts...), nil
}

// List returns registered ids, numeric ids first in numeric order.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	ids, err := r.store.SMembers(ctx, agentsKey)
	if err != nil {
		return nil, opError("registry.list", "agent", "", err)
	}
	sortAgentIDs(ids)
	return ids, nil
}

func sortAgentIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		ni, errI := strconv.ParseInt(ids[i], 10, 64)
		nj, errJ := strconv.ParseInt(ids[j], 10, 64)
		switch {
		case errI == nil && errJ == nil:
			return ni < nj
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}

func validateAgentID(id string) error {
	if strings.TrimSpace(id) != id || strings.ContainsAny(id, " \t\r\n") {
		return opError("registry.spawn", "agent", id, fmt.Errorf("%w: agent id must not contain whitespace", ErrInvalidID))
	}
	return nil
}
