package service

import (
	"context"

	"github.com/0x4133/nan/pkg/ai"
	"github.com/0x4133/nan/pkg/memory"
	"github.com/0x4133/nan/pkg/resilience"
)

// Spawn registers an agent. An empty id takes the next sequential id.
func (s *Service) Spawn(ctx context.Context, id string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	agent, err := s.registry.Spawn(ctx, id)
	if err != nil {
		s.logFailure(ctx, "spawn", err, map[string]interface{}{"agent_id": id})
		return "", err
	}
	return agent.ID(), nil
}

// Add appends item to a registered agent's memory.
func (s *Service) Add(ctx context.Context, agentID, item string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	agent, err := s.agent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := agent.AddMemory(ctx, item); err != nil {
		s.logFailure(ctx, "add", err, map[string]interface{}{"agent_id": agentID})
		return err
	}
	return nil
}

// Query returns an agent's memory, oldest first.
func (s *Service) Query(ctx context.Context, agentID string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var items []string
	err := resilience.Retry(ctx, s.readRetry, func() error {
		agent, err := s.agent(ctx, agentID)
		if err != nil {
			return err
		}
		items, err = agent.QueryMemory(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Clear empties an agent's memory.
func (s *Service) Clear(ctx context.Context, agentID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	agent, err := s.agent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := agent.ClearMemory(ctx); err != nil {
		s.logFailure(ctx, "clear", err, map[string]interface{}{"agent_id": agentID})
		return err
	}
	return nil
}

// Generate asks the generation provider for text and appends it to the
// agent's memory. Provider calls are retried and guarded by the circuit
// breaker; a failed generation leaves the memory untouched.
func (s *Service) Generate(ctx context.Context, agentID, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.generationBudget())
	defer cancel()

	agent, err := s.agent(ctx, agentID)
	if err != nil {
		return "", err
	}

	text, err := ai.GenerateMemory(ctx, ai.GeneratorFunc(s.generate), agent, prompt)
	if err != nil {
		s.logFailure(ctx, "generate", err, map[string]interface{}{"agent_id": agentID})
		return "", err
	}
	return text, nil
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	call := func() error {
		var err error
		text, err = s.generator.Generate(ctx, prompt)
		return err
	}

	var err error
	if s.breaker != nil {
		err = resilience.RetryWithCircuitBreaker(ctx, s.genRetry, s.breaker, call)
	} else {
		err = resilience.Retry(ctx, s.genRetry, call)
	}
	return text, err
}

// Detach moves an agent's memory into the pool and returns the bundle id.
func (s *Service) Detach(ctx context.Context, agentID string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	agent, err := s.agent(ctx, agentID)
	if err != nil {
		return "", err
	}
	id, err := agent.DetachMemory(ctx, s.pool)
	if err != nil {
		s.logFailure(ctx, "detach", err, map[string]interface{}{"agent_id": agentID})
		return "", err
	}
	return id, nil
}

// Attach moves bundle bundleID into an agent. It reports false when the
// bundle does not exist.
func (s *Service) Attach(ctx context.Context, agentID, bundleID string, mode memory.AttachMode) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	agent, err := s.agent(ctx, agentID)
	if err != nil {
		return false, err
	}
	ok, err := agent.AttachMemoryWithMode(ctx, s.pool, bundleID, mode)
	if err != nil {
		s.logFailure(ctx, "attach", err, map[string]interface{}{
			"agent_id":  agentID,
			"bundle_id": bundleID,
			"mode":      mode.String(),
		})
		return false, err
	}
	return ok, nil
}

// ListAgents returns the registered agent ids.
func (s *Service) ListAgents(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var ids []string
	err := resilience.Retry(ctx, s.readRetry, func() error {
		var err error
		ids, err = s.registry.List(ctx)
		return err
	})
	return ids, err
}

// ListPool returns the ids of all pool bundles, sorted.
func (s *Service) ListPool(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var ids []string
	err := resilience.Retry(ctx, s.readRetry, func() error {
		var err error
		ids, err = s.pool.ListIDs(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sortedIDs(ids), nil
}

// Show returns a bundle's items without removing it.
func (s *Service) Show(ctx context.Context, bundleID string) ([]string, bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		items []string
		found bool
	)
	err := resilience.Retry(ctx, s.readRetry, func() error {
		var err error
		items, found, err = s.pool.Get(ctx, bundleID)
		return err
	})
	return items, found, err
}

// Discard deletes a bundle without attaching it anywhere.
func (s *Service) Discard(ctx context.Context, bundleID string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	ok, err := s.pool.Discard(ctx, bundleID)
	if err != nil {
		s.logFailure(ctx, "discard", err, map[string]interface{}{"bundle_id": bundleID})
	}
	return ok, err
}

// Verify reports any divergence between the pool index and stored bundles.
func (s *Service) Verify(ctx context.Context) (memory.Report, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var report memory.Report
	err := resilience.Retry(ctx, s.readRetry, func() error {
		var err error
		report, err = s.pool.Verify(ctx)
		return err
	})
	return report, err
}

// Save writes an agent's memory to path, one item per line.
func (s *Service) Save(ctx context.Context, agentID, path string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	agent, err := s.agent(ctx, agentID)
	if err != nil {
		return err
	}
	return agent.SaveMemoryFile(ctx, path)
}

// Load replaces an agent's memory with the lines of the file at path and
// returns how many items were loaded.
func (s *Service) Load(ctx context.Context, agentID, path string) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	agent, err := s.agent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	n, err := agent.LoadMemoryFile(ctx, path)
	if err != nil {
		s.logFailure(ctx, "load", err, map[string]interface{}{"agent_id": agentID, "path": path})
		return 0, err
	}
	return n, nil
}
