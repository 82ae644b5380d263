package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/machine"
)

// ReplayRun re-executes p against the stored run and returns the fresh
// trace. It fails with NON_DETERMINISTIC when the traces differ.
func (s *Store) ReplayRun(ctx context.Context, id uuid.UUID, p *machine.Program, opts ...executor.Option) (*executor.Trace, error) {
	run, err := s.ReadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	pid, err := p.ID()
	if err != nil {
		return nil, fmt.Errorf("replay run %s: %w", id, err)
	}
	if pid != run.Program {
		return nil, fmt.Errorf("replay run %s: stored for program %s, got %s", id, run.Program.Short(), pid.Short())
	}
	return executor.Replay(ctx, p, run.Trace, opts...)
}

// ReplayLatest replays the most recent run of p.
func (s *Store) ReplayLatest(ctx context.Context, p *machine.Program, opts ...executor.Option) (*executor.Trace, error) {
	pid, err := p.ID()
	if err != nil {
		return nil, err
	}
	run, err := s.LatestRun(ctx, pid)
	if err != nil {
		return nil, err
	}
	return s.ReplayRun(ctx, run.ID, p, opts...)
}
