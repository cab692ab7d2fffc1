// Package hitl implements the Human-In-The-Loop Gate (C9): a
// phase-boundary checkpoint that blocks a run for an operator
// decision, with a pluggable store for the pending checkpoint marker.
package hitl

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/broneotodak/ctk-orchestrator/internal/baton"
	"github.com/broneotodak/ctk-orchestrator/internal/errs"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
)

// Decision is an operator's response to a checkpoint.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionAbort    Decision = "abort"
)

// Checkpoint is the pending-approval record for one phase boundary.
type Checkpoint struct {
	RunID    string
	Phase    string
	Decision Decision
}

// Store persists the pending checkpoint marker. It never stores the
// baton itself — only the fact that a phase is waiting on approval and
// what was decided, matching the run-state-is-never-persisted rule.
type Store interface {
	Put(ctx context.Context, cp Checkpoint) error
	Get(ctx context.Context, runID, phase string) (Checkpoint, bool, error)
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Checkpoint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Put(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(cp.RunID, cp.Phase)] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID, phase string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.entries[key(runID, phase)]
	return cp, ok, nil
}

func key(runID, phase string) string { return runID + "/" + phase }

// Prompter asks the operator a continue/abort question and returns
// their answer. The default implementation reads a line from stdin;
// tests substitute a scripted Prompter.
type Prompter interface {
	Ask(phase string) (Decision, error)
}

// StdinPrompter is the default operator Prompter.
type StdinPrompter struct {
	reader *bufio.Reader
}

// NewStdinPrompter wraps r (typically os.Stdin) for line-based prompts.
func NewStdinPrompter(r *bufio.Reader) *StdinPrompter {
	return &StdinPrompter{reader: r}
}

func (p *StdinPrompter) Ask(phase string) (Decision, error) {
	fmt.Printf("About to run phase %q. Continue? [y/N] ", phase)
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return DecisionAbort, err
	}
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "y" || line == "yes" {
		return DecisionContinue, nil
	}
	return DecisionAbort, nil
}

// Controller runs phase-boundary checkpoints against a Store and a
// Prompter.
type Controller struct {
	Store    Store
	Prompter Prompter
	// Timeout is how long to wait for a decision before applying the
	// tenant's default. Zero means wait indefinitely.
	Timeout time.Duration
}

// NewController returns a Controller with the given store and prompter.
func NewController(store Store, prompter Prompter, timeout time.Duration) *Controller {
	return &Controller{Store: store, Prompter: prompter, Timeout: timeout}
}

// CheckPhaseApproval blocks until the operator decides, or the
// controller's timeout elapses. For the immutable tenant, a timeout
// always resolves to abort — there is no auto-continue. For every
// other tenant, a timeout resolves to continue, treating silence as
// implicit approval.
func (c *Controller) CheckPhaseApproval(ctx context.Context, mode policy.ProjectMode, phase string, runID string, _ *baton.Baton) (Checkpoint, error) {
	const op = "hitl.CheckPhaseApproval"

	type outcome struct {
		decision Decision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		d, err := c.Prompter.Ask(phase)
		done <- outcome{decision: d, err: err}
	}()

	var cp Checkpoint
	if c.Timeout <= 0 {
		select {
		case o := <-done:
			if o.err != nil {
				return Checkpoint{}, errs.New(op, errs.KindHITLAbort, o.err)
			}
			cp = Checkpoint{RunID: runID, Phase: phase, Decision: o.decision}
		case <-ctx.Done():
			return Checkpoint{}, errs.New(op, errs.KindHITLAbort, ctx.Err())
		}
	} else {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		select {
		case o := <-done:
			if o.err != nil {
				return Checkpoint{}, errs.New(op, errs.KindHITLAbort, o.err)
			}
			cp = Checkpoint{RunID: runID, Phase: phase, Decision: o.decision}
		case <-timer.C:
			decision := DecisionContinue
			if mode.Immutable {
				decision = DecisionAbort
			}
			cp = Checkpoint{RunID: runID, Phase: phase, Decision: decision}
		case <-ctx.Done():
			return Checkpoint{}, errs.New(op, errs.KindHITLAbort, ctx.Err())
		}
	}

	if err := c.Store.Put(ctx, cp); err != nil {
		return cp, errs.New(op, errs.KindHITLAbort, err)
	}
	if cp.Decision == DecisionAbort {
		return cp, errs.New(op, errs.KindHITLAbort, errs.ErrHITLAbort)
	}
	return cp, nil
}
