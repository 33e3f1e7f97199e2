// Package worktest provides helpers for testing with an orchestrator.
package worktest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hamba/testutils/retry"
	"github.com/nrwiersma/workchain/work"
)

// NewOrchestrator creates a test orchestrator.
func NewOrchestrator(t *testing.T, cfgFn func(cfg *work.Config)) (*work.Orchestrator, *work.Config) {
	cfg := work.NewConfig()
	cfg.Workers = 2

	if cfgFn != nil {
		cfgFn(cfg)
	}

	o, err := work.New(cfg)
	if err != nil {
		t.Fatalf("err != nil: %s", err)
	}

	return o, cfg
}

// Close closes the orchestrator, failing the test on error.
func Close(t *testing.T, o *work.Orchestrator) {
	if err := o.Close(); err != nil {
		t.Errorf("error closing orchestrator: %v", err)
	}
}

// WaitForState waits for the job to reach the given state.
func WaitForState(t *testing.T, o *work.Orchestrator, tag, jobID string, state work.State) work.Status {
	var found work.Status
	retry.Run(t, func(t *retry.SubT) {
		statuses, err := o.Statuses(tag)
		if err != nil {
			t.Fatal(err.Error())
			return
		}

		for _, st := range statuses {
			if st.JobID != jobID {
				continue
			}
			if st.State != state {
				t.Fatal("job " + jobID + " is " + st.State.String() + ", want " + state.String())
				return
			}
			found = st
			return
		}
		t.Fatal("job " + jobID + " not found")
	})
	return found
}

// Wait waits for the chain of the handle to finish.
func Wait(t *testing.T, h work.Handle) work.ChainState {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("error waiting for chain %q: %v", h.Name, err)
	}
	return state
}

// Echo returns a behavior that returns its input.
func Echo() work.Behavior {
	return func(_ context.Context, in work.Data) (work.Data, error) {
		return in, nil
	}
}

// Gate is a behavior that blocks until released or cancelled.
type Gate struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	calls   int
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

// Behavior returns the gate behavior. It returns its input once released.
func (g *Gate) Behavior() work.Behavior {
	return func(ctx context.Context, in work.Data) (work.Data, error) {
		g.mu.Lock()
		g.calls++
		g.mu.Unlock()

		select {
		case g.started <- struct{}{}:
		default:
		}

		select {
		case <-g.release:
			return in, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitStarted waits for the behavior to be entered.
func (g *Gate) WaitStarted(t *testing.T) {
	select {
	case <-g.started:
	case <-time.After(5 * time.Second):
		t.Fatal("gate was not entered")
	}
}

// Open releases every current and future call.
func (g *Gate) Open() {
	close(g.release)
}

// Calls returns the number of times the behavior was called.
func (g *Gate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.calls
}
