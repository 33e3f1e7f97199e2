package work_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nrwiersma/workchain/storage"
	"github.com/nrwiersma/workchain/work"
	"github.com/nrwiersma/workchain/work/worktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kindEcho  work.Kind = "echo"
	kindBlock work.Kind = "block"
	kindFail  work.Kind = "fail"
	kindPanic work.Kind = "panic"
	kindCount work.Kind = "count"
)

func newOrchestrator(t *testing.T, cfgFn func(cfg *work.Config)) (*work.Orchestrator, *worktest.Gate, *int32) {
	t.Helper()

	gate := worktest.NewGate()
	var count int32

	o, _ := worktest.NewOrchestrator(t, func(cfg *work.Config) {
		cfg.Registry.Register(kindEcho, worktest.Echo())
		cfg.Registry.Register(kindBlock, gate.Behavior())
		cfg.Registry.Register(kindFail, func(context.Context, work.Data) (work.Data, error) {
			return nil, errors.New("boom")
		})
		cfg.Registry.Register(kindPanic, func(context.Context, work.Data) (work.Data, error) {
			panic("oops")
		})
		cfg.Registry.Register(kindCount, func(_ context.Context, in work.Data) (work.Data, error) {
			atomic.AddInt32(&count, 1)
			return in, nil
		})

		if cfgFn != nil {
			cfgFn(cfg)
		}
	})
	t.Cleanup(func() {
		worktest.Close(t, o)
	})

	return o, gate, &count
}

func build(t *testing.T, name string, policy work.Policy, kinds ...work.Kind) work.Chain {
	t.Helper()

	b := work.Begin(name, policy, work.NewJob(kinds[0], work.WithTags("test")))
	for _, k := range kinds[1:] {
		b.Then(work.NewJob(k, work.WithTags("test")))
	}
	c, err := b.Build()
	require.NoError(t, err)
	return c
}

func TestNew_RequiresRegistry(t *testing.T) {
	cfg := work.NewConfig()
	cfg.Registry = nil

	_, err := work.New(cfg)

	assert.ErrorIs(t, err, work.ErrInvalidArgument)
}

func TestOrchestrator_RunsChainInOrder(t *testing.T) {
	o, _, _ := newOrchestrator(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snaps := o.Subscribe(ctx, "test")
	<-snaps

	c := build(t, "ordered", work.Replace, kindEcho, kindEcho, kindEcho)
	h, err := o.Submit(c)
	require.NoError(t, err)

	for {
		var snap []work.Status
		select {
		case snap = <-snaps:
		case <-ctx.Done():
			t.Fatal("chain did not finish")
		}

		byStage := make(map[int]work.Status, len(snap))
		for _, st := range snap {
			byStage[st.Stage] = st
		}
		for _, st := range snap {
			if st.Stage == 0 || st.State == work.Enqueued {
				continue
			}
			assert.Equal(t, work.Succeeded, byStage[st.Stage-1].State, "stage %d is %s before stage %d succeeded", st.Stage, st.State, st.Stage-1)
		}

		if len(snap) == 3 && snap[2].State == work.Succeeded {
			break
		}
	}

	assert.Equal(t, work.ChainSucceeded, worktest.Wait(t, h))
}

func TestOrchestrator_PassesOutputToNextStage(t *testing.T) {
	o, _, _ := newOrchestrator(t, func(cfg *work.Config) {
		cfg.Registry.Register("first", func(_ context.Context, in work.Data) (work.Data, error) {
			return work.StringData("seen", in.String("image_uri"), "stage", "first"), nil
		})
	})

	c, err := work.Begin("pass", work.Replace, work.NewJob("first")).
		Input(work.StringData("image_uri", "uri://a")).
		Then(work.NewJob(kindEcho, work.WithInput(work.StringData("stage", "seed", "level", "2")))).
		Build()
	require.NoError(t, err)

	h, err := o.Submit(c)
	require.NoError(t, err)
	require.Equal(t, work.ChainSucceeded, worktest.Wait(t, h))

	statuses, err := h.Statuses()
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	out := statuses[1].Output
	assert.Equal(t, "uri://a", out.String("seen"))
	assert.Equal(t, "first", out.String("stage"))
	assert.Equal(t, "2", out.String("level"))
	assert.NotContains(t, out, "image_uri")
}

func TestOrchestrator_SubmitRejectsUnknownKind(t *testing.T) {
	o, _, _ := newOrchestrator(t, nil)

	_, err := o.Submit(build(t, "unknown", work.Replace, kindEcho, "nope"))

	assert.ErrorIs(t, err, work.ErrInvalidArgument)
	assert.ErrorIs(t, err, work.ErrUnknownKind)
	statuses, err := o.Statuses("test")
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestOrchestrator_SubmitRejectsEmptyChain(t *testing.T) {
	o, _, _ := newOrchestrator(t, nil)

	_, err := o.Submit(work.Chain{Name: "empty"})

	assert.ErrorIs(t, err, work.ErrEmptyChain)
}

func TestOrchestrator_ReplaceCancelsLiveChain(t *testing.T) {
	second := worktest.NewGate()
	o, gate, _ := newOrchestrator(t, func(cfg *work.Config) {
		cfg.Registry.Register("second-block", second.Behavior())
	})

	h1, err := o.Submit(build(t, "x", work.Replace, kindBlock, kindEcho))
	require.NoError(t, err)
	gate.WaitStarted(t)

	h2, err := o.Submit(build(t, "x", work.Replace, kindEcho, "second-block"))
	require.NoError(t, err)

	assert.Equal(t, work.ChainCancelled, worktest.Wait(t, h1))
	old, err := h1.Statuses()
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, work.Cancelled, old[0].State)
	assert.Equal(t, work.Cancelled, old[1].State)

	second.WaitStarted(t)
	info, err := o.Chain("x")
	require.NoError(t, err)
	assert.Equal(t, h2.ID, info.ID)
	chains, err := o.Chains()
	require.NoError(t, err)
	assert.Len(t, chains, 1)

	second.Open()
	assert.Equal(t, work.ChainSucceeded, worktest.Wait(t, h2))
}

func TestOrchestrator_ReplaceDiscardsResultOfCancelledJob(t *testing.T) {
	o, gate, _ := newOrchestrator(t, nil)

	h1, err := o.Submit(build(t, "x", work.Replace, kindBlock, kindEcho))
	require.NoError(t, err)
	gate.WaitStarted(t)

	require.NoError(t, o.Cancel("x"))
	gate.Open()

	assert.Equal(t, work.ChainCancelled, worktest.Wait(t, h1))
	statuses, err := h1.Statuses()
	require.NoError(t, err)
	assert.Equal(t, work.Cancelled, statuses[0].State)
	assert.Nil(t, statuses[0].Output)
	assert.Equal(t, work.Cancelled, statuses[1].State)
	assert.Equal(t, 1, gate.Calls())
}

func TestOrchestrator_FailIfExists(t *testing.T) {
	o, gate, _ := newOrchestrator(t, nil)

	_, err := o.Submit(build(t, "x", work.Replace, kindBlock))
	require.NoError(t, err)
	gate.WaitStarted(t)

	_, err = o.Submit(build(t, "x", work.FailIfExists, kindEcho, kindEcho))

	assert.ErrorIs(t, err, work.ErrDuplicateChainName)
	statuses, err := o.Statuses("test")
	require.NoError(t, err)
	assert.Len(t, statuses, 1)
	gate.Open()
}

func TestOrchestrator_KeepExisting(t *testing.T) {
	o, gate, _ := newOrchestrator(t, nil)

	h1, err := o.Submit(build(t, "x", work.Replace, kindBlock))
	require.NoError(t, err)
	gate.WaitStarted(t)

	h2, err := o.Submit(build(t, "x", work.KeepExisting, kindEcho))
	require.NoError(t, err)

	assert.Equal(t, h1.ID, h2.ID)
	assert.Equal(t, h1.JobIDs, h2.JobIDs)
	statuses, err := o.Statuses("test")
	require.NoError(t, err)
	assert.Len(t, statuses, 1)

	gate.Open()
	assert.Equal(t, work.ChainSucceeded, worktest.Wait(t, h1))
}

func TestOrchestrator_SubmitSameChainTwice(t *testing.T) {
	o, _, _ := newOrchestrator(t, nil)
	c := build(t, "twice", work.Replace, kindEcho)

	h1, err := o.Submit(c)
	require.NoError(t, err)
	require.Equal(t, work.ChainSucceeded, worktest.Wait(t, h1))

	h2, err := o.Submit(c)
	require.NoError(t, err)

	assert.NotEqual(t, h1.JobIDs, h2.JobIDs)
	assert.Equal(t, work.ChainSucceeded, worktest.Wait(t, h2))
}

func TestOrchestrator_CancelUnknownChain(t *testing.T) {
	o, _, _ := newOrchestrator(t, nil)

	err := o.Cancel("missing")

	assert.NoError(t, err)
	chains, err := o.Chains()
	require.NoError(t, err)
	assert.Empty(t, chains)
	_, err = o.Chain("missing")
	assert.ErrorIs(t, err, work.ErrUnknownChain)
}

func TestOrchestrator_ChainsListsEveryLiveChain(t *testing.T) {
	o, gate, _ := newOrchestrator(t, nil)

	h1, err := o.Submit(build(t, "a", work.Replace, kindBlock))
	require.NoError(t, err)
	gate.WaitStarted(t)
	h2, err := o.Submit(build(t, "b", work.Replace, kindFail, kindEcho))
	require.NoError(t, err)
	require.Equal(t, work.ChainFailed, worktest.Wait(t, h2))

	chains, err := o.Chains()

	require.NoError(t, err)
	require.Len(t, chains, 2)
	byName := map[string]work.ChainInfo{}
	for _, c := range chains {
		byName[c.Name] = c
	}
	assert.Equal(t, h1.ID, byName["a"].ID)
	assert.Len(t, byName["a"].Jobs, 1)
	assert.Equal(t, work.ChainFailed, byName["b"].State)
	assert.Len(t, byName["b"].Jobs, 2)
	gate.Open()
}

func TestOrchestrator_FailedStageCancelsRest(t *testing.T) {
	o, _, count := newOrchestrator(t, nil)

	h, err := o.Submit(build(t, "x", work.Replace, kindFail, kindCount, kindCount))
	require.NoError(t, err)

	assert.Equal(t, work.ChainFailed, worktest.Wait(t, h))
	statuses, err := h.Statuses()
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, work.Failed, statuses[0].State)
	assert.Contains(t, statuses[0].Error, "boom")
	assert.Equal(t, work.Cancelled, statuses[1].State)
	assert.Equal(t, work.Cancelled, statuses[2].State)
	assert.Equal(t, int32(0), atomic.LoadInt32(count))

	info, err := o.Chain("x")
	require.NoError(t, err)
	assert.Equal(t, work.ChainFailed, info.State)
}

func TestOrchestrator_RecoversPanics(t *testing.T) {
	o, _, _ := newOrchestrator(t, nil)

	h, err := o.Submit(build(t, "x", work.Replace, kindPanic))
	require.NoError(t, err)

	assert.Equal(t, work.ChainFailed, worktest.Wait(t, h))
	statuses, err := h.Statuses()
	require.NoError(t, err)
	assert.Contains(t, statuses[0].Error, "oops")
}

func TestOrchestrator_Prune(t *testing.T) {
	o, _, _ := newOrchestrator(t, nil)

	h1, err := o.Submit(build(t, "ok", work.Replace, kindEcho))
	require.NoError(t, err)
	require.Equal(t, work.ChainSucceeded, worktest.Wait(t, h1))
	h2, err := o.Submit(build(t, "bad", work.Replace, kindFail, kindEcho))
	require.NoError(t, err)
	require.Equal(t, work.ChainFailed, worktest.Wait(t, h2))

	n, err := o.Prune()

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = o.Chain("bad")
	assert.ErrorIs(t, err, work.ErrUnknownChain)
	statuses, err := o.Statuses("test")
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestOrchestrator_WaitsForConstraints(t *testing.T) {
	env := work.NewEnvironment()
	o, _, _ := newOrchestrator(t, func(cfg *work.Config) {
		cfg.Evaluator = env
	})

	c, err := work.Begin("charge", work.Replace, work.NewJob(kindEcho, work.WithTags("output"))).
		Then(work.NewJob(kindEcho, work.WithTags("output"), work.WithConstraints(work.RequiresCharging))).
		Build()
	require.NoError(t, err)
	h, err := o.Submit(c)
	require.NoError(t, err)

	worktest.WaitForState(t, o, "output", h.JobIDs[0], work.Succeeded)
	time.Sleep(50 * time.Millisecond)
	statuses, err := h.Statuses()
	require.NoError(t, err)
	require.Equal(t, work.Enqueued, statuses[1].State)

	env.Set(work.RequiresCharging, true)

	assert.Equal(t, work.ChainSucceeded, worktest.Wait(t, h))
}

// changingEnv turns charging on while the first charging check is being
// made, reporting the state from before the change.
type changingEnv struct {
	*work.Environment

	once sync.Once
}

func (e *changingEnv) Satisfied(c work.Constraint) bool {
	changed := false
	if c == work.RequiresCharging {
		e.once.Do(func() {
			e.Environment.Set(work.RequiresCharging, true)
			changed = true
		})
	}
	if changed {
		return false
	}
	return e.Environment.Satisfied(c)
}

func TestOrchestrator_ConstraintChangeDuringCheck(t *testing.T) {
	env := &changingEnv{Environment: work.NewEnvironment()}
	o, _, _ := newOrchestrator(t, func(cfg *work.Config) {
		cfg.Evaluator = env
	})

	c, err := work.Begin("charge", work.Replace, work.NewJob(kindEcho, work.WithConstraints(work.RequiresCharging))).Build()
	require.NoError(t, err)
	h, err := o.Submit(c)
	require.NoError(t, err)

	assert.Equal(t, work.ChainSucceeded, worktest.Wait(t, h))
}

func TestOrchestrator_ConstraintTimeout(t *testing.T) {
	o, _, _ := newOrchestrator(t, func(cfg *work.Config) {
		cfg.Evaluator = work.NewEnvironment()
		cfg.ConstraintTimeout = 50 * time.Millisecond
	})

	c, err := work.Begin("charge", work.Replace, work.NewJob(kindEcho, work.WithConstraints(work.RequiresCharging))).
		Then(work.NewJob(kindEcho)).
		Build()
	require.NoError(t, err)
	h, err := o.Submit(c)
	require.NoError(t, err)

	assert.Equal(t, work.ChainFailed, worktest.Wait(t, h))
	statuses, err := h.Statuses()
	require.NoError(t, err)
	assert.Equal(t, work.Failed, statuses[0].State)
	assert.Contains(t, statuses[0].Error, work.ErrConstraintTimeout.Error())
	assert.Equal(t, work.Cancelled, statuses[1].State)
}

func TestOrchestrator_BlurScenario(t *testing.T) {
	o, _, _ := newOrchestrator(t, func(cfg *work.Config) {
		for _, k := range []work.Kind{"cleanup", "transform", "persist"} {
			cfg.Registry.Register(k, worktest.Echo())
		}
	})

	c, err := work.Begin("img1", work.Replace, work.NewJob("cleanup")).
		Then(work.NewJob("transform", work.WithInput(work.StringData("image_uri", "uri://a")))).
		Then(work.NewJob("transform")).
		Then(work.NewJob("persist", work.WithTags("output"))).
		Build()
	require.NoError(t, err)
	require.Len(t, c.Stages, 4)

	h, err := o.Submit(c)
	require.NoError(t, err)
	require.Equal(t, work.ChainSucceeded, worktest.Wait(t, h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snaps := o.Subscribe(ctx, "output")

	var snap []work.Status
	select {
	case snap = <-snaps:
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot")
	}
	require.Len(t, snap, 1)
	assert.Equal(t, h.JobIDs[3], snap[0].JobID)
	assert.Equal(t, work.Succeeded, snap[0].State)
	assert.Equal(t, "uri://a", snap[0].Output.String("image_uri"))
}

func TestOrchestrator_SubmitAfterClose(t *testing.T) {
	o, _ := worktest.NewOrchestrator(t, func(cfg *work.Config) {
		cfg.Registry.Register(kindEcho, worktest.Echo())
	})
	require.NoError(t, o.Close())

	_, err := o.Submit(build(t, "x", work.Replace, kindEcho))

	assert.ErrorIs(t, err, work.ErrClosed)
	assert.NoError(t, o.Close())
}

func TestOrchestrator_ResumesFromStorage(t *testing.T) {
	store := storage.NewMemory()
	gate := worktest.NewGate()

	o1, _ := worktest.NewOrchestrator(t, func(cfg *work.Config) {
		cfg.Storage = store
		cfg.Registry.Register(kindEcho, worktest.Echo())
		cfg.Registry.Register(kindBlock, gate.Behavior())
	})
	h, err := o1.Submit(build(t, "resume", work.Replace, kindEcho, kindBlock, kindEcho))
	require.NoError(t, err)
	gate.WaitStarted(t)
	require.NoError(t, o1.Close())

	o2, _ := worktest.NewOrchestrator(t, func(cfg *work.Config) {
		cfg.Storage = store
		cfg.Registry.Register(kindEcho, worktest.Echo())
		cfg.Registry.Register(kindBlock, worktest.Echo())
	})
	defer worktest.Close(t, o2)

	st := worktest.WaitForState(t, o2, "test", h.JobIDs[2], work.Succeeded)
	assert.Equal(t, 2, st.Stage)
	_, err = o2.Chain("resume")
	assert.ErrorIs(t, err, work.ErrUnknownChain)
}
