package work

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

// task is a released stage waiting for, or holding, a worker.
type task struct {
	jobID     string
	chainID   string
	chainName string
	stage     int
	kind      Kind
	input     Data
	cons      []Constraint

	ctx    context.Context
	cancel context.CancelFunc

	waitingSince time.Time
	started      time.Time
}

// loop is the single writer of the store. Every state transition happens
// here, in the order it is committed.
func (o *Orchestrator) loop() {
	defer close(o.loopDone)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		// The watch must be taken before constraints are evaluated, so a
		// change made during evaluation still wakes the loop.
		envCh := o.config.Evaluator.Watch()

		var (
			workCh chan *task
			next   *task
		)
		if t := o.nextReady(); t != nil {
			workCh = o.workCh
			next = t
		}

		if timer != nil {
			timer.Stop()
			timer = nil
		}
		var timeoutCh <-chan time.Time
		if d, ok := o.nextDeadline(); ok {
			timer = time.NewTimer(time.Until(d))
			timeoutCh = timer.C
		}

		select {
		case fn := <-o.reqCh:
			fn()

		case workCh <- next:
			o.start(next)

		case res := <-o.doneCh:
			o.complete(res)

		case <-envCh:
			o.log.Debug("work: environment changed, evaluating constraints", "pending", len(o.pending))

		case <-timeoutCh:
			o.expire(time.Now())

		case <-o.shutdownCh:
			return
		}
	}
}

// nextReady returns the first pending task whose constraints hold.
func (o *Orchestrator) nextReady() *task {
	var ready *task
	for _, t := range o.pending {
		if satisfied(o.config.Evaluator, t.cons) {
			t.waitingSince = time.Time{}
			if ready == nil {
				ready = t
			}
			continue
		}

		if t.waitingSince.IsZero() {
			t.waitingSince = time.Now()
		}
	}
	return ready
}

func (o *Orchestrator) nextDeadline() (time.Time, bool) {
	if o.config.ConstraintTimeout <= 0 {
		return time.Time{}, false
	}

	var (
		deadline time.Time
		found    bool
	)
	for _, t := range o.pending {
		if t.waitingSince.IsZero() {
			continue
		}

		d := t.waitingSince.Add(o.config.ConstraintTimeout)
		if !found || d.Before(deadline) {
			deadline = d
			found = true
		}
	}
	return deadline, found
}

func (o *Orchestrator) submit(c Chain) (Handle, error) {
	existing, err := o.store.chainByName(c.Name)
	if err != nil {
		return Handle{}, err
	}

	live := existing != nil && existing.State == ChainRunning
	if live {
		switch c.Policy {
		case KeepExisting:
			o.inc("chain.kept")
			o.log.Debug("work: chain is live, keeping existing", "chain", c.Name)
			return newHandle(o, existing), nil

		case FailIfExists:
			o.inc("chain.rejected")
			return Handle{}, fmt.Errorf("%w: %q", ErrDuplicateChainName, c.Name)
		}
	}

	if err := o.ensureUniqueIDs(&c); err != nil {
		return Handle{}, err
	}

	rec := &ChainRecord{
		ID:     ksuid.New().String(),
		Name:   c.Name,
		Policy: c.Policy,
		Stages: c.Stages,
		State:  ChainRunning,
	}

	tx := o.store.write()
	if existing != nil {
		if live {
			if err := o.cancelJobs(tx, existing.ID); err != nil {
				tx.Abort()
				return Handle{}, err
			}
		}
		if err := tx.deleteChain(existing); err != nil {
			tx.Abort()
			return Handle{}, err
		}
	}

	if err := tx.ensureChain(rec); err != nil {
		tx.Abort()
		return Handle{}, err
	}
	for i, j := range rec.Stages {
		st := &Status{
			JobID:     j.ID,
			ChainID:   rec.ID,
			ChainName: rec.Name,
			Stage:     i,
			Kind:      j.Kind,
			State:     Enqueued,
			Tags:      j.Tags,
		}
		if err := tx.ensureJob(st); err != nil {
			tx.Abort()
			return Handle{}, err
		}
	}
	if err := o.store.commit(tx); err != nil {
		return Handle{}, err
	}

	if live {
		o.inc("chain.replaced")
		o.log.Info("work: chain replaced", "chain", c.Name, "old", existing.ID, "new", rec.ID)
	}
	o.inc("chain.submitted")
	o.statter.Inc("job.enqueued", int64(len(rec.Stages)), 1.0)
	o.log.Info("work: chain submitted", "chain", rec.Name, "id", rec.ID, "stages", len(rec.Stages))

	o.release(rec, 0, rec.Stages[0].Input)

	return newHandle(o, rec), nil
}

// ensureUniqueIDs gives the stages fresh ids if any of them is already
// known to the store, so a chain value can be submitted more than once.
func (o *Orchestrator) ensureUniqueIDs(c *Chain) error {
	for _, j := range c.Stages {
		existing, err := o.store.job(j.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}

		for i := range c.Stages {
			c.Stages[i].ID = ksuid.New().String()
		}
		return nil
	}
	return nil
}

func (o *Orchestrator) cancelChain(name string) error {
	rec, err := o.store.chainByName(name)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	tx := o.store.write()
	if rec.State == ChainRunning {
		if err := o.cancelJobs(tx, rec.ID); err != nil {
			tx.Abort()
			return err
		}
	}
	if err := tx.deleteChain(rec); err != nil {
		tx.Abort()
		return err
	}
	if err := o.store.commit(tx); err != nil {
		return err
	}

	o.log.Info("work: chain cancelled", "chain", name, "id", rec.ID)
	return nil
}

// cancelJobs moves every unfinished job of the chain to cancelled and
// drops its task.
func (o *Orchestrator) cancelJobs(tx *writeTxn, chainID string) error {
	jobs, err := jobsByChainTx(tx.Txn, nil, chainID)
	if err != nil {
		return err
	}

	for i := range jobs {
		st := jobs[i]
		if st.State.Terminal() {
			continue
		}

		st.State = Cancelled
		if err := tx.ensureJob(&st); err != nil {
			return err
		}
		o.dropTask(st.JobID)
		o.inc("job.cancelled")
	}
	return nil
}

func (o *Orchestrator) prune() (int, error) {
	recs, err := o.store.chains(nil)
	if err != nil {
		return 0, err
	}

	tx := o.store.write()
	known := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if rec.State == ChainRunning {
			known[rec.ID] = true
			continue
		}

		if err := tx.deleteChain(rec); err != nil {
			tx.Abort()
			return 0, err
		}
	}

	jobs, err := o.store.allJobs()
	if err != nil {
		tx.Abort()
		return 0, err
	}

	var n int
	for _, j := range jobs {
		if known[j.ChainID] || !j.State.Terminal() {
			continue
		}

		if err := tx.deleteJob(j.JobID); err != nil {
			tx.Abort()
			return 0, err
		}
		n++
	}

	if err := o.store.commit(tx); err != nil {
		return 0, err
	}

	o.log.Debug("work: pruned jobs", "jobs", n)
	return n, nil
}

// release queues the stage of the chain to run with the given input.
func (o *Orchestrator) release(rec *ChainRecord, stage int, in Data) {
	j := rec.Stages[stage]

	ctx, cancel := context.WithCancel(o.ctx)
	o.pending = append(o.pending, &task{
		jobID:     j.ID,
		chainID:   rec.ID,
		chainName: rec.Name,
		stage:     stage,
		kind:      j.Kind,
		input:     in,
		cons:      j.Constraints,
		ctx:       ctx,
		cancel:    cancel,
	})
}

// resume releases the first unfinished stage of a restored chain.
func (o *Orchestrator) resume(rec *ChainRecord, jobs []Status) {
	var prev Data
	for _, st := range jobs {
		if st.State == Succeeded {
			prev = st.Output
			continue
		}
		if st.State != Enqueued {
			return
		}

		in := rec.Stages[st.Stage].Input
		if st.Stage > 0 {
			in = in.merge(prev)
		}
		o.release(rec, st.Stage, in)
		o.log.Info("work: chain resumed", "chain", rec.Name, "stage", st.Stage)
		return
	}
}

// start marks a task handed to a worker as running.
func (o *Orchestrator) start(t *task) {
	o.removePending(t.jobID)
	o.running[t.jobID] = t
	t.started = time.Now()

	if err := o.transition(t.jobID, func(st *Status) { st.State = Running }); err != nil {
		o.log.Error("work: could not mark job running", "job", t.jobID, "error", err)
		return
	}
	o.inc("job.running")
	o.log.Debug("work: job running", "chain", t.chainName, "job", t.jobID, "stage", t.stage)
}

// complete records the result of a task.
func (o *Orchestrator) complete(res result) {
	t := res.task
	delete(o.running, t.jobID)
	t.cancel()

	st, err := o.store.job(t.jobID)
	if err != nil {
		o.log.Error("work: job lookup failed", "job", t.jobID, "error", err)
		return
	}
	if st == nil || st.State != Running {
		// The chain was cancelled or replaced while the job ran.
		o.log.Debug("work: discarding result of cancelled job", "chain", t.chainName, "job", t.jobID)
		return
	}

	o.statter.Timing("job.duration", res.dur, 1.0)

	if res.err != nil {
		o.failChain(t, res.err)
		return
	}
	o.succeed(t, res.output)
}

func (o *Orchestrator) succeed(t *task, out Data) {
	rec, err := o.chainByID(t.chainName, t.chainID)
	if err != nil || rec == nil {
		o.log.Error("work: chain lookup failed", "chain", t.chainName, "error", err)
		return
	}

	tx := o.store.write()
	st, err := jobTx(tx.Txn, t.jobID)
	if err != nil || st == nil {
		tx.Abort()
		o.log.Error("work: job lookup failed", "job", t.jobID, "error", err)
		return
	}
	done := st.Clone()
	done.State = Succeeded
	done.Output = out.Clone()
	if err := tx.ensureJob(&done); err != nil {
		tx.Abort()
		o.log.Error("work: could not mark job succeeded", "job", t.jobID, "error", err)
		return
	}

	last := t.stage == len(rec.Stages)-1
	if last {
		// Finished chains leave the live set. Their jobs stay queryable
		// until pruned.
		if err := tx.deleteChain(rec); err != nil {
			tx.Abort()
			o.log.Error("work: could not remove chain", "chain", rec.Name, "error", err)
			return
		}
	}

	if err := o.store.commit(tx); err != nil {
		o.log.Error("work: could not commit job result", "job", t.jobID, "error", err)
		return
	}
	o.inc("job.succeeded")

	if last {
		o.inc("chain.succeeded")
		o.log.Info("work: chain succeeded", "chain", rec.Name, "id", rec.ID)
		return
	}

	next := t.stage + 1
	o.release(rec, next, rec.Stages[next].Input.merge(out))
}

// failChain fails the task's job, cancelling the rest of its chain.
func (o *Orchestrator) failChain(t *task, cause error) {
	rec, err := o.chainByID(t.chainName, t.chainID)
	if err != nil || rec == nil {
		o.log.Error("work: chain lookup failed", "chain", t.chainName, "error", err)
		return
	}

	tx := o.store.write()
	st, err := jobTx(tx.Txn, t.jobID)
	if err != nil || st == nil {
		tx.Abort()
		o.log.Error("work: job lookup failed", "job", t.jobID, "error", err)
		return
	}
	failed := st.Clone()
	failed.State = Failed
	failed.Error = cause.Error()
	if err := tx.ensureJob(&failed); err != nil {
		tx.Abort()
		o.log.Error("work: could not mark job failed", "job", t.jobID, "error", err)
		return
	}
	o.dropTask(t.jobID)

	if err := o.cancelJobs(tx, rec.ID); err != nil {
		tx.Abort()
		o.log.Error("work: could not cancel chain jobs", "chain", rec.Name, "error", err)
		return
	}

	updated := rec.clone()
	updated.State = ChainFailed
	if err := tx.ensureChain(&updated); err != nil {
		tx.Abort()
		o.log.Error("work: could not mark chain failed", "chain", rec.Name, "error", err)
		return
	}

	if err := o.store.commit(tx); err != nil {
		o.log.Error("work: could not commit chain failure", "chain", rec.Name, "error", err)
		return
	}

	o.inc("job.failed")
	o.inc("chain.failed")
	o.log.Error("work: chain failed", "chain", rec.Name, "job", t.jobID, "stage", t.stage, "error", cause)
}

// expire fails the tasks that waited too long for their constraints.
func (o *Orchestrator) expire(now time.Time) {
	if o.config.ConstraintTimeout <= 0 {
		return
	}

	var expired []*task
	for _, t := range o.pending {
		if t.waitingSince.IsZero() || now.Sub(t.waitingSince) < o.config.ConstraintTimeout {
			continue
		}
		expired = append(expired, t)
	}

	for _, t := range expired {
		st, err := o.store.job(t.jobID)
		if err != nil || st == nil || st.State.Terminal() {
			o.dropTask(t.jobID)
			continue
		}

		o.failChain(t, fmt.Errorf("%w: waited %s for %v", ErrConstraintTimeout, o.config.ConstraintTimeout, t.cons))
	}
}

// transition applies fn to a copy of the job and stores it.
func (o *Orchestrator) transition(jobID string, fn func(st *Status)) error {
	tx := o.store.write()

	st, err := jobTx(tx.Txn, jobID)
	if err != nil {
		tx.Abort()
		return err
	}
	if st == nil {
		tx.Abort()
		return fmt.Errorf("job %q not found", jobID)
	}

	updated := st.Clone()
	fn(&updated)
	if err := tx.ensureJob(&updated); err != nil {
		tx.Abort()
		return err
	}
	return o.store.commit(tx)
}

// chainByID returns the live record of the chain if it is still the one
// with the given id.
func (o *Orchestrator) chainByID(name, id string) (*ChainRecord, error) {
	rec, err := o.store.chainByName(name)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.ID != id {
		return nil, nil
	}
	return rec, nil
}

// dropTask forgets a pending or running task, cancelling its context.
func (o *Orchestrator) dropTask(jobID string) {
	if t, ok := o.running[jobID]; ok {
		t.cancel()
		delete(o.running, jobID)
	}
	if t := o.removePending(jobID); t != nil {
		t.cancel()
	}
}

func (o *Orchestrator) removePending(jobID string) *task {
	for i, t := range o.pending {
		if t.jobID != jobID {
			continue
		}

		o.pending = append(o.pending[:i], o.pending[i+1:]...)
		return t
	}
	return nil
}

func (o *Orchestrator) inc(name string) {
	o.statter.Inc(name, 1, 1.0)
}
