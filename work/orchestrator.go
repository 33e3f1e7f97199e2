package work

import (
	"context"
	"fmt"
	"sync"

	"github.com/hamba/pkg/log"
	"github.com/hamba/pkg/stats"
	"github.com/hashicorp/go-memdb"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs named chains of jobs.
type Orchestrator struct {
	config  *Config
	log     log.Logger
	statter stats.Statter

	store *store

	ctx    context.Context
	cancel context.CancelFunc

	reqCh  chan func()
	workCh chan *task
	doneCh chan result

	// Owned by the sequencer.
	pending []*task
	running map[string]*task

	workers  errgroup.Group
	loopDone chan struct{}

	shutdownMu sync.Mutex
	shutdownCh chan struct{}
	shutdown   bool
}

// New returns a running orchestrator.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry cannot be nil", ErrInvalidArgument)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ChangeLogSize <= 0 {
		cfg.ChangeLogSize = DefaultChangeLogSize
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = Always
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Null
	}
	statter := cfg.Statter
	if statter == nil {
		statter = stats.Null
	}

	s, err := newStore(cfg.ChangeLogSize)
	if err != nil {
		return nil, fmt.Errorf("work: creating store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		config:     cfg,
		log:        logger,
		statter:    statter,
		store:      s,
		ctx:        ctx,
		cancel:     cancel,
		reqCh:      make(chan func()),
		workCh:     make(chan *task),
		doneCh:     make(chan result),
		running:    make(map[string]*task),
		loopDone:   make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}

	if cfg.Storage != nil {
		if err := o.load(); err != nil {
			cancel()
			return nil, err
		}
	}

	for i := 0; i < cfg.Workers; i++ {
		o.workers.Go(o.worker)
	}

	go o.loop()

	return o, nil
}

// Submit submits a chain, applying its policy when a chain of the same
// name is live.
func (o *Orchestrator) Submit(c Chain) (Handle, error) {
	if err := validateChain(c, o.config.Registry); err != nil {
		return Handle{}, err
	}
	c = c.Clone()

	var (
		h   Handle
		err error
	)
	if doErr := o.do(func() { h, err = o.submit(c) }); doErr != nil {
		return Handle{}, doErr
	}
	return h, err
}

// Cancel cancels the chain with the given name. Cancelling an unknown or
// finished chain does nothing.
func (o *Orchestrator) Cancel(name string) error {
	var err error
	if doErr := o.do(func() { err = o.cancelChain(name) }); doErr != nil {
		return doErr
	}
	return err
}

// Prune removes failed chains and the finished jobs of chains that are no
// longer known. It returns the number of jobs removed.
func (o *Orchestrator) Prune() (int, error) {
	var (
		n   int
		err error
	)
	if doErr := o.do(func() { n, err = o.prune() }); doErr != nil {
		return 0, doErr
	}
	return n, err
}

// Chain returns the chain with the given name.
func (o *Orchestrator) Chain(name string) (ChainInfo, error) {
	rec, err := o.store.chainByName(name)
	if err != nil {
		return ChainInfo{}, err
	}
	if rec == nil {
		return ChainInfo{}, ErrUnknownChain
	}
	return o.chainInfo(rec)
}

func (o *Orchestrator) chainInfo(rec *ChainRecord) (ChainInfo, error) {
	jobs, err := o.store.jobsByChain(nil, rec.ID)
	if err != nil {
		return ChainInfo{}, err
	}

	return ChainInfo{
		ID:     rec.ID,
		Name:   rec.Name,
		Policy: rec.Policy,
		State:  rec.State,
		Jobs:   jobs,
	}, nil
}

// Chains returns the chains known to the orchestrator.
func (o *Orchestrator) Chains() ([]ChainInfo, error) {
	recs, err := o.store.chains(nil)
	if err != nil {
		return nil, err
	}

	infos := make([]ChainInfo, 0, len(recs))
	for _, rec := range recs {
		info, err := o.chainInfo(rec)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Statuses returns the current status of the jobs carrying the tag.
func (o *Orchestrator) Statuses(tag string) ([]Status, error) {
	jobs, _, err := o.store.jobsByTag(nil, tag)
	return jobs, err
}

// Save saves the chain and job tables to the configured storage.
func (o *Orchestrator) Save() error {
	if o.config.Storage == nil {
		return nil
	}

	t, err := o.store.table()
	if err != nil {
		return err
	}
	if err := o.config.Storage.Save(t); err != nil {
		return fmt.Errorf("work: saving table: %w", err)
	}
	return nil
}

// Close stops the orchestrator. Running jobs are asked to stop and waited
// for, then the tables are saved.
func (o *Orchestrator) Close() error {
	o.shutdownMu.Lock()
	defer o.shutdownMu.Unlock()

	if o.shutdown {
		return nil
	}

	o.shutdown = true
	close(o.shutdownCh)

	<-o.loopDone
	o.cancel()
	_ = o.workers.Wait()

	return o.Save()
}

// do runs fn on the sequencer and waits for it to finish.
func (o *Orchestrator) do(fn func()) error {
	done := make(chan struct{})
	req := func() {
		defer close(done)
		fn()
	}

	select {
	case o.reqCh <- req:
	case <-o.shutdownCh:
		return ErrClosed
	}

	<-done
	return nil
}

func (o *Orchestrator) load() error {
	t, err := o.config.Storage.Load()
	if err != nil {
		return fmt.Errorf("work: loading table: %w", err)
	}
	if t == nil {
		return nil
	}

	// Jobs that were running when the table was saved run again.
	for _, j := range t.Jobs {
		if j.State == Running {
			j.State = Enqueued
		}
	}

	if err := o.store.restore(t); err != nil {
		return fmt.Errorf("work: restoring table: %w", err)
	}

	for _, rec := range t.Chains {
		if rec.State != ChainRunning {
			continue
		}

		jobs, err := o.store.jobsByChain(nil, rec.ID)
		if err != nil {
			return err
		}
		o.resume(rec, jobs)
	}
	return nil
}

// Handle refers to a submitted chain.
type Handle struct {
	ID     string
	Name   string
	JobIDs []string

	o *Orchestrator
}

// Statuses returns the current status of the chain jobs in stage order.
func (h Handle) Statuses() ([]Status, error) {
	return h.o.store.jobsByChain(nil, h.ID)
}

// Wait waits until every job of the chain is finished, returning the
// final state of the chain.
func (h Handle) Wait(ctx context.Context) (ChainState, error) {
	for {
		ws := memdb.NewWatchSet()
		jobs, err := h.o.store.jobsByChain(ws, h.ID)
		if err != nil {
			return ChainRunning, err
		}
		if len(jobs) == 0 {
			return ChainCancelled, ErrUnknownChain
		}

		state := chainState(jobs)
		if state.Terminal() {
			return state, nil
		}

		if err := ws.WatchCtx(ctx); err != nil {
			return state, err
		}
	}
}

func newHandle(o *Orchestrator, rec *ChainRecord) Handle {
	ids := make([]string, len(rec.Stages))
	for i, j := range rec.Stages {
		ids[i] = j.ID
	}

	return Handle{
		ID:     rec.ID,
		Name:   rec.Name,
		JobIDs: ids,
		o:      o,
	}
}
