package work

import (
	"context"
)

// Subscribe returns a channel of status snapshots of the jobs carrying
// the tag. The first snapshot is the current state, followed by one
// snapshot per committed change touching a tagged job, in commit order.
// The channel is closed when the context is done or the orchestrator is
// closed.
func (o *Orchestrator) Subscribe(ctx context.Context, tag string) <-chan []Status {
	ch := make(chan []Status)

	go func() {
		defer close(ch)

		id := o.store.register()
		defer o.store.unregister(id)

		sub := &subscription{tag: tag, done: o.shutdownCh}
		if err := sub.sync(o.store); err != nil {
			o.log.Error("work: subscription sync failed", "tag", tag, "error", err)
			return
		}
		o.store.ack(id, sub.seq)
		if !sub.send(ctx, ch) {
			return
		}

		for {
			changes, watch, ok, err := o.store.changesSince(sub.seq)
			if err != nil {
				o.log.Error("work: reading changes failed", "tag", tag, "error", err)
				return
			}

			if !ok {
				o.log.Error("work: subscriber missed changes, resyncing", "tag", tag, "seq", sub.seq)
				if err := sub.sync(o.store); err != nil {
					o.log.Error("work: subscription sync failed", "tag", tag, "error", err)
					return
				}
				o.store.ack(id, sub.seq)
				if !sub.send(ctx, ch) {
					return
				}
				continue
			}

			if len(changes) == 0 {
				select {
				case <-watch:
				case <-ctx.Done():
					return
				case <-o.shutdownCh:
					return
				}
				continue
			}

			for _, c := range changes {
				if !sub.apply(c) {
					continue
				}
				if !sub.send(ctx, ch) {
					return
				}
			}
			o.store.ack(id, sub.seq)
		}
	}()

	return ch
}

// subscription is the view of a single subscriber.
type subscription struct {
	tag  string
	seq  uint64
	view map[string]Status
	done <-chan struct{}
}

func (s *subscription) sync(st *store) error {
	jobs, seq, err := st.jobsByTag(nil, s.tag)
	if err != nil {
		return err
	}

	s.seq = seq
	s.view = make(map[string]Status, len(jobs))
	for _, j := range jobs {
		s.view[j.JobID] = j
	}
	return nil
}

// apply applies the change to the view, reporting if a tagged job was
// touched.
func (s *subscription) apply(c *change) bool {
	s.seq = c.Seq

	var touched bool
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if !j.HasTag(s.tag) {
			continue
		}

		s.view[j.JobID] = j.Clone()
		touched = true
	}
	for _, j := range c.Deleted {
		if _, ok := s.view[j.JobID]; !ok {
			continue
		}

		delete(s.view, j.JobID)
		touched = true
	}
	return touched
}

func (s *subscription) snapshot() []Status {
	snap := make([]Status, 0, len(s.view))
	for _, j := range s.view {
		snap = append(snap, j.Clone())
	}
	sortStatuses(snap)
	return snap
}

func (s *subscription) send(ctx context.Context, ch chan<- []Status) bool {
	select {
	case ch <- s.snapshot():
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}
