package work

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-memdb"
)

// change is an entry in the change log. Each committed write that touches
// jobs appends exactly one change.
type change struct {
	Seq     uint64
	Index   uint64
	Jobs    []Status
	Deleted []Status
}

func changesTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableChanges,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.UintFieldIndex{
					Field: "Seq",
				},
			},
		},
	}
}

// trimChanges deletes up to the n oldest changes, keeping every change
// after upTo.
func trimChanges(tx *memdb.Txn, n int, upTo uint64) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	iter, err := tx.Get(tableChanges, "id")
	if err != nil {
		return 0, err
	}

	var old []interface{}
	for raw := iter.Next(); raw != nil && len(old) < n; raw = iter.Next() {
		if raw.(*change).Seq > upTo {
			break
		}
		old = append(old, raw)
	}
	for _, raw := range old {
		if err := tx.Delete(tableChanges, raw); err != nil {
			return 0, fmt.Errorf("failed trimming changes: %w", err)
		}
	}
	return len(old), nil
}

// changesSince returns the changes after seq in order. The returned watch
// channel is closed when a new change is appended. ok is false when the
// change after seq is no longer retained.
func (s *store) changesSince(seq uint64) (changes []*change, watch <-chan struct{}, ok bool, err error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	watch, raw, err := tx.FirstWatch(tableIndex, "id", tableChanges)
	if err != nil {
		return nil, nil, false, fmt.Errorf("index lookup failed: %w", err)
	}
	last := uint64(0)
	if raw != nil {
		last = raw.(*IndexEntry).Index
	}
	if last <= seq {
		return nil, watch, true, nil
	}

	iter, err := tx.LowerBound(tableChanges, "id", seq+1)
	if err != nil {
		return nil, nil, false, fmt.Errorf("change lookup failed: %w", err)
	}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		changes = append(changes, raw.(*change))
	}

	if len(changes) == 0 || changes[0].Seq != seq+1 {
		return nil, watch, false, nil
	}
	return changes, watch, true, nil
}

// register adds a subscriber cursor. Until the first ack, no change is
// trimmed.
func (s *store) register() uint64 {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	s.cursorID++
	s.cursors[s.cursorID] = 0
	return s.cursorID
}

// ack records that the subscriber has read every change up to seq.
func (s *store) ack(id, seq uint64) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	if _, ok := s.cursors[id]; !ok {
		return
	}
	s.cursors[id] = seq
}

func (s *store) unregister(id uint64) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	delete(s.cursors, id)
}

// lowCursor returns the last change read by every subscriber.
func (s *store) lowCursor() uint64 {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	low := uint64(math.MaxUint64)
	for _, seq := range s.cursors {
		if seq < low {
			low = seq
		}
	}
	return low
}
