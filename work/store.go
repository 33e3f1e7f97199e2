package work

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-memdb"
)

const (
	tableIndex   = "index"
	tableChains  = "chains"
	tableJobs    = "jobs"
	tableChanges = "changes"
)

// store holds the chain and job tables. Writes are only made by the
// sequencer; readers use their own read transactions.
type store struct {
	schema *memdb.DBSchema
	db     *memdb.MemDB

	// Owned by the writer.
	index       uint64
	seq         uint64
	changeLimit int
	changeCount int

	// Last change read per subscriber. Changes after the lowest of these
	// are never trimmed.
	cursorMu sync.Mutex
	cursorID uint64
	cursors  map[uint64]uint64
}

func newStore(changeLimit int) (*store, error) {
	dbSchema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableIndex:   indexTableSchema(),
			tableChains:  chainsTableSchema(),
			tableJobs:    jobsTableSchema(),
			tableChanges: changesTableSchema(),
		},
	}

	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return nil, err
	}

	if changeLimit <= 0 {
		changeLimit = 1
	}

	s := &store{
		schema:      dbSchema,
		db:          db,
		changeLimit: changeLimit,
		cursors:     make(map[uint64]uint64),
	}

	// Seed the index entries so watchers always have something to watch.
	tx := db.Txn(true)
	defer tx.Abort()
	for _, tbl := range []string{tableChains, tableJobs, tableChanges} {
		if err := updateIndex(tx, tbl, 0); err != nil {
			return nil, err
		}
	}
	tx.Commit()

	return s, nil
}

// IndexEntry keeps a record of the last index per-table.
type IndexEntry struct {
	Table string
	Index uint64
}

// indexTableSchema returns a new table schema used for tracking the
// last index of each table.
func indexTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableIndex,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Table",
					Lowercase: true,
				},
			},
		},
	}
}

func updateIndex(tx *memdb.Txn, tbl string, idx uint64) error {
	return tx.Insert(tableIndex, &IndexEntry{Table: tbl, Index: idx})
}

func maxIndex(tx *memdb.Txn, tables ...string) uint64 {
	var max uint64

	for _, table := range tables {
		ti, err := tx.First(tableIndex, "id", table)
		if err != nil {
			continue
		}

		if idx, ok := ti.(*IndexEntry); ok && idx.Index > max {
			max = idx.Index
		}
	}
	return max
}

// writeTxn is a write transaction that tracks the job changes it makes.
type writeTxn struct {
	*memdb.Txn

	idx     uint64
	tables  map[string]bool
	changed []Status
	deleted []Status
}

// write starts a write transaction. It must only be called by the writer.
func (s *store) write() *writeTxn {
	return &writeTxn{
		Txn:    s.db.Txn(true),
		idx:    s.index + 1,
		tables: make(map[string]bool),
	}
}

// commit commits the transaction, appending its job changes to the
// change log.
func (s *store) commit(tx *writeTxn) error {
	if len(tx.tables) == 0 {
		tx.Abort()
		return nil
	}

	for tbl := range tx.tables {
		if err := updateIndex(tx.Txn, tbl, tx.idx); err != nil {
			tx.Abort()
			return fmt.Errorf("failed updating index: %w", err)
		}
	}

	if len(tx.changed) > 0 || len(tx.deleted) > 0 {
		ch := &change{
			Seq:     s.seq + 1,
			Index:   tx.idx,
			Jobs:    tx.changed,
			Deleted: tx.deleted,
		}
		if err := tx.Insert(tableChanges, ch); err != nil {
			tx.Abort()
			return fmt.Errorf("failed inserting change: %w", err)
		}
		if err := updateIndex(tx.Txn, tableChanges, ch.Seq); err != nil {
			tx.Abort()
			return fmt.Errorf("failed updating index: %w", err)
		}

		trimmed, err := trimChanges(tx.Txn, s.changeCount+1-s.changeLimit, s.lowCursor())
		if err != nil {
			tx.Abort()
			return err
		}

		s.seq = ch.Seq
		s.changeCount += 1 - trimmed
	}

	tx.Commit()
	s.index = tx.idx
	return nil
}

// Table is a point-in-time copy of the chain and job tables.
type Table struct {
	Index  uint64
	Chains []*ChainRecord
	Jobs   []*Status
}

// table returns a copy of the chain and job tables.
func (s *store) table() (*Table, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	t := &Table{Index: maxIndex(tx, tableChains, tableJobs)}

	iter, err := tx.Get(tableChains, "id")
	if err != nil {
		return nil, err
	}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		c := raw.(*ChainRecord).clone()
		t.Chains = append(t.Chains, &c)
	}

	iter, err = tx.Get(tableJobs, "id")
	if err != nil {
		return nil, err
	}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		j := raw.(*Status).Clone()
		t.Jobs = append(t.Jobs, &j)
	}

	return t, nil
}

// restore loads the table into the store in a single transaction. It must
// be called before the writer starts.
func (s *store) restore(t *Table) error {
	tx := s.db.Txn(true)
	defer tx.Abort()

	for _, c := range t.Chains {
		rec := c.clone()
		if err := tx.Insert(tableChains, &rec); err != nil {
			return fmt.Errorf("chain insert failed: %w", err)
		}
	}
	for _, j := range t.Jobs {
		st := j.Clone()
		if err := tx.Insert(tableJobs, &st); err != nil {
			return fmt.Errorf("job insert failed: %w", err)
		}
	}
	for _, tbl := range []string{tableChains, tableJobs} {
		if err := updateIndex(tx, tbl, t.Index); err != nil {
			return fmt.Errorf("index insert failed: %w", err)
		}
	}

	tx.Commit()
	if t.Index > s.index {
		s.index = t.Index
	}
	return nil
}
