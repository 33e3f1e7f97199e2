package work

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
)

func jobsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableJobs,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "JobID",
				},
			},
			"chain": {
				Name:         "chain",
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field: "ChainID",
				},
			},
			"tags": {
				Name:         "tags",
				AllowMissing: true,
				Unique:       false,
				Indexer: &memdb.StringSliceFieldIndex{
					Field: "Tags",
				},
			},
		},
	}
}

// job returns the job with the given id or nil.
func (s *store) job(id string) (*Status, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	return jobTx(tx, id)
}

func jobTx(tx *memdb.Txn, id string) (*Status, error) {
	raw, err := tx.First(tableJobs, "id", id)
	if err != nil {
		return nil, fmt.Errorf("job lookup failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*Status), nil
}

// jobsByChain returns copies of the jobs of a chain in stage order, adding
// a watch channel that is closed when they change.
func (s *store) jobsByChain(ws memdb.WatchSet, chainID string) ([]Status, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	return jobsByChainTx(tx, ws, chainID)
}

func jobsByChainTx(tx *memdb.Txn, ws memdb.WatchSet, chainID string) ([]Status, error) {
	iter, err := tx.Get(tableJobs, "chain", chainID)
	if err != nil {
		return nil, fmt.Errorf("job lookup failed: %w", err)
	}
	ws.Add(iter.WatchCh())

	var jobs []Status
	for next := iter.Next(); next != nil; next = iter.Next() {
		jobs = append(jobs, next.(*Status).Clone())
	}
	sortStatuses(jobs)
	return jobs, nil
}

// jobsByTag returns copies of the jobs carrying the tag, along with the
// change sequence they reflect.
func (s *store) jobsByTag(ws memdb.WatchSet, tag string) ([]Status, uint64, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	return jobsByTagTx(tx, ws, tag)
}

func jobsByTagTx(tx *memdb.Txn, ws memdb.WatchSet, tag string) ([]Status, uint64, error) {
	seq := maxIndex(tx, tableChanges)

	iter, err := tx.Get(tableJobs, "tags", tag)
	if err != nil {
		return nil, 0, fmt.Errorf("job lookup failed: %w", err)
	}
	ws.Add(iter.WatchCh())

	var jobs []Status
	for next := iter.Next(); next != nil; next = iter.Next() {
		jobs = append(jobs, next.(*Status).Clone())
	}
	sortStatuses(jobs)
	return jobs, seq, nil
}

// allJobs returns every job in the store.
func (s *store) allJobs() ([]*Status, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	iter, err := tx.Get(tableJobs, "id")
	if err != nil {
		return nil, fmt.Errorf("job lookup failed: %w", err)
	}

	var jobs []*Status
	for next := iter.Next(); next != nil; next = iter.Next() {
		jobs = append(jobs, next.(*Status))
	}
	return jobs, nil
}

// ensureJob inserts or updates a job status. The status must not be
// shared with the store.
func (tx *writeTxn) ensureJob(st *Status) error {
	st.Index = tx.idx
	if st.Created == 0 {
		st.Created = tx.idx
	}

	if err := tx.Insert(tableJobs, st); err != nil {
		return fmt.Errorf("failed inserting job: %w", err)
	}
	tx.tables[tableJobs] = true
	tx.changed = append(tx.changed, st.Clone())
	return nil
}

// deleteJob deletes the job with the given id.
func (tx *writeTxn) deleteJob(id string) error {
	existing, err := jobTx(tx.Txn, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if err := tx.Delete(tableJobs, existing); err != nil {
		return fmt.Errorf("failed deleting job: %w", err)
	}
	tx.tables[tableJobs] = true
	tx.deleted = append(tx.deleted, existing.Clone())
	return nil
}
