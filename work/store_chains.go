package work

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
)

// ChainRecord is a submitted chain and its state.
type ChainRecord struct {
	ID     string
	Name   string
	Policy Policy
	Stages []Job
	State  ChainState

	// Index is the store index of the last change to the chain.
	Index uint64
}

func (c *ChainRecord) clone() ChainRecord {
	cc := *c
	cc.Stages = make([]Job, len(c.Stages))
	for i, j := range c.Stages {
		cc.Stages[i] = j.Clone()
	}
	return cc
}

func chainsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableChains,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "ID",
				},
			},
			"name": {
				Name:         "name",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "Name",
				},
			},
		},
	}
}

// chainByName returns the chain with the given name or nil.
func (s *store) chainByName(name string) (*ChainRecord, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	return chainByNameTx(tx, name)
}

func chainByNameTx(tx *memdb.Txn, name string) (*ChainRecord, error) {
	raw, err := tx.First(tableChains, "name", name)
	if err != nil {
		return nil, fmt.Errorf("chain lookup failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*ChainRecord), nil
}

// chains returns all the chains as well as a watch channel that will be
// closed when the chains change.
func (s *store) chains(ws memdb.WatchSet) ([]*ChainRecord, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	iter, err := tx.Get(tableChains, "id")
	if err != nil {
		return nil, fmt.Errorf("chain lookup failed: %w", err)
	}
	ws.Add(iter.WatchCh())

	var chains []*ChainRecord
	for next := iter.Next(); next != nil; next = iter.Next() {
		chains = append(chains, next.(*ChainRecord))
	}
	return chains, nil
}

// ensureChain inserts or updates a chain.
func (tx *writeTxn) ensureChain(c *ChainRecord) error {
	c.Index = tx.idx

	if err := tx.Insert(tableChains, c); err != nil {
		return fmt.Errorf("failed inserting chain: %w", err)
	}
	tx.tables[tableChains] = true
	return nil
}

// deleteChain deletes the chain. Its jobs are left in place.
func (tx *writeTxn) deleteChain(c *ChainRecord) error {
	existing, err := tx.First(tableChains, "id", c.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if err := tx.Delete(tableChains, existing); err != nil {
		return fmt.Errorf("failed deleting chain: %w", err)
	}
	tx.tables[tableChains] = true
	return nil
}
