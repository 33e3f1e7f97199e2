package storage

import (
	"bytes"

	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/nrwiersma/workchain/work"
	"github.com/pkg/errors"
)

var tableKey = []byte("table")

// Bolt stores the table in a bolt database.
type Bolt struct {
	store *raftboltdb.BoltStore
}

// NewBolt opens or creates the bolt database at path.
func NewBolt(path string) (*Bolt, error) {
	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: error opening bolt store")
	}

	return &Bolt{store: store}, nil
}

// Load loads the table. It returns nil if nothing was saved.
func (b *Bolt) Load() (*work.Table, error) {
	buf, err := b.store.Get(tableKey)
	if err != nil {
		if err == raftboltdb.ErrKeyNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "storage: error reading table")
	}

	return work.DecodeTable(bytes.NewReader(buf))
}

// Save saves the table.
func (b *Bolt) Save(t *work.Table) error {
	var buf bytes.Buffer
	if err := work.EncodeTable(&buf, t); err != nil {
		return err
	}

	if err := b.store.Set(tableKey, buf.Bytes()); err != nil {
		return errors.Wrap(err, "storage: error writing table")
	}
	return nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.store.Close()
}
