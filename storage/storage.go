// Package storage implements table storage for the orchestrator.
package storage

import (
	"bytes"
	"sync"

	"github.com/nrwiersma/workchain/work"
)

// Memory stores the encoded table in memory.
type Memory struct {
	mu  sync.Mutex
	buf []byte
}

// NewMemory returns an empty memory storage.
func NewMemory() *Memory {
	return &Memory{}
}

// Load loads the table. It returns nil if nothing was saved.
func (m *Memory) Load() (*work.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buf == nil {
		return nil, nil
	}
	return work.DecodeTable(bytes.NewReader(m.buf))
}

// Save saves the table.
func (m *Memory) Save(t *work.Table) error {
	var buf bytes.Buffer
	if err := work.EncodeTable(&buf, t); err != nil {
		return err
	}

	m.mu.Lock()
	m.buf = buf.Bytes()
	m.mu.Unlock()

	return nil
}
