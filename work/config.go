package work

import (
	"time"

	"github.com/hamba/pkg/log"
	"github.com/hamba/pkg/stats"
)

const (
	// DefaultWorkers is the default number of workers.
	DefaultWorkers = 4

	// DefaultChangeLogSize is the default number of retained changes.
	DefaultChangeLogSize = 1024
)

// Storage loads and saves the chain and job tables.
type Storage interface {
	Load() (*Table, error)
	Save(t *Table) error
}

// Config holds the configuration for an Orchestrator.
type Config struct {
	// Workers is the number of jobs that can run at the same time.
	Workers int

	// Registry holds the behaviors jobs can run.
	Registry *Registry

	// Evaluator evaluates job constraints. Defaults to Always.
	Evaluator Evaluator

	// ConstraintTimeout is how long a job may wait for its constraints
	// before it fails. Zero waits forever.
	ConstraintTimeout time.Duration

	// ChangeLogSize is the number of changes kept once every subscriber
	// has read them. Changes a subscriber has not read are always kept.
	ChangeLogSize int

	// Storage is used to load the tables on start and save them on close.
	// It is optional.
	Storage Storage

	// Logger is the logger to log to.
	Logger log.Logger

	// Statter is the statter to report to.
	Statter stats.Statter
}

// NewConfig creates/returns a default configuration.
func NewConfig() *Config {
	return &Config{
		Workers:       DefaultWorkers,
		Registry:      NewRegistry(),
		Evaluator:     Always,
		ChangeLogSize: DefaultChangeLogSize,
		Logger:        log.Null,
		Statter:       stats.Null,
	}
}
