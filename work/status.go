package work

import (
	"sort"
)

// State is the state of a job.
type State int8

// State constants.
const (
	Enqueued State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Enqueued:
		return "enqueued"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal checks if the state is final.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// ChainState is the state of a chain.
type ChainState int8

// ChainState constants.
const (
	ChainRunning ChainState = iota
	ChainSucceeded
	ChainFailed
	ChainCancelled
)

// String returns the chain state name.
func (s ChainState) String() string {
	switch s {
	case ChainRunning:
		return "running"
	case ChainSucceeded:
		return "succeeded"
	case ChainFailed:
		return "failed"
	case ChainCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal checks if the chain state is final.
func (s ChainState) Terminal() bool {
	return s != ChainRunning
}

// Status is the status of a job.
type Status struct {
	JobID     string
	ChainID   string
	ChainName string
	Stage     int
	Kind      Kind
	State     State
	Tags      []string
	Output    Data
	Error     string

	// Created is the store index at which the job was added.
	Created uint64

	// Index is the store index of the last change to the job.
	Index uint64
}

// Clone returns a deep copy of the status.
func (s *Status) Clone() Status {
	c := *s
	c.Output = s.Output.Clone()
	if s.Tags != nil {
		c.Tags = append([]string(nil), s.Tags...)
	}
	return c
}

// HasTag checks if the job carries the given tag.
func (s *Status) HasTag(tag string) bool {
	return hasTag(s.Tags, tag)
}

// ChainInfo describes a chain known to the orchestrator.
type ChainInfo struct {
	ID     string
	Name   string
	Policy Policy
	State  ChainState
	Jobs   []Status
}

func sortStatuses(s []Status) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Created != s[j].Created {
			return s[i].Created < s[j].Created
		}
		return s[i].Stage < s[j].Stage
	})
}

func chainState(jobs []Status) ChainState {
	state := ChainSucceeded
	for _, j := range jobs {
		switch j.State {
		case Failed:
			return ChainFailed
		case Cancelled:
			state = ChainCancelled
		case Enqueued, Running:
			if state == ChainSucceeded {
				state = ChainRunning
			}
		}
	}
	return state
}
