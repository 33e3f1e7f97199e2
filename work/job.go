package work

import (
	"github.com/segmentio/ksuid"
)

// Kind selects the behavior a job runs.
type Kind string

// Job describes a single unit of work in a chain.
type Job struct {
	ID          string
	Kind        Kind
	Input       Data
	Constraints []Constraint
	Tags        []string
}

// JobOption configures a job.
type JobOption func(*Job)

// WithInput sets the seed input of the job.
func WithInput(d Data) JobOption {
	return func(j *Job) {
		j.Input = d.Clone()
	}
}

// WithTags adds tags to the job.
func WithTags(tags ...string) JobOption {
	return func(j *Job) {
		j.Tags = append(j.Tags, tags...)
	}
}

// WithConstraints adds constraints that must hold before the job runs.
func WithConstraints(c ...Constraint) JobOption {
	return func(j *Job) {
		j.Constraints = append(j.Constraints, c...)
	}
}

// NewJob returns a job of the given kind with a fresh id.
func NewJob(kind Kind, opts ...JobOption) Job {
	j := Job{
		ID:   ksuid.New().String(),
		Kind: kind,
	}

	for _, opt := range opts {
		opt(&j)
	}

	return j
}

// HasTag checks if the job carries the given tag.
func (j Job) HasTag(tag string) bool {
	return hasTag(j.Tags, tag)
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	c := j
	c.Input = j.Input.Clone()
	if j.Constraints != nil {
		c.Constraints = append([]Constraint(nil), j.Constraints...)
	}
	if j.Tags != nil {
		c.Tags = append([]string(nil), j.Tags...)
	}
	return c
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
