package work

import (
	"fmt"
	"strings"
)

// Policy governs what happens when a chain of the same name is live.
type Policy int8

// Policy constants.
const (
	Replace Policy = iota
	KeepExisting
	FailIfExists
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Replace:
		return "replace"
	case KeepExisting:
		return "keep-existing"
	case FailIfExists:
		return "fail-if-exists"
	default:
		return fmt.Sprintf("policy(%d)", int8(p))
	}
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replace", "":
		return Replace, nil
	case "keep-existing", "keep":
		return KeepExisting, nil
	case "fail-if-exists", "fail":
		return FailIfExists, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidArgument, s)
	}
}

// Chain is an ordered sequence of jobs submitted under a unique name.
type Chain struct {
	Name   string
	Policy Policy
	Stages []Job
}

// Clone returns a deep copy of the chain.
func (c Chain) Clone() Chain {
	cc := c
	cc.Stages = make([]Job, len(c.Stages))
	for i, j := range c.Stages {
		cc.Stages[i] = j.Clone()
	}
	return cc
}

// Builder assembles a chain.
//
// The payload given to Input is only ever attached to the first stage.
// Later stages get the output of the stage before them.
type Builder struct {
	name   string
	policy Policy
	input  Data
	stages []Job
	built  bool
	err    error
}

// Begin starts a chain with the given first job.
func Begin(name string, policy Policy, first Job) *Builder {
	b := &Builder{
		name:   name,
		policy: policy,
	}

	if strings.TrimSpace(name) == "" {
		b.fail(fmt.Errorf("%w: chain name cannot be empty", ErrInvalidArgument))
	}

	// A zero job is no stage at all.
	if first.Kind != "" {
		b.stages = append(b.stages, first.Clone())
	}
	return b
}

// Input sets the external input payload of the chain.
func (b *Builder) Input(d Data) *Builder {
	b.input = d.Clone()
	return b
}

// Then appends a stage to the chain.
func (b *Builder) Then(job Job) *Builder {
	if b.built {
		b.fail(fmt.Errorf("%w: then called after build", ErrInvalidArgument))
		return b
	}

	if job.Kind == "" {
		b.fail(fmt.Errorf("%w: stage %d has no kind", ErrInvalidArgument, len(b.stages)))
		return b
	}

	b.stages = append(b.stages, job.Clone())
	return b
}

// Err returns the first error recorded by the builder.
func (b *Builder) Err() error {
	return b.err
}

// Build returns the chain.
func (b *Builder) Build() (Chain, error) {
	if b.err != nil {
		return Chain{}, b.err
	}
	if len(b.stages) == 0 {
		return Chain{}, ErrEmptyChain
	}

	stages := make([]Job, len(b.stages))
	for i, j := range b.stages {
		stages[i] = j.Clone()
		if stages[i].ID == "" {
			stages[i].ID = NewJob(j.Kind).ID
		}
	}
	if len(b.input) > 0 {
		stages[0].Input = stages[0].Input.merge(b.input)
	}

	b.built = true

	return Chain{
		Name:   b.name,
		Policy: b.policy,
		Stages: stages,
	}, nil
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func validateChain(c Chain, reg *Registry) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: chain name cannot be empty", ErrInvalidArgument)
	}
	if len(c.Stages) == 0 {
		return ErrEmptyChain
	}

	seen := make(map[string]bool, len(c.Stages))
	for i, j := range c.Stages {
		if j.ID == "" {
			return fmt.Errorf("%w: stage %d has no id", ErrInvalidArgument, i)
		}
		if seen[j.ID] {
			return fmt.Errorf("%w: duplicate job id %q", ErrInvalidArgument, j.ID)
		}
		seen[j.ID] = true

		if _, ok := reg.Lookup(j.Kind); !ok {
			return fmt.Errorf("%w: %w %q", ErrInvalidArgument, ErrUnknownKind, j.Kind)
		}
	}
	return nil
}
