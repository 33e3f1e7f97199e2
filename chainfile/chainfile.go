// Package chainfile parses chain definitions from yaml.
//
// A definition looks like:
//
//	name: image-manipulation
//	policy: replace
//	input:
//	  image_uri: file:///tmp/cupcake.png
//	stages:
//	  - kind: cleanup
//	  - kind: blur
//	  - kind: save-image
//	    tags: [output]
//	    constraints: [requires-charging]
package chainfile

import (
	"io/ioutil"

	"github.com/nrwiersma/workchain/work"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Definition is a chain definition.
type Definition struct {
	Name   string            `yaml:"name"`
	Policy string            `yaml:"policy"`
	Input  map[string]string `yaml:"input"`
	Stages []Stage           `yaml:"stages"`
}

// Stage is a job definition.
type Stage struct {
	Kind        string            `yaml:"kind"`
	Input       map[string]string `yaml:"input"`
	Tags        []string          `yaml:"tags"`
	Constraints []string          `yaml:"constraints"`
}

// Parse parses a definition.
func Parse(b []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(b, &def); err != nil {
		return nil, errors.Wrap(err, "chainfile: error parsing definition")
	}
	return &def, nil
}

// Load reads and parses the definition at path.
func Load(path string) (*Definition, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "chainfile: error reading definition")
	}
	return Parse(b)
}

// Chain builds the chain described by the definition.
func (d *Definition) Chain() (work.Chain, error) {
	policy, err := work.ParsePolicy(d.Policy)
	if err != nil {
		return work.Chain{}, err
	}

	var first work.Job
	if len(d.Stages) > 0 {
		first = d.Stages[0].job()
	}

	b := work.Begin(d.Name, policy, first)
	if len(d.Input) > 0 {
		b.Input(data(d.Input))
	}
	for i := 1; i < len(d.Stages); i++ {
		b.Then(d.Stages[i].job())
	}
	return b.Build()
}

func (s Stage) job() work.Job {
	if s.Kind == "" {
		return work.Job{}
	}

	var opts []work.JobOption
	if len(s.Input) > 0 {
		opts = append(opts, work.WithInput(data(s.Input)))
	}
	if len(s.Tags) > 0 {
		opts = append(opts, work.WithTags(s.Tags...))
	}
	for _, c := range s.Constraints {
		opts = append(opts, work.WithConstraints(work.Constraint(c)))
	}
	return work.NewJob(work.Kind(s.Kind), opts...)
}

func data(m map[string]string) work.Data {
	d := make(work.Data, len(m))
	for k, v := range m {
		d[k] = []byte(v)
	}
	return d
}
