package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/nrwiersma/workchain/storage"
	"github.com/nrwiersma/workchain/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend interface {
	work.Storage
}

func TestStorage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		new  func(t *testing.T) backend
	}{
		{
			name: "memory",
			new: func(t *testing.T) backend {
				return storage.NewMemory()
			},
		},
		{
			name: "bolt",
			new: func(t *testing.T) backend {
				s, err := storage.NewBolt(filepath.Join(t.TempDir(), "work.db"))
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "sqlite",
			new: func(t *testing.T) backend {
				s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "work.sqlite"))
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := tt.new(t)

			got, err := s.Load()
			require.NoError(t, err)
			assert.Nil(t, got)

			want := testTable()
			require.NoError(t, s.Save(want))
			got, err = s.Load()
			require.NoError(t, err)
			assertTable(t, want, got)

			want.Index = 12
			want.Jobs[0].State = work.Succeeded
			require.NoError(t, s.Save(want))
			got, err = s.Load()
			require.NoError(t, err)
			assertTable(t, want, got)
		})
	}
}

func testTable() *work.Table {
	stages := []work.Job{
		work.NewJob("cleanup"),
		work.NewJob("transform", work.WithInput(work.StringData("image_uri", "uri://a"))),
		work.NewJob("persist", work.WithTags("output"), work.WithConstraints(work.RequiresCharging)),
	}

	return &work.Table{
		Index: 7,
		Chains: []*work.ChainRecord{
			{ID: "chain-1", Name: "img1", Policy: work.Replace, Stages: stages, State: work.ChainRunning, Index: 5},
		},
		Jobs: []*work.Status{
			{JobID: stages[0].ID, ChainID: "chain-1", ChainName: "img1", Stage: 0, Kind: "cleanup", State: work.Running, Created: 5, Index: 6},
			{JobID: stages[2].ID, ChainID: "chain-1", ChainName: "img1", Stage: 2, Kind: "persist", Tags: []string{"output"}, Output: work.StringData("image_uri", "file:///out.png"), Created: 5, Index: 5},
		},
	}
}

func assertTable(t *testing.T, want, got *work.Table) {
	t.Helper()

	require.NotNil(t, got)
	assert.Equal(t, want.Index, got.Index)

	require.Len(t, got.Chains, len(want.Chains))
	for i, c := range want.Chains {
		g := got.Chains[i]
		assert.Equal(t, c.ID, g.ID)
		assert.Equal(t, c.Name, g.Name)
		assert.Equal(t, c.Policy, g.Policy)
		assert.Equal(t, c.State, g.State)
		require.Len(t, g.Stages, len(c.Stages))
		for j, s := range c.Stages {
			assert.Equal(t, s.ID, g.Stages[j].ID)
			assert.Equal(t, s.Kind, g.Stages[j].Kind)
			assert.Equal(t, s.Tags, g.Stages[j].Tags)
			assert.Equal(t, s.Constraints, g.Stages[j].Constraints)
			assert.Equal(t, s.Input.String("image_uri"), g.Stages[j].Input.String("image_uri"))
		}
	}

	require.Len(t, got.Jobs, len(want.Jobs))
	for i, j := range want.Jobs {
		g := got.Jobs[i]
		assert.Equal(t, j.JobID, g.JobID)
		assert.Equal(t, j.State, g.State)
		assert.Equal(t, j.Stage, g.Stage)
		assert.Equal(t, j.Tags, g.Tags)
		assert.Equal(t, j.Output.String("image_uri"), g.Output.String("image_uri"))
		assert.Equal(t, j.Created, g.Created)
	}
}
