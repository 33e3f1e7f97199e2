package main

import (
	"testing"

	"github.com/nrwiersma/workchain/behavior"
	"github.com/nrwiersma/workchain/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlurChain(t *testing.T) {
	tests := []struct {
		name    string
		image   string
		levels  int
		wantURI string
		wantErr bool
	}{
		{
			name:    "uri",
			image:   "file:///tmp/in.png",
			levels:  2,
			wantURI: "file:///tmp/in.png",
		},
		{
			name:    "path",
			image:   "/tmp/in.png",
			levels:  1,
			wantURI: "file:///tmp/in.png",
		},
		{
			name:    "no image",
			levels:  1,
			wantErr: true,
		},
		{
			name:    "no levels",
			image:   "/tmp/in.png",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := blurChain(tt.image, tt.levels)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, behavior.ChainName, chain.Name)
			assert.Len(t, chain.Stages, tt.levels+2)
			assert.Equal(t, work.StringData(behavior.KeyImageURI, tt.wantURI), chain.Stages[1].Input)
		})
	}
}
