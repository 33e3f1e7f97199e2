package work_test

import (
	"testing"

	"github.com/nrwiersma/workchain/work"
	"github.com/stretchr/testify/assert"
)

func TestStringData(t *testing.T) {
	d := work.StringData("a", "1", "b", "2", "dangling")

	assert.Len(t, d, 2)
	assert.Equal(t, "1", d.String("a"))
	assert.Equal(t, "2", d.String("b"))
	assert.Equal(t, "", d.String("dangling"))
}

func TestData_Clone(t *testing.T) {
	d := work.StringData("a", "1")

	c := d.Clone()
	c["a"][0] = '2'

	assert.Equal(t, "1", d.String("a"))
	assert.Nil(t, work.Data(nil).Clone())
}
