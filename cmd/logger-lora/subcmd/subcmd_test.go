package subcmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	mods := []Mod{{Name: "run"}, {Name: "once"}}

	m, err := Parse("once", mods)
	require.NoError(t, err)
	assert.Equal(t, "once", m.Name)

	_, err = Parse("", mods)
	assert.EqualError(t, err, "empty command")
	_, err = Parse("dance", mods)
	assert.EqualError(t, err, "unknown command='dance'")
}
