package fault

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		expect Kind
	}{
		{"nil", nil, Unknown},
		{"plain", fmt.Errorf("boom"), Unknown},
		{"direct", New(Storage, fmt.Errorf("disk full")), Storage},
		{"annotated", errors.Annotate(New(Connection, fmt.Errorf("no port")), "cycle"), Connection},
		{"double-annotated", errors.Annotatef(errors.Annotate(Newf(Uplink, "join timeout"), "send"), "cycle=%d", 3), Uplink},
		{"juju-not-valid", errors.NotValidf("schedule"), Unknown},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, KindOf(c.err))
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	assert.Nil(t, New(Read, nil))
	err := New(Read, fmt.Errorf("timeout"))
	assert.True(t, Is(err, Read))
	assert.False(t, Is(err, Storage))
	assert.Contains(t, err.Error(), "read error: timeout")
	assert.False(t, Config.Retryable())
	assert.False(t, NoDataStream.Retryable())
	assert.True(t, Uplink.Retryable())
}
