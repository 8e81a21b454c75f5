package ontoerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesSentinel(t *testing.T) {
	base := errors.New("unique violation")
	err := Wrap("add_identifier", ErrIdentifierCollision, base)
	assert.True(t, errors.Is(err, ErrIdentifierCollision))
	assert.Contains(t, err.Error(), "add_identifier")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap("op", ErrStorage, nil))
}

func TestInvalidf(t *testing.T) {
	err := Invalidf("syn_id %q malformed", "xx")
	assert.True(t, Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), "xx")
}
