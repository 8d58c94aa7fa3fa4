package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigf(t *testing.T) {
	err := Configf("unknown calculator %q", "foo")
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Contains(t, err.Error(), `unknown calculator "foo"`)
}
