package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestString(t *testing.T) {
	s := String()
	assert.Contains(t, s, "bhakti")
	assert.Contains(t, s, Version)
}
