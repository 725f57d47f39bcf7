package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{Name: "maven"}))
	require.NoError(t, r.Register(Registration{Name: "docker-build"}))

	assert.Error(t, r.Register(Registration{Name: "maven"}))
	assert.Error(t, r.Register(Registration{}))

	reg, ok := r.Get("maven")
	assert.True(t, ok)
	assert.Equal(t, "maven", reg.Name)

	_, ok = r.Get("gradle")
	assert.False(t, ok)

	assert.Equal(t, []string{"docker-build", "maven"}, r.Names())
}
