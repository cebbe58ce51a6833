package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleZero(t *testing.T) {
	var h Handle
	assert.True(t, h.IsZero())
	assert.Equal(t, "none", h.String())

	h = Handle{Index: 0, Generation: 1}
	assert.False(t, h.IsZero())
	assert.Equal(t, "0#1", h.String())
	assert.True(t, Handle(MeshHandle{}).IsZero())
}

func TestTypedHandlesShareZeroAndString(t *testing.T) {
	assert.True(t, MeshHandle{}.IsZero())
	assert.True(t, MaterialHandle{}.IsZero())
	assert.True(t, TextureHandle{}.IsZero())
	assert.True(t, SkinHandle{}.IsZero())

	assert.False(t, MeshHandle{Index: 3, Generation: 2}.IsZero())
	assert.False(t, MaterialHandle{Generation: 1}.IsZero())
	assert.False(t, TextureHandle{Generation: 1}.IsZero())
	assert.False(t, SkinHandle{Generation: 1}.IsZero())

	assert.Equal(t, "3#2", MeshHandle{Index: 3, Generation: 2}.String())
	assert.Equal(t, "none", SkinHandle{}.String())
}
