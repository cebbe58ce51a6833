package common

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestExtractFrustumLooksDownNegativeZ(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	view := mgl32.Ident4()
	f := ExtractFrustum(proj.Mul4(view))

	inside := mgl32.Vec3{0, 0, -5}
	for i, p := range f.Planes {
		assert.Greater(t, p.SignedDistance(inside), float32(0), "plane %d", i)
		assert.InDelta(t, 1, p.Normal.Len(), 1e-5, "plane %d", i)
	}

	behind := mgl32.Vec3{0, 0, 5}
	outside := false
	for _, p := range f.SidePlanes() {
		if p.SignedDistance(behind) < 0 {
			outside = true
		}
	}
	assert.True(t, outside)
}

func TestExtractFrustumSidePlaneOrder(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	side := ExtractFrustum(proj).SidePlanes()

	// the left plane faces +x, the top plane faces -y
	assert.Greater(t, side[0].Normal.X(), float32(0))
	assert.Less(t, side[1].Normal.X(), float32(0))
	assert.Greater(t, side[2].Normal.Y(), float32(0))
	assert.Less(t, side[3].Normal.Y(), float32(0))
	assert.Equal(t, side[0].Normal.Vec4(side[0].Distance), side[0].Vec4())
}

func TestPlaneFromDegenerateRow(t *testing.T) {
	p := planeFromRow(mgl32.Vec4{0, 0, 0, 0})
	assert.Equal(t, Plane{}, p)
}
