package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSolid struct {
	polys [][]Vec3
	m     Mat4
	color *[4]float64
}

func (f fakeSolid) Polygons() [][]Vec3 { return f.polys }
func (f fakeSolid) Transform() Mat4    { return f.m }
func (f fakeSolid) Color() ([4]float64, bool) {
	if f.color == nil {
		return [4]float64{}, false
	}
	return *f.color, true
}

func square() [][]Vec3 {
	return [][]Vec3{{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}}}
}

func TestTransformFanTriangulates(t *testing.T) {
	geoms := Transform([]Solid{fakeSolid{polys: square(), m: Identity()}})
	require.Len(t, geoms, 1)
	g := geoms[0]

	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, g.Indices)
	assert.Len(t, g.Vertices, 12)
	assert.Len(t, g.Colors, 16)
	assert.Equal(t, float32(1), g.Normals[2])
	assert.Equal(t, float32(DefaultColor[0]), g.Colors[0])
}

func TestTransformAppliesMatrix(t *testing.T) {
	c := [4]float64{1, 0, 0, 1}
	s := fakeSolid{polys: square(), m: Translation(Vec3{10, 0, 5}), color: &c}
	g := Transform([]Solid{s})[0]

	assert.Equal(t, float32(10), g.Vertices[0])
	assert.Equal(t, float32(5), g.Vertices[2])
	assert.Equal(t, []float32{1, 0, 0, 1}, g.Colors[:4])
}

func TestTransformKeepsWindingUnderMirror(t *testing.T) {
	s := fakeSolid{polys: square(), m: Scaling(Vec3{1, 1, -1})}
	g := Transform([]Solid{s})[0]
	// mirroring flips the face, so the normal follows it
	assert.Equal(t, float32(-1), g.Normals[2])
}

func TestMat4Rotation(t *testing.T) {
	p := RotationZ(math.Pi / 2).Apply(Vec3{1, 0, 0})
	assert.InDelta(t, 0, p[0], 1e-9)
	assert.InDelta(t, 1, p[1], 1e-9)

	m := Translation(Vec3{1, 0, 0}).Mul(Scaling(Vec3{2, 2, 2}))
	assert.Equal(t, Vec3{3, 2, 2}, m.Apply(Vec3{1, 1, 1}))
}
