package jscad

import (
	"cad-copilot/backend/internal/geometry"
)

// Solid is an immutable polygon solid. Transforms accumulate in the matrix
// and are only baked into vertices by geometry.Transform or by union.
type Solid struct {
	polygons [][]geometry.Vec3
	matrix   geometry.Mat4
	color    *[4]float64
}

var _ geometry.Solid = (*Solid)(nil)

func newSolid(polygons [][]geometry.Vec3) *Solid {
	return &Solid{polygons: polygons, matrix: geometry.Identity()}
}

func (s *Solid) Polygons() [][]geometry.Vec3 { return s.polygons }
func (s *Solid) Transform() geometry.Mat4     { return s.matrix }

func (s *Solid) Color() ([4]float64, bool) {
	if s.color == nil {
		return [4]float64{}, false
	}
	return *s.color, true
}

// transformed returns a copy with m applied after the existing transform.
func (s *Solid) transformed(m geometry.Mat4) *Solid {
	out := *s
	out.matrix = m.Mul(s.matrix)
	return &out
}

func (s *Solid) colorized(c [4]float64) *Solid {
	out := *s
	out.color = &c
	return &out
}

// baked returns the polygons with the transform applied.
func (s *Solid) baked() [][]geometry.Vec3 {
	out := make([][]geometry.Vec3, len(s.polygons))
	for i, poly := range s.polygons {
		p := make([]geometry.Vec3, len(poly))
		for j, v := range poly {
			p[j] = s.matrix.Apply(v)
		}
		if s.matrix.Mirrors() {
			for a, b := 0, len(p)-1; a < b; a, b = a+1, b-1 {
				p[a], p[b] = p[b], p[a]
			}
		}
		out[i] = p
	}
	return out
}
