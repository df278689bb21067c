package jscad

import (
	"math"

	"cad-copilot/backend/internal/geometry"
)

// Cuboid builds an axis-aligned box of the given size around center.
func Cuboid(size, center geometry.Vec3) *Solid {
	hx, hy, hz := size[0]/2, size[1]/2, size[2]/2
	c := center
	v := func(x, y, z float64) geometry.Vec3 { return geometry.Vec3{c[0] + x*hx, c[1] + y*hy, c[2] + z*hz} }
	return newSolid([][]geometry.Vec3{
		{v(-1, -1, -1), v(-1, -1, 1), v(-1, 1, 1), v(-1, 1, -1)},
		{v(1, -1, -1), v(1, 1, -1), v(1, 1, 1), v(1, -1, 1)},
		{v(-1, -1, -1), v(1, -1, -1), v(1, -1, 1), v(-1, -1, 1)},
		{v(-1, 1, -1), v(-1, 1, 1), v(1, 1, 1), v(1, 1, -1)},
		{v(-1, -1, -1), v(-1, 1, -1), v(1, 1, -1), v(1, -1, -1)},
		{v(-1, -1, 1), v(1, -1, 1), v(1, 1, 1), v(-1, 1, 1)},
	})
}

// Sphere builds a UV sphere.
func Sphere(radius float64, segments int, center geometry.Vec3) *Solid {
	if segments < 4 {
		segments = 4
	}
	rings := segments / 2
	point := func(ring, seg int) geometry.Vec3 {
		theta := math.Pi * float64(ring) / float64(rings)
		phi := 2 * math.Pi * float64(seg) / float64(segments)
		st, ct := math.Sincos(theta)
		sp, cp := math.Sincos(phi)
		return geometry.Vec3{
			center[0] + radius*st*cp,
			center[1] + radius*st*sp,
			center[2] + radius*ct,
		}
	}

	var polys [][]geometry.Vec3
	for r := 0; r < rings; r++ {
		for s := 0; s < segments; s++ {
			a, b := point(r, s), point(r+1, s)
			c, d := point(r+1, s+1), point(r, s+1)
			switch {
			case r == 0:
				polys = append(polys, []geometry.Vec3{a, b, c})
			case r == rings-1:
				polys = append(polys, []geometry.Vec3{a, b, d})
			default:
				polys = append(polys, []geometry.Vec3{a, b, c, d})
			}
		}
	}
	return newSolid(polys)
}

// Cylinder builds a z-aligned cylinder centered on center.
func Cylinder(height, radius float64, segments int, center geometry.Vec3) *Solid {
	if segments < 3 {
		segments = 3
	}
	h := height / 2
	ring := func(z float64) []geometry.Vec3 {
		pts := make([]geometry.Vec3, segments)
		for i := range pts {
			s, c := math.Sincos(2 * math.Pi * float64(i) / float64(segments))
			pts[i] = geometry.Vec3{center[0] + radius*c, center[1] + radius*s, center[2] + z}
		}
		return pts
	}
	bottom, top := ring(-h), ring(h)

	polys := make([][]geometry.Vec3, 0, segments+2)
	for i := 0; i < segments; i++ {
		j := (i + 1) % segments
		polys = append(polys, []geometry.Vec3{bottom[i], bottom[j], top[j], top[i]})
	}
	rev := make([]geometry.Vec3, segments)
	for i := range bottom {
		rev[i] = bottom[segments-1-i]
	}
	polys = append(polys, rev, top)
	return newSolid(polys)
}
