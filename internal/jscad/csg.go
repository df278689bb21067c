package jscad

import (
	"cad-copilot/backend/internal/geometry"
)

// Boolean operations on polygon soups using BSP trees, after the
// classic csg.js construction.

const planeEpsilon = 1e-5

const (
	coplanar = 0
	front    = 1
	back     = 2
	spanning = 3
)

type plane struct {
	normal geometry.Vec3
	w      float64
}

func dot(a, b geometry.Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func lerp(a, b geometry.Vec3, t float64) geometry.Vec3 {
	return geometry.Vec3{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t, a[2] + (b[2]-a[2])*t}
}

func planeFromPoints(a, b, c geometry.Vec3) (plane, bool) {
	n := b.Sub(a).Cross(c.Sub(a)).Normalize()
	if n == (geometry.Vec3{}) {
		return plane{}, false
	}
	return plane{normal: n, w: dot(n, a)}, true
}

func (p plane) flipped() plane {
	return plane{normal: geometry.Vec3{-p.normal[0], -p.normal[1], -p.normal[2]}, w: -p.w}
}

type polygon struct {
	pts   []geometry.Vec3
	plane plane
}

func newPolygon(pts []geometry.Vec3) (polygon, bool) {
	for i := 0; i+2 < len(pts); i++ {
		if pl, ok := planeFromPoints(pts[0], pts[i+1], pts[i+2]); ok {
			return polygon{pts: pts, plane: pl}, true
		}
	}
	return polygon{}, false
}

func (p polygon) flipped() polygon {
	pts := make([]geometry.Vec3, len(p.pts))
	for i, v := range p.pts {
		pts[len(pts)-1-i] = v
	}
	return polygon{pts: pts, plane: p.plane.flipped()}
}

func (pl plane) split(p polygon, coFront, coBack, fr, bk *[]polygon) {
	kind := 0
	types := make([]int, len(p.pts))
	for i, v := range p.pts {
		t := dot(pl.normal, v) - pl.w
		typ := coplanar
		if t < -planeEpsilon {
			typ = back
		} else if t > planeEpsilon {
			typ = front
		}
		kind |= typ
		types[i] = typ
	}

	switch kind {
	case coplanar:
		if dot(pl.normal, p.plane.normal) > 0 {
			*coFront = append(*coFront, p)
		} else {
			*coBack = append(*coBack, p)
		}
	case front:
		*fr = append(*fr, p)
	case back:
		*bk = append(*bk, p)
	default:
		var f, b []geometry.Vec3
		n := len(p.pts)
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			ti, tj := types[i], types[j]
			vi, vj := p.pts[i], p.pts[j]
			if ti != back {
				f = append(f, vi)
			}
			if ti != front {
				b = append(b, vi)
			}
			if ti|tj == spanning {
				t := (pl.w - dot(pl.normal, vi)) / dot(pl.normal, vj.Sub(vi))
				v := lerp(vi, vj, t)
				f = append(f, v)
				b = append(b, v)
			}
		}
		if len(f) >= 3 {
			*fr = append(*fr, polygon{pts: f, plane: p.plane})
		}
		if len(b) >= 3 {
			*bk = append(*bk, polygon{pts: b, plane: p.plane})
		}
	}
}

type node struct {
	plane    *plane
	front    *node
	back     *node
	polygons []polygon
}

func newNode(polys []polygon) *node {
	n := &node{}
	n.build(polys)
	return n
}

func (n *node) invert() {
	for i := range n.polygons {
		n.polygons[i] = n.polygons[i].flipped()
	}
	if n.plane != nil {
		f := n.plane.flipped()
		n.plane = &f
	}
	if n.front != nil {
		n.front.invert()
	}
	if n.back != nil {
		n.back.invert()
	}
	n.front, n.back = n.back, n.front
}

func (n *node) clipPolygons(polys []polygon) []polygon {
	if n.plane == nil {
		return append([]polygon(nil), polys...)
	}
	var fr, bk []polygon
	for _, p := range polys {
		n.plane.split(p, &fr, &bk, &fr, &bk)
	}
	if n.front != nil {
		fr = n.front.clipPolygons(fr)
	}
	if n.back != nil {
		bk = n.back.clipPolygons(bk)
	} else {
		bk = nil
	}
	return append(fr, bk...)
}

func (n *node) clipTo(other *node) {
	n.polygons = other.clipPolygons(n.polygons)
	if n.front != nil {
		n.front.clipTo(other)
	}
	if n.back != nil {
		n.back.clipTo(other)
	}
}

func (n *node) allPolygons() []polygon {
	out := append([]polygon(nil), n.polygons...)
	if n.front != nil {
		out = append(out, n.front.allPolygons()...)
	}
	if n.back != nil {
		out = append(out, n.back.allPolygons()...)
	}
	return out
}

func (n *node) build(polys []polygon) {
	if len(polys) == 0 {
		return
	}
	if n.plane == nil {
		pl := polys[0].plane
		n.plane = &pl
	}
	var fr, bk []polygon
	for _, p := range polys {
		n.plane.split(p, &n.polygons, &n.polygons, &fr, &bk)
	}
	if len(fr) > 0 {
		if n.front == nil {
			n.front = &node{}
		}
		n.front.build(fr)
	}
	if len(bk) > 0 {
		if n.back == nil {
			n.back = &node{}
		}
		n.back.build(bk)
	}
}

func toPolygons(s *Solid) []polygon {
	var out []polygon
	for _, pts := range s.baked() {
		if p, ok := newPolygon(pts); ok {
			out = append(out, p)
		}
	}
	return out
}

func fromPolygons(polys []polygon, color *[4]float64) *Solid {
	out := make([][]geometry.Vec3, len(polys))
	for i, p := range polys {
		out[i] = p.pts
	}
	s := newSolid(out)
	s.color = color
	return s
}

// Union merges solids, removing interior faces.
func Union(solids ...*Solid) *Solid {
	if len(solids) == 0 {
		return newSolid(nil)
	}
	acc := solids[0]
	for _, s := range solids[1:] {
		a, b := newNode(toPolygons(acc)), newNode(toPolygons(s))
		a.clipTo(b)
		b.clipTo(a)
		b.invert()
		b.clipTo(a)
		b.invert()
		a.build(b.allPolygons())
		acc = fromPolygons(a.allPolygons(), solids[0].color)
	}
	if len(solids) == 1 {
		return fromPolygons(toPolygons(acc), acc.color)
	}
	return acc
}

// Subtract removes every later solid from the first.
func Subtract(solids ...*Solid) *Solid {
	if len(solids) == 0 {
		return newSolid(nil)
	}
	acc := solids[0]
	for _, s := range solids[1:] {
		a, b := newNode(toPolygons(acc)), newNode(toPolygons(s))
		a.invert()
		a.clipTo(b)
		b.clipTo(a)
		b.invert()
		b.clipTo(a)
		b.invert()
		a.build(b.allPolygons())
		a.invert()
		acc = fromPolygons(a.allPolygons(), solids[0].color)
	}
	return acc
}

// Intersect keeps the volume shared by all solids.
func Intersect(solids ...*Solid) *Solid {
	if len(solids) == 0 {
		return newSolid(nil)
	}
	acc := solids[0]
	for _, s := range solids[1:] {
		a, b := newNode(toPolygons(acc)), newNode(toPolygons(s))
		a.invert()
		b.clipTo(a)
		b.invert()
		a.clipTo(b)
		b.clipTo(a)
		a.build(b.allPolygons())
		a.invert()
		acc = fromPolygons(a.allPolygons(), solids[0].color)
	}
	return acc
}
