package geometry

// Solid is a provider-native polygon solid with a pending transform.
type Solid interface {
	Polygons() [][]Vec3
	Transform() Mat4
	Color() ([4]float64, bool)
}

// Geometry is a renderer-neutral triangle mesh. Vertices and Normals are
// xyz triples, Colors are rgba quadruples, one per vertex.
type Geometry struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	Colors   []float32 `json:"colors"`
}

// TriangleCount returns the number of triangles in g.
func (g Geometry) TriangleCount() int { return len(g.Indices) / 3 }

// DefaultColor is used for solids that were never colorized.
var DefaultColor = [4]float64{0.8, 0.8, 0.8, 1}

// Transform flattens solids into meshes, one per solid. Polygons are
// fan-triangulated after the solid's transform is applied, with flat
// per-face normals.
func Transform(solids []Solid) []Geometry {
	out := make([]Geometry, 0, len(solids))
	for _, s := range solids {
		out = append(out, transformOne(s))
	}
	return out
}

func transformOne(s Solid) Geometry {
	m := s.Transform()
	flip := m.Mirrors()
	color, ok := s.Color()
	if !ok {
		color = DefaultColor
	}

	var g Geometry
	for _, poly := range s.Polygons() {
		if len(poly) < 3 {
			continue
		}
		pts := make([]Vec3, len(poly))
		for i, p := range poly {
			pts[i] = m.Apply(p)
		}
		if flip {
			for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
				pts[i], pts[j] = pts[j], pts[i]
			}
		}
		n := pts[1].Sub(pts[0]).Cross(pts[2].Sub(pts[0])).Normalize()

		base := uint32(len(g.Vertices) / 3)
		for _, p := range pts {
			g.Vertices = append(g.Vertices, float32(p[0]), float32(p[1]), float32(p[2]))
			g.Normals = append(g.Normals, float32(n[0]), float32(n[1]), float32(n[2]))
			g.Colors = append(g.Colors, float32(color[0]), float32(color[1]), float32(color[2]), float32(color[3]))
		}
		for i := 1; i+1 < len(pts); i++ {
			g.Indices = append(g.Indices, base, base+uint32(i), base+uint32(i+1))
		}
	}
	return g
}
