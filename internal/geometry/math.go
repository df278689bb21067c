package geometry

import "math"

// Vec3 is a point or direction in model space.
type Vec3 [3]float64

func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Normalize returns a unit vector, or the zero vector for degenerate input.
func (a Vec3) Normalize() Vec3 {
	l := math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
	if l == 0 {
		return Vec3{}
	}
	return Vec3{a[0] / l, a[1] / l, a[2] / l}
}

// Mat4 is a column-major 4x4 matrix, the same layout JSCAD uses.
type Mat4 [16]float64

// Identity returns the identity matrix.
func Identity() Mat4 {
	return Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// Translation returns a translation matrix.
func Translation(v Vec3) Mat4 {
	m := Identity()
	m[12], m[13], m[14] = v[0], v[1], v[2]
	return m
}

// Scaling returns a scale matrix.
func Scaling(v Vec3) Mat4 {
	m := Identity()
	m[0], m[5], m[10] = v[0], v[1], v[2]
	return m
}

// RotationX returns a rotation about the X axis by angle radians.
func RotationX(angle float64) Mat4 {
	s, c := math.Sincos(angle)
	m := Identity()
	m[5], m[6] = c, s
	m[9], m[10] = -s, c
	return m
}

// RotationY returns a rotation about the Y axis by angle radians.
func RotationY(angle float64) Mat4 {
	s, c := math.Sincos(angle)
	m := Identity()
	m[0], m[2] = c, -s
	m[8], m[10] = s, c
	return m
}

// RotationZ returns a rotation about the Z axis by angle radians.
func RotationZ(angle float64) Mat4 {
	s, c := math.Sincos(angle)
	m := Identity()
	m[0], m[1] = c, s
	m[4], m[5] = -s, c
	return m
}

// Mul returns a*b, so b is applied first.
func (a Mat4) Mul(b Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

// Apply transforms a point.
func (a Mat4) Apply(p Vec3) Vec3 {
	x := a[0]*p[0] + a[4]*p[1] + a[8]*p[2] + a[12]
	y := a[1]*p[0] + a[5]*p[1] + a[9]*p[2] + a[13]
	z := a[2]*p[0] + a[6]*p[1] + a[10]*p[2] + a[14]
	w := a[3]*p[0] + a[7]*p[1] + a[11]*p[2] + a[15]
	if w != 0 && w != 1 {
		return Vec3{x / w, y / w, z / w}
	}
	return Vec3{x, y, z}
}

// Mirrors reports whether the matrix flips orientation.
func (a Mat4) Mirrors() bool {
	det := a[0]*(a[5]*a[10]-a[6]*a[9]) -
		a[4]*(a[1]*a[10]-a[2]*a[9]) +
		a[8]*(a[1]*a[6]-a[2]*a[5])
	return det < 0
}
